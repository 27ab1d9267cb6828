package main

import (
	"os"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
)

// applyEnvDefaults fills unset flags from an env file. The file is only required
// when --env names it explicitly; the default jdcli.env is optional.
func applyEnvDefaults() error {
	path := clicmd.EnvFile
	required := path != ""
	if path == "" {
		path = "jdcli.env"
	}

	f, err := os.Open(path)
	if err != nil {
		if required {
			return err
		}
		return nil
	}
	defer f.Close()

	env, err := envparse.Parse(f)
	if err != nil {
		return err
	}

	if v, ok := env["JD_GROUP"]; ok && clicmd.Monitor.Group == "" {
		clicmd.Monitor.Group = v
	}
	if v, ok := env["JD_NAME"]; ok && clicmd.Monitor.Name == "" {
		clicmd.Monitor.Name = v
	}
	if v, ok := env["JD_VERBOSE"]; ok && v != "" && v != "0" && v != "false" {
		clicmd.Verbose = true
	}
	return nil
}

// logger returns the protocol trace logger: console output at debug level when
// --verbose is set, discarded otherwise.
func logger() zerolog.Logger {
	if !clicmd.Verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}
