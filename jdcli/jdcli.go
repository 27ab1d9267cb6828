package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

type CLICommand struct {
	Verbose bool           `long:"verbose" description:"Print protocol traffic"`
	EnvFile string         `long:"env" description:"Optional env file supplying JD_* defaults"`
	Sim     SimCommand     `command:"sim" alias:"simulate" description:"Run a simulated bus of local nodes"`
	Monitor MonitorCommand `command:"monitor" alias:"mon" description:"Join a UDP multicast bus and watch it enumerate"`
}

var clicmd = CLICommand{}

func main() {
	parser := flags.NewParser(&clicmd, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if err := applyEnvDefaults(); err != nil {
			return err
		}
		return command.Execute(args)
	}

	_, err := parser.Parse()

	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
