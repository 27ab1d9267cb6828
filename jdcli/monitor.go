package main

import (
	"fmt"
	"os"
	"time"

	"github.com/martinwork/jacdac"
)

type MonitorCommand struct {
	Group    string        `short:"g" long:"group" description:"Multicast group to join (host:port)"`
	Name     string        `long:"name" description:"Device name to advertise"`
	Class    uint32        `short:"c" long:"class" description:"Optionally bind a client to this service class"`
	Duration time.Duration `short:"d" long:"duration" default:"30s" description:"How long to watch the bus"`
	Metrics  bool          `short:"m" long:"metrics" description:"Dump Prometheus metrics on exit"`
}

type monitorHandler struct {
	jacdac.NopHandler
	class uint32
}

func (h *monitorHandler) HostConnected() {
	fmt.Printf("bound to a host for class %08x\n", h.class)
}

func (h *monitorHandler) HostDisconnected() {
	fmt.Printf("lost the host for class %08x\n", h.class)
}

func (c *MonitorCommand) Execute(args []string) error {
	name := c.Name
	if name == "" {
		name = "monitor"
	}

	link, err := jacdac.NewUDPLink(c.Group, logger())
	if err != nil {
		return err
	}
	defer link.Close()

	node := jacdac.New(link,
		jacdac.WithName(name),
		jacdac.WithLogger(logger()),
	)
	defer node.Close()
	link.Attach(func(pkt *jacdac.Packet) { node.HandlePacket(pkt) })

	// a monitor enumerates like any other node, so that the bus can see it too.
	if _, err := node.AddService(&jacdac.Service{Class: 0x3FF, Mode: jacdac.HostService}); err != nil {
		return err
	}
	if c.Class != 0 {
		svc := &jacdac.Service{Class: c.Class, Mode: jacdac.ClientService, Handler: &monitorHandler{class: c.Class}}
		if _, err := node.AddService(svc); err != nil {
			return err
		}
	}

	if err := node.Enumerate(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.Duration)
	for time.Now().Before(deadline) {
		time.Sleep(2 * time.Second)
		dev, _ := node.LocalDevice()
		fmt.Printf("%v address %v, %v remote(s)\n", node.State(), dev.Address, len(node.RemoteDevices()))
		for _, remote := range node.RemoteDevices() {
			fmt.Printf("  %3v %016x %q\n", remote.Address, remote.UDID, string(remote.Name))
		}
	}

	if c.Metrics {
		node.WritePrometheus(os.Stdout)
	}

	return nil
}
