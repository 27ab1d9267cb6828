package main

import (
	"fmt"
	"time"

	"github.com/martinwork/jacdac"
)

type SimCommand struct {
	Nodes    int           `short:"n" long:"nodes" default:"3" description:"Number of nodes to attach to the simulated wire"`
	Duration time.Duration `short:"d" long:"duration" default:"5s" description:"How long to run the bus"`
	Tick     time.Duration `short:"t" long:"tick" default:"100ms" description:"Heartbeat interval (500ms on real hardware)"`
	Class    uint32        `short:"c" long:"class" default:"4369" description:"Service class hosted by the first node"`
}

// simHandler announces binding changes for one node's service.
type simHandler struct {
	jacdac.NopHandler
	node string
	role string
}

func (h *simHandler) HostConnected() {
	fmt.Printf("%v: %v service connected\n", h.node, h.role)
}

func (h *simHandler) HostDisconnected() {
	fmt.Printf("%v: %v service disconnected\n", h.node, h.role)
}

func (c *SimCommand) Execute(args []string) error {
	if c.Nodes < 2 {
		return fmt.Errorf("a bus of %v nodes is not much of a bus", c.Nodes)
	}

	wire := jacdac.NewLoopback()
	nodes := make([]*jacdac.Control, c.Nodes)

	for i := range nodes {
		name := fmt.Sprintf("node-%v", i)
		port := wire.NewPort()
		node := jacdac.New(port,
			jacdac.WithName(name),
			jacdac.WithSerial(uint64(0x1000+i)),
			jacdac.WithTickInterval(c.Tick),
			jacdac.WithLogger(logger().With().Str("node", name).Logger()),
		)
		port.Attach(func(pkt *jacdac.Packet) { node.HandlePacket(pkt) })
		nodes[i] = node

		// the first node hosts the service, the rest run clients of it.
		svc := &jacdac.Service{Class: c.Class, Handler: &simHandler{node: name, role: "client"}}
		if i == 0 {
			svc.Mode = jacdac.HostService
			svc.Handler = &simHandler{node: name, role: "host"}
		}
		if _, err := node.AddService(svc); err != nil {
			return err
		}

		// only the host node has something to advertise; client nodes stay off the
		// enumeration and bind to the host's advertisement.
		if svc.Mode == jacdac.HostService {
			if err := node.Enumerate(); err != nil {
				return err
			}
		}
	}

	time.Sleep(c.Duration)

	for i, node := range nodes {
		dev, _ := node.LocalDevice()
		fmt.Printf("node-%v: state %v address %v udid %016x\n", i, node.State(), dev.Address, dev.UDID)
		for _, remote := range node.RemoteDevices() {
			fmt.Printf("  sees %v (%016x) name %q\n", remote.Address, remote.UDID, string(remote.Name))
		}
		diag := node.Diagnostics()
		fmt.Printf("  in %v out %v collisions %v rejects %v adoptions %v evictions %v\n",
			diag.PacketsIn, diag.PacketsOut, diag.CollisionsLost, diag.RejectsSent, diag.Adoptions, diag.Evictions)
		node.Close()
	}

	return nil
}
