/*
Package jacdac implements the control layer of JACDAC (Joint Asynchronous
Communications; Devices And Computers), a single-wire half-duplex multi-drop bus for
small embedded peripherals.

Every participant on a JACDAC bus runs a control service. The control service picks a
random bus address, advertises it until the rest of the bus has had a chance to object,
and then periodically re-advertises the node's host services so that other nodes can
discover and bind to them. The same periodic heartbeat is used to age out remote nodes
that have gone silent.

The control layer sits on top of a Link, which is the physical (or simulated) wire.
This package does not implement the JACDAC single-wire PHY; it ships a Loopback wire
for in-process simulation and a UDP multicast wire for running a virtual bus across
processes. Any transport that can carry small frames can implement Link.

Creating a node, registering a host service and joining the bus:

	wire := jacdac.NewLoopback()
	node := jacdac.New(wire.NewPort(), jacdac.WithName("hub"))

	svc := &jacdac.Service{Class: 0x1111, Mode: jacdac.HostService, Handler: myHandler}
	node.AddService(svc)

	node.Enumerate()

Once Enumerate returns, the node is proposing its address. Roughly two seconds later
(four heartbeats without an objection) it is enumerated and the service's HostConnected
callback fires. A client node binds to a remote host the same way:

	svc := &jacdac.Service{Class: 0x1111, Mode: jacdac.ClientService, Handler: myHandler}
	node.AddService(svc)

The client's HostConnected fires when a remote advertisement for class 0x1111 is
adopted, and HostDisconnected fires if that remote falls silent for two seconds.

All control-layer state is owned by a single goroutine per Control; the public API and
inbound packets are serialized through it, so service callbacks never run concurrently
with each other.
*/
package jacdac

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Protocol constants. ServiceArraySize bounds the number of resident services per
// node; registration beyond it fails with a NoResources error.
const (
	// MaxPacketSize is the largest control packet (header plus data) the bus carries.
	MaxPacketSize = 64
	// ControlPacketHeaderSize is the fixed control packet header length.
	ControlPacketHeaderSize = 16
	// ServiceInfoHeaderSize is the fixed header length of one service advertisement.
	ServiceInfoHeaderSize = 6
	// ServiceArraySize is the capacity of the service registry.
	ServiceArraySize = 16
	// ServiceNumberUninitialised marks a service that has no assigned service number.
	ServiceNumberUninitialised byte = 0xFF
	// ServiceClassControl is the service class of the control service itself.
	ServiceClassControl uint32 = 0
)

// DefaultTickInterval is the control service heartbeat period.
const DefaultTickInterval = 500 * time.Millisecond

// rollingThreshold is the shared hold-down: a rolling counter that exceeds it means
// the same condition has held for four consecutive ticks (about two seconds).
const rollingThreshold = 3

// Baud selects a link communication rate. Control packets always travel at Baud1M.
type Baud byte

const (
	// Baud1M is 1Mbaud, the highest common rate, used for all control packets.
	Baud1M Baud = 1
	// Baud500K is 500Kbaud.
	Baud500K Baud = 2
	// Baud250K is 250Kbaud.
	Baud250K Baud = 4
	// Baud125K is 125Kbaud.
	Baud125K Baud = 8
)

// Packet is one inbound frame as delivered by the link layer.
type Packet struct {
	// Rate is the communication rate the frame arrived at.
	Rate Baud
	// Data is the frame payload, a serialized control packet.
	Data []byte
}

/*
Link is the physical or simulated wire beneath a control layer.

IsRunning reports whether the link is operational at all; the heartbeat does nothing
while it is false. IsConnected reports whether the node can currently see the bus; a
node that stays enumerated while disconnected for four heartbeats tears down.

Send must not block: the link layer is expected to buffer. Inbound frames classified
as control traffic are handed to Control.HandlePacket by the link's receive path.
*/
type Link interface {
	// IsRunning reports whether the link is operational.
	IsRunning() bool
	// IsConnected reports whether the bus is currently reachable.
	IsConnected() bool
	// Send queues a frame for transmission at the given rate.
	Send(data []byte, src byte, dst byte, rate Baud) error
}

// Option configures a Control at construction time.
type Option func(*Control)

// WithName sets the device name advertised on the bus (at most 254 bytes).
func WithName(name string) Option {
	return func(c *Control) { c.cs.name = name }
}

// WithLogger sets the logger used for protocol tracing. The default discards.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Control) { c.log = log }
}

// WithTickInterval overrides the 500ms heartbeat, mainly for tests and simulation.
func WithTickInterval(d time.Duration) Option {
	return func(c *Control) { c.tickEvery = d }
}

// WithSerial sets the hardware serial the node identity is derived from. Without it a
// random serial is drawn, which is fine for simulated nodes but not stable across
// restarts.
func WithSerial(serial uint64) Option {
	return func(c *Control) { c.serial = serial }
}

// WithRandSource overrides the address-roll randomness, for deterministic tests.
func WithRandSource(src rand.Source) Option {
	return func(c *Control) { c.rand = rand.New(src) }
}

/*
Control is one node's control layer: the service registry, the control service state
machine, and the remote device table, bound to a Link.

A Control owns a single goroutine that serializes the heartbeat, inbound packets and
all public API calls, mirroring the cooperative scheduling the protocol assumes. The
goroutine starts at New and stops at Close.
*/
type Control struct {
	link Link
	log  zerolog.Logger

	services [ServiceArraySize]*Service
	cs       *controlService
	remotes  remoteDeviceTable
	events   eventTable
	diag     *controlDiagnostics

	serial    uint64
	rand      *rand.Rand
	tickEvery time.Duration

	ops  chan func()
	quit chan struct{}
	once sync.Once
}

// New creates a control layer on the given link and starts its heartbeat. The zero
// configuration uses a random hardware serial, a 500ms heartbeat and no device name.
func New(link Link, opts ...Option) *Control {
	c := &Control{
		link:      link,
		log:       zerolog.Nop(),
		cs:        &controlService{},
		diag:      newControlDiagnostics(),
		tickEvery: DefaultTickInterval,
		ops:       make(chan func()),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.serial == 0 {
		c.serial = rand.Uint64()
	}
	if c.rand == nil {
		// every node needs an independent seed; the protocol's collision behaviour
		// degrades badly when two nodes roll the same addresses in lockstep.
		c.rand = rand.New(rand.NewSource(int64(c.serial ^ uint64(time.Now().UnixNano()))))
	}

	// the control service occupies the first registry slot.
	c.cs.entry = &Service{
		Class:         ServiceClassControl,
		Mode:          HostService,
		Handler:       controlHandler{},
		serviceNumber: ServiceNumberUninitialised,
	}
	c.services[0] = c.cs.entry

	go c.run()
	return c
}

// Close stops the heartbeat and releases the loop goroutine. Pending and subsequent
// API calls fail with an invalid state error.
func (c *Control) Close() {
	c.once.Do(func() { close(c.quit) })
}

// run is the loop goroutine; it is the only code that touches control-layer state.
func (c *Control) run() {
	ticker := time.NewTicker(c.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.ops:
			fn()
		case <-ticker.C:
			c.tick()
		}
	}
}

// do runs fn on the loop goroutine and waits for it. It reports false if the layer
// was closed instead. A fatal protocol panic raised by fn resurfaces in the caller.
func (c *Control) do(fn func()) bool {
	done := make(chan struct{})
	var fatal interface{}
	wrapped := func() {
		defer close(done)
		defer func() { fatal = recover() }()
		fn()
	}
	select {
	case c.ops <- wrapped:
		<-done
		if fatal != nil {
			panic(fatal)
		}
		return true
	case <-c.quit:
		return false
	}
}

// HandlePacket is the entry point the link layer invokes for inbound control frames.
// The frame is processed on the loop goroutine before HandlePacket returns.
func (c *Control) HandlePacket(pkt *Packet) error {
	var err error
	if !c.do(func() { err = c.handlePacket(pkt) }) {
		return InvalidStateErrorF("control layer is closed")
	}
	return err
}

// Listen registers fn for events with the given id and value. EventValueAny matches
// every value of the id.
func (c *Control) Listen(id uint16, value uint16, fn func(Event)) {
	c.do(func() { c.events.listen(id, value, fn) })
}

// Ignore removes every listener registered for the id and value.
func (c *Control) Ignore(id uint16, value uint16) {
	c.do(func() { c.events.ignore(id, value) })
}

// Fire raises a local event, delivering it to matching listeners on the loop
// goroutine.
func (c *Control) Fire(ev Event) {
	c.do(func() { c.events.fire(ev) })
}
