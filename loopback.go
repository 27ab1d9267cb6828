package jacdac

/*
This file contains an in-process simulated wire: a hub joining any number of ports,
where every frame sent on one port fans out to all the others. It is the transport the
tests and the jdcli simulator run on.
*/

import "sync"

// Loopback is a simulated multi-drop wire. Ports created from it implement Link.
// The hub starts running and connected; both can be toggled to exercise the
// disconnect paths of the control service.
type Loopback struct {
	mu        sync.Mutex
	ports     []*LoopbackPort
	running   bool
	connected bool
}

// NewLoopback creates a hub with no ports, running and connected.
func NewLoopback() *Loopback {
	return &Loopback{running: true, connected: true}
}

// SetRunning toggles whether the wire is operational at all.
func (l *Loopback) SetRunning(running bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = running
}

// SetConnected toggles bus reachability. While disconnected, frames are dropped and
// attached nodes observe a dead bus.
func (l *Loopback) SetConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = connected
}

// NewPort creates a port on the wire.
func (l *Loopback) NewPort() *LoopbackPort {
	p := &LoopbackPort{
		hub:    l,
		rx:     make(chan *Packet, 32),
		closed: make(chan struct{}),
	}
	l.mu.Lock()
	l.ports = append(l.ports, p)
	l.mu.Unlock()
	go p.dispatch()
	return p
}

// LoopbackPort is one attachment point on a Loopback wire.
type LoopbackPort struct {
	hub *Loopback
	rx  chan *Packet

	mu      sync.Mutex
	handler func(*Packet)
	closed  chan struct{}
	once    sync.Once
}

// Attach sets the inbound frame handler, normally a Control's HandlePacket. Frames
// arriving before a handler is attached are dropped.
func (p *LoopbackPort) Attach(handler func(*Packet)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Close stops delivering received frames to the attached handler. The port stays
// registered on the wire: frames sent to it queue until its receive queue is full and
// are dropped after that, and the port can still send.
func (p *LoopbackPort) Close() {
	p.once.Do(func() { close(p.closed) })
}

// dispatch delivers received frames to the attached handler, decoupled from the
// sender so that two nodes transmitting to each other cannot deadlock.
func (p *LoopbackPort) dispatch() {
	for {
		select {
		case <-p.closed:
			return
		case pkt := <-p.rx:
			p.mu.Lock()
			handler := p.handler
			p.mu.Unlock()
			if handler != nil {
				handler(pkt)
			}
		}
	}
}

// IsRunning reports whether the wire is operational.
func (p *LoopbackPort) IsRunning() bool {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	return p.hub.running
}

// IsConnected reports whether the wire is reachable.
func (p *LoopbackPort) IsConnected() bool {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	return p.hub.connected
}

// Send fans the frame out to every other port on the wire. A disconnected wire eats
// frames without an error, the way a dead bus would; a port whose receive queue is
// full drops the frame.
func (p *LoopbackPort) Send(data []byte, src byte, dst byte, rate Baud) error {
	l := p.hub
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return NoResourcesErrorF("the wire is not running")
	}
	if !l.connected {
		return nil
	}

	for _, other := range l.ports {
		if other == p {
			continue
		}
		pkt := &Packet{Rate: rate, Data: append([]byte(nil), data...)}
		select {
		case other.rx <- pkt:
		default:
			// receiver overrun, the frame is lost.
		}
	}
	return nil
}
