package jacdac

/*
This file contains a UDP multicast wire: a virtual bus shared by every process joined
to the same group, used to run simulated nodes across machine or process boundaries.
Each datagram carries one frame, prefixed with its communication rate.
*/

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

// DefaultUDPGroup is the multicast group and port a UDP wire joins by default.
const DefaultUDPGroup = "239.77.68.1:9657"

// UDPLink is a Link running over a UDP multicast group.
type UDPLink struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	group *net.UDPAddr
	log   zerolog.Logger

	mu      sync.Mutex
	handler func(*Packet)
	open    bool
	once    sync.Once
}

// NewUDPLink joins the given multicast group ("239.77.68.1:9657" form; empty selects
// DefaultUDPGroup) and starts reading frames. Multicast loopback stays on so that
// nodes on the same host share the bus; a node therefore receives its own frames,
// which the control service tolerates.
func NewUDPLink(group string, log zerolog.Logger) (*UDPLink, error) {
	if group == "" {
		group = DefaultUDPGroup
	}
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(65536); err != nil {
		conn.Close()
		return nil, err
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastLoopback(true); err != nil {
		log.Debug().Err(err).Msg("could not enable multicast loopback")
	}

	l := &UDPLink{conn: conn, pconn: pconn, group: addr, log: log, open: true}
	go l.readLoop()
	return l, nil
}

// Attach sets the inbound frame handler, normally a Control's HandlePacket.
func (l *UDPLink) Attach(handler func(*Packet)) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// Close leaves the group and stops the read loop.
func (l *UDPLink) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.open = false
		l.mu.Unlock()
		l.conn.Close()
	})
	return nil
}

// IsRunning reports whether the link is operational.
func (l *UDPLink) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// IsConnected reports whether the bus is reachable. A joined group is considered
// reachable; there is no carrier detection on a multicast wire.
func (l *UDPLink) IsConnected() bool {
	return l.IsRunning()
}

// Send transmits one frame to the group, prefixed with its rate byte.
func (l *UDPLink) Send(data []byte, src byte, dst byte, rate Baud) error {
	if !l.IsRunning() {
		return NoResourcesErrorF("the UDP wire is closed")
	}
	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, byte(rate))
	frame = append(frame, data...)
	if _, err := l.conn.WriteToUDP(frame, l.group); err != nil {
		return NoResourcesErrorF("UDP send failed: %v", err)
	}
	return nil
}

func (l *UDPLink) readLoop() {
	buffer := make([]byte, 512)
	for {
		n, _, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if l.IsRunning() {
				l.log.Warn().Err(err).Msg("UDP wire read failed")
				continue
			}
			return
		}
		if n < 1 {
			continue
		}

		l.mu.Lock()
		handler := l.handler
		l.mu.Unlock()
		if handler == nil {
			continue
		}

		pkt := &Packet{Rate: Baud(buffer[0]), Data: append([]byte(nil), buffer[1:n]...)}
		handler(pkt)
	}
}
