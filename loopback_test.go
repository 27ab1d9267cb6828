package jacdac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signalHandler reports binding changes over channels, for wire-driven tests.
type signalHandler struct {
	NopHandler
	connected    chan struct{}
	disconnected chan struct{}
}

func newSignalHandler() *signalHandler {
	return &signalHandler{
		connected:    make(chan struct{}, 4),
		disconnected: make(chan struct{}, 4),
	}
}

func (h *signalHandler) HostConnected() {
	select {
	case h.connected <- struct{}{}:
	default:
	}
}

func (h *signalHandler) HostDisconnected() {
	select {
	case h.disconnected <- struct{}{}:
	default:
	}
}

func awaitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %v", what)
	}
}

func simNode(wire *Loopback, serial uint64, opts ...Option) *Control {
	port := wire.NewPort()
	all := append([]Option{
		WithTickInterval(5 * time.Millisecond),
		WithSerial(serial),
	}, opts...)
	node := New(port, all...)
	port.Attach(func(pkt *Packet) { node.HandlePacket(pkt) })
	return node
}

func TestLoopbackEnumerationAndAdoption(t *testing.T) {
	wire := NewLoopback()

	hostHandler := newSignalHandler()
	host := simNode(wire, 0x1001, WithName("hub"))
	defer host.Close()
	_, err := host.AddService(&Service{Class: 0x4242, Mode: HostService, Handler: hostHandler})
	require.NoError(t, err)
	require.NoError(t, host.Enumerate())

	clientHandler := newSignalHandler()
	client := simNode(wire, 0x2002)
	defer client.Close()
	clientSvc := &Service{Class: 0x4242, Mode: ClientService, Handler: clientHandler}
	_, err = client.AddService(clientSvc)
	require.NoError(t, err)

	awaitSignal(t, hostHandler.connected, "host enumeration")
	awaitSignal(t, clientHandler.connected, "client adoption")

	require.True(t, host.IsEnumerated())
	hostDev, _ := host.LocalDevice()

	remotes := client.RemoteDevices()
	require.Len(t, remotes, 1)
	assert.Equal(t, hostDev.Address, remotes[0].Address)
	assert.Equal(t, hostDev.UDID, remotes[0].UDID)
	assert.Equal(t, "hub", string(remotes[0].Name))

	// the host goes silent; the client ages it out and unbinds.
	host.Close()
	awaitSignal(t, clientHandler.disconnected, "client eviction")
	assert.Empty(t, client.RemoteDevices())
	assert.Nil(t, clientSvc.BoundDevice())
}

func TestLoopbackPersistentRejection(t *testing.T) {
	wire := NewLoopback()

	// both nodes always roll the same address; the established node wins every round
	// and the newcomer keeps re-rolling indefinitely.
	incumbent := simNode(wire, 0x1001, WithRandSource(rollsTo(50)))
	defer incumbent.Close()
	_, err := incumbent.AddService(&Service{Class: 0x4242, Mode: HostService})
	require.NoError(t, err)
	require.NoError(t, incumbent.Enumerate())

	require.Eventually(t, incumbent.IsEnumerated, 5*time.Second, 5*time.Millisecond)

	challenger := simNode(wire, 0x2002, WithRandSource(rollsTo(50)))
	defer challenger.Close()
	_, err = challenger.AddService(&Service{Class: 0x9999, Mode: HostService})
	require.NoError(t, err)
	require.NoError(t, challenger.Enumerate())

	require.Eventually(t, func() bool {
		return challenger.Diagnostics().RejectsReceived >= 3
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, incumbent.IsEnumerated())
	assert.False(t, challenger.IsEnumerated())
	dev, _ := incumbent.LocalDevice()
	assert.Equal(t, byte(50), dev.Address)
	assert.GreaterOrEqual(t, incumbent.Diagnostics().RejectsSent, 3)
}

func TestLoopbackBusDisconnect(t *testing.T) {
	wire := NewLoopback()

	handler := newSignalHandler()
	node := simNode(wire, 0x1001)
	defer node.Close()
	_, err := node.AddService(&Service{Class: 0x4242, Mode: HostService, Handler: handler})
	require.NoError(t, err)
	require.NoError(t, node.Enumerate())
	awaitSignal(t, handler.connected, "enumeration")

	wire.SetConnected(false)
	awaitSignal(t, handler.disconnected, "tear down")
	assert.Equal(t, StateDisconnected, node.State())
}
