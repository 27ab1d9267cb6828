package jacdac

/*
This file contains shared test plumbing: a recording link, deterministic randomness,
handler doubles, and helpers to drive the heartbeat by hand.
*/

import (
	"errors"
	"sync"
	"time"
)

// testTick is long enough that the automatic heartbeat never fires during a test;
// tests drive ticks explicitly through step.
const testTick = time.Hour

// step runs one heartbeat on the loop goroutine.
func (c *Control) step(n int) {
	for i := 0; i < n; i++ {
		c.do(func() { c.tick() })
	}
}

// poke runs fn on the loop goroutine, for tests that reach into loop-owned state.
func (c *Control) poke(fn func()) {
	c.do(fn)
}

// testLink records outbound frames and lets tests toggle the bus state.
type testLink struct {
	mu        sync.Mutex
	running   bool
	connected bool
	sent      [][]byte
}

func newTestLink() *testLink {
	return &testLink{running: true, connected: true}
}

func (l *testLink) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *testLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *testLink) Send(data []byte, src byte, dst byte, rate Baud) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, append([]byte(nil), data...))
	return nil
}

func (l *testLink) setConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = connected
}

func (l *testLink) frames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

func (l *testLink) lastFrame() []byte {
	frames := l.frames()
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

// fixedSource always rolls the same address: 1 + (val>>32 mod 254).
type fixedSource struct {
	val int64
}

func (s *fixedSource) Int63() int64 { return s.val }

func (s *fixedSource) Seed(seed int64) {}

// rollsTo returns a source whose every address roll produces addr.
func rollsTo(addr byte) *fixedSource {
	return &fixedSource{int64(addr-1) << 32}
}

var errSkip = errors.New("not for this service")

// recordingHandler captures every callback the control layer delivers.
type recordingHandler struct {
	advert      []byte
	consume     bool
	connects    int
	disconnects int
	infos       []ServiceInformation
	remotes     []*RemoteDevice
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{consume: true}
}

func (h *recordingHandler) AddAdvertisementData(dst []byte) int {
	return copy(dst, h.advert)
}

func (h *recordingHandler) HandleServiceInformation(remote *RemoteDevice, info *ServiceInformation) error {
	h.infos = append(h.infos, *info)
	h.remotes = append(h.remotes, remote)
	if h.consume {
		return nil
	}
	return errSkip
}

func (h *recordingHandler) HostConnected() { h.connects++ }

func (h *recordingHandler) HostDisconnected() { h.disconnects++ }

// newTestControl builds a closed-loop node: recording link, manual heartbeat,
// deterministic address rolls.
func newTestControl(opts ...Option) (*Control, *testLink) {
	link := newTestLink()
	all := append([]Option{
		WithTickInterval(testTick),
		WithSerial(0xA0A1A2A3A4A5A6A7),
		WithRandSource(rollsTo(23)),
	}, opts...)
	return New(link, all...), link
}
