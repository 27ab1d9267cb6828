package jacdac

/*
This file contains the storage for control-layer diagnostic counts, and their export
as Prometheus metrics.
*/

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// ControlDiagnostics are counters that summarize one node's view of bus health.
type ControlDiagnostics struct {
	// PacketsIn is the number of control packets received and parsed.
	PacketsIn int
	// PacketsOut is the number of control packets transmitted.
	PacketsOut int
	// Malformed is the number of inbound frames dropped as structurally invalid.
	Malformed int
	// CollisionsLost is how often this node yielded its proposed address to a peer.
	CollisionsLost int
	// RejectsSent is the number of rejection packets sent to defend our address.
	RejectsSent int
	// RejectsReceived is how often a peer rejected our address, proposed or established.
	RejectsReceived int
	// Squatters counts enumerated peers seen claiming our address without proposing.
	Squatters int
	// Enumerations is how often this node completed enumeration.
	Enumerations int
	// Adoptions is the number of client services bound to remote hosts.
	Adoptions int
	// Evictions is the number of remote devices aged out of the table.
	Evictions int
	// SendFailures is the number of frames the link refused to queue.
	SendFailures int
}

type controlDiagnostics struct {
	diagnostics ControlDiagnostics

	set             *metrics.Set
	packetsIn       *metrics.Counter
	packetsOut      *metrics.Counter
	malformed       *metrics.Counter
	collisionsLost  *metrics.Counter
	rejectsSent     *metrics.Counter
	rejectsReceived *metrics.Counter
	squatters       *metrics.Counter
	enumerations    *metrics.Counter
	adoptions       *metrics.Counter
	evictions       *metrics.Counter
	sendFailures    *metrics.Counter
}

func newControlDiagnostics() *controlDiagnostics {
	d := &controlDiagnostics{set: metrics.NewSet()}
	d.packetsIn = d.set.NewCounter("jacdac_control_packets_in_total")
	d.packetsOut = d.set.NewCounter("jacdac_control_packets_out_total")
	d.malformed = d.set.NewCounter("jacdac_control_packets_malformed_total")
	d.collisionsLost = d.set.NewCounter("jacdac_control_collisions_lost_total")
	d.rejectsSent = d.set.NewCounter("jacdac_control_rejects_sent_total")
	d.rejectsReceived = d.set.NewCounter("jacdac_control_rejects_received_total")
	d.squatters = d.set.NewCounter("jacdac_control_address_squatters_total")
	d.enumerations = d.set.NewCounter("jacdac_control_enumerations_total")
	d.adoptions = d.set.NewCounter("jacdac_control_adoptions_total")
	d.evictions = d.set.NewCounter("jacdac_control_evictions_total")
	d.sendFailures = d.set.NewCounter("jacdac_control_send_failures_total")
	return d
}

func (d *controlDiagnostics) packetIn() {
	d.diagnostics.PacketsIn++
	d.packetsIn.Inc()
}

func (d *controlDiagnostics) packetOut() {
	d.diagnostics.PacketsOut++
	d.packetsOut.Inc()
}

func (d *controlDiagnostics) malformedPacket() {
	d.diagnostics.Malformed++
	d.malformed.Inc()
}

func (d *controlDiagnostics) collisionLost() {
	d.diagnostics.CollisionsLost++
	d.collisionsLost.Inc()
}

func (d *controlDiagnostics) rejectSent() {
	d.diagnostics.RejectsSent++
	d.rejectsSent.Inc()
}

func (d *controlDiagnostics) rejectReceived() {
	d.diagnostics.RejectsReceived++
	d.rejectsReceived.Inc()
}

func (d *controlDiagnostics) squatter() {
	d.diagnostics.Squatters++
	d.squatters.Inc()
}

func (d *controlDiagnostics) enumerated() {
	d.diagnostics.Enumerations++
	d.enumerations.Inc()
}

func (d *controlDiagnostics) adopted() {
	d.diagnostics.Adoptions++
	d.adoptions.Inc()
}

func (d *controlDiagnostics) evicted() {
	d.diagnostics.Evictions++
	d.evictions.Inc()
}

func (d *controlDiagnostics) sendFailed() {
	d.diagnostics.SendFailures++
	d.sendFailures.Inc()
}

// Diagnostics returns the current diagnostic counters for the control layer.
func (c *Control) Diagnostics() ControlDiagnostics {
	var out ControlDiagnostics
	c.do(func() { out = c.diag.diagnostics })
	return out
}

// WritePrometheus writes the control-layer counters in Prometheus text format.
func (c *Control) WritePrometheus(w io.Writer) {
	c.diag.set.WritePrometheus(w)
}
