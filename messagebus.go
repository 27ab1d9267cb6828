package jacdac

/*
This file contains the event bridge: a broadcast host service that retransmits
selected local events onto the bus inside its advertisement, and fires events received
from other nodes on the local listener table.
*/

// ServiceClassEventBridge identifies the event bridge service on the bus.
const ServiceClassEventBridge uint32 = 0x06

// eventBridgeQueueSize bounds the number of events waiting for the next heartbeat.
const eventBridgeQueueSize = 8

/*
EventBridge couples a node's local event table to the bus.

Events matching a Forward registration are queued and ride the bridge's advertisement
on the next heartbeat; event payloads received from other bridges are fired on the
local table. Forwarding is suppressed while a received event fires, so bridged events
do not echo back onto the bus.
*/
type EventBridge struct {
	control  *Control
	svc      *Service
	queue    []Event
	suppress bool
}

// NewEventBridge registers an event bridge service on the control layer.
func NewEventBridge(c *Control) (*EventBridge, error) {
	b := &EventBridge{control: c}
	b.svc = &Service{
		Class:   ServiceClassEventBridge,
		Mode:    BroadcastHostService,
		Handler: b,
	}
	if _, err := c.AddService(b.svc); err != nil {
		return nil, err
	}
	return b, nil
}

// Forward retransmits local events with the given id and value on the bus.
// EventValueAny forwards every value of the id.
func (b *EventBridge) Forward(id uint16, value uint16) {
	b.control.Listen(id, value, b.eventReceived)
}

// eventReceived queues a local event for the next advertisement. It runs on the
// control loop goroutine.
func (b *EventBridge) eventReceived(ev Event) {
	if b.suppress {
		return
	}
	if len(b.queue) >= eventBridgeQueueSize {
		// the bus is slower than the event source; oldest events win.
		return
	}
	b.queue = append(b.queue, ev)
}

// AddAdvertisementData drains queued events into the advertisement, four bytes per
// event.
func (b *EventBridge) AddAdvertisementData(dst []byte) int {
	size := 0
	for len(b.queue) > 0 && size+4 <= len(dst) {
		ev := b.queue[0]
		b.queue = b.queue[1:]
		setWordLE(dst, size, ev.ID)
		setWordLE(dst, size+2, ev.Value)
		size += 4
	}
	return size
}

// HandleServiceInformation fires events carried by a peer bridge's advertisement on
// the local listener table, with forwarding suppressed to avoid an echo.
func (b *EventBridge) HandleServiceInformation(remote *RemoteDevice, info *ServiceInformation) error {
	if remote == nil {
		// our own advertisement reflected back; nothing to do.
		return nil
	}
	payload := info.Advertisement
	b.suppress = true
	for len(payload) >= 4 {
		b.control.events.fire(Event{ID: getWordLE(payload, 0), Value: getWordLE(payload, 2)})
		payload = payload[4:]
	}
	b.suppress = false
	return nil
}

// HostConnected does nothing; queued events start riding the advertisement as soon
// as the node advertises.
func (b *EventBridge) HostConnected() {}

// HostDisconnected drops any events queued while the node was torn down.
func (b *EventBridge) HostDisconnected() {
	b.queue = nil
}
