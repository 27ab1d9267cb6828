package jacdac

/*
This file contains the control service itself: the enumeration state machine, the
heartbeat that drives it, and the public lifecycle API.
*/

const (
	// statusEnumerate is the intent flag: the node wants to be on the bus.
	statusEnumerate byte = 1 << 0
	// statusEnumerating is set while the node's address is still a proposal.
	statusEnumerating byte = 1 << 1
	// statusEnumerated is set once the address survived the hold-down.
	statusEnumerated byte = 1 << 2
	// statusDisconnected is set after an enumerated node lost the bus and tore down.
	statusDisconnected byte = 1 << 3
)

// NodeState is the lifecycle state of the local device. Exactly one state holds at
// any time.
type NodeState int

const (
	// StateIdle means no identity is allocated and nothing is advertised.
	StateIdle NodeState = iota
	// StateProposing means the node is advertising an unconfirmed address.
	StateProposing
	// StateEnumerated means the node's address is confirmed.
	StateEnumerated
	// StateDisconnected means the node lost the bus after enumerating and tore down.
	StateDisconnected
)

func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProposing:
		return "proposing"
	case StateEnumerated:
		return "enumerated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// controlService is the state the control layer keeps for its own bus presence.
type controlService struct {
	entry           *Service
	device          *Device
	enumerationData []byte
	status          byte
	name            string
}

func (cs *controlService) state() NodeState {
	switch {
	case cs.status&statusEnumerating != 0:
		return StateProposing
	case cs.status&statusEnumerated != 0:
		return StateEnumerated
	case cs.status&statusDisconnected != 0:
		return StateDisconnected
	}
	return StateIdle
}

/*
Enumerate allocates the node's bus identity and starts advertising it.

The address is drawn at random from 1..254 and advertised with the proposing flag for
four heartbeats; if no peer objects in that window the node transitions to enumerated
and every host-mode service receives HostConnected. Enumerate fails with an invalid
state error if the node is already enumerating, or if no host-mode services are
registered (there would be nothing to advertise).
*/
func (c *Control) Enumerate() error {
	var err error
	if !c.do(func() { err = c.enumerate() }) {
		return InvalidStateErrorF("control layer is closed")
	}
	return err
}

func (c *Control) enumerate() error {
	cs := c.cs
	if cs.status&statusEnumerate != 0 {
		return InvalidStateErrorF("enumeration is already in progress")
	}

	if cs.enumerationData == nil {
		cs.enumerationData = make([]byte, MaxPacketSize)
	}

	if cs.device == nil {
		cs.device = &Device{
			UDID:    GenerateEUI64(c.serial),
			Address: c.rollAddress(),
			Flags:   DeviceFlagProposing,
			Rate:    Baud1M,
		}
	} else {
		// re-enumeration after a teardown: same identity, fresh proposal.
		cs.device.Flags |= DeviceFlagProposing
		cs.device.rollingCounter = 0
	}

	// copy the name into the enumeration buffer (if we have one). The leading byte
	// counts the whole field, length byte included.
	if len(cs.name) > 0 {
		if len(cs.name) > 254 {
			return InvalidParameterErrorF("device name of %v bytes exceeds the maximum of 254", len(cs.name))
		}
		cs.device.Flags |= DeviceFlagHasName
		cs.device.Name = []byte(cs.name)
		cs.enumerationData[ControlPacketHeaderSize] = byte(len(cs.name) + 1)
		copy(cs.enumerationData[ControlPacketHeaderSize+1:], cs.name)
	}

	size := c.formControlPacket()

	nameSize := 0
	if cs.device.Flags&DeviceFlagHasName != 0 {
		nameSize = len(cs.name) + 1
	}

	if size > ControlPacketHeaderSize+nameSize {
		cs.status |= statusEnumerating | statusEnumerate
		cs.status &^= statusDisconnected
		c.log.Debug().Uint8("address", cs.device.Address).Msgf("enumerating as %016x", cs.device.UDID)
		return nil
	}

	// no host services to advertise; release the identity again.
	cs.enumerationData = nil
	cs.device = nil
	return InvalidStateErrorF("cannot enumerate without host services")
}

// Disconnect withdraws the node from the bus: the heartbeat stops advertising and, if
// the node was enumerated, every bound service receives HostDisconnected. It fails
// with an invalid state error if the node was not enumerating.
func (c *Control) Disconnect() error {
	var err error
	if !c.do(func() { err = c.disconnectLocal() }) {
		return InvalidStateErrorF("control layer is closed")
	}
	return err
}

func (c *Control) disconnectLocal() error {
	cs := c.cs
	if cs.status&statusEnumerate == 0 {
		return InvalidStateErrorF("the node is not enumerating")
	}

	wasEnumerated := cs.status&statusEnumerated != 0
	cs.status &^= statusEnumerate | statusEnumerating | statusEnumerated | statusDisconnected
	if wasEnumerated {
		c.setConnectionState(false, cs.device)
	}

	// idle nodes hold no identity; a later Enumerate starts from scratch.
	cs.device = nil
	cs.enumerationData = nil
	return nil
}

// IsEnumerated reports whether the node holds a confirmed bus address.
func (c *Control) IsEnumerated() bool {
	var enumerated bool
	c.do(func() { enumerated = c.cs.status&statusEnumerated != 0 })
	return enumerated
}

// IsEnumerating reports whether the node is still proposing its address.
func (c *Control) IsEnumerating() bool {
	var enumerating bool
	c.do(func() { enumerating = c.cs.status&statusEnumerating != 0 })
	return enumerating
}

// State returns the lifecycle state of the local device.
func (c *Control) State() NodeState {
	state := StateIdle
	c.do(func() { state = c.cs.state() })
	return state
}

// LocalDevice returns a copy of the local device identity. ok is false while no
// identity is allocated.
func (c *Control) LocalDevice() (Device, bool) {
	var dev Device
	var ok bool
	c.do(func() {
		if c.cs.device != nil {
			dev, ok = *c.cs.device, true
		}
	})
	return dev, ok
}

// tick is the 500ms heartbeat: it advances the enumeration state machine, emits the
// node's advertisement, and ages the remote device table.
func (c *Control) tick() {
	// no sense continuing if we dont have a bus to transmit on...
	if c.link == nil || !c.link.IsRunning() {
		return
	}

	cs := c.cs

	// handle enumeration
	if cs.status&statusEnumerate != 0 {
		if cs.status&statusEnumerating != 0 {
			cs.device.rollingCounter++

			if cs.device.rollingCounter > rollingThreshold {
				cs.status &^= statusEnumerating
				cs.status |= statusEnumerated
				cs.device.Flags &^= DeviceFlagProposing
				// the counter restarts here; its next role is the disconnect hold-down.
				cs.device.rollingCounter = 0
				c.diag.enumerated()
				c.log.Debug().Uint8("address", cs.device.Address).Msg("enumerated")
				c.setConnectionState(true, cs.device)
			}
		} else {
			if !c.link.IsConnected() {
				cs.device.rollingCounter++

				if cs.device.rollingCounter > rollingThreshold {
					// the bus has been gone for the whole hold-down: tear down.
					cs.status &^= statusEnumerate | statusEnumerating | statusEnumerated
					cs.status |= statusDisconnected
					c.log.Debug().Msg("bus lost, tearing down")
					c.setConnectionState(false, cs.device)
					return
				}
			} else {
				cs.device.rollingCounter = 0
			}
		}
	}

	// queue a control packet if we are advertising.
	if cs.status&statusEnumerate != 0 {
		c.send(cs.enumerationData[:c.formControlPacket()])
	}

	// now check to see if remote devices have timed out.
	for _, dev := range c.remotes.sweep() {
		c.diag.evicted()
		c.log.Debug().Uint8("address", dev.Address).Msgf("remote %016x timed out", dev.UDID)
		c.setConnectionState(false, &dev.Device)
	}
}

// setConnectionState delivers connect or disconnect callbacks for one device to every
// affected service. Connecting the local device binds all host-mode services to it;
// disconnecting unbinds whoever was bound to the device. For an evicted remote the
// table has already removed the record; the caller still holds it, so services are
// unbound before the last reference goes.
func (c *Control) setConnectionState(connected bool, device *Device) {
	for _, svc := range c.services {
		if svc == nil || svc == c.cs.entry {
			continue
		}

		if connected {
			if svc.Mode != ClientService && device == c.cs.device && !svc.initialised() {
				svc.connect(device, nil)
			}
		} else if svc.bound == device {
			svc.disconnect()
		}
	}
	c.events.fire(Event{ID: EventIDControl, Value: EventChanged})
}

// send queues a control frame on the link at the control rate.
func (c *Control) send(data []byte) {
	if err := c.link.Send(data, 0, 0, Baud1M); err != nil {
		c.diag.sendFailed()
		c.log.Warn().Err(err).Msg("link refused control packet")
		return
	}
	c.diag.packetOut()
}
