package jacdac

/*
This file contains the inbound dispatcher: address collision resolution, remote device
tracking, and the fan-out of service advertisements to the registry.
*/

import "bytes"

// handlePacket routes one inbound control frame. It runs on the loop goroutine.
//
// Collision handling comes first: a peer squatting our address is either outraced
// (we re-roll) or rejected (we defend). A peer claiming an established address with a
// foreign udid and no proposal is left alone; re-rolling an established address on an
// unauthenticated claim would let one broken node churn the whole bus.
func (c *Control) handlePacket(pkt *Packet) error {
	cp, err := parseControlPacket(pkt.Data)
	if err != nil {
		c.diag.malformedPacket()
		c.log.Warn().Err(err).Msg("dropping malformed control packet")
		return err
	}
	c.diag.packetIn()

	cs := c.cs

	// address collision check
	if cs.device != nil && cs.device.Address == cp.Address && cs.status&(statusEnumerating|statusEnumerated) != 0 {
		// a different device is using our address!!
		if cs.device.UDID != cp.UDID {
			if cp.Flags&DeviceFlagProposing != 0 {
				// if we're proposing too, the remote device has won the address
				if cs.device.Flags&DeviceFlagProposing != 0 {
					cs.device.rollingCounter = 0
					cs.device.Address = c.rollAddress()
					c.diag.collisionLost()
					c.log.Debug().Uint8("address", cs.device.Address).Msg("lost address race, re-rolled")
				} else {
					// our address is established, reject the proposal
					reject := &ControlPacket{
						UDID:    cp.UDID,
						Address: cp.Address,
						Flags:   cp.Flags | DeviceFlagReject,
					}
					c.send(marshalControlPacket(reject))
					c.diag.rejectSent()
					c.log.Debug().Uint8("address", cp.Address).Msgf("rejected proposal from %016x", cp.UDID)
				}

				return nil // no further processing required.
			}

			// an enumerated peer claims our established address. Deliberately a no-op
			// beyond accounting; see the collision notes above.
			c.diag.squatter()
			c.log.Warn().Uint8("address", cp.Address).Msgf("enumerated peer %016x claims our address", cp.UDID)
		} else if cp.Flags&DeviceFlagReject != 0 {
			// someone has flagged a conflict with our device address, re-enumerate
			cs.device.rollingCounter = 0
			cs.device.Address = c.rollAddress()
			c.diag.rejectReceived()
			c.log.Debug().Uint8("address", cs.device.Address).Msg("address rejected, re-rolled")
			return nil
		}
	}

	// the peer has not got a confirmed address yet; only fully enumerated peers are
	// routed downstream.
	if cp.Flags&DeviceFlagProposing != 0 {
		return nil
	}

	// if a service is relying on this remote device, the table is maintaining the
	// liveness state.
	remote := c.remotes.findExact(cp.Address, cp.UDID)
	if remote != nil {
		c.remotes.seen(remote)
	}

	// address validation has completed; fan the advertisements out to the registry.
	for number, info := range cp.Services {
		serviceNumber := byte(number)
		record := info

		for _, svc := range c.services {
			if svc == nil {
				continue
			}

			classCheck := svc.Class == record.Class

			if svc.initialised() {
				addressCheck := svc.bound != nil && svc.bound.Address == cp.Address && svc.serviceNumber == serviceNumber
				udidCheck := svc.bound != nil && svc.bound.UDID == cp.UDID

				// broadcast services receive every matching class; the stringent
				// address checks only apply to directed bindings.
				broadcastOverride := svc.Mode == BroadcastHostService

				if (addressCheck && udidCheck && classCheck) || (classCheck && broadcastOverride) {
					// we are receiving a packet from a remote device for a service in
					// broadcast mode.
					if broadcastOverride && (cs.device == nil || cp.Address != cs.device.Address) {
						if remote == nil {
							remote = c.remotes.add(cp, pkt.Rate)
						}
						remote.setBroadcastServiceNumber(int(serviceNumber), svc.serviceNumber)
					}

					// a nil return consumes the record; anything else keeps routing.
					if svc.handler().HandleServiceInformation(remote, &record) == nil {
						break
					}
				}
			} else if classCheck && svc.Mode == ClientService {
				// this service instance is looking for a specific device
				if svc.Required != nil {
					if svc.Required.UDID > 0 && svc.Required.UDID != cp.UDID {
						continue
					}

					if svc.Required.Name != "" {
						if cp.Flags&DeviceFlagHasName == 0 {
							continue
						}
						if !bytes.Equal(cp.Name, []byte(svc.Required.Name)) {
							continue
						}
					}
				}

				remote = c.remotes.add(cp, pkt.Rate)

				if svc.handler().HandleServiceInformation(remote, &record) == nil {
					svc.serviceNumber = serviceNumber
					svc.connect(&remote.Device, remote)
					c.diag.adopted()
					c.log.Debug().Uint8("address", cp.Address).Uint32("class", svc.Class).Msg("adopted remote host")
					c.events.fire(Event{ID: EventIDControl, Value: EventChanged})
					break
				}
			}
		}
	}

	return nil
}
