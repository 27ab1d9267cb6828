package jacdac

/*
This file contains the remote device table: the node's membership view of the bus,
keyed by (address, udid). Records age on every heartbeat and are evicted after four
silent ticks.
*/

type remoteDeviceTable struct {
	devices []*RemoteDevice
}

// find returns the first record with the given address, nil if none.
func (t *remoteDeviceTable) find(address byte) *RemoteDevice {
	for _, dev := range t.devices {
		if dev.Address == address {
			return dev
		}
	}
	return nil
}

// findExact returns the record with the given address and udid, nil if none.
func (t *remoteDeviceTable) findExact(address byte, udid uint64) *RemoteDevice {
	for _, dev := range t.devices {
		if dev.Address == address && dev.UDID == udid {
			return dev
		}
	}
	return nil
}

// add records a device from its control packet. If a record with the same
// (address, udid) already exists it is returned unchanged, so the keys stay unique.
func (t *remoteDeviceTable) add(cp *ControlPacket, rate Baud) *RemoteDevice {
	if existing := t.findExact(cp.Address, cp.UDID); existing != nil {
		return existing
	}
	dev := &RemoteDevice{Device: Device{
		UDID:    cp.UDID,
		Address: cp.Address,
		Flags:   cp.Flags,
		Rate:    rate,
	}}
	if cp.Flags&DeviceFlagHasName != 0 {
		dev.Name = append([]byte(nil), cp.Name...)
	}
	t.devices = append(t.devices, dev)
	return dev
}

// remove drops the record with the given address and udid.
func (t *remoteDeviceTable) remove(address byte, udid uint64) error {
	for i, dev := range t.devices {
		if dev.Address == address && dev.UDID == udid {
			t.devices = append(t.devices[:i], t.devices[i+1:]...)
			return nil
		}
	}
	return InvalidParameterErrorF("no remote device at address %v with udid %016x", address, udid)
}

// seen marks a record as alive, restarting its liveness hold-down.
func (t *remoteDeviceTable) seen(dev *RemoteDevice) {
	dev.rollingCounter = 0
}

// sweep ages every record and removes those silent for more than the hold-down,
// returning the evicted records so the caller can deliver disconnect notifications
// before the references are dropped.
func (t *remoteDeviceTable) sweep() []*RemoteDevice {
	var evicted []*RemoteDevice
	kept := t.devices[:0]
	for _, dev := range t.devices {
		dev.rollingCounter++
		if dev.rollingCounter > rollingThreshold {
			evicted = append(evicted, dev)
		} else {
			kept = append(kept, dev)
		}
	}
	t.devices = kept
	return evicted
}

// snapshot copies the current records for callers outside the loop goroutine.
func (t *remoteDeviceTable) snapshot() []RemoteDevice {
	out := make([]RemoteDevice, len(t.devices))
	for i, dev := range t.devices {
		out[i] = *dev
	}
	return out
}

// RemoteDevices returns a copy of the current remote device table.
func (c *Control) RemoteDevices() []RemoteDevice {
	var out []RemoteDevice
	c.do(func() { out = c.remotes.snapshot() })
	return out
}
