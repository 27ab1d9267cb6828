package jacdac

/*
This file contains the enumeration buffer: the scratch region the node's
self-advertisement is formed in before each transmission.
*/

// formControlPacket lays out the node's advertisement in the enumeration buffer and
// returns the total frame size (header plus data).
//
// The walk visits registry slots in order and assigns service numbers monotonically
// from zero to every advertised host-mode service. A service that already holds a
// number disagreeing with its rank has been renumbered while enumerated; that is a
// structural invariant violation and panics.
func (c *Control) formControlPacket() int {
	cs := c.cs
	buf := cs.enumerationData

	setQwordLE(buf, 0, cs.device.UDID)
	buf[8] = cs.device.Address
	buf[9] = cs.device.Flags
	for i := 10; i < ControlPacketHeaderSize; i++ {
		buf[i] = 0
	}

	size := 0

	// name change is only allowed when the device is re-enumerated; the name field is
	// written once at Enumerate and skipped over here. Its leading byte counts the
	// whole field.
	if cs.device.Flags&DeviceFlagHasName != 0 {
		size += int(buf[ControlPacketHeaderSize])
	}

	serviceNumber := byte(0)

	for _, svc := range c.services {
		if svc == nil || svc == cs.entry || svc.Mode == ClientService {
			continue
		}

		// the device has modified its service numbers whilst enumerated.
		if svc.serviceNumber != ServiceNumberUninitialised && svc.serviceNumber != serviceNumber {
			fatalf("service class %08x renumbered from %v to %v while enumerated", svc.Class, svc.serviceNumber, serviceNumber)
		}
		svc.serviceNumber = serviceNumber

		off := ControlPacketHeaderSize + size
		if off+ServiceInfoHeaderSize > MaxPacketSize {
			fatalf("advertisement overflows the %v byte control packet", MaxPacketSize)
		}

		buf[off] = svc.Flags
		setDwordLE(buf, off+1, svc.Class)

		advertisement := buf[off+ServiceInfoHeaderSize : MaxPacketSize]
		n := svc.handler().AddAdvertisementData(advertisement)
		if n < 0 || n > len(advertisement) || n > 255 {
			fatalf("service class %08x produced an advertisement of %v bytes", svc.Class, n)
		}
		buf[off+5] = byte(n)

		size += ServiceInfoHeaderSize + n
		serviceNumber++
	}

	if ControlPacketHeaderSize+size > MaxPacketSize {
		fatalf("control packet size %v exceeds %v", ControlPacketHeaderSize+size, MaxPacketSize)
	}

	return ControlPacketHeaderSize + size
}
