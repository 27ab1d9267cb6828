package jacdac

/*
This file contains the routines for reading from and writing to control packet frames
*/

import "fmt"

// Control packet device flags, as carried on the wire.
const (
	// DeviceFlagProposing marks a device whose address is not yet confirmed.
	DeviceFlagProposing byte = 1 << 0
	// DeviceFlagReject instructs the addressed peer to abandon its proposed address.
	DeviceFlagReject byte = 1 << 1
	// DeviceFlagHasName marks a control packet whose data starts with a name field.
	DeviceFlagHasName byte = 1 << 2
)

// ServiceInformation is one service self-advertisement within a control packet.
type ServiceInformation struct {
	// Flags are service-specific flag bits.
	Flags byte
	// Class identifies the service type bus-wide.
	Class uint32
	// Advertisement is the service-specific advertisement payload.
	Advertisement []byte
}

// ControlPacket is the decoded form of a control service frame.
//
// On the wire the 16-byte header is {udid u64, address u8, flags u8, 6 reserved bytes}
// little-endian, followed by the data region: an optional name field and then the
// concatenated service advertisements. The name field's leading byte counts the whole
// field, length byte included, so a reader skips it by adding that byte to its cursor.
type ControlPacket struct {
	// UDID is the sender's 64-bit unique device identifier.
	UDID uint64
	// Address is the sender's bus address.
	Address byte
	// Flags are the sender's device flags.
	Flags byte
	// Name is the sender's device name, nil when the packet carries none.
	Name []byte
	// Services are the advertisements, in service-number order.
	Services []ServiceInformation
}

// dataBuilder is used to build outgoing frames we send onto the bus
type dataBuilder struct {
	data []byte
}

func (p *dataBuilder) payload() []byte {
	return p.data
}

func (p *dataBuilder) byte(b int) {
	p.data = append(p.data, bytePanic(b))
}

func (p *dataBuilder) bytes(s []byte) {
	p.data = append(p.data, s...)
}

func (p *dataBuilder) pad(count int) {
	p.data = append(p.data, make([]byte, count)...)
}

func (p *dataBuilder) dword(w uint32) {
	p.data = append(p.data, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
}

func (p *dataBuilder) qword(w uint64) {
	p.dword(uint32(w & 0xFFFFFFFF))
	p.dword(uint32(w >> 32))
}

type dataReader struct {
	cursor int
	data   []byte
}

func getReader(payload []byte) dataReader {
	return dataReader{0, payload}
}

func (p *dataReader) canRead(count int) error {
	over := p.cursor + count - len(p.data)
	if over > 0 {
		return fmt.Errorf("Unable to read %v bytes beyond end of data. Request %v bytes from %v in %v size slice", over, count, p.cursor, len(p.data))
	}
	return nil
}

func (p *dataReader) done() bool {
	return p.cursor >= len(p.data)
}

func (p *dataReader) byte() (byte, error) {
	if err := p.canRead(1); err != nil {
		return 0, err
	}
	b := p.data[p.cursor]
	p.cursor++
	return b, nil
}

func (p *dataReader) bytes(count int) ([]byte, error) {
	if err := p.canRead(count); err != nil {
		return nil, err
	}
	ret := p.data[p.cursor : p.cursor+count]
	p.cursor += count
	return ret, nil
}

func (p *dataReader) skip(count int) error {
	if err := p.canRead(count); err != nil {
		return err
	}
	p.cursor += count
	return nil
}

func (p *dataReader) dword() (uint32, error) {
	if err := p.canRead(4); err != nil {
		return 0, err
	}
	w := getDwordLE(p.data, p.cursor)
	p.cursor += 4
	return w, nil
}

func (p *dataReader) qword() (uint64, error) {
	if err := p.canRead(8); err != nil {
		return 0, err
	}
	w := getQwordLE(p.data, p.cursor)
	p.cursor += 8
	return w, nil
}

// marshalControlPacket serializes cp into wire form.
func marshalControlPacket(cp *ControlPacket) []byte {
	b := dataBuilder{data: make([]byte, 0, MaxPacketSize)}
	b.qword(cp.UDID)
	b.byte(int(cp.Address))
	b.byte(int(cp.Flags))
	b.pad(ControlPacketHeaderSize - 10)
	if cp.Flags&DeviceFlagHasName != 0 {
		b.byte(len(cp.Name) + 1)
		b.bytes(cp.Name)
	}
	for _, info := range cp.Services {
		b.byte(int(info.Flags))
		b.dword(info.Class)
		b.byte(len(info.Advertisement))
		b.bytes(info.Advertisement)
	}
	return b.payload()
}

// parseControlPacket decodes a control frame. A declared size that runs past the end
// of the frame is a malformed packet and aborts the parse.
func parseControlPacket(data []byte) (*ControlPacket, error) {
	r := getReader(data)
	cp := &ControlPacket{}
	var err error
	if cp.UDID, err = r.qword(); err != nil {
		return nil, err
	}
	if cp.Address, err = r.byte(); err != nil {
		return nil, err
	}
	if cp.Flags, err = r.byte(); err != nil {
		return nil, err
	}
	if err = r.skip(ControlPacketHeaderSize - 10); err != nil {
		return nil, err
	}
	if cp.Flags&DeviceFlagHasName != 0 {
		field, err := r.byte()
		if err != nil {
			return nil, err
		}
		if field < 1 {
			return nil, fmt.Errorf("name field length %v is below the minimum of 1", field)
		}
		if cp.Name, err = r.bytes(int(field) - 1); err != nil {
			return nil, err
		}
	}
	for !r.done() {
		info := ServiceInformation{}
		if info.Flags, err = r.byte(); err != nil {
			return nil, err
		}
		if info.Class, err = r.dword(); err != nil {
			return nil, err
		}
		size, err := r.byte()
		if err != nil {
			return nil, err
		}
		if info.Advertisement, err = r.bytes(int(size)); err != nil {
			return nil, err
		}
		cp.Services = append(cp.Services, info)
	}
	return cp, nil
}
