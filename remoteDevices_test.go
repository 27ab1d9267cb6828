package jacdac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteCP(address byte, udid uint64) *ControlPacket {
	return &ControlPacket{UDID: udid, Address: address}
}

func TestRemoteDeviceTableAddIsIdempotent(t *testing.T) {
	table := &remoteDeviceTable{}

	first := table.add(remoteCP(5, 0xAA), Baud1M)
	second := table.add(remoteCP(5, 0xAA), Baud500K)

	assert.Same(t, first, second)
	assert.Len(t, table.devices, 1)
	assert.Equal(t, Baud1M, first.Rate, "the existing record wins")
}

func TestRemoteDeviceTableFind(t *testing.T) {
	table := &remoteDeviceTable{}
	table.add(remoteCP(5, 0xAA), Baud1M)
	table.add(remoteCP(5, 0xBB), Baud1M)
	table.add(remoteCP(9, 0xCC), Baud1M)

	// same address, distinct udids: both live, first match wins on address alone.
	assert.Equal(t, uint64(0xAA), table.find(5).UDID)
	assert.Equal(t, uint64(0xBB), table.findExact(5, 0xBB).UDID)
	assert.Nil(t, table.find(77))
	assert.Nil(t, table.findExact(9, 0xAA))
}

func TestRemoteDeviceTableCopiesName(t *testing.T) {
	table := &remoteDeviceTable{}
	cp := &ControlPacket{UDID: 1, Address: 2, Flags: DeviceFlagHasName, Name: []byte("left")}

	dev := table.add(cp, Baud1M)
	cp.Name[0] = 'X'

	assert.Equal(t, "left", string(dev.Name))
}

func TestRemoteDeviceTableRemove(t *testing.T) {
	table := &remoteDeviceTable{}
	table.add(remoteCP(5, 0xAA), Baud1M)

	require.NoError(t, table.remove(5, 0xAA))
	assert.Empty(t, table.devices)

	err := table.remove(5, 0xAA)
	require.Error(t, err)
	assert.Equal(t, uint8(StatusInvalidParameter), err.(*Error).Code())
}

func TestRemoteDeviceTableSweep(t *testing.T) {
	table := &remoteDeviceTable{}
	stale := table.add(remoteCP(5, 0xAA), Baud1M)
	fresh := table.add(remoteCP(9, 0xBB), Baud1M)

	// three silent ticks are survivable.
	for i := 0; i < 3; i++ {
		assert.Empty(t, table.sweep())
	}

	// a record seen inside the hold-down restarts its clock and is never evicted.
	table.seen(fresh)

	evicted := table.sweep()
	require.Len(t, evicted, 1)
	assert.Same(t, stale, evicted[0])
	assert.Len(t, table.devices, 1)
	assert.Same(t, fresh, table.devices[0])
}
