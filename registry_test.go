package jacdac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddServiceFillsSlotsInOrder(t *testing.T) {
	c, _ := newTestControl()
	defer c.Close()

	first, err := c.AddService(&Service{Class: 0x1111, Mode: HostService})
	require.NoError(t, err)
	second, err := c.AddService(&Service{Class: 0x2222, Mode: HostService})
	require.NoError(t, err)

	// slot zero belongs to the control service.
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Len(t, c.Services(), 2)
}

func TestAddServiceRegistryFull(t *testing.T) {
	c, _ := newTestControl()
	defer c.Close()

	for i := 0; i < ServiceArraySize-1; i++ {
		_, err := c.AddService(&Service{Class: uint32(i), Mode: HostService})
		require.NoError(t, err)
	}

	_, err := c.AddService(&Service{Class: 0x9999, Mode: HostService})
	require.Error(t, err)
	assert.Equal(t, uint8(StatusNoResources), err.(*Error).Code())
}

func TestAddServiceNil(t *testing.T) {
	c, _ := newTestControl()
	defer c.Close()

	_, err := c.AddService(nil)
	require.Error(t, err)
	assert.Equal(t, uint8(StatusInvalidParameter), err.(*Error).Code())
}

func TestRemoveServiceReusesSlot(t *testing.T) {
	c, _ := newTestControl()
	defer c.Close()

	slot, err := c.AddService(&Service{Class: 0x1111, Mode: HostService})
	require.NoError(t, err)
	_, err = c.AddService(&Service{Class: 0x2222, Mode: HostService})
	require.NoError(t, err)

	require.NoError(t, c.RemoveService(slot))

	reused, err := c.AddService(&Service{Class: 0x3333, Mode: HostService})
	require.NoError(t, err)
	assert.Equal(t, slot, reused, "registration lands in the first empty slot")
}

func TestRemoveServiceGuards(t *testing.T) {
	c, _ := newTestControl()
	defer c.Close()

	assert.Error(t, c.RemoveService(-1))
	assert.Error(t, c.RemoveService(ServiceArraySize))
	assert.Error(t, c.RemoveService(3), "empty slot")
	assert.Error(t, c.RemoveService(0), "the control service itself")
}

func TestRemoveBoundServiceDisconnectsIt(t *testing.T) {
	c, _ := newTestControl()
	defer c.Close()

	handler := newRecordingHandler()
	slot, err := c.AddService(&Service{Class: 0x1111, Mode: HostService, Handler: handler})
	require.NoError(t, err)

	require.NoError(t, c.Enumerate())
	c.step(4)
	require.Equal(t, 1, handler.connects)

	require.NoError(t, c.RemoveService(slot))
	assert.Equal(t, 1, handler.disconnects)
}
