package jacdac

/*
This file contains the fixed-capacity service registry. Slot order is significant: the
k-th advertised host-mode slot (in increasing index order) receives service number k,
so registration order determines service numbering.
*/

// AddService registers a service into the first empty registry slot and returns its
// slot index. It fails with a no-resources error when every slot is taken.
//
// Register services before calling Enumerate. Registering a host-mode service while
// the node is enumerated inserts it into the advertisement walk, and if that would
// renumber an already-assigned service the next heartbeat fails with a fatal protocol
// panic.
func (c *Control) AddService(s *Service) (int, error) {
	if s == nil {
		return 0, InvalidParameterErrorF("cannot register a nil service")
	}
	index, err := 0, error(nil)
	if !c.do(func() { index, err = c.addService(s) }) {
		return 0, InvalidStateErrorF("control layer is closed")
	}
	return index, err
}

func (c *Control) addService(s *Service) (int, error) {
	for i := range c.services {
		if c.services[i] != nil {
			continue
		}
		s.serviceNumber = ServiceNumberUninitialised
		s.status = 0
		s.bound = nil
		s.remote = nil
		c.services[i] = s
		c.log.Debug().Int("slot", i).Uint32("class", s.Class).Stringer("mode", s.Mode).Msg("service registered")
		return i, nil
	}
	return 0, NoResourcesErrorF("service registry is full (%v slots)", ServiceArraySize)
}

// RemoveService clears a registry slot. The control service's own slot cannot be
// removed. A bound service is disconnected first.
func (c *Control) RemoveService(index int) error {
	var err error
	if !c.do(func() { err = c.removeService(index) }) {
		return InvalidStateErrorF("control layer is closed")
	}
	return err
}

func (c *Control) removeService(index int) error {
	if index < 0 || index >= ServiceArraySize {
		return InvalidParameterErrorF("service slot %v is out of range", index)
	}
	svc := c.services[index]
	if svc == nil {
		return InvalidParameterErrorF("service slot %v is empty", index)
	}
	if svc == c.cs.entry {
		return InvalidParameterErrorF("the control service cannot be removed")
	}
	if svc.initialised() {
		svc.disconnect()
	}
	c.services[index] = nil
	c.events.fire(Event{ID: EventIDControl, Value: EventChanged})
	return nil
}

// Services returns the current registry contents in slot order, with empty slots
// omitted. The control service's own entry is excluded.
func (c *Control) Services() []*Service {
	var out []*Service
	c.do(func() {
		for _, svc := range c.services {
			if svc == nil || svc == c.cs.entry {
				continue
			}
			out = append(out, svc)
		}
	})
	return out
}
