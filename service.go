package jacdac

/*
This file contains the service entry registered with a control layer, and the
capability set a service implements to take part in routing.
*/

// ServiceMode selects how a service takes part in bus routing.
type ServiceMode int

const (
	// ClientService binds to a matching host advertised by a remote device.
	ClientService ServiceMode = iota
	// HostService is advertised on the bus and addressed by remote clients.
	HostService
	// BroadcastHostService is advertised like a host but receives every matching
	// advertisement on the bus regardless of sender.
	BroadcastHostService
)

func (m ServiceMode) String() string {
	switch m {
	case ClientService:
		return "client"
	case HostService:
		return "host"
	case BroadcastHostService:
		return "broadcast"
	}
	return "unknown"
}

const serviceStatusInitialised byte = 1 << 0

/*
ServiceHandler is the capability set the control layer calls into.

AddAdvertisementData fills dst with the service's advertisement payload and returns
the number of bytes written, at most len(dst) and at most 255.

HandleServiceInformation is offered a matching advertisement record; a nil return
consumes the record and stops routing for it, any error leaves it for later registry
slots. remote is nil when the record came from the node itself.

HostConnected and HostDisconnected bracket the service's binding to a device: the
local device for host-mode services, the adopted remote for clients. All four run on
the control layer's loop goroutine and must not block.
*/
type ServiceHandler interface {
	AddAdvertisementData(dst []byte) int
	HandleServiceInformation(remote *RemoteDevice, info *ServiceInformation) error
	HostConnected()
	HostDisconnected()
}

// NopHandler implements ServiceHandler with do-nothing methods, for embedding by
// handlers that only care about a subset of the callbacks.
type NopHandler struct{}

// AddAdvertisementData writes nothing.
func (NopHandler) AddAdvertisementData(dst []byte) int { return 0 }

// HandleServiceInformation consumes the record without acting on it.
func (NopHandler) HandleServiceInformation(remote *RemoteDevice, info *ServiceInformation) error {
	return nil
}

// HostConnected does nothing.
func (NopHandler) HostConnected() {}

// HostDisconnected does nothing.
func (NopHandler) HostDisconnected() {}

// RequiredDevice pins a client service to a specific peer. A zero UDID matches any
// device; a non-empty Name additionally requires the peer to advertise that name.
type RequiredDevice struct {
	UDID uint64
	Name string
}

/*
Service is one registry entry. The application owns the Service value and fills the
exported fields before registration; the control layer owns the binding state.

A host-mode service receives its service number when the node's advertisement is
formed, and keeps it for as long as the node stays enumerated. A client service
receives the service number of the remote slot it adopted.
*/
type Service struct {
	// Class identifies the service type bus-wide.
	Class uint32
	// Flags are advertised verbatim in the service information record.
	Flags byte
	// Mode selects host, client or broadcast-host routing.
	Mode ServiceMode
	// Handler is the capability set; nil is treated as NopHandler.
	Handler ServiceHandler
	// Required optionally pins a client service to a specific peer.
	Required *RequiredDevice

	serviceNumber byte
	status        byte
	bound         *Device
	remote        *RemoteDevice
}

// ServiceNumber returns the service's assigned number, or false while unassigned.
func (s *Service) ServiceNumber() (byte, bool) {
	return s.serviceNumber, s.serviceNumber != ServiceNumberUninitialised
}

// BoundDevice returns the device the service is bound to: the local device for
// host-mode services once enumerated, the adopted remote for clients. nil while
// unbound.
func (s *Service) BoundDevice() *Device {
	return s.bound
}

// Remote returns the adopted remote device of a bound client service, nil otherwise.
func (s *Service) Remote() *RemoteDevice {
	return s.remote
}

func (s *Service) initialised() bool {
	return s.status&serviceStatusInitialised != 0
}

func (s *Service) handler() ServiceHandler {
	if s.Handler == nil {
		return NopHandler{}
	}
	return s.Handler
}

func (s *Service) connect(dev *Device, remote *RemoteDevice) {
	s.bound = dev
	s.remote = remote
	s.status |= serviceStatusInitialised
	s.handler().HostConnected()
}

func (s *Service) disconnect() {
	s.bound = nil
	s.remote = nil
	s.serviceNumber = ServiceNumberUninitialised
	s.status &^= serviceStatusInitialised
	s.handler().HostDisconnected()
}

// controlHandler is the capability set of the control service's own registry entry.
// Control-class records offered to it are absorbed.
type controlHandler struct{ NopHandler }
