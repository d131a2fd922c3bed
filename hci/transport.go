package hci

// Transport is the opaque duplex byte channel to the HCI controller
// that spec.md §6 places out of this module's scope. Each delivery
// through the handler registered via SetOnData must be exactly one
// complete HCI packet (command, event, or ACL data); the Adapter does
// not attempt to resynchronize a framing-broken stream.
type Transport interface {
	// Write sends one complete HCI packet to the controller.
	Write(b []byte) error

	// SetOnData registers the callback invoked once per inbound HCI
	// packet. Implementations call it from whatever goroutine reads
	// the underlying channel; the Adapter itself is not reentrant
	// across this callback, so most transports serialize calls to it.
	SetOnData(func(b []byte))
}
