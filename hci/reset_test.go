package hci

import (
	"testing"

	"github.com/nsriram/blehost/att"
)

// opcodeOf decodes the opcode out of a raw HCI command packet written
// to the transport: pkt[0] is PktCommand, pkt[1:3] is the opcode LE.
func opcodeOf(pkt []byte) Opcode { return Opcode(uint16(pkt[1]) | uint16(pkt[2])<<8) }

func TestInitSequenceUsesLEBuffersWhenReported(t *testing.T) {
	tr := &fakeTransport{}
	a := NewAdapter(tr)
	a.Init()

	// Reset -> complete.
	tr.Deliver(commandCompleteEvent(OpReset, 0))
	// Event masks dispatch with nil callbacks; drain them.
	tr.Deliver(commandCompleteEvent(OpSetEventMask, 0))
	tr.Deliver(commandCompleteEvent(OpLESetEventMask, 0))

	if opcodeOf(tr.Sent[len(tr.Sent)-1]) != OpLEReadBufferSize {
		t.Fatalf("expected LE_Read_Buffer_Size queued after the event masks, got opcode %#x", opcodeOf(tr.Sent[len(tr.Sent)-1]))
	}

	// LE_Read_Buffer_Size reports nonzero MTU: no fallback expected.
	tr.Deliver(commandCompleteEvent(OpLEReadBufferSize, 0, 27, 0, 4))
	if a.maxBuffers != 4 {
		t.Fatalf("maxBuffers = %d; want 4 from LE_Read_Buffer_Size", a.maxBuffers)
	}
	for _, pkt := range tr.Sent {
		if opcodeOf(pkt) == OpReadBufferSize {
			t.Fatal("must not fall back to Read_Buffer_Size when the LE variant reports nonzero MTU")
		}
	}
}

func TestInitSequenceFallsBackWhenLEMTUIsZero(t *testing.T) {
	tr := &fakeTransport{}
	a := NewAdapter(tr)
	a.Init()

	tr.Deliver(commandCompleteEvent(OpReset, 0))
	tr.Deliver(commandCompleteEvent(OpSetEventMask, 0))
	tr.Deliver(commandCompleteEvent(OpLESetEventMask, 0))
	tr.Deliver(commandCompleteEvent(OpLEReadBufferSize, 0, 0, 0, 0)) // MTU = 0

	if opcodeOf(tr.Sent[len(tr.Sent)-1]) != OpReadBufferSize {
		t.Fatalf("expected fallback to Read_Buffer_Size, got opcode %#x", opcodeOf(tr.Sent[len(tr.Sent)-1]))
	}

	tr.Deliver(commandCompleteEvent(OpReadBufferSize, 0, 100, 0, 0, 8, 0))
	if a.maxBuffers != 8 {
		t.Fatalf("maxBuffers = %d; want 8 from the Read_Buffer_Size fallback", a.maxBuffers)
	}
}

func TestDisconnectTagsCommandWithHandle(t *testing.T) {
	tr := &fakeTransport{}
	a := NewAdapter(tr)
	a.AddConnection(4, RoleCentral, nil)

	var fired bool
	a.Disconnect(4, 0x13, func(status att.Error, r *att.Reader) { fired = true })

	if opcodeOf(tr.Sent[0]) != OpDisconnect {
		t.Fatalf("opcode = %#x; want OpDisconnect", opcodeOf(tr.Sent[0]))
	}

	// The Disconnection Complete event for the same handle arrives
	// before the command completes, per the controller's usual
	// ordering: the command's own callback must be suppressed.
	disc := []byte{byte(PktEvent), byte(EvtDisconnectionComplete), 4, 0, byte(4), 0, 0x13}
	tr.Deliver(disc)
	tr.Deliver(commandCompleteEvent(OpDisconnect, 0))
	if fired {
		t.Fatal("Disconnect's own callback must be suppressed once its handle has disconnected")
	}
	if _, ok := a.conns[4]; ok {
		t.Fatal("expected connection 4 to be removed")
	}
}
