package hci

import "github.com/nsriram/blehost/att"

// simpleParam is a CommandParam with no payload, used for opcodes
// whose command takes no parameters (Reset, LE_Read_Buffer_Size).
type simpleParam Opcode

func (p simpleParam) Opcode() Opcode  { return Opcode(p) }
func (p simpleParam) Marshal() []byte { return nil }

type disconnectParam struct {
	handle uint16
	reason uint8
}

func (disconnectParam) Opcode() Opcode { return OpDisconnect }
func (p disconnectParam) Marshal() []byte {
	return []byte{byte(p.handle), byte(p.handle >> 8), p.reason}
}

type setEventMaskParam struct{ mask uint64 }

func (setEventMaskParam) Opcode() Opcode { return OpSetEventMask }
func (p setEventMaskParam) Marshal() []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(p.mask >> (8 * i))
	}
	return b
}

type leSetEventMaskParam struct{ mask uint64 }

func (leSetEventMaskParam) Opcode() Opcode { return OpLESetEventMask }
func (p leSetEventMaskParam) Marshal() []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(p.mask >> (8 * i))
	}
	return b
}

// Init issues the standard host-initialization command sequence:
// Reset, the event masks, and a buffer-size query that seeds the ACL
// credit pool (preferring the LE buffers when the controller reports
// separate ones), per spec.md §4.1.
func (a *Adapter) Init() {
	a.SendCommand(simpleParam(OpReset), nil, func(status att.Error, r *att.Reader) {
		a.SendCommand(setEventMaskParam{mask: 0x3dbff807fffbffff}, nil, nil)
		a.SendCommand(leSetEventMaskParam{mask: 0x000000000000001F}, nil, nil)
		a.SendCommand(simpleParam(OpLEReadBufferSize), nil, a.onLEReadBufferSize)
	})
}

func (a *Adapter) onLEReadBufferSize(status att.Error, r *att.Reader) {
	if status != att.Success || r == nil {
		return
	}
	mtu, err1 := r.Uint16()
	numBuf, err2 := r.Uint8()
	if err1 == nil && err2 == nil && mtu > 0 {
		a.setBufferSize(int(mtu), int(numBuf))
		return
	}
	// LE controller reports no separate LE buffers: fall back to
	// Read_Buffer_Size, per spec.md §4.1.
	a.SendCommand(simpleParam(OpReadBufferSize), nil, a.onReadBufferSize)
}

func (a *Adapter) onReadBufferSize(status att.Error, r *att.Reader) {
	if status != att.Success || r == nil {
		return
	}
	mtu, err1 := r.Uint16()
	_, err2 := r.Uint8() // total_num_sync_data_packets, unused.
	numBuf, err3 := r.Uint16()
	if err1 == nil && err2 == nil && err3 == nil {
		a.setBufferSize(int(mtu), int(numBuf))
	}
}

// Disconnect issues HCI Disconnect for handle with the given reason
// byte, per spec.md §4.1's public command surface.
func (a *Adapter) Disconnect(handle uint16, reason uint8, cb CommandCallback) {
	h := handle
	a.SendCommand(disconnectParam{handle: handle, reason: reason}, &h, cb)
}
