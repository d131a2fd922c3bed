package hci

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nsriram/blehost/att"
)

// CommandParam is implemented by a typed HCI command's parameter
// struct; spec.md §4.1 calls these "command methods... each taking
// typed parameters". The adapter itself stays generic over Opcode +
// Marshal so embedders can define new command types without needing
// a corresponding method added to Adapter.
type CommandParam interface {
	Opcode() Opcode
	Marshal() []byte
}

// CommandCallback receives the status byte and the remaining return
// parameters of a command-complete (or command-status) event.
type CommandCallback func(status att.Error, r *att.Reader)

// queuedCommand is one entry in the adapter's single-file command
// queue. handle, when non-nil, ties the command to a connection
// handle so a disconnection can flush it per spec.md §4.1.
type queuedCommand struct {
	opcode  Opcode
	param   CommandParam
	handle  *uint16
	cb      CommandCallback
	ignored bool
}

// SendCommand enqueues p for transmission. At most one command is
// outstanding at the controller at a time; SendCommand never blocks
// waiting for a response — cb runs later, from the goroutine that
// delivers inbound transport data.
func (a *Adapter) SendCommand(p CommandParam, handle *uint16, cb CommandCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.cmdQueue = append(a.cmdQueue, &queuedCommand{opcode: p.Opcode(), param: p, handle: handle, cb: cb})
	a.dispatchNextCommandLocked()
}

// dispatchNextCommandLocked writes the next queued command to the
// transport if none is currently outstanding. Caller holds a.mu.
func (a *Adapter) dispatchNextCommandLocked() {
	if a.pending != nil || len(a.cmdQueue) == 0 || a.stopped {
		return
	}
	next := a.cmdQueue[0]
	a.cmdQueue = a.cmdQueue[1:]
	a.pending = next

	payload := next.param.Marshal()
	pkt := make([]byte, 0, 4+len(payload))
	pkt = append(pkt, byte(PktCommand))
	pkt = append(pkt, byte(next.opcode), byte(next.opcode>>8))
	pkt = append(pkt, uint8(len(payload)))
	pkt = append(pkt, payload...)

	a.log.WithFields(logrus.Fields{"opcode": fmt.Sprintf("0x%04X", uint16(next.opcode))}).Debug("hci: command ->")
	if err := a.transport.Write(pkt); err != nil {
		a.log.WithError(err).Error("hci: command write failed")
	}
}

// handleCommandComplete parses a Command_Complete event and, if its
// opcode matches the pending command, invokes its callback.
func (a *Adapter) handleCommandComplete(b []byte) {
	if len(b) < 3 {
		return
	}
	// num_hci_command_packets(1) || opcode(2, LE) || status(1) || return params...
	op := Opcode(binary.LittleEndian.Uint16(b[1:3]))
	rest := b[3:]
	var status att.Error = att.Success
	var ret []byte
	if len(rest) > 0 {
		status = att.Error(rest[0])
		ret = rest[1:]
	}
	a.completePending(op, status, ret)
}

// handleCommandStatus parses a Command_Status event.
func (a *Adapter) handleCommandStatus(b []byte) {
	if len(b) < 4 {
		return
	}
	// status(1) || num_hci_command_packets(1) || opcode(2, LE)
	status := att.Error(b[0])
	op := Opcode(binary.LittleEndian.Uint16(b[2:4]))
	a.completePending(op, status, nil)
}

func (a *Adapter) completePending(op Opcode, status att.Error, ret []byte) {
	a.mu.Lock()
	p := a.pending
	if p == nil || p.opcode != op {
		// Not our pending command: tolerate shared-controller noise,
		// per spec.md §4.1, and do not disturb the queue.
		a.mu.Unlock()
		return
	}
	a.pending = nil
	a.dispatchNextCommandLocked()
	a.mu.Unlock()

	if p.ignored || p.cb == nil {
		return
	}
	p.cb(status, att.NewReader(ret))
}

// handleHardwareError clears all command state and notifies the
// adapter-wide hardware-error handler. No further command progress
// is possible until the embedder issues a Reset.
func (a *Adapter) handleHardwareError(b []byte) {
	a.mu.Lock()
	a.pending = nil
	a.cmdQueue = nil
	handler := a.hwErrorHandler
	a.mu.Unlock()

	a.log.Error("hci: hardware error")
	if handler != nil {
		code := uint8(0)
		if len(b) > 0 {
			code = b[0]
		}
		handler(fmt.Errorf("hci: hardware error 0x%02X", code))
	}
}

// dropCommandsForHandle flushes queued commands tagged with handle
// and marks a same-tagged pending command's callback to be ignored,
// per spec.md §4.1's disconnection cancellation rule.
func (a *Adapter) dropCommandsForHandle(handle uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.cmdQueue[:0:0]
	for _, q := range a.cmdQueue {
		if q.handle != nil && *q.handle == handle {
			continue
		}
		kept = append(kept, q)
	}
	a.cmdQueue = kept
	if a.pending != nil && a.pending.handle != nil && *a.pending.handle == handle {
		a.pending.ignored = true
	}
}
