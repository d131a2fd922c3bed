package hci

import (
	"encoding/binary"
)

// Role is the local role of an ACL connection.
type Role uint8

const (
	RoleCentral    Role = 0
	RolePeripheral Role = 1
)

// outboundFragment is one entry in a connection's outbound L2CAP
// fragment queue, per spec.md §3's ACL connection data model.
type outboundFragment struct {
	isFirst  bool
	bytes    []byte
	sent     func()
	complete func()
}

// Connection is the per-handle ACL connection state the adapter
// tracks: role, disconnecting flag, inbound L2CAP reassembly, and the
// outbound fragment queue plus the parallel queue of complete
// callbacks for fragments already handed to the controller.
type Connection struct {
	Handle        uint16
	Role          Role
	disconnecting bool

	// OnData is invoked once per complete reassembled L2CAP PDU.
	OnData func(cid uint16, payload []byte)

	// inbound reassembly state.
	rxBuf        []byte
	rxL2CAPLen   int
	rxHaveLength bool

	// outbound state.
	txQueue        []*outboundFragment
	txInFlightAcks []func()

	// Pending per-operation callbacks, consumed (cleared) when their
	// matching event arrives, per spec.md §3's ACL connection model.
	ConnUpdateCB          func(status uint8)
	ReadRemoteFeaturesCB  func(status uint8, features [8]byte)
	ReadRemoteVersionCB   func(status uint8, version uint8, mfg uint16, subver uint16)
	EncryptionChangeCB    func(status uint8, enabled bool)
	PHYUpdateCB           func(status uint8, txPHY, rxPHY uint8)
}

// resetInbound clears reassembly state, discarding any partial PDU, per
// spec.md §4.1's "if prior state exists it is discarded" rule.
func (c *Connection) resetInbound(payload []byte) {
	c.rxBuf = append([]byte(nil), payload...)
	c.rxHaveLength = false
	c.rxL2CAPLen = 0
}

// feedFragment appends an inbound ACL fragment to the connection's
// reassembly buffer and emits a complete PDU via OnData once the
// L2CAP length header is satisfied. first is true for a PB=first
// fragment.
func (c *Connection) feedFragment(first bool, payload []byte) {
	if first {
		c.resetInbound(payload)
	} else {
		if c.rxBuf == nil {
			// Continuation with no first fragment: drop silently.
			return
		}
		c.rxBuf = append(c.rxBuf, payload...)
	}

	if len(c.rxBuf) < 4 {
		return
	}
	if !c.rxHaveLength {
		c.rxL2CAPLen = int(binary.LittleEndian.Uint16(c.rxBuf[0:2]))
		c.rxHaveLength = true
	}
	want := 4 + c.rxL2CAPLen
	switch {
	case len(c.rxBuf) == want:
		cid := binary.LittleEndian.Uint16(c.rxBuf[2:4])
		payload := c.rxBuf[4:want]
		c.rxBuf = nil
		c.rxHaveLength = false
		if c.OnData != nil {
			c.OnData(cid, payload)
		}
	case len(c.rxBuf) > want:
		// Over-length: drop the accumulated buffer silently.
		c.rxBuf = nil
		c.rxHaveLength = false
	}
}

// enqueueOutbound splits an L2CAP PDU (length(2) || cid(2) || payload)
// into aclMTU-sized fragments and appends them to the connection's
// outbound queue. Only the final fragment carries sent/complete,
// matching a single logical SendData call surfacing one pair of
// callbacks to the caller.
func (c *Connection) enqueueOutbound(pdu []byte, aclMTU int, onSent, onComplete func()) {
	first := true
	for off := 0; off < len(pdu); off += aclMTU {
		end := off + aclMTU
		if end > len(pdu) {
			end = len(pdu)
		}
		frag := &outboundFragment{isFirst: first, bytes: pdu[off:end]}
		if end == len(pdu) {
			frag.sent = onSent
			frag.complete = onComplete
		}
		c.txQueue = append(c.txQueue, frag)
		first = false
	}
	if len(pdu) == 0 {
		c.txQueue = append(c.txQueue, &outboundFragment{isFirst: true, bytes: nil, sent: onSent, complete: onComplete})
	}
}

// readyToDrain reports whether c has any outbound fragment ready
// to drain, and is eligible (not mid-disconnect) for random selection.
func (c *Connection) readyToDrain() bool {
	return !c.disconnecting && len(c.txQueue) > 0
}

// popOutbound removes and returns the head fragment.
func (c *Connection) popOutbound() *outboundFragment {
	f := c.txQueue[0]
	c.txQueue = c.txQueue[1:]
	return f
}

// buildACLPacket frames one ACL fragment: type(1) || handle-flags(2,LE) || length(2,LE) || payload.
func buildACLPacket(handle uint16, pb PacketBoundary, payload []byte) []byte {
	handleFlags := handle&0x0FFF | uint16(pb)<<12
	pkt := make([]byte, 5+len(payload))
	pkt[0] = byte(PktACLData)
	binary.LittleEndian.PutUint16(pkt[1:3], handleFlags)
	binary.LittleEndian.PutUint16(pkt[3:5], uint16(len(payload)))
	copy(pkt[5:], payload)
	return pkt
}

// buildL2CAPPDU frames an L2CAP SDU: length(2,LE) || cid(2,LE) || payload.
func buildL2CAPPDU(cid uint16, payload []byte) []byte {
	pdu := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(pdu[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(pdu[2:4], cid)
	copy(pdu[4:], payload)
	return pdu
}
