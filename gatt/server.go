package gatt

import (
	"encoding/binary"
	"time"

	"github.com/nsriram/blehost/att"
)

// Server dispatches inbound ATT request opcodes against a Db, per
// spec.md §4.2's server-side state machine.
type Server struct {
	db *Db
}

// NewServer constructs a Server bound to db.
func NewServer(db *Db) *Server { return &Server{db: db} }

// HandleRequest is the inbound PDU entry point for a connection
// acting as ATT server. It enforces the single-outstanding-request
// rule (isHandlingRequest) and dispatches by opcode, per spec.md
// §4.2.
func (s *Server) HandleRequest(conn *Conn, pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	op := att.Opcode(pdu[0])
	body := pdu[1:]

	// Commands (no response expected) bypass the request mutex: they
	// are fire-and-forget by definition.
	switch op {
	case att.OpWriteCmd:
		s.handleWrite(conn, body, false, false)
		return
	case att.OpSignedWriteCmd:
		// Accepted but unhandled, per spec.md §6.
		return
	case att.OpHandleValueCnf:
		s.OnConfirmation(conn)
		return
	}

	if !conn.beginServerRequest() {
		return // isHandlingRequest: drop, per spec.md §4.2.
	}
	respond := func(r []byte) {
		conn.endServerRequest()
		conn.sendPDU(r)
	}
	fail := func(status att.Error) {
		respond(att.ErrorResponse(op, 0, status))
	}

	switch op {
	case att.OpExchangeMTUReq:
		s.handleExchangeMTU(conn, body, respond)
	case att.OpFindInfoReq:
		s.handleFindInformation(conn, body, respond, fail)
	case att.OpFindByTypeValueReq:
		s.handleFindByTypeValue(conn, body, respond, fail)
	case att.OpReadByTypeReq:
		s.handleReadByType(conn, body, respond, fail)
	case att.OpReadReq:
		s.handleRead(conn, body, respond, fail)
	case att.OpReadBlobReq:
		s.handleReadBlob(conn, body, respond, fail)
	case att.OpReadMultiReq:
		s.handleReadMultiple(conn, body, respond, fail)
	case att.OpReadByGroupTypeReq:
		s.handleReadByGroupType(conn, body, respond, fail)
	case att.OpWriteReq:
		conn.endServerRequest()
		s.handleWrite(conn, body, true, true)
	case att.OpPrepareWriteReq:
		s.handlePrepareWrite(conn, body, respond, fail)
	case att.OpExecuteWriteReq:
		s.handleExecuteWrite(conn, body, respond, fail)
	default:
		conn.endServerRequest()
	}
}

func (s *Server) handleExchangeMTU(conn *Conn, body []byte, respond func([]byte)) {
	if len(body) < 2 {
		conn.endServerRequest()
		return
	}
	clientMTU := int(binary.LittleEndian.Uint16(body))
	if clientMTU < initialMTU {
		clientMTU = initialMTU
	}
	const serverMTU = maxMTU

	conn.mu.Lock()
	conn.mtuExchangeInFlight = true
	if !conn.mtuGrown {
		eff := clientMTU
		if serverMTU < eff {
			eff = serverMTU
		}
		if eff > conn.mtu {
			conn.mtu = eff
			conn.mtuGrown = true
		}
	}
	conn.mu.Unlock()

	resp := make([]byte, 3)
	resp[0] = byte(att.OpExchangeMTUResp)
	binary.LittleEndian.PutUint16(resp[1:], uint16(serverMTU))
	respond(resp)

	s.flushNotifyHolding(conn)
}

// flushNotifyHolding releases notifications queued while an MTU
// exchange was outstanding, in order, per spec.md §4.2/§5.
// Indications are not held during an MTU exchange, so none are
// released here.
func (s *Server) flushNotifyHolding(conn *Conn) {
	conn.mu.Lock()
	conn.mtuExchangeInFlight = false
	held := conn.notifyHolding
	conn.notifyHolding = nil
	conn.mu.Unlock()
	for _, pdu := range held {
		conn.sendPDU(pdu)
	}
}

func (s *Server) handleFindInformation(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 4 {
		fail(att.ErrInvalidPDU)
		return
	}
	start := binary.LittleEndian.Uint16(body[0:2])
	end := binary.LittleEndian.Uint16(body[2:4])
	if start == 0 || start > end {
		fail(att.ErrInvalidHandle)
		return
	}

	const fmt16 = 0x01
	const fmt128 = 0x02
	budget := conn.MTU() - 2
	format := 0
	out := []byte{byte(att.OpFindInfoResp)}

	for h := start; h <= end; h++ {
		a := s.db.attributeAt(h)
		if a == nil {
			continue
		}
		entryFmt := fmt16
		if a.uuid.Len() == 16 {
			entryFmt = fmt128
		}
		if format == 0 {
			format = entryFmt
			out = append(out, byte(format))
		} else if entryFmt != format {
			break
		}
		entrySize := 2 + a.uuid.Len()
		if len(out)-1+entrySize > budget {
			break
		}
		out = append(out, byte(h), byte(h>>8))
		out = append(out, a.uuid.Bytes()...)
		if h == 0xFFFF {
			break
		}
	}
	if format == 0 {
		fail(att.ErrAttributeNotFound)
		return
	}
	respond(out)
}

func (s *Server) handleFindByTypeValue(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 6 {
		fail(att.ErrInvalidPDU)
		return
	}
	start := binary.LittleEndian.Uint16(body[0:2])
	end := binary.LittleEndian.Uint16(body[2:4])
	wantType := binary.LittleEndian.Uint16(body[4:6])
	wantValue := body[6:]
	if start == 0 || start > end {
		fail(att.ErrInvalidHandle)
		return
	}

	limit := (conn.MTU() - 1) / 4
	out := []byte{byte(att.OpFindByTypeValResp)}
	n := 0
	for h := start; h <= end && n < limit; h++ {
		a := s.db.attributeAt(h)
		if a == nil {
			continue
		}
		short, ok := a.uuid.Short()
		if !ok || short != wantType {
			continue
		}
		if st := checkPermission(a.readPerm, conn, true); st != att.Success {
			continue
		}
		val := a.valueBytes()
		if a.cap.read != nil {
			val = a.cap.read(conn)
		}
		if string(val) != string(wantValue) {
			continue
		}
		endHandle := h
		if a.groupEnd != 0 {
			endHandle = a.groupEnd
		}
		out = append(out, byte(h), byte(h>>8), byte(endHandle), byte(endHandle>>8))
		n++
	}
	if n == 0 {
		fail(att.ErrAttributeNotFound)
		return
	}
	respond(out)
}

func (s *Server) handleReadByType(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	start, end, typ, ok := parseByTypeReq(body)
	if !ok {
		fail(att.ErrInvalidPDU)
		return
	}
	budget := conn.MTU() - 2
	valueLen := -1
	out := []byte{byte(att.OpReadByTypeResp), 0}
	var firstErr att.Error
	var firstErrHandle uint16

	for h := start; h <= end; h++ {
		a := s.db.attributeAt(h)
		if a == nil || !uuidShortEquals(a.uuid, typ) {
			continue
		}
		val, st := s.db.readAttribute(conn, a, 0, conn.MTU()-1)
		if st != att.Success {
			if firstErr == att.Success {
				firstErr, firstErrHandle = st, h
			}
			continue
		}
		if valueLen == -1 {
			valueLen = len(val)
		} else if len(val) != valueLen {
			break
		}
		entry := append([]byte{byte(h), byte(h >> 8)}, val...)
		if len(out)-2+len(entry) > budget {
			break
		}
		out = append(out, entry...)
		out[1] = byte(len(entry))
	}
	if valueLen == -1 {
		if firstErr != att.Success {
			respond(att.ErrorResponse(att.OpReadByTypeReq, firstErrHandle, firstErr))
			return
		}
		fail(att.ErrAttributeNotFound)
		return
	}
	respond(out)
}

func (s *Server) handleReadByGroupType(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	start, end, typ, ok := parseByTypeReq(body)
	if !ok {
		fail(att.ErrInvalidPDU)
		return
	}
	if typ != 0x2800 && typ != 0x2801 {
		fail(att.ErrUnsupportedGroupType)
		return
	}
	budget := conn.MTU() - 2
	valueLen := -1
	out := []byte{byte(att.OpReadByGroupResp), 0}

	for h := start; h <= end; h++ {
		a := s.db.attributeAt(h)
		if a == nil || !uuidShortEquals(a.uuid, typ) {
			continue
		}
		val := a.valueBytes()
		if valueLen == -1 {
			valueLen = len(val)
		} else if len(val) != valueLen {
			break
		}
		entry := make([]byte, 0, 4+len(val))
		entry = append(entry, byte(h), byte(h>>8), byte(a.groupEnd), byte(a.groupEnd>>8))
		entry = append(entry, val...)
		if len(out)-2+len(entry) > budget {
			break
		}
		out = append(out, entry...)
		out[1] = byte(len(entry))
	}
	if valueLen == -1 {
		fail(att.ErrAttributeNotFound)
		return
	}
	respond(out)
}

func parseByTypeReq(body []byte) (start, end uint16, typ uint16, ok bool) {
	if len(body) < 6 {
		return 0, 0, 0, false
	}
	start = binary.LittleEndian.Uint16(body[0:2])
	end = binary.LittleEndian.Uint16(body[2:4])
	typ = binary.LittleEndian.Uint16(body[4:6])
	if start == 0 || start > end {
		return 0, 0, 0, false
	}
	return start, end, typ, true
}

func uuidShortEquals(u interface{ Short() (uint16, bool) }, want uint16) bool {
	short, ok := u.Short()
	return ok && short == want
}

func (s *Server) handleRead(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 2 {
		fail(att.ErrInvalidPDU)
		return
	}
	h := binary.LittleEndian.Uint16(body)
	a := s.db.attributeAt(h)
	if a == nil {
		fail(att.ErrInvalidHandle)
		return
	}
	val, st := s.db.readAttribute(conn, a, 0, conn.MTU()-1)
	if st != att.Success {
		respond(att.ErrorResponse(att.OpReadReq, h, st))
		return
	}
	respond(append([]byte{byte(att.OpReadResp)}, val...))
}

func (s *Server) handleReadBlob(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 4 {
		fail(att.ErrInvalidPDU)
		return
	}
	h := binary.LittleEndian.Uint16(body[0:2])
	offset := int(binary.LittleEndian.Uint16(body[2:4]))
	a := s.db.attributeAt(h)
	if a == nil {
		fail(att.ErrInvalidHandle)
		return
	}
	val, st := s.db.readAttribute(conn, a, offset, conn.MTU()-1)
	if st != att.Success {
		respond(att.ErrorResponse(att.OpReadBlobReq, h, st))
		return
	}
	respond(append([]byte{byte(att.OpReadBlobResp)}, val...))
}

// errorClassRank orders ATT error classes for Read Multiple's
// priority rule, per spec.md §4.2: authorization > authentication >
// enc-key-size > encryption > read-not-permitted > other.
func errorClassRank(e att.Error) int {
	switch e {
	case att.ErrInsufficientAuthor:
		return 0
	case att.ErrInsufficientAuth:
		return 1
	case att.ErrInsufficientEncKeySize:
		return 2
	case att.ErrInsufficientEnc:
		return 3
	case att.ErrReadNotPermitted:
		return 4
	default:
		return 5
	}
}

func (s *Server) handleReadMultiple(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 4 || len(body)%2 != 0 {
		fail(att.ErrInvalidPDU)
		return
	}
	out := []byte{byte(att.OpReadMultiResp)}
	var worstErr att.Error
	var worstHandle uint16
	var worstRank = -1

	for i := 0; i < len(body); i += 2 {
		h := binary.LittleEndian.Uint16(body[i:])
		a := s.db.attributeAt(h)
		if a == nil {
			if worstRank < 0 || errorClassRank(att.ErrInvalidHandle) < worstRank {
				worstRank, worstErr, worstHandle = errorClassRank(att.ErrInvalidHandle), att.ErrInvalidHandle, h
			}
			continue
		}
		val, st := s.db.readAttribute(conn, a, 0, conn.MTU()-1)
		if st != att.Success {
			rank := errorClassRank(st)
			if worstRank < 0 || rank < worstRank {
				worstRank, worstErr, worstHandle = rank, st, h
			}
			continue
		}
		out = append(out, val...)
	}
	if worstRank >= 0 {
		respond(att.ErrorResponse(att.OpReadMultiReq, worstHandle, worstErr))
		return
	}
	respond(out)
}

func (s *Server) handleWrite(conn *Conn, body []byte, needsResponse, endRequestFirst bool) {
	if len(body) < 2 {
		if needsResponse {
			conn.sendPDU(att.ErrorResponse(att.OpWriteReq, 0, att.ErrInvalidPDU))
		}
		return
	}
	h := binary.LittleEndian.Uint16(body[0:2])
	data := body[2:]
	a := s.db.attributeAt(h)
	if a == nil {
		if needsResponse {
			conn.sendPDU(att.ErrorResponse(att.OpWriteReq, h, att.ErrInvalidHandle))
		}
		return
	}
	st := s.db.writeAttribute(conn, a, 0, data, needsResponse)
	if !needsResponse {
		return
	}
	if st != att.Success {
		conn.sendPDU(att.ErrorResponse(att.OpWriteReq, h, st))
		return
	}
	conn.sendPDU([]byte{byte(att.OpWriteResp)})
}

func (s *Server) handlePrepareWrite(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 4 {
		fail(att.ErrInvalidPDU)
		return
	}
	h := binary.LittleEndian.Uint16(body[0:2])
	offset := int(binary.LittleEndian.Uint16(body[2:4]))
	value := body[4:]

	a := s.db.attributeAt(h)
	if a == nil {
		fail(att.ErrInvalidHandle)
		return
	}
	if st := checkPermission(a.writePerm, conn, false); st != att.Success {
		fail(st)
		return
	}
	if a.writePerm == Custom && a.cap.authorizeWrite != nil {
		if st := a.cap.authorizeWrite(conn, value); st != att.Success {
			fail(st)
			return
		}
	}

	conn.mu.Lock()
	n := len(conn.prepareQueue)
	if n > 0 {
		tail := &conn.prepareQueue[n-1]
		if tail.attrHandle == h && tail.offset+len(tail.value) == offset {
			tail.value = append(tail.value, value...)
			conn.mu.Unlock()
			respond(echoPrepareWrite(h, offset, value))
			return
		}
	}
	if n >= prepareQueueCap {
		conn.mu.Unlock()
		fail(att.ErrPrepareQueueFull)
		return
	}
	conn.prepareQueue = append(conn.prepareQueue, prepareEntry{attrHandle: h, offset: offset, value: append([]byte(nil), value...)})
	conn.mu.Unlock()

	respond(echoPrepareWrite(h, offset, value))
}

func echoPrepareWrite(h uint16, offset int, value []byte) []byte {
	out := []byte{byte(att.OpPrepareWriteResp), byte(h), byte(h >> 8), byte(offset), byte(offset >> 8)}
	return append(out, value...)
}

func (s *Server) handleExecuteWrite(conn *Conn, body []byte, respond func([]byte), fail func(att.Error)) {
	if len(body) < 1 {
		fail(att.ErrInvalidPDU)
		return
	}
	flag := body[0]

	conn.mu.Lock()
	queue := conn.prepareQueue
	conn.prepareQueue = nil
	conn.mu.Unlock()

	if flag == 0 || len(queue) == 0 {
		respond([]byte{byte(att.OpExecuteWriteResp)})
		return
	}

	for _, e := range queue {
		a := s.db.attributeAt(e.attrHandle)
		if a == nil {
			fail(att.ErrInvalidHandle)
			return
		}
		if a.maxLen > 0 && e.offset+len(e.value) > a.maxLen {
			fail(att.ErrInvalidOffset)
			return
		}
	}
	for _, e := range queue {
		a := s.db.attributeAt(e.attrHandle)
		if st := s.db.writeAttribute(conn, a, e.offset, e.value, true); st != att.Success {
			fail(st)
			return
		}
	}
	respond([]byte{byte(att.OpExecuteWriteResp)})
}

// Notify sends a notification for ch's current value to conn,
// honoring the MTU-exchange holding-queue ordering rule, per
// spec.md §4.2/§9: sentCallback-equivalent semantics are the caller's
// responsibility (this call is synchronous with the transport write).
func (s *Server) Notify(conn *Conn, ch *Characteristic, value []byte) {
	pdu := append([]byte{byte(att.OpHandleValueNotify), byte(ch.valueHandle), byte(ch.valueHandle >> 8)}, value...)
	conn.mu.Lock()
	if conn.mtuExchangeInFlight {
		conn.notifyHolding = append(conn.notifyHolding, pdu)
		conn.mu.Unlock()
		return
	}
	conn.mu.Unlock()
	conn.sendPDU(pdu)
}

// Indicate queues an indication for ch, draining the connection's
// single-outstanding-indication slot with its own 30s timeout, per
// spec.md §3/§4.2.
func (s *Server) Indicate(conn *Conn, ch *Characteristic, value []byte, done func(ok bool)) {
	pdu := append([]byte{byte(att.OpHandleValueInd), byte(ch.valueHandle), byte(ch.valueHandle >> 8)}, value...)
	op := &indicateOp{pdu: pdu, done: done}

	conn.mu.Lock()
	conn.indicateQueue = append(conn.indicateQueue, op)
	s.dispatchNextIndicateLocked(conn)
	conn.mu.Unlock()
}

func (s *Server) dispatchNextIndicateLocked(conn *Conn) {
	if conn.indicatePending != nil || len(conn.indicateQueue) == 0 {
		return
	}
	op := conn.indicateQueue[0]
	conn.indicateQueue = conn.indicateQueue[1:]
	conn.indicatePending = op
	conn.confirmPending = true
	op.timer = time.AfterFunc(attTimeout, func() { s.onIndicateTimeout(conn, op) })
	conn.sendPDU(op.pdu)
}

func (s *Server) onIndicateTimeout(conn *Conn, op *indicateOp) {
	conn.mu.Lock()
	if conn.indicatePending != op {
		conn.mu.Unlock()
		return
	}
	conn.indicatePending = nil
	conn.confirmPending = false
	s.dispatchNextIndicateLocked(conn)
	conn.mu.Unlock()
	op.done(false)
}

// OnConfirmation completes the in-flight indication when the client's
// Handle Value Confirmation PDU arrives.
func (s *Server) OnConfirmation(conn *Conn) {
	conn.mu.Lock()
	op := conn.indicatePending
	if op != nil && op.timer != nil {
		op.timer.Stop()
	}
	conn.indicatePending = nil
	conn.confirmPending = false
	s.dispatchNextIndicateLocked(conn)
	conn.mu.Unlock()
	if op != nil && op.done != nil {
		op.done(true)
	}
}
