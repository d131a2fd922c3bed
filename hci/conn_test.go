package hci

import "testing"

func TestFeedFragmentOverLengthDropsBuffer(t *testing.T) {
	c := &Connection{}
	var fired bool
	c.OnData = func(cid uint16, b []byte) { fired = true }

	pdu := buildL2CAPPDU(0x0004, []byte("hello"))
	pdu = append(pdu, 0xFF, 0xFF, 0xFF) // trailing garbage past the declared length
	c.feedFragment(true, pdu)

	if fired {
		t.Fatal("an over-length reassembly must not deliver a PDU")
	}
	if c.rxBuf != nil || c.rxHaveLength {
		t.Fatal("an over-length reassembly must reset the buffer, not just skip delivery")
	}
}

func TestFeedFragmentExactLengthDelivers(t *testing.T) {
	c := &Connection{}
	var gotCID uint16
	var gotPayload []byte
	c.OnData = func(cid uint16, b []byte) { gotCID, gotPayload = cid, b }

	pdu := buildL2CAPPDU(0x0006, []byte("exact"))
	c.feedFragment(true, pdu)

	if gotCID != 0x0006 || string(gotPayload) != "exact" {
		t.Fatalf("got (%v,%q); want (0x0006,exact)", gotCID, gotPayload)
	}
	if c.rxBuf != nil {
		t.Fatal("reassembly buffer must be cleared after delivery")
	}
}

func TestFirstFragmentDiscardsPriorPartialState(t *testing.T) {
	c := &Connection{}
	c.feedFragment(true, []byte{9, 0, 4, 0, 'a'}) // partial: declares length 9, only 1 payload byte so far

	pdu := buildL2CAPPDU(0x0004, []byte("fresh"))
	var got []byte
	c.OnData = func(cid uint16, b []byte) { got = b }
	c.feedFragment(true, pdu)

	if string(got) != "fresh" {
		t.Fatalf("got = %q; want fresh (a new first fragment must discard the stale partial buffer)", got)
	}
}

func TestEnqueueOutboundSplitsAtMTUAndTagsOnlyLastFragment(t *testing.T) {
	c := &Connection{}
	pdu := make([]byte, 25)
	for i := range pdu {
		pdu[i] = byte(i)
	}

	var sentCalls, completeCalls int
	c.enqueueOutbound(pdu, 10, func() { sentCalls++ }, func() { completeCalls++ })

	if len(c.txQueue) != 3 {
		t.Fatalf("len(txQueue) = %d; want 3 (25 bytes / 10-byte MTU)", len(c.txQueue))
	}
	if !c.txQueue[0].isFirst || c.txQueue[1].isFirst || c.txQueue[2].isFirst {
		t.Fatal("only the first fragment should carry isFirst=true")
	}
	if c.txQueue[0].sent != nil || c.txQueue[1].sent != nil {
		t.Fatal("only the last fragment should carry the sent/complete callbacks")
	}
	if c.txQueue[2].sent == nil || c.txQueue[2].complete == nil {
		t.Fatal("the last fragment must carry the caller's sent/complete callbacks")
	}
}

func TestEnqueueOutboundEmptyPDUStillQueuesOneFragment(t *testing.T) {
	c := &Connection{}
	var completed bool
	c.enqueueOutbound(nil, 10, nil, func() { completed = true })

	if len(c.txQueue) != 1 {
		t.Fatalf("len(txQueue) = %d; want 1 for a zero-length PDU", len(c.txQueue))
	}
	f := c.popOutbound()
	if f.complete == nil {
		t.Fatal("the sole fragment of an empty PDU must still carry the complete callback")
	}
	f.complete()
	if !completed {
		t.Fatal("complete callback did not fire")
	}
}

func TestReadyToDrainRespectsDisconnecting(t *testing.T) {
	c := &Connection{}
	c.enqueueOutbound([]byte("x"), 10, nil, nil)
	if !c.readyToDrain() {
		t.Fatal("expected readyToDrain() = true with a queued fragment")
	}
	c.disconnecting = true
	if c.readyToDrain() {
		t.Fatal("a disconnecting connection must not be eligible to drain")
	}
}

func TestBuildACLPacketFraming(t *testing.T) {
	pkt := buildACLPacket(0x0A1, PBFirst, []byte{1, 2, 3})
	if pkt[0] != byte(PktACLData) {
		t.Fatalf("pkt[0] = %#x; want PktACLData", pkt[0])
	}
	handleFlags := uint16(pkt[1]) | uint16(pkt[2])<<8
	if handleFlags&0x0FFF != 0x0A1 {
		t.Fatalf("handle bits = %#x; want 0x0A1", handleFlags&0x0FFF)
	}
	if (handleFlags>>12)&0x3 != uint16(PBFirst) {
		t.Fatalf("PB bits = %#x; want PBFirst", (handleFlags>>12)&0x3)
	}
	length := uint16(pkt[3]) | uint16(pkt[4])<<8
	if length != 3 {
		t.Fatalf("length = %d; want 3", length)
	}
}

func TestBuildL2CAPPDUFraming(t *testing.T) {
	pdu := buildL2CAPPDU(0x0004, []byte("ab"))
	length := uint16(pdu[0]) | uint16(pdu[1])<<8
	cid := uint16(pdu[2]) | uint16(pdu[3])<<8
	if length != 2 || cid != 0x0004 || string(pdu[4:]) != "ab" {
		t.Fatalf("pdu = %v", pdu)
	}
}
