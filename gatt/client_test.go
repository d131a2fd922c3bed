package gatt

import (
	"testing"

	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/uuid"
)

func newClientTestConn() (*Conn, *[][]byte) {
	var sent [][]byte
	c := NewConn(1, 0, nil, func(pdu []byte) { sent = append(sent, pdu) })
	return c, &sent
}

func TestExchangeMTUNegotiatesMinimum(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	var gotMTU int
	var gotErr error
	cl.ExchangeMTU(185, func(serverMTU int, err error) { gotMTU, gotErr = serverMTU, err })

	if len(*sent) != 1 || att.Opcode((*sent)[0][0]) != att.OpExchangeMTUReq {
		t.Fatalf("expected an Exchange MTU Request, got %v", *sent)
	}

	resp := []byte{byte(att.OpExchangeMTUResp), 100, 0} // server MTU 100
	conn.deliverResponse(att.OpExchangeMTUResp, resp)

	if gotErr != nil || gotMTU != 100 {
		t.Fatalf("got (%v,%v); want (100,nil)", gotMTU, gotErr)
	}
	if conn.MTU() != 100 {
		t.Fatalf("conn.MTU() = %d; want 100 (min of 185 and 100)", conn.MTU())
	}
}

func TestExchangeMTUClampsRequestToInitialFloor(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)
	cl.ExchangeMTU(10, func(serverMTU int, err error) {})

	got := int((*sent)[0][1]) | int((*sent)[0][2])<<8
	if got != initialMTU {
		t.Fatalf("requested MTU = %d; want the initialMTU floor %d", got, initialMTU)
	}
}

func TestDiscoverAllPrimaryServicesParsesAndCaches(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	var got []*RemoteService
	cl.DiscoverAllPrimaryServices(func(svcs []*RemoteService, err error) { got = svcs })

	if len(*sent) != 1 || att.Opcode((*sent)[0][0]) != att.OpReadByGroupTypeReq {
		t.Fatalf("expected a Read By Group Type Request, got %v", *sent)
	}

	resp := []byte{byte(att.OpReadByGroupResp), 6, 0x01, 0x00, 0x05, 0x00, 0x34, 0x12}
	conn.deliverResponse(att.OpReadByGroupResp, resp)

	if len(got) != 1 {
		t.Fatalf("len(got) = %d; want 1", len(got))
	}
	if got[0].StartHandle != 1 || got[0].EndHandle != 5 {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if !got[0].UUID.Equal(uuid.UUID16(0x1234)) {
		t.Fatalf("got[0].UUID = %v; want 0x1234", got[0].UUID)
	}
	if !cl.cache.hasAllPrimaryServices {
		t.Fatal("discovering the full 0x0001-0xFFFF range must set hasAllPrimaryServices")
	}
}

func TestDiscoverAllPrimaryServicesSkipsAlreadyCachedRanges(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	cl.DiscoverAllPrimaryServices(func([]*RemoteService, error) {})
	resp := []byte{byte(att.OpReadByGroupResp), 6, 0x01, 0x00, 0xFF, 0xFF, 0x34, 0x12}
	conn.deliverResponse(att.OpReadByGroupResp, resp)
	if !cl.cache.hasAllPrimaryServices {
		t.Fatal("expected hasAllPrimaryServices after covering the whole range")
	}

	*sent = nil
	var called bool
	cl.DiscoverAllPrimaryServices(func([]*RemoteService, error) { called = true })
	if len(*sent) != 0 {
		t.Fatalf("a fully-covered cache must not re-query the peer, got %v", *sent)
	}
	if !called {
		t.Fatal("callback must still fire (with the cached result) once undecided ranges are empty")
	}
}

func TestReadChainsReadBlobUntilShortResponse(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)
	conn.mu.Lock()
	conn.mtu = 10 // force multiple reads: first chunk is exactly mtu-1=9 bytes
	conn.mu.Unlock()

	var gotVal []byte
	var gotErr error
	cl.Read(0x0010, func(v []byte, err error) { gotVal, gotErr = v, err })

	if att.Opcode((*sent)[0][0]) != att.OpReadReq {
		t.Fatalf("first PDU = %v; want OpReadReq", (*sent)[0])
	}
	firstChunk := []byte{byte(att.OpReadResp)}
	firstChunk = append(firstChunk, []byte("123456789")...) // 9 bytes == mtu-1
	conn.deliverResponse(att.OpReadResp, firstChunk)

	if len(*sent) != 2 || att.Opcode((*sent)[1][0]) != att.OpReadBlobReq {
		t.Fatalf("expected a chained Read Blob Request, got %v", *sent)
	}
	secondChunk := []byte{byte(att.OpReadBlobResp)}
	secondChunk = append(secondChunk, []byte("ab")...) // short: ends the chain
	conn.deliverResponse(att.OpReadBlobResp, secondChunk)

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if string(gotVal) != "123456789ab" {
		t.Fatalf("gotVal = %q; want 123456789ab", gotVal)
	}
}

func TestReadPropagatesServerError(t *testing.T) {
	conn, _ := newClientTestConn()
	cl := NewClient(conn, nil)

	var gotErr error
	cl.Read(0x0010, func(v []byte, err error) { gotErr = err })
	errResp := att.ErrorResponse(att.OpReadReq, 0x0010, att.ErrInvalidHandle)
	conn.deliverResponse(att.OpReadResp, errResp)

	if att.Code(gotErr) != att.ErrInvalidHandle {
		t.Fatalf("Code(gotErr) = %v; want ErrInvalidHandle", att.Code(gotErr))
	}
}

func TestReadByUUIDReturnsFirstMatch(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	var gotVal []byte
	cl.ReadByUUID(1, 0xFFFF, uuid.UUID16(0x2A00), func(v []byte, err error) { gotVal = v })
	if att.Opcode((*sent)[0][0]) != att.OpReadByTypeReq {
		t.Fatalf("expected a Read By Type Request, got %v", *sent)
	}

	resp := []byte{byte(att.OpReadByTypeResp), 5, 0x01, 0x00, 'h', 'i', 0x00}
	conn.deliverResponse(att.OpReadByTypeResp, resp)

	if string(gotVal) != "hi\x00" {
		t.Fatalf("gotVal = %q; want hi\\x00", gotVal)
	}
}

func TestReadByUUIDRejects128BitType(t *testing.T) {
	conn, _ := newClientTestConn()
	cl := NewClient(conn, nil)

	var gotErr error
	full := uuid.MustParse("09fc95c0-c111-11e3-9904-0002a5d5c51b")
	cl.ReadByUUID(1, 0xFFFF, full, func(v []byte, err error) { gotErr = err })
	if gotErr == nil {
		t.Fatal("ReadByUUID with a 128-bit type must report an error")
	}
}

func TestWriteShortUsesWriteRequest(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	var gotErr error
	cl.Write(0x0010, []byte("hi"), func(err error) { gotErr = err })
	if att.Opcode((*sent)[0][0]) != att.OpWriteReq {
		t.Fatalf("expected OpWriteReq, got %v", *sent)
	}
	conn.deliverResponse(att.OpWriteResp, []byte{byte(att.OpWriteResp)})
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
}

func TestWriteLongChunksPrepareThenExecutes(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)
	conn.mu.Lock()
	conn.mtu = 10 // chunkSize = mtu-5 = 5
	conn.mu.Unlock()

	payload := []byte("0123456789") // 10 bytes -> 2 prepare chunks of 5
	var gotErr error
	cl.Write(0x0020, payload, func(err error) { gotErr = err })

	if att.Opcode((*sent)[0][0]) != att.OpPrepareWriteReq {
		t.Fatalf("expected first PDU to be a Prepare Write Request, got %v", (*sent)[0])
	}
	echo1 := append([]byte{byte(att.OpPrepareWriteResp), 0x20, 0x00, 0, 0}, []byte("01234")...)
	conn.deliverResponse(att.OpPrepareWriteResp, echo1)

	if len(*sent) != 2 || att.Opcode((*sent)[1][0]) != att.OpPrepareWriteReq {
		t.Fatalf("expected second Prepare Write Request, got %v", *sent)
	}
	echo2 := append([]byte{byte(att.OpPrepareWriteResp), 0x20, 0x00, 5, 0}, []byte("56789")...)
	conn.deliverResponse(att.OpPrepareWriteResp, echo2)

	if len(*sent) != 3 || att.Opcode((*sent)[2][0]) != att.OpExecuteWriteReq {
		t.Fatalf("expected an Execute Write Request to commit, got %v", *sent)
	}
	if (*sent)[2][1] != 1 {
		t.Fatal("a successful chain must commit (flag=1), not cancel")
	}
	conn.deliverResponse(att.OpExecuteWriteResp, []byte{byte(att.OpExecuteWriteResp)})
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
}

func TestWriteLongAbortsOnEchoMismatch(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)
	conn.mu.Lock()
	conn.mtu = 10
	conn.mu.Unlock()

	var gotErr error
	cl.Write(0x0020, []byte("0123456789"), func(err error) { gotErr = err })

	badEcho := append([]byte{byte(att.OpPrepareWriteResp), 0x20, 0x00, 0, 0}, []byte("WRONG")...)
	conn.deliverResponse(att.OpPrepareWriteResp, badEcho)

	if len(*sent) != 2 || att.Opcode((*sent)[1][0]) != att.OpExecuteWriteReq {
		t.Fatalf("expected an Execute Write to cancel after a mismatched echo, got %v", *sent)
	}
	if (*sent)[1][1] != 0 {
		t.Fatal("an aborted chain must cancel (flag=0)")
	}
	conn.deliverResponse(att.OpExecuteWriteResp, []byte{byte(att.OpExecuteWriteResp)})
	if gotErr != ErrReliableWriteAborted {
		t.Fatalf("gotErr = %v; want ErrReliableWriteAborted", gotErr)
	}
}

func TestWriteCCCDDiscoversDescriptorsThenWrites(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	ch := &RemoteCharacteristic{Properties: PropNotify, ValueHandle: 0x10, EndHandle: 0x12}
	var gotErr error
	cl.WriteCCCD(ch, true, false, func(err error) { gotErr = err })

	if att.Opcode((*sent)[0][0]) != att.OpFindInfoReq {
		t.Fatalf("expected descriptor discovery first, got %v", *sent)
	}
	discResp := append([]byte{byte(att.OpFindInfoResp), 0x01}, []byte{0x11, 0x00, 0x02, 0x29}...)
	conn.deliverResponse(att.OpFindInfoResp, discResp)

	if len(*sent) != 2 || att.Opcode((*sent)[1][0]) != att.OpWriteReq {
		t.Fatalf("expected a Write Request for the CCCD once discovered, got %v", *sent)
	}
	if (*sent)[1][3] != byte(CCCDNotify) {
		t.Fatalf("CCCD write value = %v; want CCCDNotify", (*sent)[1][3])
	}
	conn.deliverResponse(att.OpWriteResp, []byte{byte(att.OpWriteResp)})
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
}

func TestWriteCCCDRejectsUnsupportedProperty(t *testing.T) {
	conn, _ := newClientTestConn()
	cl := NewClient(conn, nil)
	ch := &RemoteCharacteristic{Properties: PropRead, ValueHandle: 0x10, EndHandle: 0x12}

	var gotErr error
	cl.WriteCCCD(ch, true, false, func(err error) { gotErr = err })
	if gotErr == nil {
		t.Fatal("enabling notify on a non-notifying characteristic must fail")
	}
}

func TestInvalidateServicesRemovesCachedRangeAndClearsCoverageFlag(t *testing.T) {
	conn, _ := newClientTestConn()
	cl := NewClient(conn, nil)
	cl.cache.hasAllPrimaryServices = true
	svc := &RemoteService{UUID: uuid.UUID16(0x1234), StartHandle: 1, EndHandle: 5}
	cl.cache.allPrimaryServices.Insert(1, 5, svc)

	cl.InvalidateServices(1, 5)

	if cl.cache.hasAllPrimaryServices {
		t.Fatal("invalidating any range must clear hasAllPrimaryServices")
	}
	if len(cl.cache.allPrimaryServices.Values()) != 0 {
		t.Fatal("the invalidated range must no longer appear in the cache")
	}
}

func TestHandleInboundRoutesNotifyAndIndicate(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)

	var gotNotifyHandle uint16
	var gotNotifyVal []byte
	cl.SetNotifyHandler(func(h uint16, v []byte) { gotNotifyHandle, gotNotifyVal = h, v })
	cl.HandleInbound([]byte{byte(att.OpHandleValueNotify), 0x10, 0x00, 'n'})
	if gotNotifyHandle != 0x10 || string(gotNotifyVal) != "n" {
		t.Fatalf("got (%v,%q); want (0x10,n)", gotNotifyHandle, gotNotifyVal)
	}

	var confirmed bool
	cl.SetIndicateHandler(func(h uint16, v []byte, confirm func()) { confirmed = true; confirm() })
	cl.HandleInbound([]byte{byte(att.OpHandleValueInd), 0x11, 0x00, 'i'})
	if !confirmed {
		t.Fatal("indicate handler must be invoked")
	}
	if len(*sent) != 1 || att.Opcode((*sent)[0][0]) != att.OpHandleValueCnf {
		t.Fatalf("expected a Handle Value Confirmation sent, got %v", *sent)
	}
}

func TestHandleInboundAutoConfirmsWithoutHandler(t *testing.T) {
	conn, sent := newClientTestConn()
	cl := NewClient(conn, nil)
	cl.HandleInbound([]byte{byte(att.OpHandleValueInd), 0x11, 0x00, 'i'})
	if len(*sent) != 1 || att.Opcode((*sent)[0][0]) != att.OpHandleValueCnf {
		t.Fatalf("expected auto-confirmation with no indicate handler registered, got %v", *sent)
	}
}
