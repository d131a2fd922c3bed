package gatt

import (
	"encoding/binary"
	"errors"

	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/uuid"
)

// ErrReliableWriteAborted is the sentinel error surfaced when a
// reliable-write session aborts because the server's prepare-write
// echo did not match, per spec.md §4.4.
var ErrReliableWriteAborted = errors.New("gatt: reliable write aborted: echo mismatch")

// RemoteDescriptor is a descriptor discovered on a remote GATT server.
type RemoteDescriptor struct {
	UUID   uuid.UUID
	Handle uint16
}

// RemoteCharacteristic is a characteristic discovered on a remote
// GATT server, per spec.md §4.4's characteristic-discovery rule.
type RemoteCharacteristic struct {
	UUID        uuid.UUID
	Properties  Property
	ValueHandle uint16
	EndHandle   uint16
	Descriptors []*RemoteDescriptor
}

// RemoteService is a service discovered on a remote GATT server.
// IncludedServices may hold a freshly-reset placeholder after
// invalidateServices, per spec.md §4.4.
type RemoteService struct {
	UUID        uuid.UUID
	StartHandle uint16
	EndHandle   uint16
	Secondary   bool

	IncludedServices []*RemoteService
	Characteristics  []*RemoteCharacteristic
}

// ClientCachePersister is the narrow persistence surface Client needs,
// mirroring CCCDStore's avoid-the-import-cycle shape: a *store.Store
// satisfies it structurally.
type ClientCachePersister interface {
	StoreGattCache(peer string, bonded bool, blob []byte)
	GetGattCache(peer string, bonded bool) ([]byte, bool)
}

// clientCache is the per-connection GATT client cache of spec.md §3.
type clientCache struct {
	hasAllPrimaryServices bool
	allPrimaryServices    *RangeMap
	secondaryServices     *RangeMap
	primaryServicesByUUID map[string]*RangeMap
}

func newClientCache() *clientCache {
	return &clientCache{
		allPrimaryServices:    NewRangeMap(),
		secondaryServices:     NewRangeMap(),
		primaryServicesByUUID: make(map[string]*RangeMap),
	}
}

// Client is the GATT client discovery engine bound to one ATT
// connection, per spec.md §4.4.
type Client struct {
	conn  *Conn
	cache *clientCache

	persist      ClientCachePersister
	peerIsRandomResolvable bool
	peerHasServiceChangedAware bool

	onNotify   func(valueHandle uint16, value []byte)
	onIndicate func(valueHandle uint16, value []byte, confirm func())

	// reliableWrite, when non-nil, is the active reliable-write
	// session: every Write call chunks into PrepareWrite and the
	// caller drives CommitReliableWrite/CancelReliableWrite instead of
	// an automatic ExecuteWrite.
	reliableWrite *reliableSession
}

type reliableSession struct {
	entries []prepareEntry
	aborted bool
}

// NewClient constructs a Client bound to conn. persist may be nil if
// the embedder does not want cache persistence.
func NewClient(conn *Conn, persist ClientCachePersister) *Client {
	return &Client{conn: conn, cache: newClientCache(), persist: persist}
}

// SetNotifyHandler / SetIndicateHandler register the callbacks fired
// on an inbound Handle Value Notification/Indication. confirm must be
// called by the indicate handler to send the Handle Value
// Confirmation, per spec.md §4.2's "upper layer is responsible for
// issuing the confirmation" rule.
func (c *Client) SetNotifyHandler(f func(valueHandle uint16, value []byte))                    { c.onNotify = f }
func (c *Client) SetIndicateHandler(f func(valueHandle uint16, value []byte, confirm func())) { c.onIndicate = f }

// HandleInbound is the entry point for PDUs arriving while this
// connection plays the ATT client role: responses are routed to the
// pending request, notifications/indications to the registered
// handlers, per spec.md §4.2.
func (c *Client) HandleInbound(pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	op := att.Opcode(pdu[0])
	switch op {
	case att.OpHandleValueNotify:
		if len(pdu) >= 3 && c.onNotify != nil {
			h := binary.LittleEndian.Uint16(pdu[1:3])
			c.onNotify(h, pdu[3:])
		}
	case att.OpHandleValueInd:
		if len(pdu) < 3 {
			return
		}
		h := binary.LittleEndian.Uint16(pdu[1:3])
		value := pdu[3:]
		confirm := func() { c.conn.sendPDU([]byte{byte(att.OpHandleValueCnf)}) }
		if c.onIndicate != nil {
			c.onIndicate(h, value, confirm)
		} else {
			confirm()
		}
	default:
		c.conn.deliverResponse(op, pdu)
	}
}

// ExchangeMTU issues EXCHANGE_MTU_REQUEST with the client's own
// receive MTU, per spec.md §4.2/§4.4.
func (c *Client) ExchangeMTU(clientRxMTU int, cb func(serverMTU int, err error)) {
	if clientRxMTU < initialMTU {
		clientRxMTU = initialMTU
	}
	pdu := []byte{byte(att.OpExchangeMTUReq), byte(clientRxMTU), byte(clientRxMTU >> 8)}
	c.conn.enqueueClientRequest(pdu, att.OpExchangeMTUResp, func(ok bool, resp []byte) {
		if !ok || len(resp) < 3 {
			cb(0, att.ErrUnlikely.Err())
			return
		}
		serverMTU := int(binary.LittleEndian.Uint16(resp[1:3]))
		eff := clientRxMTU
		if serverMTU < eff {
			eff = serverMTU
		}
		c.conn.mu.Lock()
		if !c.conn.mtuGrown && eff > c.conn.mtu {
			c.conn.mtu, c.conn.mtuGrown = eff, true
		}
		c.conn.mu.Unlock()
		cb(serverMTU, nil)
	})
}

// DiscoverAllPrimaryServices implements spec.md §4.4's range-cache-
// aware discovery: it only queries ranges not yet decided, and once
// the whole 0x0001-0xFFFF range is verified, sets hasAllPrimaryServices.
func (c *Client) DiscoverAllPrimaryServices(cb func([]*RemoteService, error)) {
	c.discoverPrimaryServices(uuid.UUID{}, 0, cb)
}

// DiscoverServicesByUUID discovers at most numToFind (0 = unbounded)
// primary services matching u.
func (c *Client) DiscoverServicesByUUID(u uuid.UUID, numToFind int, cb func([]*RemoteService, error)) {
	c.discoverPrimaryServices(u, numToFind, cb)
}

func (c *Client) discoverPrimaryServices(filter uuid.UUID, numToFind int, cb func([]*RemoteService, error)) {
	rm := c.cache.allPrimaryServices
	if !filter.IsZero() {
		key := filter.String()
		if c.cache.primaryServicesByUUID[key] == nil {
			c.cache.primaryServicesByUUID[key] = NewRangeMap()
		}
		rm = c.cache.primaryServicesByUUID[key]
	}

	undecided := rm.Undecided(1, 0xFFFF)
	var found []*RemoteService
	var walk func(i int)
	walk = func(i int) {
		if i >= len(undecided) {
			if filter.IsZero() && numToFind == 0 {
				c.cache.hasAllPrimaryServices = true
			}
			c.persistCache()
			cb(found, nil)
			return
		}
		lo, hi := undecided[i][0], undecided[i][1]
		c.scanPrimaryRange(filter, lo, hi, rm, func(scanned []*RemoteService, lastScanned uint16, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			found = append(found, scanned...)
			if numToFind > 0 && len(found) >= numToFind {
				cb(found, nil)
				return
			}
			if lastScanned < hi {
				rm.MarkGap(lastScanned+1, hi)
			}
			walk(i + 1)
		})
	}
	walk(0)
}

func (c *Client) scanPrimaryRange(filter uuid.UUID, lo, hi uint16, rm *RangeMap, done func([]*RemoteService, uint16, error)) {
	var pdu []byte
	var expect att.Opcode
	if filter.IsZero() {
		pdu = []byte{byte(att.OpReadByGroupTypeReq), byte(lo), byte(lo >> 8), byte(hi), byte(hi >> 8), 0x00, 0x28}
		expect = att.OpReadByGroupResp
	} else {
		short, _ := filter.Short()
		pdu = append([]byte{byte(att.OpFindByTypeValueReq), byte(lo), byte(lo >> 8), byte(hi), byte(hi >> 8), 0x00, 0x28}, byte(short), byte(short>>8))
		expect = att.OpFindByTypeValResp
	}

	c.conn.enqueueClientRequest(pdu, expect, func(ok bool, resp []byte) {
		if !ok {
			done(nil, lo, att.ErrUnlikely.Err())
			return
		}
		if len(resp) == 0 || resp[0] == byte(att.OpError) {
			done(nil, hi, nil) // attribute-not-found: whole range is a gap.
			return
		}
		var out []*RemoteService
		var last uint16 = lo
		if filter.IsZero() {
			entryLen := int(resp[1])
			for off := 2; off+entryLen <= len(resp); off += entryLen {
				start := binary.LittleEndian.Uint16(resp[off:])
				end := binary.LittleEndian.Uint16(resp[off+2:])
				u := parseGroupUUID(resp[off+4 : off+entryLen])
				svc := &RemoteService{UUID: u, StartHandle: start, EndHandle: end}
				rm.Insert(start, end, svc)
				out = append(out, svc)
				last = end
			}
		} else {
			for off := 1; off+4 <= len(resp); off += 4 {
				start := binary.LittleEndian.Uint16(resp[off:])
				end := binary.LittleEndian.Uint16(resp[off+2:])
				svc := &RemoteService{UUID: filter, StartHandle: start, EndHandle: end}
				rm.Insert(start, end, svc)
				out = append(out, svc)
				last = end
			}
		}
		done(out, last, nil)
	})
}

func parseGroupUUID(b []byte) uuid.UUID {
	u, err := uuid.FromWire(b)
	if err != nil {
		return uuid.UUID{}
	}
	return u
}

// FindIncludedServices reads 0x2802 by type over svc's range, per
// spec.md §4.4.
func (c *Client) FindIncludedServices(svc *RemoteService, cb func([]*RemoteService, error)) {
	pdu := []byte{byte(att.OpReadByTypeReq), byte(svc.StartHandle), byte(svc.StartHandle >> 8), byte(svc.EndHandle), byte(svc.EndHandle >> 8), 0x02, 0x28}
	c.conn.enqueueClientRequest(pdu, att.OpReadByTypeResp, func(ok bool, resp []byte) {
		if !ok || len(resp) == 0 || resp[0] == byte(att.OpError) {
			cb(nil, nil)
			return
		}
		entryLen := int(resp[1])
		var out []*RemoteService
		var pending []*RemoteService
		for off := 2; off+entryLen <= len(resp); off += entryLen {
			val := resp[off+2 : off+entryLen]
			if len(val) < 4 {
				continue
			}
			start := binary.LittleEndian.Uint16(val)
			end := binary.LittleEndian.Uint16(val[2:])
			inc := &RemoteService{StartHandle: start, EndHandle: end}
			if len(val) >= 6 {
				inc.UUID, _ = uuid.FromWire(val[4:6])
				out = append(out, inc)
			} else {
				pending = append(pending, inc)
			}
		}
		svc.IncludedServices = append(svc.IncludedServices, out...)
		svc.IncludedServices = append(svc.IncludedServices, pending...)
		if len(pending) == 0 {
			cb(out, nil)
			return
		}
		c.resolve128BitIncludes(pending, out, cb)
	})
}

func (c *Client) resolve128BitIncludes(pending, resolved []*RemoteService, cb func([]*RemoteService, error)) {
	if len(pending) == 0 {
		cb(resolved, nil)
		return
	}
	inc := pending[0]
	c.Read(inc.StartHandle, func(val []byte, err error) {
		if err == nil {
			inc.UUID, _ = uuid.FromWire(val)
		}
		resolved = append(resolved, inc)
		c.resolve128BitIncludes(pending[1:], resolved, cb)
	})
}

// DiscoverCharacteristics reads 0x2803 by type over svc's range and
// splits the results into characteristic records, per spec.md §4.4.
func (c *Client) DiscoverCharacteristics(svc *RemoteService, cb func([]*RemoteCharacteristic, error)) {
	pdu := []byte{byte(att.OpReadByTypeReq), byte(svc.StartHandle), byte(svc.StartHandle >> 8), byte(svc.EndHandle), byte(svc.EndHandle >> 8), 0x03, 0x28}
	c.conn.enqueueClientRequest(pdu, att.OpReadByTypeResp, func(ok bool, resp []byte) {
		if !ok || len(resp) == 0 || resp[0] == byte(att.OpError) {
			cb(nil, nil)
			return
		}
		entryLen := int(resp[1])
		type raw struct {
			handle  uint16
			props   Property
			valHandle uint16
			uuid    uuid.UUID
		}
		var rawList []raw
		for off := 2; off+entryLen <= len(resp); off += entryLen {
			h := binary.LittleEndian.Uint16(resp[off:])
			val := resp[off+2 : off+entryLen]
			if len(val) < 3 {
				continue
			}
			vh := binary.LittleEndian.Uint16(val[1:3])
			u, _ := uuid.FromWire(val[3:])
			rawList = append(rawList, raw{h, Property(val[0]), vh, u})
		}
		var out []*RemoteCharacteristic
		for i, r := range rawList {
			end := svc.EndHandle
			if i+1 < len(rawList) {
				end = rawList[i+1].handle - 1
			}
			out = append(out, &RemoteCharacteristic{UUID: r.uuid, Properties: r.props, ValueHandle: r.valHandle, EndHandle: end})
		}
		svc.Characteristics = out
		cb(out, nil)
	})
}

// DiscoverDescriptors issues FindInformation from ch.ValueHandle+1 to
// ch.EndHandle, per spec.md §4.4.
func (c *Client) DiscoverDescriptors(ch *RemoteCharacteristic, cb func([]*RemoteDescriptor, error)) {
	start := ch.ValueHandle + 1
	if start > ch.EndHandle {
		cb(nil, nil)
		return
	}
	pdu := []byte{byte(att.OpFindInfoReq), byte(start), byte(start >> 8), byte(ch.EndHandle), byte(ch.EndHandle >> 8)}
	c.conn.enqueueClientRequest(pdu, att.OpFindInfoResp, func(ok bool, resp []byte) {
		if !ok || len(resp) < 2 || resp[0] == byte(att.OpError) {
			cb(nil, nil)
			return
		}
		format := resp[1]
		entryLen := 4
		if format == 0x02 {
			entryLen = 18
		}
		var out []*RemoteDescriptor
		for off := 2; off+entryLen <= len(resp); off += entryLen {
			h := binary.LittleEndian.Uint16(resp[off:])
			u, _ := uuid.FromWire(resp[off+2 : off+entryLen])
			out = append(out, &RemoteDescriptor{UUID: u, Handle: h})
		}
		ch.Descriptors = out
		cb(out, nil)
	})
}

// Read issues READ_REQUEST, then chains READ_BLOB_REQUEST while the
// response is exactly MTU-1 bytes and the accumulated length is under
// 512, per spec.md §4.4's long-read rule.
func (c *Client) Read(handle uint16, cb func([]byte, error)) {
	var acc []byte
	var step func()
	step = func() {
		var pdu []byte
		var expect att.Opcode
		if len(acc) == 0 {
			pdu = []byte{byte(att.OpReadReq), byte(handle), byte(handle >> 8)}
			expect = att.OpReadResp
		} else {
			off := len(acc)
			pdu = []byte{byte(att.OpReadBlobReq), byte(handle), byte(handle >> 8), byte(off), byte(off >> 8)}
			expect = att.OpReadBlobResp
		}
		c.conn.enqueueClientRequest(pdu, expect, func(ok bool, resp []byte) {
			if !ok {
				cb(acc, att.ErrUnlikely.Err())
				return
			}
			if len(resp) > 0 && resp[0] == byte(att.OpError) {
				cb(nil, att.Error(resp[len(resp)-1]).Err())
				return
			}
			chunk := resp[1:]
			acc = append(acc, chunk...)
			if len(chunk) == c.conn.MTU()-1 && len(acc) < 512 {
				step()
				return
			}
			if len(acc) > 512 {
				acc = acc[:512]
			}
			cb(acc, nil)
		})
	}
	step()
}

// ReadByUUID issues READ_BY_TYPE_REQUEST over [start,end] filtered to
// u, returning the first matching value, addressing the Open Question
// in spec.md §9 about the source's buggy extra-argument call site:
// this redesigned signature takes only the request inputs and a
// plain callback.
func (c *Client) ReadByUUID(start, end uint16, u uuid.UUID, cb func([]byte, error)) {
	short, ok := u.Short()
	if !ok {
		cb(nil, errors.New("gatt: ReadByUUID requires a 16-bit type"))
		return
	}
	pdu := []byte{byte(att.OpReadByTypeReq), byte(start), byte(start >> 8), byte(end), byte(end >> 8), byte(short), byte(short >> 8)}
	c.conn.enqueueClientRequest(pdu, att.OpReadByTypeResp, func(ok bool, resp []byte) {
		if !ok || len(resp) == 0 || resp[0] == byte(att.OpError) {
			cb(nil, att.ErrAttributeNotFound.Err())
			return
		}
		entryLen := int(resp[1])
		if 2+entryLen > len(resp) {
			cb(nil, att.ErrUnlikely.Err())
			return
		}
		cb(resp[4:2+entryLen], nil)
	})
}

// Write chooses WRITE_REQUEST when offset 0 and the payload fits
// MTU-3 outside a reliable-write session, and falls back to chunked
// prepare/execute otherwise, per spec.md §4.4.
func (c *Client) Write(handle uint16, data []byte, cb func(error)) {
	if c.reliableWrite == nil && len(data) <= c.conn.MTU()-3 {
		pdu := append([]byte{byte(att.OpWriteReq), byte(handle), byte(handle >> 8)}, data...)
		c.conn.enqueueClientRequest(pdu, att.OpWriteResp, func(ok bool, resp []byte) {
			if !ok {
				cb(att.ErrUnlikely.Err())
				return
			}
			if len(resp) > 0 && resp[0] == byte(att.OpError) {
				cb(att.Error(resp[len(resp)-1]).Err())
				return
			}
			cb(nil)
		})
		return
	}
	c.writeLong(handle, data, cb)
}

// WriteCommand issues WRITE_COMMAND (no response).
func (c *Client) WriteCommand(handle uint16, data []byte) {
	pdu := append([]byte{byte(att.OpWriteCmd), byte(handle), byte(handle >> 8)}, data...)
	c.conn.sendPDU(pdu)
}

func (c *Client) writeLong(handle uint16, data []byte, cb func(error)) {
	chunkSize := c.conn.MTU() - 5
	if chunkSize < 1 {
		chunkSize = 1
	}
	var entries []prepareEntry
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		entries = append(entries, prepareEntry{attrHandle: handle, offset: off, value: data[off:end]})
	}
	if len(entries) == 0 {
		entries = append(entries, prepareEntry{attrHandle: handle, offset: 0, value: nil})
	}

	if c.reliableWrite != nil {
		c.reliableWrite.entries = append(c.reliableWrite.entries, entries...)
		c.sendPrepareChain(entries, 0, func(err error) {
			if err != nil {
				c.reliableWrite.aborted = true
			}
			cb(err)
		})
		return
	}

	c.sendPrepareChain(entries, 0, func(err error) {
		if err != nil {
			c.execute(false, func(error) { cb(err) })
			return
		}
		c.execute(true, cb)
	})
}

func (c *Client) sendPrepareChain(entries []prepareEntry, i int, done func(error)) {
	if i >= len(entries) {
		done(nil)
		return
	}
	e := entries[i]
	pdu := append([]byte{byte(att.OpPrepareWriteReq), byte(e.attrHandle), byte(e.attrHandle >> 8), byte(e.offset), byte(e.offset >> 8)}, e.value...)
	c.conn.enqueueClientRequest(pdu, att.OpPrepareWriteResp, func(ok bool, resp []byte) {
		if !ok {
			done(att.ErrUnlikely.Err())
			return
		}
		if len(resp) > 0 && resp[0] == byte(att.OpError) {
			done(att.Error(resp[len(resp)-1]).Err())
			return
		}
		if len(resp) != 5+len(e.value) || string(resp[5:]) != string(e.value) {
			done(ErrReliableWriteAborted)
			return
		}
		c.sendPrepareChain(entries, i+1, done)
	})
}

func (c *Client) execute(commit bool, cb func(error)) {
	flag := byte(0)
	if commit {
		flag = 1
	}
	c.conn.enqueueClientRequest([]byte{byte(att.OpExecuteWriteReq), flag}, att.OpExecuteWriteResp, func(ok bool, resp []byte) {
		if !ok {
			cb(att.ErrUnlikely.Err())
			return
		}
		if len(resp) > 0 && resp[0] == byte(att.OpError) {
			cb(att.Error(resp[len(resp)-1]).Err())
			return
		}
		cb(nil)
	})
}

// BeginReliableWrite opens a reliable-write session: subsequent Write
// calls chunk via prepare without an automatic execute.
func (c *Client) BeginReliableWrite() { c.reliableWrite = &reliableSession{} }

// CommitReliableWrite issues EXECUTE_WRITE(flag=1) for the session.
func (c *Client) CommitReliableWrite(cb func(error)) {
	if c.reliableWrite == nil {
		cb(nil)
		return
	}
	aborted := c.reliableWrite.aborted
	c.reliableWrite = nil
	if aborted {
		c.execute(false, func(error) { cb(ErrReliableWriteAborted) })
		return
	}
	c.execute(true, cb)
}

// CancelReliableWrite issues EXECUTE_WRITE(flag=0), discarding the
// session.
func (c *Client) CancelReliableWrite(cb func(error)) {
	c.reliableWrite = nil
	c.execute(false, cb)
}

// WriteCCCD discovers descriptors if unknown, finds 0x2902, and
// writes the two-byte bitmap, per spec.md §4.4.
func (c *Client) WriteCCCD(ch *RemoteCharacteristic, enableNotify, enableIndicate bool, cb func(error)) {
	if enableNotify && ch.Properties&PropNotify == 0 {
		cb(invalidArg("enableNotify", "characteristic does not support notify"))
		return
	}
	if enableIndicate && ch.Properties&PropIndicate == 0 {
		cb(invalidArg("enableIndicate", "characteristic does not support indicate"))
		return
	}

	write := func() {
		var cccdHandle uint16
		for _, d := range ch.Descriptors {
			if d.UUID.Equal(uuidCCCD) {
				cccdHandle = d.Handle
				break
			}
		}
		if cccdHandle == 0 {
			cb(att.ErrAttributeNotFound.Err())
			return
		}
		var v byte
		if enableNotify {
			v |= byte(CCCDNotify)
		}
		if enableIndicate {
			v |= byte(CCCDIndicate)
		}
		c.Write(cccdHandle, []byte{v, 0}, cb)
	}

	if ch.Descriptors == nil {
		c.DiscoverDescriptors(ch, func([]*RemoteDescriptor, error) { write() })
		return
	}
	write()
}

// InvalidateServices removes cached service intervals overlapping
// [start,end] and marks surviving services whose includes reference
// the invalidated range for rediscovery, per spec.md §4.4.
func (c *Client) InvalidateServices(start, end uint16) {
	removed := c.cache.allPrimaryServices.RemoveOverlapping(start, end)
	c.cache.secondaryServices.RemoveOverlapping(start, end)
	for _, rm := range c.cache.primaryServicesByUUID {
		rm.RemoveOverlapping(start, end)
	}
	c.cache.hasAllPrimaryServices = false

	invalidated := make(map[*RemoteService]bool)
	for _, v := range removed {
		if svc, ok := v.(*RemoteService); ok {
			invalidated[svc] = true
		}
	}
	for _, v := range c.cache.allPrimaryServices.Values() {
		svc, ok := v.(*RemoteService)
		if !ok {
			continue
		}
		for i, inc := range svc.IncludedServices {
			if invalidated[inc] {
				svc.IncludedServices[i] = &RemoteService{StartHandle: inc.StartHandle, EndHandle: inc.EndHandle}
			}
		}
	}
	c.persistCache()
}

// persistCache hands serializeCache's blob to the persister, with
// spec.md §4.4's two suppression checks: random-resolvable peer
// addresses skip storage (they rotate), and non-bonded peers whose
// remote GATT database declares Service Changed also skip storage (the
// server may change its DB between sessions). Neither
// peerIsRandomResolvable nor peerHasServiceChangedAware is set
// anywhere in this package, so neither check ever suppresses storage.
func (c *Client) persistCache() {
	if c.persist == nil || c.peerIsRandomResolvable {
		return
	}
	if !c.conn.IsBonded() && c.peerHasServiceChangedAware {
		return
	}
	blob := c.serializeCache()
	c.persist.StoreGattCache(c.conn.PeerAddr(), c.conn.IsBonded(), blob)
}

// serializeCache returns nil: the discovery cache's contents are not
// serialized, so StoreGattCache receives an empty blob.
func (c *Client) serializeCache() []byte { return nil }
