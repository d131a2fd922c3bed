package gatt

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/hci"
)

const (
	initialMTU    = 23
	maxMTU        = 517
	attTimeout    = 30 * time.Second
	prepareQueueCap = 128
)

// clientRequest is one outstanding client-side ATT request, per
// spec.md §3's "explicit request objects" redesign (§9): it owns its
// own progress state instead of a captured closure chain.
type clientRequest struct {
	pdu            []byte
	expectedOpcode att.Opcode
	handle func(ok bool, pdu []byte) // ok=false means malformed/timeout.
	timer  *time.Timer
}

type indicateOp struct {
	pdu   []byte
	done  func(ok bool)
	timer *time.Timer
}

// prepareEntry is one coalesced Prepare Write queue entry, per
// spec.md §4.2.
type prepareEntry struct {
	attrHandle uint16
	offset     int
	value      []byte
}

// Conn is the per-ACL-connection ATT session: MTU state, the client
// request queue, the server's mutual-exclusion flag, the indication
// queue, and the prepare-write queue, per spec.md §3.
type Conn struct {
	mu  sync.Mutex
	log *logrus.Entry

	hciHandle uint16
	role      hci.Role
	peerAddr  string // "TT:AA:AA:AA:BB:BB:BB" form, per spec.md §4.5.
	bonded    bool
	sec       Security

	send func(pdu []byte) // enqueues an outbound L2CAP/ATT PDU over HCI.

	mtu          int
	mtuGrown     bool
	timedOut     bool
	timeoutCB    func()

	// client side.
	clientQueue   []*clientRequest
	clientPending *clientRequest

	// server side.
	isHandlingRequest bool
	indicateQueue     []*indicateOp
	indicatePending   *indicateOp
	confirmPending    bool

	mtuExchangeInFlight bool
	notifyHolding       [][]byte

	prepareQueue []prepareEntry

	// cccd is this connection's view of subscribed characteristics,
	// used for disconnect cleanup without walking every
	// characteristic in the database.
	cccd map[*Characteristic]CCCDValue

	disconnected bool

	server *Server
	client *Client
}

// SetServer binds the GATT server dispatcher this connection routes
// inbound ATT requests and write commands to. A peripheral hosting
// its own attribute database and a central probing a peer's database
// may each set both a Server and a Client on the same Conn, per
// spec.md §4.2.
func (c *Conn) SetServer(s *Server) { c.server = s }

// SetClient binds the GATT client this connection routes inbound ATT
// responses, notifications, and indications to.
func (c *Conn) SetClient(cl *Client) { c.client = cl }

// Dispatch is the single inbound-PDU entry point for a connection:
// it demuxes by opcode class to the bound Server (requests, write
// commands, confirmations) or Client (responses, notifications,
// indications), per spec.md §4.2. Callers that already know their
// connection's fixed role may instead call Server.HandleRequest or
// Client.HandleInbound directly.
func (c *Conn) Dispatch(pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	switch att.Opcode(pdu[0]) {
	case att.OpError, att.OpExchangeMTUResp, att.OpFindInfoResp, att.OpFindByTypeValResp,
		att.OpReadByTypeResp, att.OpReadResp, att.OpReadBlobResp, att.OpReadMultiResp,
		att.OpReadByGroupResp, att.OpWriteResp, att.OpPrepareWriteResp, att.OpExecuteWriteResp,
		att.OpHandleValueNotify, att.OpHandleValueInd:
		if c.client != nil {
			c.client.HandleInbound(pdu)
		}
	case att.OpHandleValueCnf:
		if c.server != nil {
			c.server.OnConfirmation(c)
		}
	default:
		if c.server != nil {
			c.server.HandleRequest(c, pdu)
		}
	}
}

// NewConn wraps an established ACL connection in an ATT session. send
// is called to transmit one complete ATT PDU over the connection's
// L2CAP attribute channel (CID 0x0004).
func NewConn(hciHandle uint16, role hci.Role, sec Security, send func(pdu []byte)) *Conn {
	return &Conn{
		hciHandle: hciHandle, role: role, sec: sec, send: send,
		mtu:  initialMTU,
		cccd: make(map[*Characteristic]CCCDValue),
		log:  logrus.WithField("component", "gatt"),
	}
}

// Security accessors, satisfying the Security interface consulted by
// checkPermission, per spec.md §4.2.
func (c *Conn) IsBonded() bool                          { return c.bonded }
func (c *Conn) IsEncrypted() bool                       { return c.sec != nil && c.sec.IsEncrypted() }
func (c *Conn) CurrentEncryptionLevel() EncryptionLevel {
	if c.sec == nil {
		return EncNone
	}
	return c.sec.CurrentEncryptionLevel()
}
func (c *Conn) HasStoredLTK() bool { return c.sec != nil && c.sec.HasStoredLTK() }

// MTU returns the connection's current effective ATT MTU.
func (c *Conn) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// SetBonded marks the connection as belonging to a bonded peer
// identified by peerAddr (the "TT:AA:AA:AA:BB:BB:BB" form spec.md
// §4.5 uses as the persistence key).
func (c *Conn) SetBonded(peerAddr string, bonded bool) {
	c.mu.Lock()
	c.peerAddr, c.bonded = peerAddr, bonded
	c.mu.Unlock()
}

// PeerAddr returns the connection's peer address key.
func (c *Conn) PeerAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

// SetTimeoutHandler registers the callback fired when a client
// request or server indication times out after 30s, per spec.md §5.
func (c *Conn) SetTimeoutHandler(f func()) {
	c.mu.Lock()
	c.timeoutCB = f
	c.mu.Unlock()
}

func (c *Conn) cccdValue(ch *Characteristic) CCCDValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cccd[ch]
}

func (c *Conn) setCCCDValue(ch *Characteristic, v CCCDValue) {
	c.mu.Lock()
	c.cccd[ch] = v
	c.mu.Unlock()
}

// enqueueClientRequest implements the client-side state machine of
// spec.md §4.2: idle → waiting-response on send, with a 30s deadline
// rearmed on each enqueue, strictly FIFO per connection.
func (c *Conn) enqueueClientRequest(pdu []byte, expect att.Opcode, handle func(ok bool, pdu []byte)) {
	req := &clientRequest{pdu: pdu, expectedOpcode: expect, handle: handle}
	c.mu.Lock()
	c.clientQueue = append(c.clientQueue, req)
	c.dispatchNextClientLocked()
	c.mu.Unlock()
}

func (c *Conn) dispatchNextClientLocked() {
	if c.timedOut || c.clientPending != nil || len(c.clientQueue) == 0 {
		return
	}
	req := c.clientQueue[0]
	c.clientQueue = c.clientQueue[1:]
	c.clientPending = req
	req.timer = time.AfterFunc(attTimeout, func() { c.onClientTimeout(req) })
	c.send(req.pdu)
}

func (c *Conn) onClientTimeout(req *clientRequest) {
	c.mu.Lock()
	if c.clientPending != req {
		c.mu.Unlock()
		return
	}
	c.clientPending = nil
	c.timedOut = true
	cb := c.timeoutCB
	c.mu.Unlock()

	req.handle(false, nil)
	if cb != nil {
		cb()
	}
}

// deliverResponse feeds an inbound ATT response PDU to the pending
// client request, matching opcode per spec.md §4.2.
func (c *Conn) deliverResponse(opcode att.Opcode, pdu []byte) {
	c.mu.Lock()
	req := c.clientPending
	if req == nil {
		c.mu.Unlock()
		return
	}
	isErr := opcode == att.OpError
	if !isErr && opcode != req.expectedOpcode {
		c.mu.Unlock()
		return
	}
	req.timer.Stop()
	c.clientPending = nil
	c.dispatchNextClientLocked()
	c.mu.Unlock()

	req.handle(true, pdu)
}

// beginServerRequest reports whether a new inbound request may be
// processed, per spec.md §4.2's server-side mutual-exclusion rule.
func (c *Conn) beginServerRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isHandlingRequest {
		return false
	}
	c.isHandlingRequest = true
	return true
}

func (c *Conn) endServerRequest() {
	c.mu.Lock()
	c.isHandlingRequest = false
	c.mu.Unlock()
}

// sendPDU transmits an ATT PDU (a response, a notification, or an
// indication) immediately. The MTU-exchange holding queue of
// spec.md §4.2 is applied earlier, by Server.Notify.
func (c *Conn) sendPDU(pdu []byte) {
	c.send(pdu)
}

// Close marks the connection as gone: outstanding client/server
// callbacks become no-ops, per spec.md §5's disconnection-as-cancel
// rule. Per-characteristic CCCD cleanup is driven separately by
// Db.OnDisconnect, which needs the characteristic set.
func (c *Conn) Close() {
	c.mu.Lock()
	c.disconnected = true
	if c.clientPending != nil && c.clientPending.timer != nil {
		c.clientPending.timer.Stop()
	}
	c.clientPending = nil
	c.clientQueue = nil
	c.indicatePending = nil
	c.indicateQueue = nil
	c.mu.Unlock()
}
