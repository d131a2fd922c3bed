// Package hci implements the host-side half of the Host Controller
// Interface: command serialization against a single in-flight
// request, ACL credit-flow-controlled data transfer, event
// demultiplexing, and per-connection L2CAP fragment reassembly, per
// spec.md §4.1.
package hci

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxKnownControllerMTU caps aclMTU to accommodate controllers that
// misreport a larger buffer size than they can actually fragment,
// per spec.md §4.1.
const maxKnownControllerMTU = 1023

// Adapter is the host-side HCI command/event/data multiplexer.
// Construct one per controller with NewAdapter.
type Adapter struct {
	transport Transport
	log       *logrus.Entry

	mu       sync.Mutex
	stopped  bool
	pending  *queuedCommand
	cmdQueue []*queuedCommand

	numFreeBuffers int
	maxBuffers     int
	aclMTU         int

	conns map[uint16]*Connection

	hwErrorHandler    func(error)
	disconnectHandler func(handle uint16, reason uint8)

	advCallback  connCompleteCallback
	connCallback connCompleteCallback
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithLogger overrides the package-default logger.
func WithLogger(l *logrus.Entry) Option {
	return func(a *Adapter) { a.log = l }
}

// NewAdapter constructs an Adapter bound to transport. It does not
// itself issue Reset or any buffer-size query; call Init for that
// once the transport is ready.
func NewAdapter(transport Transport, opts ...Option) *Adapter {
	a := &Adapter{
		transport: transport,
		log:       logrus.WithField("component", "hci"),
		conns:     make(map[uint16]*Connection),
		aclMTU:    27, // conservative default until LE_Read_Buffer_Size completes.
	}
	for _, opt := range opts {
		opt(a)
	}
	transport.SetOnData(a.handlePacket)
	return a
}

// SetHardwareErrorHandler registers the adapter-wide callback invoked
// on a Hardware_Error event.
func (a *Adapter) SetHardwareErrorHandler(f func(error)) {
	a.mu.Lock()
	a.hwErrorHandler = f
	a.mu.Unlock()
}

// SetDisconnectHandler registers the callback invoked once a
// connection's Disconnection_Complete event has been processed.
func (a *Adapter) SetDisconnectHandler(f func(handle uint16, reason uint8)) {
	a.mu.Lock()
	a.disconnectHandler = f
	a.mu.Unlock()
}

// Stop detaches the transport and makes all further adapter
// operations inert, per spec.md §4.1/§5.
func (a *Adapter) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.pending = nil
	a.cmdQueue = nil
	a.conns = make(map[uint16]*Connection)
	a.mu.Unlock()
}

// setBufferSize seeds the ACL credit pool from a
// Read_Buffer_Size/LE_Read_Buffer_Size response, clamping aclMTU per
// spec.md §4.1.
func (a *Adapter) setBufferSize(mtu int, numBuffers int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if mtu > maxKnownControllerMTU {
		mtu = maxKnownControllerMTU
	}
	a.aclMTU = mtu
	a.maxBuffers = numBuffers
	a.numFreeBuffers = numBuffers
}

// AddConnection registers a newly established ACL connection.
func (a *Adapter) AddConnection(handle uint16, role Role, onData func(cid uint16, payload []byte)) *Connection {
	c := &Connection{Handle: handle, Role: role, OnData: onData}
	a.mu.Lock()
	a.conns[handle] = c
	a.mu.Unlock()
	return c
}

// SendData enqueues an L2CAP PDU for handle/cid, per spec.md §4.1's
// sendData contract. onSent fires once the final fragment has been
// written to the transport; onComplete fires once the controller
// reports that fragment complete via Number_Of_Completed_Packets.
func (a *Adapter) SendData(handle uint16, cid uint16, payload []byte, onSent, onComplete func()) {
	a.mu.Lock()
	c, ok := a.conns[handle]
	if !ok {
		a.mu.Unlock()
		return
	}
	pdu := buildL2CAPPDU(cid, payload)
	c.enqueueOutbound(pdu, a.aclMTU, onSent, onComplete)
	a.drainLocked()
	a.mu.Unlock()
}

// drainLocked drains at most one outbound fragment, chosen uniformly
// at random among non-disconnecting connections with queued
// fragments, provided a credit is available. Caller holds a.mu.
func (a *Adapter) drainLocked() {
	if a.numFreeBuffers <= 0 {
		return
	}
	var ready []*Connection
	for _, c := range a.conns {
		if c.readyToDrain() {
			ready = append(ready, c)
		}
	}
	if len(ready) == 0 {
		return
	}
	c := ready[rand.Intn(len(ready))]
	frag := c.popOutbound()

	pb := PBContinuation
	if frag.isFirst {
		pb = PBFirst
	}
	pkt := buildACLPacket(c.Handle, pb, frag.bytes)
	if err := a.transport.Write(pkt); err != nil {
		a.log.WithError(err).Error("hci: acl write failed")
		return
	}
	a.numFreeBuffers--
	c.txInFlightAcks = append(c.txInFlightAcks, frag.complete)
	if frag.sent != nil {
		frag.sent()
	}
	// Keep draining while credits and work remain.
	a.drainLocked()
}

// handleNumberOfCompletedPackets restores credits per the controller's
// Number_Of_Completed_Packets event and fires queued complete
// callbacks in FIFO order, clamped to each connection's outstanding
// count per spec.md §4.1.
func (a *Adapter) handleNumberOfCompletedPackets(b []byte) {
	if len(b) < 1 {
		return
	}
	n := int(b[0])
	off := 1
	var restored int
	var toFire []func()
	a.mu.Lock()
	for i := 0; i < n && off+4 <= len(b); i++ {
		handle := binary.LittleEndian.Uint16(b[off:])
		count := int(binary.LittleEndian.Uint16(b[off+2:]))
		off += 4
		c, ok := a.conns[handle]
		if !ok {
			continue
		}
		if count > len(c.txInFlightAcks) {
			count = len(c.txInFlightAcks)
		}
		for j := 0; j < count; j++ {
			if cb := c.txInFlightAcks[j]; cb != nil {
				toFire = append(toFire, cb)
			}
		}
		c.txInFlightAcks = c.txInFlightAcks[count:]
		restored += count
	}
	a.numFreeBuffers += restored
	if a.numFreeBuffers > a.maxBuffers {
		a.numFreeBuffers = a.maxBuffers
	}
	a.drainLocked()
	a.mu.Unlock()

	for _, cb := range toFire {
		cb()
	}
}

// handleDisconnectionComplete implements the universal cancellation
// rule of spec.md §5: flush queued commands for handle, suppress a
// matching pending command's callback, drop the connection, and fire
// the adapter's disconnect handler.
func (a *Adapter) handleDisconnectionComplete(b []byte) {
	if len(b) < 4 {
		return
	}
	status := b[0]
	handle := binary.LittleEndian.Uint16(b[1:3])
	reason := b[3]
	if status != 0 {
		return
	}

	a.dropCommandsForHandle(handle)

	a.mu.Lock()
	delete(a.conns, handle)
	handler := a.disconnectHandler
	a.mu.Unlock()

	if handler != nil {
		handler(handle, reason)
	}
}

// handlePacket is the transport's inbound callback: it demultiplexes
// one complete HCI packet by its leading type byte.
func (a *Adapter) handlePacket(pkt []byte) {
	if len(pkt) == 0 {
		return
	}
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	switch PacketType(pkt[0]) {
	case PktEvent:
		a.dispatchEvent(pkt[1:])
	case PktACLData:
		a.handleACLData(pkt[1:])
	default:
		a.log.WithField("type", pkt[0]).Debug("hci: ignoring unsupported inbound packet type")
	}
}

// handleACLData reassembles one inbound ACL fragment into its
// connection's L2CAP receive buffer, per spec.md §4.1's fragmentation
// rules.
func (a *Adapter) handleACLData(b []byte) {
	if len(b) < 4 {
		return
	}
	handleFlags := binary.LittleEndian.Uint16(b[0:2])
	handle := handleFlags & 0x0FFF
	pb := PacketBoundary((handleFlags >> 12) & 0x3)
	length := binary.LittleEndian.Uint16(b[2:4])
	if len(b) < int(4+length) {
		return
	}
	payload := b[4 : 4+length]

	a.mu.Lock()
	c, ok := a.conns[handle]
	a.mu.Unlock()
	if !ok {
		return
	}
	c.feedFragment(pb == PBFirst, payload)
}
