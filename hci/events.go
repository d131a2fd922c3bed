package hci

import "encoding/binary"

// advCallback/connCallback are the one-shot slots that route an LE
// Connection Complete (or Enhanced Connection Complete) event,
// per spec.md §4.1: peripheral-role completions go to advCallback,
// central-role completions go to connCallback, and both slots are
// consumed on use.
type connCompleteCallback func(status uint8, handle uint16, role Role, peerAddr [6]byte)

// SetAdvertisementCompleteCallback arms the one-shot slot that fires
// when a peripheral-role LE Connection Complete event arrives.
func (a *Adapter) SetAdvertisementCompleteCallback(f connCompleteCallback) {
	a.mu.Lock()
	a.advCallback = f
	a.mu.Unlock()
}

// SetCentralConnectCallback arms the one-shot slot that fires when a
// central-role LE Connection Complete event arrives.
func (a *Adapter) SetCentralConnectCallback(f connCompleteCallback) {
	a.mu.Lock()
	a.connCallback = f
	a.mu.Unlock()
}

// dispatchEvent demultiplexes one HCI event PDU by event code, per
// spec.md §4.1's event table.
func (a *Adapter) dispatchEvent(b []byte) {
	if len(b) < 2 {
		return
	}
	code := EventCode(b[0])
	plen := int(b[1])
	if len(b) < 2+plen {
		return
	}
	params := b[2 : 2+plen]

	switch code {
	case EvtCommandComplete:
		a.handleCommandComplete(params)
	case EvtCommandStatus:
		a.handleCommandStatus(params)
	case EvtHardwareError:
		a.handleHardwareError(params)
	case EvtDisconnectionComplete:
		a.handleDisconnectionComplete(params)
	case EvtNumberOfCompletedPkts:
		a.handleNumberOfCompletedPackets(params)
	case EvtEncryptionChange:
		a.handleEncryptionChange(params)
	case EvtEncryptionKeyRefresh:
		a.handleEncryptionKeyRefresh(params)
	case EvtReadRemoteVersionInfo:
		a.handleReadRemoteVersionInfo(params)
	case EvtLEMeta:
		a.handleLEMeta(params)
	default:
		a.log.WithField("code", code).Debug("hci: no handler for event")
	}
}

func (a *Adapter) connFor(handle uint16) *Connection {
	a.mu.Lock()
	c := a.conns[handle]
	a.mu.Unlock()
	return c
}

func (a *Adapter) handleEncryptionChange(b []byte) {
	if len(b) < 4 {
		return
	}
	status, handle, enabled := b[0], binary.LittleEndian.Uint16(b[1:3]), b[3] != 0
	if c := a.connFor(handle); c != nil && c.EncryptionChangeCB != nil {
		cb := c.EncryptionChangeCB
		c.EncryptionChangeCB = nil
		cb(status, enabled)
	}
}

func (a *Adapter) handleEncryptionKeyRefresh(b []byte) {
	// status(1) || handle(2, LE); no further dispatch is required at
	// this layer per spec.md §4.1 — the flag lives at the security
	// layer this module consults but does not own.
}

func (a *Adapter) handleReadRemoteVersionInfo(b []byte) {
	if len(b) < 8 {
		return
	}
	status := b[0]
	handle := binary.LittleEndian.Uint16(b[1:3])
	version := b[3]
	mfg := binary.LittleEndian.Uint16(b[4:6])
	subver := binary.LittleEndian.Uint16(b[6:8])
	if c := a.connFor(handle); c != nil && c.ReadRemoteVersionCB != nil {
		cb := c.ReadRemoteVersionCB
		c.ReadRemoteVersionCB = nil
		cb(status, version, mfg, subver)
	}
}

// handleLEMeta dispatches an LE Meta event by its subevent code, per
// spec.md §4.1.
func (a *Adapter) handleLEMeta(b []byte) {
	if len(b) < 1 {
		return
	}
	sub := LEMetaSubevent(b[0])
	body := b[1:]
	switch sub {
	case SubEvtConnectionComplete:
		a.handleConnectionComplete(body, false)
	case SubEvtEnhancedConnectionComplete:
		a.handleConnectionComplete(body, true)
	case SubEvtConnectionUpdateComplete:
		a.handleConnUpdateComplete(body)
	case SubEvtReadRemoteFeaturesComplete:
		a.handleReadRemoteFeaturesComplete(body)
	case SubEvtPHYUpdateComplete:
		a.handlePHYUpdateComplete(body)
	default:
		a.log.WithField("subevent", sub).Debug("hci: no handler for LE meta subevent")
	}
}

// handleConnectionComplete parses both the legacy and Enhanced LE
// Connection Complete layouts far enough to route role + handle +
// peer address; the enhanced form carries extra resolvable-address
// fields this module's core does not need.
func (a *Adapter) handleConnectionComplete(b []byte, _ bool) {
	if len(b) < 10 {
		return
	}
	status := b[0]
	handle := binary.LittleEndian.Uint16(b[1:3])
	roleByte := b[3]
	var peerAddr [6]byte
	copy(peerAddr[:], b[5:11])

	role := RoleCentral
	if roleByte == 1 {
		role = RolePeripheral
	}

	a.mu.Lock()
	var cb connCompleteCallback
	if role == RolePeripheral {
		cb, a.advCallback = a.advCallback, nil
	} else {
		cb, a.connCallback = a.connCallback, nil
	}
	a.mu.Unlock()

	if cb != nil {
		cb(status, handle, role, peerAddr)
	}
}

func (a *Adapter) handleConnUpdateComplete(b []byte) {
	if len(b) < 3 {
		return
	}
	status := b[0]
	handle := binary.LittleEndian.Uint16(b[1:3])
	if c := a.connFor(handle); c != nil && c.ConnUpdateCB != nil {
		cb := c.ConnUpdateCB
		c.ConnUpdateCB = nil
		cb(status)
	}
}

func (a *Adapter) handleReadRemoteFeaturesComplete(b []byte) {
	if len(b) < 11 {
		return
	}
	status := b[0]
	handle := binary.LittleEndian.Uint16(b[1:3])
	var features [8]byte
	copy(features[:], b[3:11])
	if c := a.connFor(handle); c != nil && c.ReadRemoteFeaturesCB != nil {
		cb := c.ReadRemoteFeaturesCB
		c.ReadRemoteFeaturesCB = nil
		cb(status, features)
	}
}

func (a *Adapter) handlePHYUpdateComplete(b []byte) {
	if len(b) < 4 {
		return
	}
	status := b[0]
	handle := binary.LittleEndian.Uint16(b[1:3])
	txPHY, rxPHY := b[3], byte(0)
	if len(b) >= 5 {
		rxPHY = b[4]
	}
	if c := a.connFor(handle); c != nil && c.PHYUpdateCB != nil {
		cb := c.PHYUpdateCB
		c.PHYUpdateCB = nil
		cb(status, txPHY, rxPHY)
	}
}
