package gatt

import "github.com/nsriram/blehost/att"

// cccdRead implements spec.md §4.3's CCCD read rule: {value, 0x00}
// with ordinary offset slicing.
func (db *Db) cccdRead(conn *Conn, a *Attribute, offset int) ([]byte, att.Error) {
	ch, _ := a.owner.(*Characteristic)
	if ch == nil {
		return nil, att.ErrUnlikely
	}
	v := conn.cccdValue(ch)
	full := []byte{byte(v), 0x00}
	if offset > len(full) {
		return nil, att.ErrInvalidOffset
	}
	return full[offset:], att.Success
}

// cccdWrite implements spec.md §4.3's CCCD write rule: exactly 2
// bytes at offset 0, second byte zero, value in {0,1,2,3}; the
// notify/indicate bits each require the matching characteristic
// property; violations return CCCDImproperlyConfig. On change for a
// bonded connection the new value is persisted, and
// onSubscriptionChange fires with isWrite=true.
func (db *Db) cccdWrite(conn *Conn, a *Attribute, offset int, data []byte) att.Error {
	ch, _ := a.owner.(*Characteristic)
	if ch == nil {
		return att.ErrUnlikely
	}
	if offset != 0 || len(data) != 2 || data[1] != 0 {
		return att.ErrCCCDImproperlyConfig
	}
	v := CCCDValue(data[0])
	if v > CCCDNotifyIndic {
		return att.ErrCCCDImproperlyConfig
	}
	if v&CCCDNotify != 0 && ch.props&PropNotify == 0 {
		return att.ErrCCCDImproperlyConfig
	}
	if v&CCCDIndicate != 0 && ch.props&PropIndicate == 0 {
		return att.ErrCCCDImproperlyConfig
	}

	prev := conn.cccdValue(ch)
	conn.setCCCDValue(ch, v)

	if v != prev && conn.IsBonded() && db.store != nil {
		db.store.StoreCCCD(conn.PeerAddr(), ch.cccdHandle, byte(v))
	}

	if v != prev && ch.cap.onSubscribe != nil {
		ch.cap.onSubscribe(conn, v&CCCDNotify != 0, v&CCCDIndicate != 0, true)
	}
	return att.Success
}

// allCCCDCharacteristics returns every characteristic in the database
// that has an auto-inserted CCCD, for the connection lifecycle hooks
// below.
func (db *Db) allCCCDCharacteristics() []*Characteristic {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*Characteristic
	for _, s := range db.services {
		for _, c := range s.chars {
			if c.cccdHandle != 0 {
				out = append(out, c)
			}
		}
	}
	return out
}

// OnConnectedPhase1 loads a bonded peer's stored CCCD values into the
// connection's per-characteristic map, per spec.md §4.3. It must run
// before any ATT traffic on the connection.
func (db *Db) OnConnectedPhase1(conn *Conn) {
	if !conn.IsBonded() || db.store == nil {
		return
	}
	for _, ch := range db.allCCCDCharacteristics() {
		if v, ok := db.store.GetCCCD(conn.PeerAddr(), ch.cccdHandle); ok {
			conn.setCCCDValue(ch, CCCDValue(v))
		}
	}
}

// OnConnectedPhase2 fires onSubscriptionChange(conn, n, i, false) for
// every nonzero value restored by OnConnectedPhase1, per spec.md
// §4.3. It must run, and fully complete, before any other ATT
// traffic is processed on the connection.
func (db *Db) OnConnectedPhase2(conn *Conn) {
	for _, ch := range db.allCCCDCharacteristics() {
		v := conn.cccdValue(ch)
		if v != CCCDNone && ch.cap.onSubscribe != nil {
			ch.cap.onSubscribe(conn, v&CCCDNotify != 0, v&CCCDIndicate != 0, false)
		}
	}
}

// OnDisconnect removes the peer's CCCD entries and, if it had any
// nonzero subscription, fires onSubscriptionChange(conn, false,
// false, false), per spec.md §4.3.
func (db *Db) OnDisconnect(conn *Conn) {
	for _, ch := range db.allCCCDCharacteristics() {
		v := conn.cccdValue(ch)
		conn.setCCCDValue(ch, CCCDNone)
		if v != CCCDNone && ch.cap.onSubscribe != nil {
			ch.cap.onSubscribe(conn, false, false, false)
		}
	}
}

// OnBondEstablished persists the connection's current CCCD values for
// a peer that has just bonded mid-connection, per spec.md §4.3.
func (db *Db) OnBondEstablished(conn *Conn) {
	if db.store == nil {
		return
	}
	for _, ch := range db.allCCCDCharacteristics() {
		v := conn.cccdValue(ch)
		if v != CCCDNone {
			db.store.StoreCCCD(conn.PeerAddr(), ch.cccdHandle, byte(v))
		}
	}
}
