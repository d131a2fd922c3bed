package gatt

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/uuid"
)

var (
	uuidPrimaryService   = uuid.UUID16(0x2800)
	uuidSecondaryService = uuid.UUID16(0x2801)
	uuidInclude          = uuid.UUID16(0x2802)
	uuidCharacteristic   = uuid.UUID16(0x2803)

	uuidGAP             = uuid.UUID16(0x1800)
	uuidGATT            = uuid.UUID16(0x1801)
	uuidDeviceName      = uuid.UUID16(0x2A00)
	uuidAppearance      = uuid.UUID16(0x2A01)
	uuidServiceChanged  = uuid.UUID16(0x2A05)
)

// CCCDStore is the narrow persistence surface Db needs for bonded
// CCCD restore/persist, per spec.md §4.3/§4.5. A *store.Store
// satisfies this interface structurally; gatt does not import store,
// avoiding a cycle (the host wires the concrete store in at
// construction, per spec.md §9's "explicit store object... passed
// down" redesign note).
type CCCDStore interface {
	StoreCCCD(peer string, handle uint16, value byte)
	GetCCCD(peer string, handle uint16) (byte, bool)
}

// Db is the GATT server's attribute database: handle placement,
// attribute read/write dispatch, and CCCD lifecycle, per spec.md §4.3.
type Db struct {
	mu sync.Mutex
	log *logrus.Entry

	attrs    map[uint16]*Attribute
	services []*Service // sorted by startHandle.

	store CCCDStore

	svcChanged *Characteristic
	deviceName *Characteristic
	appearance *Characteristic
}

// NewDb constructs an empty database seeded with the mandatory
// Generic Attribute (0x1801) and Generic Access (0x1800) services,
// per spec.md §4.3.
func NewDb(store CCCDStore) *Db {
	db := &Db{
		attrs: make(map[uint16]*Attribute),
		store: store,
		log:   logrus.WithField("component", "gatt"),
	}
	db.addMandatoryServices()
	return db
}

func (db *Db) addMandatoryServices() {
	gatt := NewService(uuidGATT, false)
	svcChanged, _ := NewCharacteristic(uuidServiceChanged, PropIndicate, 4, NotPermitted, NotPermitted)
	gatt.AddCharacteristic(svcChanged)
	db.svcChanged = svcChanged

	gap := NewService(uuidGAP, false)
	deviceName, _ := NewCharacteristic(uuidDeviceName, PropRead, 248, Open, NotPermitted)
	appearance, _ := NewCharacteristic(uuidAppearance, PropRead, 2, Open, NotPermitted)
	appearance.SetValue([]byte{0x00, 0x00}) // Unknown.
	gap.AddCharacteristic(deviceName)
	gap.AddCharacteristic(appearance)
	db.deviceName = deviceName
	db.appearance = appearance

	if err := db.addServicesLocked([]*Service{gap, gatt}); err != nil {
		panic("gatt: failed to place mandatory services: " + err.Error())
	}
}

// SetDeviceName sets the Generic Access Device Name characteristic
// value, per spec.md §9's Open Question decision: follow the legacy
// behavior of a real, bounded (248-byte) body rather than the
// modernized source's empty stub.
func (db *Db) SetDeviceName(name string) error {
	if len(name) > 248 {
		return invalidArg("name", "device name exceeds 248 bytes")
	}
	db.mu.Lock()
	db.deviceName.value = name
	if a := db.attrs[db.deviceName.valueHandle]; a != nil {
		a.value = name
	}
	db.mu.Unlock()
	return nil
}

// SetAppearance sets the Generic Access Appearance characteristic's
// 16-bit value.
func (db *Db) SetAppearance(v uint16) {
	b := []byte{byte(v), byte(v >> 8)}
	db.mu.Lock()
	db.appearance.value = b
	if a := db.attrs[db.appearance.valueHandle]; a != nil {
		a.value = b
	}
	db.mu.Unlock()
}

// GetSvccCharacteristic returns the Service Changed characteristic so
// the embedder can indicate against it after a database mutation.
func (db *Db) GetSvccCharacteristic() *Characteristic { return db.svcChanged }

// AddServices places the given services into the database, per
// spec.md §4.3's handle-placement algorithm. If any service in the
// batch cannot be placed, the whole batch is rolled back.
func (db *Db) AddServices(svcs ...*Service) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.addServicesLocked(svcs)
}

func (db *Db) addServicesLocked(svcs []*Service) error {
	attrsSnapshot := make(map[uint16]*Attribute, len(db.attrs))
	for h, a := range db.attrs {
		attrsSnapshot[h] = a
	}
	servicesSnapshot := append([]*Service(nil), db.services...)

	for _, s := range svcs {
		if err := db.placeOne(s); err != nil {
			db.attrs = attrsSnapshot
			db.services = servicesSnapshot
			return err
		}
	}
	return nil
}

// placeOne finds a gap for s and emits its attributes into db.attrs,
// per spec.md §4.3: "walk the current sorted service list using a
// sentinel end of 0xFFFF; scan gaps for one large enough."
func (db *Db) placeOne(s *Service) error {
	need := s.numberOfHandles()
	if need <= 0 || need > 0xFFFF {
		return invalidArg("service", "invalid handle count")
	}

	type gap struct{ start, end uint16 } // inclusive, [start,end]
	var gaps []gap
	cursor := uint32(1) // uint32 so a service ending at 0xFFFF doesn't wrap the scan to 0.
	for _, existing := range db.services {
		if uint32(existing.startHandle) > cursor {
			gaps = append(gaps, gap{uint16(cursor), existing.startHandle - 1})
		}
		cursor = uint32(existing.endHandle) + 1
	}
	// Sentinel: the space runs up to and including 0xFFFF.
	if cursor <= 0xFFFF {
		gaps = append(gaps, gap{uint16(cursor), 0xFFFF})
	}

	var chosen *gap
	if s.startHandleHint != 0 {
		for i := range gaps {
			g := gaps[i]
			if s.startHandleHint >= g.start && uint32(s.startHandleHint)+uint32(need)-1 <= uint32(g.end) {
				chosen = &gap{s.startHandleHint, g.end}
				break
			}
		}
	}
	if chosen == nil {
		for i := range gaps {
			g := gaps[i]
			if uint32(g.end)-uint32(g.start)+1 >= uint32(need) {
				chosen = &g
				break
			}
		}
	}
	if chosen == nil {
		return invalidArg("service", "no handle range large enough to place service")
	}

	start := chosen.start
	end := start + uint16(need) - 1
	s.startHandle = start
	s.endHandle = end

	for _, a := range db.buildAttributes(s, start) {
		db.attrs[a.handle] = a
	}

	db.services = append(db.services, s)
	sort.Slice(db.services, func(i, j int) bool { return db.services[i].startHandle < db.services[j].startHandle })
	return nil
}

// buildAttributes emits the attribute sequence for s starting at
// handle start, per spec.md §4.3's attribute-emission rules.
func (db *Db) buildAttributes(s *Service, start uint16) []*Attribute {
	var out []*Attribute
	n := start

	svcUUID := uuidPrimaryService
	grp := groupPrimary
	if s.isSecondary {
		svcUUID, grp = uuidSecondaryService, groupSecondary
	}
	svcAttr := &Attribute{
		kind: kindService, grp: grp, handle: n, uuid: svcUUID,
		value: s.uuid.Bytes(), readPerm: Open, writePerm: NotPermitted, owner: s,
	}
	out = append(out, svcAttr)
	n++

	for _, inc := range s.includes {
		val := []byte{byte(inc.startHandle), byte(inc.startHandle >> 8), byte(inc.endHandle), byte(inc.endHandle >> 8)}
		if short, ok := inc.uuid.Short(); ok {
			val = append(val, byte(short), byte(short>>8))
		}
		out = append(out, &Attribute{
			kind: kindInclude, handle: n, uuid: uuidInclude, value: val,
			readPerm: Open, writePerm: NotPermitted, owner: inc,
		})
		n++
	}

	for _, c := range s.chars {
		declHandle := n
		valueHandle := n + 1
		c.valueHandle = valueHandle

		props := byte(c.props)
		declVal := append([]byte{props, byte(valueHandle), byte(valueHandle >> 8)}, c.uuid.Bytes()...)
		out = append(out, &Attribute{
			kind: kindCharacteristic, handle: declHandle, uuid: uuidCharacteristic,
			value: declVal, readPerm: Open, writePerm: NotPermitted, owner: c,
		})

		valueAttr := &Attribute{
			kind: kindCharacteristicValue, handle: valueHandle, uuid: c.uuid,
			value: c.value, maxLen: c.maxLen, readPerm: c.readPerm, writePerm: c.writePerm,
			cap: c.cap, owner: c,
		}
		out = append(out, valueAttr)
		n = valueHandle + 1

		if c.needsCCCD() {
			c.cccdHandle = n
			out = append(out, &Attribute{
				kind: kindDescriptor, handle: n, uuid: uuidCCCD,
				value: []byte{0, 0}, maxLen: 2, readPerm: Open, writePerm: Open, owner: c,
			})
			n++
		}
		if ev := c.extendedPropsValue(); ev != nil {
			out = append(out, &Attribute{
				kind: kindDescriptor, handle: n, uuid: uuidExtProps,
				value: ev, maxLen: 2, readPerm: Open, writePerm: NotPermitted, owner: c,
			})
			n++
		}
		if c.userDesc != "" {
			out = append(out, &Attribute{
				kind: kindDescriptor, handle: n, uuid: uuidUserDesc,
				value: c.userDesc, maxLen: len(c.userDesc), readPerm: Open, writePerm: NotPermitted, owner: c,
			})
			n++
		}
		for _, d := range c.descs {
			out = append(out, &Attribute{
				kind: kindDescriptor, handle: n, uuid: d.uuid,
				value: d.value, maxLen: d.maxLen, readPerm: d.readPerm, writePerm: d.writePerm,
				cap: d.cap, owner: d,
			})
			n++
		}
	}

	svcAttr.groupEnd = n - 1
	s.endHandle = n - 1
	return out
}

// RemoveService splices s from the sorted service list and deletes
// every attribute in its range, truncating nothing else: gaps are
// simply left for future placement, per spec.md §4.3.
func (db *Db) RemoveService(s *Service) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for h := s.startHandle; h <= s.endHandle; h++ {
		delete(db.attrs, h)
	}
	for i, existing := range db.services {
		if existing == s {
			db.services = append(db.services[:i], db.services[i+1:]...)
			break
		}
	}
}

// RemoveAllServices removes every service, a bulk convenience the
// legacy original and paypal-gatt's Device interface both expose
// alongside single-service removal.
func (db *Db) RemoveAllServices() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range append([]*Service(nil), db.services...) {
		for h := s.startHandle; h <= s.endHandle; h++ {
			delete(db.attrs, h)
		}
	}
	db.services = nil
}

// attributeAt returns the attribute at handle, or nil.
func (db *Db) attributeAt(handle uint16) *Attribute {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.attrs[handle]
}

// servicesSorted returns the current sorted service list.
func (db *Db) servicesSorted() []*Service {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*Service(nil), db.services...)
}

// readAttribute implements spec.md §4.3's read dispatcher, already
// trimmed to at most maxReturn bytes (the caller passes MTU-1).
func (db *Db) readAttribute(conn *Conn, a *Attribute, offset, maxReturn int) ([]byte, att.Error) {
	if a.uuid.Equal(uuidCCCD) {
		return db.cccdRead(conn, a, offset)
	}

	if st := checkPermission(a.readPerm, conn, true); st != att.Success {
		return nil, st
	}
	if a.readPerm == Custom && a.cap.authorizeRead != nil {
		if st := a.cap.authorizeRead(conn); st != att.Success {
			return nil, st
		}
	}

	var full []byte
	switch {
	case a.cap.partialRead != nil:
		full = nil
		trimmed := a.cap.partialRead(conn, offset)
		if offset+len(trimmed) > a.maxLen && a.maxLen > 0 {
			return nil, att.ErrInvalidAttrValueLen
		}
		return clip(trimmed, maxReturn), att.Success
	case a.cap.read != nil:
		full = a.cap.read(conn)
	default:
		full = a.valueBytes()
	}

	if offset > len(full) {
		return nil, att.ErrInvalidOffset
	}
	return clip(full[offset:], maxReturn), att.Success
}

// writeAttribute implements spec.md §4.3's write dispatcher.
func (db *Db) writeAttribute(conn *Conn, a *Attribute, offset int, data []byte, needsResponse bool) att.Error {
	if a.uuid.Equal(uuidCCCD) {
		return db.cccdWrite(conn, a, offset, data)
	}

	if st := checkPermission(a.writePerm, conn, false); st != att.Success {
		return st
	}
	if a.writePerm == Custom && a.cap.authorizeWrite != nil {
		if st := a.cap.authorizeWrite(conn, data); st != att.Success {
			return st
		}
	}
	if a.maxLen > 0 && (offset > a.maxLen || offset+len(data) > a.maxLen) {
		return att.ErrInvalidAttrValueLen
	}

	switch {
	case a.cap.partialWrite != nil:
		return a.cap.partialWrite(conn, needsResponse, offset, data)
	case a.cap.write != nil:
		if offset != 0 {
			return att.ErrInvalidOffset
		}
		return a.cap.write(conn, data)
	default:
		if offset != 0 {
			return att.ErrInvalidOffset
		}
		a.setValueBytes(data)
		return att.Success
	}
}

func clip(b []byte, n int) []byte {
	if n >= 0 && len(b) > n {
		return b[:n]
	}
	return b
}
