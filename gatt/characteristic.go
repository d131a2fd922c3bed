package gatt

import "github.com/nsriram/blehost/uuid"

// Property is a characteristic property bit, per the BLE core spec
// table referenced by spec.md §3.
type Property uint8

const (
	PropBroadcast          Property = 1 << 0
	PropRead               Property = 1 << 1
	PropWriteWithoutResp   Property = 1 << 2
	PropWrite              Property = 1 << 3
	PropNotify             Property = 1 << 4
	PropIndicate           Property = 1 << 5
	PropSignedWrite        Property = 1 << 6
	PropExtendedProps      Property = 1 << 7
)

// extendedPropsWireReliableWrite/extendedPropsWireWritableAux are the
// two Extended Properties (0x2900) descriptor bits of spec.md §3:
// reliable-write and writable-auxiliaries. Neither has a bit of its
// own in the 8-bit property byte; SetReliableWrite and
// SetWritableAuxiliaries set them as characteristic-builder flags,
// and either one forces an auto-inserted 0x2900 descriptor.
const extendedPropsWireReliableWrite uint16 = 1 << 0
const extendedPropsWireWritableAux uint16 = 1 << 1

// CCCDValue is the two-bit Client Characteristic Configuration value:
// bit 0 enables notifications, bit 1 enables indications.
type CCCDValue uint8

const (
	CCCDNone        CCCDValue = 0
	CCCDNotify      CCCDValue = 1
	CCCDIndicate    CCCDValue = 2
	CCCDNotifyIndic CCCDValue = 3
)

// Characteristic is the user-facing builder for one GATT
// characteristic, per spec.md §3. Calls to AddDescriptor, the Handle*
// registrations (HandleRead, HandleWrite, HandleSubscriptionChange,
// ...), and the property-setting constructor
// arguments must happen before the owning Service is passed to
// Db.AddServices.
type Characteristic struct {
	uuid         uuid.UUID
	props        Property
	reliableWrite bool
	writableAux   bool

	value     interface{}
	maxLen    int
	readPerm  Permission
	writePerm Permission

	descs       []*Descriptor
	userDesc    string

	cap capability

	// cccd is allocated by NewCharacteristic but nothing in this
	// package reads or writes it: per-connection subscription values
	// are kept in Conn (see Conn.cccdValue/setCCCDValue).
	cccd map[*Conn]CCCDValue

	// assigned once the owning service is placed in the database.
	valueHandle uint16
	cccdHandle  uint16 // 0 if none.
}

// NewCharacteristic constructs a characteristic with the given
// properties. props must not include authenticated-signed-writes,
// which spec.md §3 says is rejected outright at add time.
func NewCharacteristic(u uuid.UUID, props Property, maxLen int, readPerm, writePerm Permission) (*Characteristic, error) {
	if props&PropSignedWrite != 0 {
		return nil, invalidArg("props", "authenticated-signed-writes is rejected at add time")
	}
	if props&PropRead != 0 && readPerm == NotPermitted {
		return nil, invalidArg("readPerm", "read property set requires readPerm != NotPermitted")
	}
	if props&(PropWrite|PropWriteWithoutResp) != 0 && writePerm == NotPermitted {
		return nil, invalidArg("writePerm", "a write property is set but writePerm == NotPermitted")
	}
	return &Characteristic{
		uuid: u, props: props, maxLen: maxLen, readPerm: readPerm, writePerm: writePerm,
		cccd: make(map[*Conn]CCCDValue),
	}, nil
}

// SetValue sets the characteristic's static stored value.
func (c *Characteristic) SetValue(v []byte) { c.value = v }

// SetReliableWrite/SetWritableAuxiliaries mark the two extended
// property bits that force an auto-inserted 0x2900 descriptor, per
// spec.md §3.
func (c *Characteristic) SetReliableWrite(v bool)      { c.reliableWrite = v }
func (c *Characteristic) SetWritableAuxiliaries(v bool) { c.writableAux = v }

// SetUserDescription attaches a read-only 0x2901 descriptor with s as
// its UTF-8 value — a supplement beyond spec.md §3's named descriptor
// set, grounded on andrewarrow-auraphone-blue's service_builder.go.
func (c *Characteristic) SetUserDescription(s string) { c.userDesc = s }

// AddDescriptor attaches a user-supplied descriptor. Supplying 0x2902
// or 0x2900 directly is rejected: both are auto-managed, per
// spec.md §3/§4.3.
func (c *Characteristic) AddDescriptor(d *Descriptor) error {
	if d.uuid.Equal(uuidCCCD) {
		return invalidArg("descriptor", "0x2902 (CCCD) is auto-inserted and must not be user-supplied")
	}
	if d.uuid.Equal(uuidExtProps) {
		return invalidArg("descriptor", "0x2900 (Extended Properties) is auto-inserted and must not be user-supplied")
	}
	for _, existing := range c.descs {
		if existing.uuid.Equal(d.uuid) {
			panic("gatt: characteristic already contains a descriptor with uuid " + d.uuid.String())
		}
	}
	c.descs = append(c.descs, d)
	return nil
}

func (c *Characteristic) HandleAuthorizeRead(f AuthorizeReadFunc) { c.cap.authorizeRead = f }
func (c *Characteristic) HandleRead(f ReadFunc)                   { c.cap.read = f }
func (c *Characteristic) HandlePartialRead(f PartialReadFunc)     { c.cap.partialRead = f }
func (c *Characteristic) HandleAuthorizeWrite(f AuthorizeWriteFunc) {
	c.cap.authorizeWrite = f
	c.writePerm = Custom
}
func (c *Characteristic) HandleWrite(f WriteFunc)               { c.cap.write = f }
func (c *Characteristic) HandlePartialWrite(f PartialWriteFunc) { c.cap.partialWrite = f }
func (c *Characteristic) HandleSubscriptionChange(f SubscriptionChangeFunc) {
	c.cap.onSubscribe = f
}

// UUID returns the characteristic's UUID.
func (c *Characteristic) UUID() uuid.UUID { return c.uuid }

// needsCCCD reports whether notify or indicate is set, per spec.md
// §4.3's auto-descriptor rule.
func (c *Characteristic) needsCCCD() bool {
	return c.props&(PropNotify|PropIndicate) != 0
}

// extendedPropsValue returns the two-byte wire value for an
// auto-inserted 0x2900, or nil if neither extended bit is set.
func (c *Characteristic) extendedPropsValue() []byte {
	var v uint16
	if c.reliableWrite {
		v |= extendedPropsWireReliableWrite
	}
	if c.writableAux {
		v |= extendedPropsWireWritableAux
	}
	if v == 0 {
		return nil
	}
	return []byte{byte(v), byte(v >> 8)}
}

// numberOfHandles is the characteristic declaration + value + every
// descriptor it will emit, per spec.md §4.3's handle-placement sizing
// rule; it must match what buildAttributes actually emits.
func (c *Characteristic) numberOfHandles() int {
	n := 2 // declaration + value
	n += len(c.descs)
	if c.needsCCCD() {
		n++
	}
	if c.extendedPropsValue() != nil {
		n++
	}
	if c.userDesc != "" {
		n++
	}
	return n
}
