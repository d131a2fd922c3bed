package gatt

import (
	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/uuid"
)

// attrKind distinguishes the wire role an Attribute plays in the
// database; it is an implementation detail, not part of the public
// service-builder API.
type attrKind int

const (
	kindService attrKind = iota
	kindInclude
	kindCharacteristic
	kindCharacteristicValue
	kindDescriptor
)

// groupType tags a service-declaration attribute as primary or
// secondary, mirroring the Attribute interface shape in
// currantlabs-ble's attr.go rather than re-deriving the distinction
// from UUID equality on every Read By Group Type request.
type groupType int

const (
	groupNone groupType = iota
	groupPrimary
	groupSecondary
)

// AuthorizeReadFunc is invoked once, before any Read/PartialRead
// capability, when the attribute's read permission is Custom.
type AuthorizeReadFunc func(conn *Conn) att.Error

// ReadFunc returns the full current value of an attribute.
type ReadFunc func(conn *Conn) []byte

// PartialReadFunc returns the value already trimmed to start at
// offset; the caller still validates offset+len against maxLength.
type PartialReadFunc func(conn *Conn, offset int) []byte

// AuthorizeWriteFunc is invoked once, before any Write/PartialWrite
// capability, when the attribute's write permission is Custom.
type AuthorizeWriteFunc func(conn *Conn, data []byte) att.Error

// WriteFunc stores data at offset 0; any nonzero offset is rejected
// by the dispatcher before this is called.
type WriteFunc func(conn *Conn, data []byte) att.Error

// PartialWriteFunc stores data at the given offset, with
// needsResponse indicating whether the request expects a response.
type PartialWriteFunc func(conn *Conn, needsResponse bool, offset int, data []byte) att.Error

// SubscriptionChangeFunc fires whenever a connection's CCCD state for
// a characteristic changes, including the synthetic disconnect and
// bonded-reconnect-restore firings described in spec.md §4.3.
type SubscriptionChangeFunc func(conn *Conn, notify, indicate, isWrite bool)

// capability is the resolved-at-construction handler set of spec.md
// §9's "capability interface" redesign: an attribute exposes zero or
// more of these, fixed once at service-build time rather than probed
// per PDU.
type capability struct {
	authorizeRead  AuthorizeReadFunc
	read           ReadFunc
	partialRead    PartialReadFunc
	authorizeWrite AuthorizeWriteFunc
	write          WriteFunc
	partialWrite   PartialWriteFunc
	onSubscribe    SubscriptionChangeFunc
}

// Attribute is the fundamental GATT server entity: a handle, a UUID,
// a stored value, permissions, and an optional capability set, per
// spec.md §3.
type Attribute struct {
	kind attrKind
	grp  groupType

	handle   uint16
	groupEnd uint16 // only meaningful for kindService

	uuid  uuid.UUID
	value interface{} // []byte or string; string round-trips on write-back.

	maxLen   int
	readPerm Permission
	writePerm Permission

	cap capability

	// owner links back to the Characteristic/Service/Descriptor the
	// attribute was emitted for, used by opcode handlers that need
	// the richer type (e.g. CCCD dispatch needs the Characteristic).
	owner interface{}
}

func (a *Attribute) valueBytes() []byte {
	switch v := a.value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// setValueBytes preserves the prior type tag on write-back, per
// spec.md §4.3's write dispatcher rule.
func (a *Attribute) setValueBytes(b []byte) {
	if _, wasString := a.value.(string); wasString {
		a.value = string(b)
		return
	}
	a.value = b
}
