package gatt

import "github.com/nsriram/blehost/uuid"

var (
	uuidCCCD        = uuid.UUID16(0x2902)
	uuidExtProps    = uuid.UUID16(0x2900)
	uuidUserDesc    = uuid.UUID16(0x2901)
)

// Descriptor is a user-added characteristic descriptor. 0x2902 (CCCD)
// and 0x2900 (Extended Properties) are auto-managed by the database
// and must not be added through this constructor, per spec.md §3/§4.3.
type Descriptor struct {
	uuid      uuid.UUID
	value     interface{}
	maxLen    int
	readPerm  Permission
	writePerm Permission
	cap       capability
}

// NewDescriptor builds a read-only descriptor with a static value.
// Use Characteristic.AddDescriptor to attach it.
func NewDescriptor(u uuid.UUID, value []byte) *Descriptor {
	return &Descriptor{uuid: u, value: value, maxLen: len(value), readPerm: Open, writePerm: NotPermitted}
}

// HandleAuthorizeRead, HandleRead, HandlePartialRead, HandleAuthorizeWrite,
// HandleWrite, and HandlePartialWrite register the descriptor's
// capability set, resolved once here rather than probed per PDU, per
// spec.md §9's capability-interface redesign.
func (d *Descriptor) HandleAuthorizeRead(f AuthorizeReadFunc) { d.cap.authorizeRead = f }
func (d *Descriptor) HandleRead(f ReadFunc)                   { d.cap.read = f }
func (d *Descriptor) HandlePartialRead(f PartialReadFunc)     { d.cap.partialRead = f }
func (d *Descriptor) HandleAuthorizeWrite(f AuthorizeWriteFunc) {
	d.cap.authorizeWrite = f
	d.writePerm = Custom
}
func (d *Descriptor) HandleWrite(f WriteFunc)               { d.cap.write = f }
func (d *Descriptor) HandlePartialWrite(f PartialWriteFunc) { d.cap.partialWrite = f }

// SetPermissions overrides the default Open/NotPermitted permissions.
func (d *Descriptor) SetPermissions(read, write Permission) {
	d.readPerm, d.writePerm = read, write
}

// UUID returns the descriptor's UUID.
func (d *Descriptor) UUID() uuid.UUID { return d.uuid }
