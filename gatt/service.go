package gatt

import "github.com/nsriram/blehost/uuid"

// Service is a user-facing container of characteristics, per
// spec.md §3. Calls to AddCharacteristic/AddIncludedService must
// occur before the service is passed to Db.AddServices; once placed,
// its startHandle/endHandle are assigned by the handle-placement
// algorithm.
type Service struct {
	uuid        uuid.UUID
	isSecondary bool

	chars    []*Characteristic
	includes []*Service // held as direct pointers (no slab or index indirection); handles are read at placement time.

	// startHandle/hint are the hint the embedder may request and the
	// start actually assigned by Db.AddServices.
	startHandleHint uint16
	startHandle     uint16
	endHandle       uint16
}

// NewService constructs an empty service. Pass isSecondary=true for
// a Secondary Service (0x2801) rather than Primary (0x2800).
func NewService(u uuid.UUID, isSecondary bool) *Service {
	return &Service{uuid: u, isSecondary: isSecondary}
}

// SetStartHandleHint requests a specific start handle; the placement
// algorithm honors it only if it fits inside an available gap, per
// spec.md §4.3.
func (s *Service) SetStartHandleHint(h uint16) { s.startHandleHint = h }

// AddCharacteristic adds a characteristic, panicking if the service
// already has one with the same UUID — the teacher's own contract
// violation, preserved per SPEC_FULL.md's ambient-error-handling
// section.
func (s *Service) AddCharacteristic(c *Characteristic) {
	for _, existing := range s.chars {
		if existing.uuid.Equal(c.uuid) {
			panic("gatt: service already contains a characteristic with uuid " + c.uuid.String())
		}
	}
	s.chars = append(s.chars, c)
}

// AddIncludedService references another service's declaration from
// this one (0x2802 Include).
func (s *Service) AddIncludedService(included *Service) {
	s.includes = append(s.includes, included)
}

// UUID returns the service's UUID.
func (s *Service) UUID() uuid.UUID { return s.uuid }

// StartHandle/EndHandle return the range assigned by the database.
// Valid only after the service has been placed.
func (s *Service) StartHandle() uint16 { return s.startHandle }
func (s *Service) EndHandle() uint16   { return s.endHandle }

// numberOfHandles computes 1 (decl) + |included| + Σ over
// characteristics of their own numberOfHandles, per spec.md §4.3.
func (s *Service) numberOfHandles() int {
	n := 1 + len(s.includes)
	for _, c := range s.chars {
		n += c.numberOfHandles()
	}
	return n
}
