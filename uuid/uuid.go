// Package uuid implements the 16-bit and 128-bit UUID encoding rules
// used throughout the Bluetooth Attribute Protocol: UUIDs travel on
// the wire little-endian and are canonicalized to their full 128-bit
// form for comparison.
package uuid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	guuid "github.com/google/uuid"
)

// bleBase is the Bluetooth SIG base UUID. A 16-bit UUID u expands to
// 0000uuuu-0000-1000-8000-00805F9B34FB.
var bleBase = guuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

// UUID is a Bluetooth attribute UUID. The zero value is not a valid
// UUID. b holds the little-endian wire bytes, either 2 or 16 long.
type UUID struct {
	b []byte
}

// UUID16 constructs the canonical 16-bit UUID for i, e.g. UUID16(0x1800)
// for the Generic Access service.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID{b: b}
}

// UUID128 wraps g as a 128-bit attribute UUID, storing it little-endian
// as required on the wire.
func UUID128(g guuid.UUID) UUID {
	be, _ := g.MarshalBinary() // big-endian per RFC 4122
	return UUID{b: reverse(be)}
}

// Parse parses a UUID string in either short ("1800") or full
// ("34DA3AD1-7110-41A1-B1EF-4430F509CDE7") form.
func Parse(s string) (UUID, error) {
	s = strings.ReplaceAll(s, "-", "")
	switch len(s) {
	case 4:
		var v uint16
		if _, err := fmt.Sscanf(s, "%04x", &v); err != nil {
			return UUID{}, fmt.Errorf("uuid: parse %q: %w", s, err)
		}
		return UUID16(v), nil
	case 32:
		g, err := guuid.Parse(s)
		if err != nil {
			return UUID{}, fmt.Errorf("uuid: parse %q: %w", s, err)
		}
		return UUID128(g), nil
	default:
		return UUID{}, fmt.Errorf("uuid: %q is not a 16-bit or 128-bit UUID", s)
	}
}

// MustParse is Parse but panics on error; intended for package-level
// UUID table initialization, the same usage the teacher reserves for
// its UUID constants.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// FromWire constructs a UUID directly from little-endian wire bytes of
// length 2 or 16. It does not copy b's backing storage on the caller's
// behalf; pass a slice the caller no longer mutates.
func FromWire(b []byte) (UUID, error) {
	switch len(b) {
	case 2, 16:
		cp := make([]byte, len(b))
		copy(cp, b)
		return UUID{b: cp}, nil
	default:
		return UUID{}, fmt.Errorf("uuid: invalid wire length %d", len(b))
	}
}

// IsZero reports whether u is the unset zero value.
func (u UUID) IsZero() bool { return u.b == nil }

// Len returns the wire length of u: 2 or 16.
func (u UUID) Len() int { return len(u.b) }

// Bytes returns the little-endian wire encoding of u. The caller must
// not mutate the returned slice.
func (u UUID) Bytes() []byte { return u.b }

// Short returns the 16-bit short form and true if u is natively a
// 16-bit UUID, or if its 128-bit expansion falls inside the
// Bluetooth SIG base UUID range.
func (u UUID) Short() (uint16, bool) {
	if len(u.b) == 2 {
		return binary.LittleEndian.Uint16(u.b), true
	}
	full := u.canonical128()
	if !bytes.Equal(full[4:], bleBase[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint16(full[2:4]), full[0] == 0 && full[1] == 0
}

// canonical128 returns u expanded to its full 128-bit, big-endian
// (RFC 4122) form for comparison and formatting.
func (u UUID) canonical128() guuid.UUID {
	if len(u.b) == 16 {
		var g guuid.UUID
		copy(g[:], reverse(u.b))
		return g
	}
	g := bleBase
	short := binary.LittleEndian.Uint16(u.b)
	binary.BigEndian.PutUint16(g[2:4], short)
	return g
}

// Equal reports whether u and v denote the same attribute UUID,
// comparing their canonical 128-bit forms so a 16-bit UUID compares
// equal to its 128-bit SIG-base expansion.
func (u UUID) Equal(v UUID) bool {
	if u.IsZero() || v.IsZero() {
		return u.IsZero() == v.IsZero()
	}
	if len(u.b) == len(v.b) {
		return bytes.Equal(u.b, v.b)
	}
	return u.canonical128() == v.canonical128()
}

// String renders u in the conventional hex form: "1800" for short
// UUIDs, full dashed form for 128-bit ones.
func (u UUID) String() string {
	if u.IsZero() {
		return "<zero>"
	}
	if len(u.b) == 2 {
		return fmt.Sprintf("%04x", binary.LittleEndian.Uint16(u.b))
	}
	return u.canonical128().String()
}

// reverse returns a reversed copy of b.
func reverse(b []byte) []byte {
	n := len(b)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = b[n-1-i]
	}
	return out
}

// Contains reports whether u is present in list, matching by Equal.
// A nil list means "accept anything", matching the teacher's
// Contains helper.
func Contains(list []UUID, u UUID) bool {
	if list == nil {
		return true
	}
	for _, v := range list {
		if v.Equal(u) {
			return true
		}
	}
	return false
}
