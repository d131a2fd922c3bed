package gatt

import (
	"testing"

	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/uuid"
)

type fakeCCCDStore struct {
	values map[string]map[uint16]byte
}

func newFakeCCCDStore() *fakeCCCDStore {
	return &fakeCCCDStore{values: make(map[string]map[uint16]byte)}
}

func (f *fakeCCCDStore) StoreCCCD(peer string, handle uint16, value byte) {
	if f.values[peer] == nil {
		f.values[peer] = make(map[uint16]byte)
	}
	f.values[peer][handle] = value
}

func (f *fakeCCCDStore) GetCCCD(peer string, handle uint16) (byte, bool) {
	v, ok := f.values[peer][handle]
	return v, ok
}

func testConn() *Conn {
	return NewConn(1, 0, nil, func([]byte) {})
}

func TestNewDbSeedsMandatoryServices(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	svcs := db.servicesSorted()
	if len(svcs) != 2 {
		t.Fatalf("len(servicesSorted()) = %d; want 2 (GAP + GATT)", len(svcs))
	}
	if svcs[0].startHandle != 1 {
		t.Fatalf("first service should start at handle 1, got %d", svcs[0].startHandle)
	}
}

func TestSetDeviceNameRejectsOversizedName(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	long := make([]byte, 249)
	for i := range long {
		long[i] = 'a'
	}
	if err := db.SetDeviceName(string(long)); err == nil {
		t.Fatal("a 249-byte device name must be rejected")
	}
}

func TestSetDeviceNameAndAppearance(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	if err := db.SetDeviceName("gopher"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	db.SetAppearance(0x0080)

	conn := testConn()
	valueAttr := db.attributeAt(db.deviceName.valueHandle)
	v, st := db.readAttribute(conn, valueAttr, 0, 512)
	if st != att.Success {
		t.Fatalf("read device name status = %v", st)
	}
	if string(v) != "gopher" {
		t.Fatalf("device name = %q; want gopher", v)
	}
}

func TestAddServicesPlacesAfterMandatoryServices(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	before := db.servicesSorted()
	lastEnd := before[len(before)-1].endHandle

	svc := NewService(uuid.UUID16(0x1234), false)
	ch, _ := NewCharacteristic(uuid.UUID16(0x5678), PropRead, 4, Open, NotPermitted)
	svc.AddCharacteristic(ch)

	if err := db.AddServices(svc); err != nil {
		t.Fatalf("AddServices: %v", err)
	}
	if svc.startHandle <= lastEnd {
		t.Fatalf("new service should be placed after the mandatory services: start=%d lastEnd=%d", svc.startHandle, lastEnd)
	}
	if svc.endHandle != svc.startHandle+2 {
		t.Fatalf("endHandle = %d; want startHandle+2 (decl, decl, value)", svc.endHandle)
	}
}

func TestAddServicesRollsBackWholeBatchOnFailure(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	db.RemoveAllServices()

	// Simulate an almost-full address space: only handle 0xFFFF is free.
	filler := NewService(uuid.UUID16(0x1111), false)
	filler.startHandle, filler.endHandle = 1, 0xFFFE
	db.services = append(db.services, filler)

	fits := NewService(uuid.UUID16(0x2222), false) // needs 1 handle: fits in {0xFFFF,0xFFFF}.
	tooBig := NewService(uuid.UUID16(0x3333), false)
	ch, _ := NewCharacteristic(uuid.UUID16(0x4444), PropRead, 4, Open, NotPermitted)
	tooBig.AddCharacteristic(ch) // needs 2 handles: no gap left once fits is placed.

	beforeServices := len(db.servicesSorted())
	err := db.AddServices(fits, tooBig)
	if err == nil {
		t.Fatal("expected placement of tooBig to fail once the address space is exhausted")
	}
	if len(db.servicesSorted()) != beforeServices {
		t.Fatalf("a failed batch must not partially place services: got %d services, want %d",
			len(db.servicesSorted()), beforeServices)
	}
	if db.attributeAt(0xFFFF) != nil {
		t.Fatal("fits's attribute must have been rolled back along with the batch")
	}
}

func TestReadWriteAttributeDispatch(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	svc := NewService(uuid.UUID16(0x1234), false)
	ch, _ := NewCharacteristic(uuid.UUID16(0x5678), PropRead|PropWrite, 16, Open, Open)
	svc.AddCharacteristic(ch)
	if err := db.AddServices(svc); err != nil {
		t.Fatalf("AddServices: %v", err)
	}

	valueAttr := db.attributeAt(ch.valueHandle)
	if valueAttr == nil {
		t.Fatal("value attribute missing after placement")
	}

	conn := testConn()
	if st := db.writeAttribute(conn, valueAttr, 0, []byte("hello"), true); st != att.Success {
		t.Fatalf("write status = %v", st)
	}
	got, st := db.readAttribute(conn, valueAttr, 0, 512)
	if st != att.Success {
		t.Fatalf("read status = %v", st)
	}
	if string(got) != "hello" {
		t.Fatalf("read back = %q; want hello", got)
	}
}

func TestReadAttributeNotPermitted(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	svc := NewService(uuid.UUID16(0x1234), false)
	ch, _ := NewCharacteristic(uuid.UUID16(0x5678), PropWrite, 16, NotPermitted, Open)
	svc.AddCharacteristic(ch)
	if err := db.AddServices(svc); err != nil {
		t.Fatalf("AddServices: %v", err)
	}
	valueAttr := db.attributeAt(ch.valueHandle)
	conn := testConn()
	if _, st := db.readAttribute(conn, valueAttr, 0, 512); st != att.ErrReadNotPermitted {
		t.Fatalf("read status = %v; want ErrReadNotPermitted", st)
	}
}

func TestRemoveServiceFreesHandles(t *testing.T) {
	db := NewDb(newFakeCCCDStore())
	svc := NewService(uuid.UUID16(0x1234), false)
	ch, _ := NewCharacteristic(uuid.UUID16(0x5678), PropRead, 4, Open, NotPermitted)
	svc.AddCharacteristic(ch)
	if err := db.AddServices(svc); err != nil {
		t.Fatalf("AddServices: %v", err)
	}
	start := svc.startHandle

	db.RemoveService(svc)
	if db.attributeAt(start) != nil {
		t.Fatal("attributes must be gone after RemoveService")
	}
	for _, s := range db.servicesSorted() {
		if s == svc {
			t.Fatal("removed service must not remain in the sorted service list")
		}
	}
}
