package store

import (
	"crypto/aes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestConstructAddress(t *testing.T) {
	addr := ConstructAddress(0x01, [6]byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33})
	assert.Equal(t, "01-AABBCC-112233", addr)
}

func TestStoreKeysRoundTrip(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"
	peer := "peer-1"

	irk := make([]byte, 16)
	for i := range irk {
		irk[i] = byte(i)
	}
	local := &LTK{Rand: "0011", EDiv: 7, LTK: "aabb"}
	peerLTK := &LTK{Rand: "2233", EDiv: 9, LTK: "ccdd"}

	require.NoError(t, s.StoreKeys(own, peer, true, false, irk, local, peerLTK))

	mitm, sc, gotIRK, gotLocal, gotPeer, ok := s.GetKeys(own, peer)
	require.True(t, ok)
	assert.True(t, mitm)
	assert.False(t, sc)
	assert.Equal(t, irk, gotIRK)
	assert.Equal(t, local, gotLocal)
	assert.Equal(t, peerLTK, gotPeer)

	// A fresh Store pointed at the same directory must reload from disk.
	s2 := NewStore(s.baseDir)
	_, _, _, gotLocal2, _, ok2 := s2.GetKeys(own, peer)
	require.True(t, ok2)
	assert.Equal(t, local, gotLocal2)
}

func TestGetKeysMissingPeer(t *testing.T) {
	s := tempStore(t)
	_, _, _, _, _, ok := s.GetKeys("own", "nobody")
	assert.False(t, ok)
}

func TestStoreCCCDWritesOnlyOnChange(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"
	peer := "peer-1"

	s.StoreCCCD(own, peer, 0x0012, 0x01)
	v, ok := s.GetCCCD(own, peer, 0x0012)
	require.True(t, ok)
	assert.EqualValues(t, 0x01, v)

	path := filepath.Join(s.baseDir, own, "bonds", peer, "gatt_server_cccds", "0012.json")
	info1, err := os.Stat(path)
	require.NoError(t, err)

	// Re-storing the same value must not rewrite the file.
	s.StoreCCCD(own, peer, 0x0012, 0x01)
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())

	// A changed value does get persisted and is observable after reload.
	s.StoreCCCD(own, peer, 0x0012, 0x02)
	s2 := NewStore(s.baseDir)
	v2, ok2 := s2.GetCCCD(own, peer, 0x0012)
	require.True(t, ok2)
	assert.EqualValues(t, 0x02, v2)
}

func TestStoreGattCacheBondedVsUnbonded(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"

	s.StoreGattCache(own, "bonded-peer", true, []byte(`{"services":[]}`))
	b, ok := s.GetGattCache(own, "bonded-peer", true)
	require.True(t, ok)
	assert.Contains(t, string(b), `"services"`)
	assert.Contains(t, string(b), `"timestamp"`)

	s.StoreGattCache(own, "unbonded-peer", false, []byte(`{"services":[]}`))
	b2, ok2 := s.GetGattCache(own, "unbonded-peer", false)
	require.True(t, ok2)
	assert.Contains(t, string(b2), `"timestamp"`)

	// Querying the wrong bucket for an existing peer finds nothing.
	_, ok3 := s.GetGattCache(own, "bonded-peer", false)
	assert.False(t, ok3)
}

func TestStoreGattCacheUnbondedEvictionDeletesFile(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"

	for i := 0; i < unbondedCacheCapacity+5; i++ {
		peer := fmt.Sprintf("peer-%03d", i)
		s.StoreGattCache(own, peer, false, []byte(`{}`))
	}

	st := s.ownFor(own)
	assert.LessOrEqual(t, st.unbonded.Len(), unbondedCacheCapacity)

	_, ok := s.GetGattCache(own, "peer-000", false)
	assert.False(t, ok, "oldest unbonded entry should have been evicted")

	evictedPath := s.unbondedCachePath(st.dir, "peer-000")
	_, err := os.Stat(evictedPath)
	assert.True(t, os.IsNotExist(err), "evicted unbonded cache file should be removed from disk")
}

func TestRemoveBond(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"
	peer := "peer-1"

	require.NoError(t, s.StoreKeys(own, peer, false, true, nil, nil, nil))
	s.StoreCCCD(own, peer, 4, 1)
	s.StoreGattCache(own, peer, true, []byte(`{}`))

	require.NoError(t, s.RemoveBond(own, peer))

	_, _, _, _, _, ok := s.GetKeys(own, peer)
	assert.False(t, ok)
	_, ok = s.GetCCCD(own, peer, 4)
	assert.False(t, ok)
	_, ok = s.GetGattCache(own, peer, true)
	assert.False(t, ok)

	_, err := os.Stat(filepath.Join(s.baseDir, own, "bonds", peer))
	assert.True(t, os.IsNotExist(err))
}

// ahReference independently computes the BLE "ah" function the same way
// a correct implementation must, used here only as a known-vector check
// against ResolveAddress, not against any internal helper.
func ahReference(irk, prand []byte) []byte {
	key := make([]byte, 16)
	for i := 0; i < 16; i++ {
		key[i] = irk[15-i]
	}
	block, _ := aes.NewCipher(key)
	r := make([]byte, 16)
	copy(r[13:16], prand)
	ct := make([]byte, 16)
	block.Encrypt(ct, r)
	return ct[13:16]
}

func TestResolveAddressMatchesKnownIRK(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"
	peer := "peer-1"

	irk := make([]byte, 16)
	for i := range irk {
		irk[i] = byte(0xA0 + i)
	}
	require.NoError(t, s.StoreKeys(own, peer, false, false, irk, nil, nil))

	prand := []byte{0x01, 0x02, 0x03}
	hash := ahReference(irk, prand)
	addrStr := fmt.Sprintf("01:%02x:%02x:%02x:%02x:%02x:%02x",
		prand[0], prand[1], prand[2], hash[0], hash[1], hash[2])

	got, ok := s.ResolveAddress(own, addrStr)
	require.True(t, ok)
	assert.Equal(t, peer, got)
}

func TestResolveAddressNoMatch(t *testing.T) {
	s := tempStore(t)
	own := "00-000000-000000"
	irk := make([]byte, 16)
	require.NoError(t, s.StoreKeys(own, "peer-1", false, false, irk, nil, nil))

	_, ok := s.ResolveAddress(own, "01:ff:ff:ff:ff:ff:ff")
	assert.False(t, ok)
}

func TestResolveAddressMalformed(t *testing.T) {
	s := tempStore(t)
	_, ok := s.ResolveAddress("own", "not-an-address")
	assert.False(t, ok)
}

func TestParseHandleHex(t *testing.T) {
	h, ok := parseHandleHex("0012")
	require.True(t, ok)
	assert.EqualValues(t, 0x0012, h)

	_, ok = parseHandleHex("zz")
	assert.False(t, ok)

	_, ok = parseHandleHex("01")
	assert.False(t, ok)
}

func TestBoundCCCDStore(t *testing.T) {
	s := tempStore(t)
	b := BoundCCCDStore(s, "own")
	b.StoreCCCD("peer", 9, 3)
	v, ok := b.GetCCCD("peer", 9)
	require.True(t, ok)
	assert.EqualValues(t, 3, v)
}

func TestBoundGattCachePersister(t *testing.T) {
	s := tempStore(t)
	b := BoundGattCachePersister(s, "own")
	b.StoreGattCache("peer", true, []byte(`{}`))
	blob, ok := b.GetGattCache("peer", true)
	require.True(t, ok)
	assert.Contains(t, string(blob), "timestamp")
}

func TestStoreKeysWithoutIRK(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.StoreKeys("own", "peer", true, true, nil, nil, nil))
	_, _, irk, _, _, ok := s.GetKeys("own", "peer")
	require.True(t, ok)
	assert.Nil(t, irk)
}

func TestMergeTimestampPreservesFields(t *testing.T) {
	out := mergeTimestamp([]byte(`{"a":1}`), []byte(`{"timestamp":123}`))
	assert.Contains(t, string(out), `"a":1`)
	assert.Contains(t, string(out), `"timestamp":123`)
}

func TestMergeTimestampInvalidBlobPassthrough(t *testing.T) {
	out := mergeTimestamp([]byte("not json"), []byte(`{"timestamp":1}`))
	assert.Equal(t, []byte("not json"), out)
}
