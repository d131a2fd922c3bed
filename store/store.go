// Package store implements the on-disk persistence layer of spec.md
// §4.5: pairing keys, GATT server CCCD values, and GATT client
// discovery caches, rooted under one directory per own (local)
// Bluetooth address.
package store

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const unbondedCacheCapacity = 50

// LTK is a long-term key record, serialized as rand/ediv/ltk per
// spec.md §4.5's keys.json shape.
type LTK struct {
	Rand string `json:"rand"`
	EDiv int    `json:"ediv"`
	LTK  string `json:"ltk"`
}

type keysRecord struct {
	MITM     bool    `json:"mitm"`
	SC       bool    `json:"sc"`
	IRK      *string `json:"irk"`
	LocalLTK *LTK    `json:"localLtk"`
	PeerLTK  *LTK    `json:"peerLtk"`
}

type cccdFile struct {
	Value byte `json:"value"`
}

type gattCacheEnvelope struct {
	Timestamp int64           `json:"timestamp"`
	Blob      json.RawMessage `json:"-"`
}

// ownState is the fully-loaded in-memory view for one own-address
// root, populated lazily by loadOwn per spec.md §4.5's init(own) rule.
type ownState struct {
	mu   sync.Mutex
	dir  string
	keys map[string]*keysRecord
	cccd map[string]map[uint16]byte

	bondedGattCache map[string][]byte
	unbonded        *lru.Cache // peer -> []byte
}

// Store is the per-process, per-own-address persistence root of
// spec.md §4.5. Construct one per local controller address; the
// package does not support concurrent access from multiple process
// instances to the same baseDir, matching spec.md §5's shared-resource
// note.
type Store struct {
	baseDir string
	log     *logrus.Entry

	mu   sync.Mutex
	owns map[string]*ownState
}

// NewStore roots persistence at baseDir. It creates no directory
// itself; each write creates the directories it needs.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		log:     logrus.WithField("component", "store"),
		owns:    make(map[string]*ownState),
	}
}

// constructAddress renders a 7-byte address (type byte + 6 address
// bytes, MSB first as the wire type-tag convention) into the
// "TT-AA-AA-AA-BB-BB-BB" directory-name form of spec.md §4.5.
func constructAddress(addrType byte, addr [6]byte) string {
	return strings.ToUpper(hex.EncodeToString([]byte{addrType})) + "-" +
		strings.ToUpper(hex.EncodeToString(addr[:3])) + "-" +
		strings.ToUpper(hex.EncodeToString(addr[3:]))
}

// ConstructAddress is the exported form of constructAddress, named in
// spec.md §6's public API list.
func ConstructAddress(addrType byte, addr [6]byte) string { return constructAddress(addrType, addr) }

func (s *Store) ownFor(own string) *ownState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.owns[own]
	if !ok {
		st = s.loadOwn(own)
		s.owns[own] = st
	}
	return st
}

// loadOwn implements spec.md §4.5's init(own): reads every keys.json,
// CCCD file, and GATT cache file under own's root, validates the CCCD
// value domain, and seeds the unbonded-cache LRU in ascending
// timestamp order so eviction order mirrors age.
func (s *Store) loadOwn(own string) *ownState {
	dir := filepath.Join(s.baseDir, own)
	st := &ownState{
		dir:             dir,
		keys:            make(map[string]*keysRecord),
		cccd:            make(map[string]map[uint16]byte),
		bondedGattCache: make(map[string][]byte),
	}
	st.unbonded, _ = lru.NewWithEvict(unbondedCacheCapacity, func(key, _ interface{}) {
		peer, _ := key.(string)
		os.Remove(s.unbondedCachePath(dir, peer))
	})

	bondsDir := filepath.Join(dir, "bonds")
	entries, _ := os.ReadDir(bondsDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		peer := e.Name()
		s.loadBondedPeer(dir, peer, st)
	}

	type unbondedEntry struct {
		peer string
		blob []byte
		ts   int64
	}
	var unbondedList []unbondedEntry
	unbondedDir := filepath.Join(dir, "unbonded")
	entries, _ = os.ReadDir(unbondedDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		peer := e.Name()
		blob, err := os.ReadFile(filepath.Join(unbondedDir, peer, "gatt_client_cache.json"))
		if err != nil {
			continue
		}
		var env gattCacheEnvelope
		ts := int64(0)
		if json.Unmarshal(blob, &env) == nil {
			ts = env.Timestamp
		}
		unbondedList = append(unbondedList, unbondedEntry{peer, blob, ts})
	}
	sort.Slice(unbondedList, func(i, j int) bool { return unbondedList[i].ts < unbondedList[j].ts })
	for _, u := range unbondedList {
		st.unbonded.Add(u.peer, u.blob)
	}

	return st
}

func (s *Store) loadBondedPeer(dir, peer string, st *ownState) {
	peerDir := filepath.Join(dir, "bonds", peer)

	if b, err := os.ReadFile(filepath.Join(peerDir, "keys.json")); err == nil {
		var kr keysRecord
		if json.Unmarshal(b, &kr) == nil {
			st.keys[peer] = &kr
		}
	}

	if b, err := os.ReadFile(filepath.Join(peerDir, "gatt_client_cache.json")); err == nil {
		st.bondedGattCache[peer] = b
	}

	cccdDir := filepath.Join(peerDir, "gatt_server_cccds")
	entries, _ := os.ReadDir(cccdDir)
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		h, ok := parseHandleHex(name)
		if !ok {
			continue
		}
		b, err := os.ReadFile(filepath.Join(cccdDir, e.Name()))
		if err != nil {
			continue
		}
		var cf cccdFile
		if json.Unmarshal(b, &cf) != nil || cf.Value > 3 {
			continue
		}
		if st.cccd[peer] == nil {
			st.cccd[peer] = make(map[uint16]byte)
		}
		st.cccd[peer][h] = cf.Value
	}
}

func parseHandleHex(s string) (uint16, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 2 {
		return 0, false
	}
	return uint16(b[0])<<8 | uint16(b[1]), true
}

func (s *Store) unbondedCachePath(dir, peer string) string {
	return filepath.Join(dir, "unbonded", peer, "gatt_client_cache.json")
}

// StoreKeys overwrites peer's pairing material in memory and on disk,
// per spec.md §4.5. irk, when non-nil, is stored hex-encoded;
// ResolveAddress builds an AES-128 cipher from its byte-reversed form
// on each lookup.
func (s *Store) StoreKeys(own, peer string, mitm, sc bool, irk []byte, localLTK, peerLTK *LTK) error {
	st := s.ownFor(own)
	var irkHex *string
	if irk != nil {
		h := hex.EncodeToString(irk)
		irkHex = &h
	}
	kr := &keysRecord{MITM: mitm, SC: sc, IRK: irkHex, LocalLTK: localLTK, PeerLTK: peerLTK}

	st.mu.Lock()
	st.keys[peer] = kr
	st.mu.Unlock()

	dir := filepath.Join(st.dir, "bonds", peer)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(kr)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "keys.json"), b, 0o600)
}

// GetKeys returns peer's stored keys, or ok=false if none are on
// record.
func (s *Store) GetKeys(own, peer string) (mitm, sc bool, irk []byte, localLTK, peerLTK *LTK, ok bool) {
	st := s.ownFor(own)
	st.mu.Lock()
	defer st.mu.Unlock()
	kr, found := st.keys[peer]
	if !found {
		return false, false, nil, nil, nil, false
	}
	if kr.IRK != nil {
		irk, _ = hex.DecodeString(*kr.IRK)
	}
	return kr.MITM, kr.SC, irk, kr.LocalLTK, kr.PeerLTK, true
}

// ResolveAddress implements the BLE "ah" resolvable-private-address
// check of spec.md §4.5: it tries every stored IRK under own against
// peerRandomAddress (the "tt:aa:aa:aa:bb:bb:bb" string form with
// tt=0x01), returning the first peer whose IRK reproduces the
// address's 3-byte hash, compared in constant time.
func (s *Store) ResolveAddress(own, peerRandomAddress string) (peer string, ok bool) {
	addr, err := parseRandomAddress(peerRandomAddress)
	if err != nil {
		return "", false
	}
	prand := addr[0:3]
	hash := addr[3:6]

	st := s.ownFor(own)
	st.mu.Lock()
	defer st.mu.Unlock()
	for p, kr := range st.keys {
		if kr.IRK == nil {
			continue
		}
		irk, err := hex.DecodeString(*kr.IRK)
		if err != nil || len(irk) != 16 {
			continue
		}
		if ahMatches(irk, prand, hash) {
			return p, true
		}
	}
	return "", false
}

// parseRandomAddress parses "tt:aa:aa:aa:bb:bb:bb" into its 6
// address bytes, most-significant octet first (prand || hash).
func parseRandomAddress(s string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 7 {
		return out, errInvalidAddress
	}
	for i := 0; i < 6; i++ {
		b, err := hex.DecodeString(parts[i+1])
		if err != nil || len(b) != 1 {
			return out, errInvalidAddress
		}
		out[i] = b[0]
	}
	return out, nil
}

var errInvalidAddress = addressError("store: malformed random address")

type addressError string

func (e addressError) Error() string { return string(e) }

// ahMatches implements the ah() function: r = 0^13 || prand (prand in
// the last three octets of a 16-byte block), encrypted with AES-128
// under the byte-reversed irk (the BLE key convention stores k
// little-endian on the wire but AES expects big-endian block keys);
// the candidate hash matches if the ciphertext's last three bytes
// equal it.
func ahMatches(irk, prand, hash []byte) bool {
	key := make([]byte, 16)
	for i := 0; i < 16; i++ {
		key[i] = irk[15-i]
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return false
	}
	r := make([]byte, 16)
	copy(r[13:16], prand)
	ct := make([]byte, 16)
	block.Encrypt(ct, r)
	return subtle.ConstantTimeCompare(ct[13:16], hash) == 1
}

// StoreCCCD persists handle's CCCD value for peer under own, writing
// to disk only when the value actually changed, per spec.md §4.5.
func (s *Store) StoreCCCD(own, peer string, handle uint16, value byte) {
	st := s.ownFor(own)
	st.mu.Lock()
	if st.cccd[peer] == nil {
		st.cccd[peer] = make(map[uint16]byte)
	}
	prev, existed := st.cccd[peer][handle]
	st.cccd[peer][handle] = value
	st.mu.Unlock()
	if existed && prev == value {
		return
	}

	dir := filepath.Join(st.dir, "bonds", peer, "gatt_server_cccds")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.log.WithError(err).Error("store: mkdir cccd dir")
		return
	}
	b, _ := json.Marshal(cccdFile{Value: value})
	name := strings.ToUpper(hex.EncodeToString([]byte{byte(handle >> 8), byte(handle)})) + ".json"
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o600); err != nil {
		s.log.WithError(err).Error("store: write cccd file")
	}
}

// GetCCCD returns handle's stored CCCD value for peer under own.
func (s *Store) GetCCCD(own, peer string, handle uint16) (byte, bool) {
	st := s.ownFor(own)
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.cccd[peer][handle]
	return v, ok
}

// BoundCCCDStore adapts Store to gatt.CCCDStore for a fixed
// own-address, since gatt must not import store directly (it would
// create an import cycle once store grows to depend on gatt's wire
// types); the embedder wires db := gatt.NewDb(store.BoundCCCDStore(s, own)).
func BoundCCCDStore(s *Store, own string) *boundCCCDStore {
	return &boundCCCDStore{s: s, own: own}
}

type boundCCCDStore struct {
	s   *Store
	own string
}

func (b *boundCCCDStore) StoreCCCD(peer string, handle uint16, value byte) {
	b.s.StoreCCCD(b.own, peer, handle, value)
}

func (b *boundCCCDStore) GetCCCD(peer string, handle uint16) (byte, bool) {
	return b.s.GetCCCD(b.own, peer, handle)
}

// BoundGattCachePersister adapts Store to gatt.ClientCachePersister
// for a fixed own-address, mirroring BoundCCCDStore.
func BoundGattCachePersister(s *Store, own string) *boundGattCache {
	return &boundGattCache{s: s, own: own}
}

type boundGattCache struct {
	s   *Store
	own string
}

func (b *boundGattCache) StoreGattCache(peer string, bonded bool, blob []byte) {
	b.s.StoreGattCache(b.own, peer, bonded, blob)
}

func (b *boundGattCache) GetGattCache(peer string, bonded bool) ([]byte, bool) {
	return b.s.GetGattCache(b.own, peer, bonded)
}

// StoreGattCache implements spec.md §4.5's bonded-direct /
// unbonded-FIFO split: bonded entries are kept indefinitely and keyed
// directly by peer; unbonded entries go through the bounded LRU,
// whose eviction callback deletes the evicted peer's file.
func (s *Store) StoreGattCache(own, peer string, bonded bool, blob []byte) {
	st := s.ownFor(own)
	envelope, _ := json.Marshal(gattCacheEnvelope{Timestamp: nowMillis()})
	blob = mergeTimestamp(blob, envelope)

	if bonded {
		st.mu.Lock()
		st.bondedGattCache[peer] = blob
		st.mu.Unlock()
		dir := filepath.Join(st.dir, "bonds", peer)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			s.log.WithError(err).Error("store: mkdir bonded cache dir")
			return
		}
		if err := os.WriteFile(filepath.Join(dir, "gatt_client_cache.json"), blob, 0o600); err != nil {
			s.log.WithError(err).Error("store: write bonded gatt cache")
		}
		return
	}

	st.mu.Lock()
	st.unbonded.Add(peer, blob)
	st.mu.Unlock()
	dir := filepath.Join(st.dir, "unbonded", peer)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.log.WithError(err).Error("store: mkdir unbonded cache dir")
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "gatt_client_cache.json"), blob, 0o600); err != nil {
		s.log.WithError(err).Error("store: write unbonded gatt cache")
	}
}

// GetGattCache returns peer's cached discovery blob.
func (s *Store) GetGattCache(own, peer string, bonded bool) ([]byte, bool) {
	st := s.ownFor(own)
	st.mu.Lock()
	defer st.mu.Unlock()
	if bonded {
		b, ok := st.bondedGattCache[peer]
		return b, ok
	}
	v, ok := st.unbonded.Peek(peer)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

// RemoveBond drops peer's in-memory and on-disk bonded state,
// including its GATT cache and stored CCCDs, per spec.md §4.5.
func (s *Store) RemoveBond(own, peer string) error {
	st := s.ownFor(own)
	st.mu.Lock()
	delete(st.keys, peer)
	delete(st.cccd, peer)
	delete(st.bondedGattCache, peer)
	st.mu.Unlock()
	return os.RemoveAll(filepath.Join(st.dir, "bonds", peer))
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// mergeTimestamp stamps the timestamp field from envelope into blob
// without otherwise altering blob's JSON object, so callers that pass
// a fully pre-built client-cache JSON object still get a timestamp
// for the unbonded-FIFO age-sort in loadOwn.
func mergeTimestamp(blob, envelope []byte) []byte {
	var asMap map[string]json.RawMessage
	if json.Unmarshal(blob, &asMap) != nil {
		return blob
	}
	var ts map[string]json.RawMessage
	json.Unmarshal(envelope, &ts)
	asMap["timestamp"] = ts["timestamp"]
	out, err := json.Marshal(asMap)
	if err != nil {
		return blob
	}
	return out
}
