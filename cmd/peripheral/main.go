// Command peripheral is a minimal illustration of wiring the hci,
// gatt, and store packages into a running GATT server: it starts an
// external packet-framing helper process, brings up the HCI adapter,
// registers a couple of sample services, and serves GATT requests
// over whatever connections arrive.
//
// The byte transport itself is out of this module's scope (spec.md
// §6): pairing with a real controller requires an embedder-supplied
// hci.Transport. helperTransport below is illustrative glue only — a
// length-prefixed framing convention around an external helper
// process's stdin/stdout, in the spirit of the teacher's own
// exec.Cmd-based shim, not a production HCI socket implementation.
package main

import (
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nsriram/blehost/att"
	"github.com/nsriram/blehost/dupcache"
	"github.com/nsriram/blehost/gatt"
	"github.com/nsriram/blehost/hci"
	"github.com/nsriram/blehost/store"
	"github.com/nsriram/blehost/uuid"
)

func main() {
	helperPath := flag.String("helper", "", "path to an external HCI packet-framing helper process")
	storeDir := flag.String("store-dir", "./blehost-store", "persistence root directory")
	ownAddr := flag.String("own-addr", "00-00-00-00-00-00-00", "own controller address, TT-AA-AA-AA-BB-BB-BB form")
	flag.Parse()

	if *helperPath == "" {
		log.Fatal("peripheral: -helper is required; this example does not implement a raw HCI transport")
	}

	transport, err := newHelperTransport(*helperPath)
	if err != nil {
		log.Fatalf("peripheral: starting helper: %v", err)
	}

	adapter := hci.NewAdapter(transport)
	adapter.SetHardwareErrorHandler(func(err error) {
		logrus.WithError(err).Error("peripheral: hardware error, exiting")
		os.Exit(1)
	})

	st := store.NewStore(*storeDir)
	db := gatt.NewDb(store.BoundCCCDStore(st, *ownAddr))
	if err := db.SetDeviceName("gopher"); err != nil {
		log.Fatalf("peripheral: %v", err)
	}
	db.SetAppearance(0x0000)

	if err := db.AddServices(buildCountService(), buildEchoService()); err != nil {
		log.Fatalf("peripheral: adding services: %v", err)
	}
	server := gatt.NewServer(db)

	// seenPeers tracks the last 64 distinct peer addresses to connect,
	// so a flapping link's repeat reconnects log at Debug instead of
	// paging through Info on every retry.
	seenPeers := dupcache.New(64, func(key interface{}) {
		logrus.WithField("peer", key).Debug("peripheral: peer cache evicted entry")
	})

	conns := make(map[uint16]*gatt.Conn)
	var connsMu sync.Mutex

	adapter.SetDisconnectHandler(func(handle uint16, reason uint8) {
		connsMu.Lock()
		c := conns[handle]
		delete(conns, handle)
		connsMu.Unlock()
		if c == nil {
			return
		}
		db.OnDisconnect(c)
		c.Close()
		logrus.WithFields(logrus.Fields{"handle": handle, "reason": reason}).Info("peripheral: disconnected")
	})

	adapter.SetAdvertisementCompleteCallback(func(status uint8, handle uint16, role hci.Role, peerAddr [6]byte) {
		if status != 0 {
			return
		}
		send := func(pdu []byte) {
			adapter.SendData(handle, 0x0004, pdu, nil, nil)
		}
		conn := gatt.NewConn(handle, role, nil, send)
		conn.SetServer(server)

		hciConn := adapter.AddConnection(handle, role, func(cid uint16, payload []byte) {
			if cid == 0x0004 {
				conn.Dispatch(payload)
			}
		})
		_ = hciConn

		connsMu.Lock()
		conns[handle] = conn
		connsMu.Unlock()

		db.OnConnectedPhase1(conn)
		db.OnConnectedPhase2(conn)

		peerKey := peerAddr
		entry := logrus.WithField("handle", handle)
		if seenPeers.Add(peerKey, nil) {
			entry.Info("peripheral: connected (new peer)")
		} else {
			entry.Debug("peripheral: connected (repeat peer)")
		}
	})

	adapter.Init()
	select {}
}

func buildCountService() *gatt.Service {
	svc := gatt.NewService(uuid.MustParse("09fc95c0-c111-11e3-9904-0002a5d5c51b"), false)
	ch, err := gatt.NewCharacteristic(
		uuid.MustParse("11fac9e0-c111-11e3-9246-0002a5d5c51b"),
		gatt.PropRead|gatt.PropNotify,
		8, gatt.Open, gatt.NotPermitted,
	)
	if err != nil {
		log.Fatalf("peripheral: count characteristic: %v", err)
	}
	var n int
	var mu sync.Mutex
	ch.HandleRead(func(conn *gatt.Conn) []byte {
		mu.Lock()
		defer mu.Unlock()
		n++
		return []byte{byte(n)}
	})
	svc.AddCharacteristic(ch)
	return svc
}

func buildEchoService() *gatt.Service {
	svc := gatt.NewService(uuid.MustParse("1fc9f2d0-c111-11e3-8cf7-0002a5d5c51b"), false)
	ch, err := gatt.NewCharacteristic(
		uuid.MustParse("2af2a6a0-c111-11e3-a946-0002a5d5c51b"),
		gatt.PropWrite|gatt.PropWriteWithoutResp,
		512, gatt.NotPermitted, gatt.Open,
	)
	if err != nil {
		log.Fatalf("peripheral: echo characteristic: %v", err)
	}
	ch.HandleWrite(func(conn *gatt.Conn, data []byte) att.Error {
		logrus.WithField("data", string(data)).Info("peripheral: echo write")
		return att.Success
	})
	svc.AddCharacteristic(ch)
	return svc
}

// helperTransport speaks a 4-byte little-endian length prefix
// followed by one HCI packet per frame over an external process's
// stdin/stdout, matching hci.Transport's "one callback per complete
// packet" contract without this module owning any real socket/ioctl
// code.
type helperTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu     sync.Mutex
	onData func([]byte)
}

func newHelperTransport(path string) (*helperTransport, error) {
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	t := &helperTransport{cmd: cmd, stdin: stdin, stdout: stdout}
	go t.readLoop()
	return t, nil
}

func (t *helperTransport) readLoop() {
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(t.stdout, lenBuf[:]); err != nil {
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(t.stdout, buf); err != nil {
			return
		}
		t.mu.Lock()
		cb := t.onData
		t.mu.Unlock()
		if cb != nil {
			cb(buf)
		}
	}
}

func (t *helperTransport) Write(b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := t.stdin.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := t.stdin.Write(b)
	return err
}

func (t *helperTransport) SetOnData(f func([]byte)) {
	t.mu.Lock()
	t.onData = f
	t.mu.Unlock()
}
