package iqmesh

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

// newBoundEngine wires a dpa.Engine to an in-memory channel pair and
// returns send/recv helpers bound to the peer side, mirroring the pattern
// pkg/dpa's own engine tests use.
func newBoundEngine(t *testing.T) (*dpa.Engine, func(dpa.Frame), func() dpa.Frame) {
	t.Helper()
	ch, peer := dpa.NewPipeChannelPair()
	t.Cleanup(func() {
		ch.Close()
		peer.Close()
	})

	e, err := dpa.NewEngine(dpa.EngineConfig{Channel: ch, BootTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	send := func(f dpa.Frame) {
		writeFramedConn(t, peer, f.Encode())
	}
	recv := func() dpa.Frame {
		raw := readFramedConn(t, peer)
		f, err := dpa.DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		return f
	}
	return e, send, recv
}

func writeFramedConn(t *testing.T, conn net.Conn, frame []byte) {
	t.Helper()
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatalf("write length prefix: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFramedConn(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return buf
}
