package dpa

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"
)

func writeFramed(t *testing.T, conn io.Writer, frame []byte) {
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

func readFramed(t *testing.T, conn io.Reader) []byte {
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

func TestPipeChannelSendReceive(t *testing.T) {
	ch, peer := NewPipeChannelPair()
	defer ch.Close()
	defer peer.Close()

	received := make(chan []byte, 1)
	if err := ch.RegisterReceive(func(frame []byte) {
		received <- frame
	}); err != nil {
		t.Fatalf("RegisterReceive: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload := []byte{0x01, 0x02, 0x03}
	if err := ch.Send(ctx, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := readFramed(t, peer)
	if !bytes.Equal(got, payload) {
		t.Errorf("peer got %x, want %x", got, payload)
	}

	reply := []byte{0xAA, 0xBB}
	writeFramed(t, peer, reply)

	select {
	case got := <-received:
		if !bytes.Equal(got, reply) {
			t.Errorf("received %x, want %x", got, reply)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for received frame")
	}
}

func TestPipeChannelDoubleRegisterReceive(t *testing.T) {
	ch, peer := NewPipeChannelPair()
	defer ch.Close()
	defer peer.Close()

	if err := ch.RegisterReceive(func([]byte) {}); err != nil {
		t.Fatalf("first RegisterReceive: %v", err)
	}
	if err := ch.RegisterReceive(func([]byte) {}); err != ErrReceiveAlreadyRegistered {
		t.Errorf("second RegisterReceive error = %v, want ErrReceiveAlreadyRegistered", err)
	}
}

func TestPipeChannelCloseRejectsSend(t *testing.T) {
	ch, peer := NewPipeChannelPair()
	defer peer.Close()

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Send(context.Background(), []byte{0x01}); err != ErrChannelClosed {
		t.Errorf("Send after close error = %v, want ErrChannelClosed", err)
	}
}

func TestPipeChannelExclusiveFlag(t *testing.T) {
	ch, peer := NewPipeChannelPair()
	defer ch.Close()
	defer peer.Close()

	if ch.HasExclusive() {
		t.Error("new channel should not be exclusive")
	}
	ch.SetExclusive(true)
	if !ch.HasExclusive() {
		t.Error("SetExclusive(true) did not take effect")
	}
}
