package messaging

import (
	"context"
	"testing"
)

func TestMemoryTransportSendAndDrain(t *testing.T) {
	tr := NewMemoryTransport(MemoryTransportConfig{
		Instance:     Instance{Type: "ws", Name: "test"},
		AcceptsAsync: true,
	})

	if got := tr.Instance(); got != (Instance{Type: "ws", Name: "test"}) {
		t.Errorf("Instance() = %+v", got)
	}
	if !tr.AcceptsAsync() {
		t.Error("AcceptsAsync() = false, want true")
	}

	ctx := context.Background()
	if err := tr.SendMessage(ctx, []byte("one")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := tr.SendMessage(ctx, []byte("two")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got := tr.Drain(); string(got) != "one" {
		t.Errorf("Drain() = %q, want %q", got, "one")
	}
	rest := tr.DrainAll()
	if len(rest) != 1 || string(rest[0]) != "two" {
		t.Errorf("DrainAll() = %v, want [two]", rest)
	}
	if got := tr.Drain(); got != nil {
		t.Errorf("Drain() on empty outbox = %v, want nil", got)
	}
}

func TestMemoryTransportSendAfterClose(t *testing.T) {
	tr := NewMemoryTransport(MemoryTransportConfig{Instance: Instance{Type: "ws", Name: "test"}})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.SendMessage(context.Background(), []byte("x")); err != ErrTransportClosed {
		t.Errorf("SendMessage after close = %v, want ErrTransportClosed", err)
	}
}
