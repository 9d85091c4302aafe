package messaging

import (
	"context"
	"sync"

	"github.com/pion/logging"
)

// MemoryTransport is an in-process Transport used for local/loopback
// operation and splitter tests. Sent payloads are buffered on Outbox for
// a test (or another in-process consumer) to drain; it has no inbound
// side of its own; a test delivers inbound traffic by calling the
// splitter's HandleIncoming directly with this transport's Instance.
type MemoryTransport struct {
	instance     Instance
	acceptsAsync bool
	log          logging.LeveledLogger

	mu     sync.Mutex
	outbox [][]byte
	closed bool
}

// MemoryTransportConfig configures a new MemoryTransport.
type MemoryTransportConfig struct {
	Instance Instance

	// AcceptsAsync marks this transport as a broadcast target for
	// untargeted outbound messages.
	AcceptsAsync bool

	// LoggerFactory is the factory for creating loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewMemoryTransport constructs a MemoryTransport.
func NewMemoryTransport(config MemoryTransportConfig) *MemoryTransport {
	t := &MemoryTransport{
		instance:     config.Instance,
		acceptsAsync: config.AcceptsAsync,
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("memory-transport")
	}
	return t
}

func (t *MemoryTransport) Instance() Instance {
	return t.instance
}

func (t *MemoryTransport) AcceptsAsync() bool {
	return t.acceptsAsync
}

// SendMessage buffers payload for later draining by Drain/DrainAll.
func (t *MemoryTransport) SendMessage(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	buf := append([]byte(nil), payload...)
	t.outbox = append(t.outbox, buf)
	if t.log != nil {
		t.log.Debugf("memory transport %s buffered %d bytes", t.instance, len(buf))
	}
	return nil
}

// Drain removes and returns the oldest buffered payload, or nil if the
// outbox is empty.
func (t *MemoryTransport) Drain() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.outbox) == 0 {
		return nil
	}
	msg := t.outbox[0]
	t.outbox = t.outbox[1:]
	return msg
}

// DrainAll removes and returns every buffered payload in order.
func (t *MemoryTransport) DrainAll() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.outbox
	t.outbox = nil
	return all
}

// Close marks the transport closed; further SendMessage calls fail.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
