package dpa

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

const bridgeTickInterval = time.Millisecond

// ChannelState reflects whether the underlying coordinator link is up.
type ChannelState int

const (
	ChannelNotReady ChannelState = iota
	ChannelReady
)

func (s ChannelState) String() string {
	if s == ChannelReady {
		return "ready"
	}
	return "not-ready"
}

// ReceiveFunc is invoked from the channel's internal reader goroutine for
// every frame received from the coordinator.
type ReceiveFunc func(frame []byte)

// Channel is a framed, duplex byte link to a single coordinator. It does
// not interpret the bytes it carries; it only moves them and tracks
// whether exclusive-send mode is in effect (a flag the engine sets while
// a lease is held, never enforced by the channel itself).
type Channel interface {
	Send(ctx context.Context, frame []byte) error
	RegisterReceive(handler ReceiveFunc) error
	UnregisterReceive()
	SetExclusive(exclusive bool)
	HasExclusive() bool
	State() ChannelState
	Close() error
}

// PipeChannel is an in-memory Channel built on pion's test.Bridge, used as
// the default loopback/testing coordinator link. Any real driver (serial,
// network) satisfies the same Channel interface.
type PipeChannel struct {
	conn net.Conn

	mu        sync.Mutex
	state     ChannelState
	exclusive bool
	handler   ReceiveFunc
	closed    bool
	readerWG  sync.WaitGroup

	pumpStop chan struct{}
	pumpWG   sync.WaitGroup
}

// NewPipeChannelPair returns a connected pair: the Channel the engine uses,
// and the peer net.Conn a test drives directly to play the role of the
// coordinator (writing confirmations/responses/async notifications, and
// reading requests).
func NewPipeChannelPair() (*PipeChannel, net.Conn) {
	bridge := test.NewBridge()

	c := &PipeChannel{
		conn:     bridge.GetConn0(),
		state:    ChannelReady,
		pumpStop: make(chan struct{}),
	}
	c.pumpWG.Add(1)
	go c.pumpBridge(bridge)

	return c, bridge.GetConn1()
}

// pumpBridge periodically ticks the bridge so queued packets are delivered
// without requiring the caller to drive it manually.
func (c *PipeChannel) pumpBridge(bridge *test.Bridge) {
	defer c.pumpWG.Done()
	ticker := time.NewTicker(bridgeTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.pumpStop:
			return
		case <-ticker.C:
			bridge.Tick()
		}
	}
}

func (c *PipeChannel) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	return nil
}

func (c *PipeChannel) RegisterReceive(handler ReceiveFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.handler != nil {
		return ErrReceiveAlreadyRegistered
	}
	c.handler = handler
	c.readerWG.Add(1)
	go c.readLoop()
	return nil
}

func (c *PipeChannel) UnregisterReceive() {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
}

func (c *PipeChannel) readLoop() {
	defer c.readerWG.Done()
	for {
		var lenBuf [2]byte
		if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(c.conn, frame); err != nil {
			return
		}

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(frame)
		}
	}
}

func (c *PipeChannel) SetExclusive(exclusive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exclusive = exclusive
}

func (c *PipeChannel) HasExclusive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exclusive
}

func (c *PipeChannel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *PipeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = ChannelNotReady
	c.mu.Unlock()

	close(c.pumpStop)
	c.pumpWG.Wait()

	err := c.conn.Close()
	c.readerWG.Wait()
	return err
}
