package dpa

import (
	"context"
	"testing"
	"time"
)

func TestLeaseBlocksEngineExecute(t *testing.T) {
	e, send, recv := newTestEngine(t, time.Second)
	go func() { send(Frame{Kind: FrameAsync, Data: []byte{1, 2, 3, 4}}) }()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	lease, err := e.AcquireExclusive()
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}

	res := e.Execute(context.Background(), Frame{NADR: 1}, time.Second)
	if res.Err != ErrExclusiveAccessBusy {
		t.Errorf("engine Execute while lease held: err = %v, want ErrExclusiveAccessBusy", res.Err)
	}

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- lease.Execute(context.Background(), Frame{NADR: 1, PNUM: 0x20}, time.Second)
	}()
	req := recv()
	send(Frame{Kind: FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD})

	select {
	case res := <-resultCh:
		if res.Outcome != OutcomeOK {
			t.Errorf("lease Execute Outcome = %v, want OutcomeOK (err=%v)", res.Outcome, res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("lease Execute did not return")
	}

	if err := lease.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	resultCh2 := make(chan Result, 1)
	go func() {
		resultCh2 <- e.Execute(context.Background(), Frame{NADR: 1}, time.Second)
	}()
	req = recv()
	send(Frame{Kind: FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD})
	select {
	case res := <-resultCh2:
		if res.Outcome != OutcomeOK {
			t.Errorf("engine Execute after release: Outcome = %v, want OutcomeOK (err=%v)", res.Outcome, res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("engine Execute after release did not return")
	}
}

func TestLeaseExecuteAfterRelease(t *testing.T) {
	e, send, _ := newTestEngine(t, time.Second)
	go func() { send(Frame{Kind: FrameAsync, Data: []byte{1, 2, 3, 4}}) }()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	lease, err := e.AcquireExclusive()
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	res := lease.Execute(context.Background(), Frame{NADR: 1}, time.Second)
	if res.Err != ErrLeaseAlreadyReleased {
		t.Errorf("Execute on released lease: err = %v, want ErrLeaseAlreadyReleased", res.Err)
	}
}

func TestLeaseSetsChannelExclusive(t *testing.T) {
	ch, peer := NewPipeChannelPair()
	t.Cleanup(func() {
		ch.Close()
		peer.Close()
	})
	e, err := NewEngine(EngineConfig{Channel: ch, BootTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	lease, err := e.AcquireExclusive()
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}
	if !ch.HasExclusive() {
		t.Error("channel should report exclusive while a lease is held")
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ch.HasExclusive() {
		t.Error("channel should drop exclusive once the lease is released")
	}
}
