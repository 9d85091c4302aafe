package iqmesh

import (
	"context"
	"testing"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

type stubLookup struct {
	product Product
	err     error
}

func (s stubLookup) Product(ctx context.Context, hwpid, hwpidVer, osBuild uint16, dpaVer string) (Product, error) {
	if s.err != nil {
		return Product{}, s.err
	}
	p := s.product
	p.HWPID = hwpid
	p.HWPIDVersion = hwpidVer
	return p, nil
}

// newReadyTestEngine starts an engine over an in-memory channel pair and
// returns it alongside send/recv helpers bound to the peer side.
func newReadyTestEngine(t *testing.T) (*dpa.Engine, func(dpa.Frame), func() dpa.Frame) {
	t.Helper()
	e, send, recv := newBoundEngine(t)
	go func() { send(dpa.Frame{Kind: dpa.FrameAsync, Data: []byte{1, 2, 3, 4}}) }()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, send, recv
}

func TestBondNodeLocalAssignsFreeAddress(t *testing.T) {
	engine, send, recv := newReadyTestEngine(t)
	lookup := stubLookup{product: Product{Manufacturer: "IQRF", Product: "DK-EVAL"}}
	svc := NewBondNodeLocal(engine, lookup, Config{PostBondDelay: time.Millisecond})

	resultCh := make(chan BondNodeLocalResult, 1)
	go func() {
		resultCh <- svc.Execute(context.Background(), BondNodeLocalRequest{
			BaseRequest: BaseRequest{Timeout: 1000},
		})
	}()

	// 1. bonded devices bitmap read: respond with nothing bonded.
	req := recv()
	if req.PNUM != PNUMCoordinator || req.PCMD != CmdCoordinatorBondedDevices {
		t.Fatalf("first request = %+v, want bonded-devices read", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: make([]byte, 30)})

	// 2. bond node request.
	req = recv()
	if req.PNUM != PNUMCoordinator || req.PCMD != CmdCoordinatorBondNode {
		t.Fatalf("second request = %+v, want bond-node", req)
	}
	if req.Data[0] != 1 {
		t.Errorf("requested address = %d, want 1 (first free)", req.Data[0])
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: []byte{1, 1}})

	// 3. enumeration read.
	req = recv()
	if req.NADR != 1 || req.PNUM != PNUMEnumeration {
		t.Fatalf("third request = %+v, want enumeration of node 1", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: []byte{0x01, 0x00, 0x00, 0x00}})

	// 4. OS read.
	req = recv()
	if req.NADR != 1 || req.PNUM != PNUMOS {
		t.Fatalf("fourth request = %+v, want OS read of node 1", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: []byte{0, 0, 0, 0, 0x10, 0x00}})

	select {
	case res := <-resultCh:
		if res.Status != StatusOK {
			t.Fatalf("Status = %d (%s), want StatusOK", res.Status, res.StatusStr)
		}
		if res.BondedAddr != 1 {
			t.Errorf("BondedAddr = %d, want 1", res.BondedAddr)
		}
		if res.Product.Manufacturer != "IQRF" {
			t.Errorf("Product.Manufacturer = %q, want IQRF", res.Product.Manufacturer)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}

func TestBondNodeLocalAddressAlreadyUsed(t *testing.T) {
	engine, send, recv := newReadyTestEngine(t)
	svc := NewBondNodeLocal(engine, nil, Config{})

	resultCh := make(chan BondNodeLocalResult, 1)
	go func() {
		resultCh <- svc.Execute(context.Background(), BondNodeLocalRequest{
			BaseRequest: BaseRequest{Timeout: 1000},
			DeviceAddr:  5,
		})
	}()

	req := recv()
	bitmap := make([]byte, 30)
	bitmap[0] = 1 << 5 // address 5 bonded
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: bitmap})

	select {
	case res := <-resultCh:
		if res.Status != StatusAddressUsedError {
			t.Fatalf("Status = %d, want StatusAddressUsedError", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}

func TestBondNodeLocalOutOfRangeAddress(t *testing.T) {
	engine, send, _ := newReadyTestEngine(t)
	_ = send
	svc := NewBondNodeLocal(engine, nil, Config{})

	res := svc.Execute(context.Background(), BondNodeLocalRequest{
		BaseRequest: BaseRequest{Timeout: 1000},
		DeviceAddr:  1000,
	})
	if res.Status != StatusGeneralError {
		t.Fatalf("Status = %d, want StatusGeneralError", res.Status)
	}
}

func TestBondNodeLocalBondRejectedByCoordinator(t *testing.T) {
	engine, send, recv := newReadyTestEngine(t)
	svc := NewBondNodeLocal(engine, nil, Config{PostBondDelay: time.Millisecond})

	resultCh := make(chan BondNodeLocalResult, 1)
	go func() {
		resultCh <- svc.Execute(context.Background(), BondNodeLocalRequest{
			BaseRequest: BaseRequest{Timeout: 1000, ReturnVerbose: true},
		})
	}()

	req := recv()
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: make([]byte, 30)})

	// The coordinator rejects the bond with a DPA error code; the
	// service must stop there instead of enumerating address 0.
	req = recv()
	if req.PCMD != CmdCoordinatorBondNode {
		t.Fatalf("second request = %+v, want bond-node", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, ErrorCode: 7})

	select {
	case res := <-resultCh:
		if res.Status != StatusGeneralError {
			t.Fatalf("Status = %d (%s), want StatusGeneralError", res.Status, res.StatusStr)
		}
		if res.StatusStr == "" {
			t.Error("StatusStr should carry the DPA error")
		}
		if len(res.Raw) != 2 {
			t.Errorf("len(Raw) = %d, want the bitmap read and the failed bond only", len(res.Raw))
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}
