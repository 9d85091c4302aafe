package iqmesh

import (
	"context"
	"testing"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
	"github.com/iqrf-gateway/daemon-core/pkg/iqrfcode"
)

func mustSmartConnectCode(t *testing.T) string {
	t.Helper()
	code, err := iqrfcode.Encode(iqrfcode.Payload{
		MID:      [4]byte{0x01, 0x02, 0x03, 0x04},
		HasMID:   true,
		IBK:      [16]byte{0xAA, 0xBB},
		HasIBK:   true,
		HWPID:    0x1234,
		HasHWPID: true,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return code
}

func TestSmartConnectRejectsOldDpaVersion(t *testing.T) {
	engine, _, _ := newBoundEngine(t)
	svc := NewSmartConnect(engine, nil, Config{}, 0x0302)

	res := svc.Execute(context.Background(), SmartConnectRequest{
		BaseRequest:      BaseRequest{Timeout: 1000},
		SmartConnectCode: mustSmartConnectCode(t),
	})
	if res.Status != StatusGeneralError {
		t.Fatalf("Status = %d, want StatusGeneralError", res.Status)
	}
}

func TestSmartConnectBondsAndEnumerates(t *testing.T) {
	engine, send, recv := newReadyTestEngine(t)
	lookup := stubLookup{product: Product{Manufacturer: "IQRF"}}
	svc := NewSmartConnect(engine, lookup, Config{PostBondDelay: time.Millisecond}, 0x0303)

	resultCh := make(chan SmartConnectResult, 1)
	go func() {
		resultCh <- svc.Execute(context.Background(), SmartConnectRequest{
			BaseRequest:      BaseRequest{Timeout: 1000},
			SmartConnectCode: mustSmartConnectCode(t),
		})
	}()

	req := recv()
	if req.PCMD != CmdCoordinatorBondedDevices {
		t.Fatalf("first request PCMD = %x, want bonded-devices read", req.PCMD)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: make([]byte, 30)})

	req = recv()
	if req.PCMD != CmdCoordinatorSmartConnect {
		t.Fatalf("second request PCMD = %x, want smart-connect", req.PCMD)
	}
	if req.Data[0] != 1 {
		t.Errorf("requested address = %d, want 1", req.Data[0])
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: []byte{1, 1}})

	req = recv()
	if req.NADR != 1 || req.PNUM != PNUMEnumeration {
		t.Fatalf("third request = %+v, want enumeration of node 1", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: []byte{0x34, 0x12, 0x00, 0x00}})

	req = recv()
	if req.NADR != 1 || req.PNUM != PNUMOS {
		t.Fatalf("fourth request = %+v, want OS read of node 1", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, Data: []byte{0, 0, 0, 0, 0x20, 0x00}})

	select {
	case res := <-resultCh:
		if res.Status != StatusOK {
			t.Fatalf("Status = %d (%s), want StatusOK", res.Status, res.StatusStr)
		}
		if res.BondedAddr != 1 {
			t.Errorf("BondedAddr = %d, want 1", res.BondedAddr)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}
