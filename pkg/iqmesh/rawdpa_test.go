package iqmesh

import (
	"context"
	"testing"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

func TestRawDpaPassThrough(t *testing.T) {
	engine, send, recv := newReadyTestEngine(t)
	svc := NewRawDpa(engine)

	resultCh := make(chan RawResult, 1)
	go func() {
		resultCh <- svc.Execute(context.Background(), RawRequest{
			BaseRequest: BaseRequest{Timeout: 1000, ReturnVerbose: true},
			Request:     "01.00.06.03.FF.FF",
		})
	}()

	req := recv()
	if req.NADR != 1 || req.PNUM != 0x06 || req.PCMD != 0x03 {
		t.Fatalf("decoded request = %+v, want NADR=1 PNUM=06 PCMD=03", req)
	}
	send(dpa.Frame{Kind: dpa.FrameResponse, NADR: req.NADR, PNUM: req.PNUM, PCMD: req.PCMD, HWPID: req.HWPID, Data: []byte{0x42}})

	select {
	case res := <-resultCh:
		if res.Status != StatusOK {
			t.Fatalf("Status = %d (%s), want StatusOK", res.Status, res.StatusStr)
		}
		if res.Response != "01.00.06.03.FF.FF.00.42" {
			t.Errorf("Response = %q, want hex-dot response packet", res.Response)
		}
		if len(res.Raw) != 1 {
			t.Fatalf("len(Raw) = %d, want 1 verbose trace entry", len(res.Raw))
		}
		if res.Raw[0].Request == "" || res.Raw[0].RequestTs == "" {
			t.Error("verbose trace entry missing request or its timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}

func TestRawDpaRejectsMalformedHex(t *testing.T) {
	engine, _, _ := newBoundEngine(t)
	svc := NewRawDpa(engine)

	res := svc.Execute(context.Background(), RawRequest{
		BaseRequest: BaseRequest{Timeout: 1000},
		Request:     "zz.not.hex",
	})
	if res.Status != StatusParsingRequestError {
		t.Fatalf("Status = %d, want StatusParsingRequestError", res.Status)
	}
}

func TestRawDpaReportsTimeout(t *testing.T) {
	engine, _, recv := newReadyTestEngine(t)
	svc := NewRawDpa(engine)

	resultCh := make(chan RawResult, 1)
	go func() {
		resultCh <- svc.Execute(context.Background(), RawRequest{
			BaseRequest: BaseRequest{Timeout: 30, ReturnVerbose: true},
			Request:     "01.00.06.03.FF.FF",
		})
	}()
	recv() // swallow the request, never answer

	select {
	case res := <-resultCh:
		if res.Status != StatusGeneralError {
			t.Fatalf("Status = %d, want StatusGeneralError on timeout", res.Status)
		}
		if res.Response != "" {
			t.Errorf("Response = %q, want empty on timeout", res.Response)
		}
		if len(res.Raw) != 1 || res.Raw[0].Response != "" {
			t.Errorf("verbose trace should list the timed-out record with an empty response, got %+v", res.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}
