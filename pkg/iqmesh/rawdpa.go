package iqmesh

import (
	"context"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

// RawRequest is the `iqrfRaw`/`iqrfRawHdp` request: a raw DPA request
// packet, hex-dot encoded.
type RawRequest struct {
	BaseRequest
	Request string `json:"rData"` // hex-dot
}

// RawResult is the `iqrfRaw`/`iqrfRawHdp` response.
type RawResult struct {
	BaseResult
	Response string `json:"rData,omitempty"` // hex-dot, empty on failure
}

// RawDpa is the simplest IQMESH service: it decodes a hex-dot DPA request,
// executes it through the engine exactly once (or with Repeat retries),
// and returns the raw response without any semantic decoding. It is the
// template the other three services specialise.
type RawDpa struct {
	engine *dpa.Engine
}

// NewRawDpa constructs a RawDpa service bound to engine.
func NewRawDpa(engine *dpa.Engine) *RawDpa {
	return &RawDpa{engine: engine}
}

// Execute runs req through the engine and returns its raw response.
func (s *RawDpa) Execute(ctx context.Context, req RawRequest) RawResult {
	var res RawResult

	raw, err := dpa.DecodeHexDot(req.Request)
	if err != nil {
		res.setStatus(StatusParsingRequestError, err.Error())
		return res
	}

	lease, err := s.engine.AcquireExclusive()
	if err != nil {
		res.setStatus(StatusExclusiveAccessError, err.Error())
		return res
	}
	defer lease.Release()

	frame, err := dpa.DecodeRequestPacket(raw)
	if err != nil {
		res.setStatus(StatusParsingRequestError, err.Error())
		return res
	}

	timeout := time.Duration(req.Timeout) * time.Millisecond
	var result dpa.Result
	if req.Repeat > 0 {
		result = lease.ExecuteWithRetry(ctx, frame, timeout, req.Repeat)
	} else {
		result = lease.Execute(ctx, frame, timeout)
	}

	appendRaw(&res.Raw, req.ReturnVerbose, result)
	// A DPA error response is still a response: it passes through to the
	// caller verbatim, error code and all.
	if result.Outcome != dpa.OutcomeOK && result.Outcome != dpa.OutcomeDpaError {
		res.setStatus(StatusGeneralError, result.Err.Error())
		return res
	}

	res.Response = dpa.EncodeHexDot(dpa.EncodeResponsePacket(result.Response))
	res.setStatus(StatusOK, "ok")
	return res
}
