package iqmesh

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

// Request is satisfied by every concrete IQMESH request type, via the
// SetEnvelope method promoted from its embedded BaseRequest. It lets the
// splitter wiring decode an inbound envelope into any service's request
// type without knowing its concrete shape.
type Request interface {
	SetEnvelope(msgID string, timeout int, returnVerbose bool)
}

// Result is satisfied by every concrete IQMESH result type, via the
// Envelope method promoted from its embedded BaseResult.
type Result interface {
	Envelope() (status int, statusStr string, raw []RawTransaction)
}

// DecodeRequest fills req from an inbound message's "data" object: msgId,
// timeout and returnVerbose are read directly off data, while the
// service's own fields are decoded from the nested data.req object.
func DecodeRequest(data map[string]interface{}, req Request) error {
	msgID, _ := data["msgId"].(string)
	var timeout int
	if t, ok := data["timeout"].(float64); ok {
		timeout = int(t)
	}
	verbose, _ := data["returnVerbose"].(bool)
	req.SetEnvelope(msgID, timeout, verbose)

	reqData, ok := data["req"]
	if !ok || reqData == nil {
		return nil
	}
	raw, err := json.Marshal(reqData)
	if err != nil {
		return fmt.Errorf("iqmesh: marshaling data.req: %w", err)
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return fmt.Errorf("iqmesh: decoding data.req: %w", err)
	}
	return nil
}

// EncodeResult renders result as the wire message's "data" object:
// status, statusStr, rsp (the service's own fields) and, when the
// originating request set returnVerbose, the raw transaction trace.
func EncodeResult(result Result) (map[string]interface{}, error) {
	status, statusStr, raw := result.Envelope()

	rspJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("iqmesh: marshaling result: %w", err)
	}
	var rsp map[string]interface{}
	if err := json.Unmarshal(rspJSON, &rsp); err != nil {
		return nil, fmt.Errorf("iqmesh: decoding result: %w", err)
	}

	data := map[string]interface{}{
		"status":    status,
		"statusStr": statusStr,
		"rsp":       rsp,
	}
	if len(raw) > 0 {
		data["raw"] = raw
	}
	return data, nil
}

// appendRaw records result as a verbose trace entry in *raw, unless
// verbose is false. The request packet is always included; the
// confirmation and response entries are included only once those frames
// actually arrived (a timed-out or aborted transaction leaves them empty,
// as the record's own Confirmed/Responded timestamps are zero).
func appendRaw(raw *[]RawTransaction, verbose bool, result dpa.Result) {
	if !verbose {
		return
	}
	entry := RawTransaction{
		Request:   dpa.EncodeHexDot(dpa.EncodeRequestPacket(result.Request)),
		RequestTs: formatTimestamp(result.Sent),
	}
	if !result.Confirmed.IsZero() {
		entry.Confirmation = dpa.EncodeHexDot(dpa.EncodeResponsePacket(result.Confirmation))
		entry.ConfirmationTs = formatTimestamp(result.Confirmed)
	}
	if !result.Responded.IsZero() {
		entry.Response = dpa.EncodeHexDot(dpa.EncodeResponsePacket(result.Response))
		entry.ResponseTs = formatTimestamp(result.Responded)
	}
	*raw = append(*raw, entry)
}

// formatTimestamp renders t as ISO-8601, or "" for a zero Time.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
