// Package iqmesh implements the representative IQMESH service layer:
// stateful, multi-step DPA orchestrations built on pkg/dpa's Engine and a
// product-lookup cache that is itself external to this core.
package iqmesh

import (
	"errors"
	"time"
)

// Config is shared by the bonding services (BondNodeLocal, SmartConnect):
// both pause briefly after the coordinator reports a node bonded, before
// enumerating it, to give the node time to initialise.
type Config struct {
	// PostBondDelay is how long to wait after a successful bond before
	// enumerating the new node. Defaults to 250ms.
	PostBondDelay time.Duration
}

func (c Config) postBondDelay() time.Duration {
	if c.PostBondDelay <= 0 {
		return 250 * time.Millisecond
	}
	return c.PostBondDelay
}

// Common error taxonomy shared by every service. Engine errors (dpa.Err*)
// pass through unchanged; these are service-layer-only codes.
const (
	StatusOK                   = 0
	StatusGeneralError         = 1000
	StatusParsingRequestError  = 1001
	StatusExclusiveAccessError = 1002
	StatusAddressUsedError     = 1003
	StatusNoFreeAddressError   = 1004
)

var (
	ErrParsingRequest        = errors.New("iqmesh: failed to parse request")
	ErrAddressUsed           = errors.New("iqmesh: requested address is already assigned to another device")
	ErrNoFreeAddress         = errors.New("iqmesh: no available address to assign to a new node found")
	ErrNodeAddressOutOfRange = errors.New("iqmesh: node address outside of valid range")
)

// Peripheral numbers and coordinator commands. Exact DPA wire values are
// not specified by this core (DPA framing is explicitly out of scope);
// these follow the publicly documented IQRF DPA coordinator peripheral
// layout and are stable across this package's services.
const (
	PNUMCoordinator = 0x00
	PNUMOS          = 0x02
	PNUMEEPROM      = 0x03

	CmdCoordinatorBondedDevices     = 0x02
	CmdCoordinatorBondNode          = 0x04
	CmdCoordinatorSmartConnect      = 0x12
	CmdCoordinatorDiscoveredDevices = 0x01

	CmdOSRead          = 0x00
	CmdOSReadHWPConfig = 0x05
	CmdEEPROMXRead     = 0x00

	PNUMEnumeration = 0x3f
	CmdGetPerInfo   = 0x3f
)

// EEPROM block addresses (coordinator-side, external peripheral memory)
// holding per-node discovery data: one byte per field per node, indexed
// by node address. Exact offsets are an IQRF OS convention outside this
// core's DPA-framing scope; these match the publicly documented discovery
// data block layout.
const (
	eepromDiscoveredBlock = 0x0400
	eepromVrnBlock        = 0x04A0
	eepromZoneBlock       = 0x0540
	eepromParentBlock     = 0x05E0
)

// BaseRequest carries the fields common to every IQMESH service request,
// mirroring the original's subclass-of-a-base-representation pattern.
// MsgID, Timeout and ReturnVerbose live alongside "req" in the wire
// envelope's data object, never inside data.req itself, so they are
// populated by DecodeRequest rather than json.Unmarshal.
type BaseRequest struct {
	MsgID         string `json:"-"`
	Timeout       int    `json:"-"` // milliseconds; 0 means engine default
	ReturnVerbose bool   `json:"-"`
	Repeat        int    `json:"repeat,omitempty"`
}

// SetEnvelope fills the envelope-level fields common to every request.
// It is promoted to every concrete request type embedding BaseRequest,
// which lets DecodeRequest populate them generically.
func (b *BaseRequest) SetEnvelope(msgID string, timeout int, returnVerbose bool) {
	b.MsgID = msgID
	b.Timeout = timeout
	b.ReturnVerbose = returnVerbose
}

// BaseResult carries the fields common to every IQMESH service response:
// the wire envelope's data.status/data.statusStr, plus the verbose
// transaction trace emitted as data.raw when the request asked for it.
type BaseResult struct {
	Status    int              `json:"-"`
	StatusStr string           `json:"-"`
	Raw       []RawTransaction `json:"-"`
}

// Envelope returns the envelope-level fields common to every result. It
// is promoted to every concrete result type embedding BaseResult, which
// lets EncodeResult read them generically.
func (r *BaseResult) Envelope() (status int, statusStr string, raw []RawTransaction) {
	return r.Status, r.StatusStr, r.Raw
}

// RawTransaction is one verbose transaction trace entry, emitted only
// when the request set ReturnVerbose. Confirmation is empty when the
// addressee is the coordinator or broadcast (no confirmation is ever
// sent); Response is empty when the transaction timed out or aborted
// before a response arrived.
type RawTransaction struct {
	Request        string `json:"request"`
	RequestTs      string `json:"requestTs"`
	Confirmation   string `json:"confirmation,omitempty"`
	ConfirmationTs string `json:"confirmationTs,omitempty"`
	Response       string `json:"response,omitempty"`
	ResponseTs     string `json:"responseTs,omitempty"`
}

func (r *BaseResult) setStatus(status int, statusStr string) {
	r.Status = status
	r.StatusStr = statusStr
}
