package iqmesh

import (
	"context"
	"fmt"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

// EnumerateDeviceRequest is the `iqmeshNetwork_EnumerateDevice` request.
type EnumerateDeviceRequest struct {
	BaseRequest
	DeviceAddr int `json:"deviceAddr"` // coordinator's node table index, 1..239
}

// DiscoveryData is a node's position in the coordinator's discovered
// network, read from the coordinator's EEPROM discovery blocks.
type DiscoveryData struct {
	Discovered bool `json:"discovered"`
	VRN        byte `json:"vrn"`
	Zone       byte `json:"zone"`
	Parent     byte `json:"parent"`
}

// HWPConfiguration is the decoded 31-byte HWP configuration block.
type HWPConfiguration struct {
	CustomDpaHandler  bool     `json:"customDpaHandler"`
	DpaPeerToPeer     bool     `json:"dpaPeerToPeer"`
	StdAndLpNetwork   bool     `json:"stdAndLpNetwork"`
	NeverSleep        bool     `json:"neverSleep"`
	LocalFrcReception bool     `json:"localFrcReception"`
	RFBand            string   `json:"rfBand,omitempty"` // "868", "916", "433", or "" if unknown
	RawConfig         [31]byte `json:"-"`
}

// EnumerateDeviceResult is the `iqmeshNetwork_EnumerateDevice` response.
type EnumerateDeviceResult struct {
	BaseResult
	Discovery DiscoveryData    `json:"discovery"`
	HWPConfig HWPConfiguration `json:"hwpConfiguration"`
	Product
}

// EnumerateDevice implements `iqmeshNetwork_EnumerateDevice`: gather a
// bonded node's discovery position, OS/peripheral enumeration, product
// identity and HWP configuration in one call.
type EnumerateDevice struct {
	engine     *dpa.Engine
	lookup     Lookup
	dpaVersion int // (major<<8 | minor), gates HWP-config obfuscation and flags
}

// NewEnumerateDevice constructs an EnumerateDevice service.
func NewEnumerateDevice(engine *dpa.Engine, lookup Lookup, dpaVersion int) *EnumerateDevice {
	return &EnumerateDevice{engine: engine, lookup: lookup, dpaVersion: dpaVersion}
}

// Execute gathers discovery, enumeration and HWP configuration data for
// req.DeviceAddr.
func (s *EnumerateDevice) Execute(ctx context.Context, req EnumerateDeviceRequest) EnumerateDeviceResult {
	var res EnumerateDeviceResult

	addr := uint16(req.DeviceAddr)
	if req.DeviceAddr <= 0 || addr > dpa.MaxNodeAddress {
		res.setStatus(StatusGeneralError, ErrNodeAddressOutOfRange.Error())
		return res
	}

	lease, err := s.engine.AcquireExclusive()
	if err != nil {
		res.setStatus(StatusExclusiveAccessError, err.Error())
		return res
	}
	defer lease.Release()

	discovery, err := s.readDiscoveryData(ctx, lease, addr, req.Repeat, &res.Raw, req.ReturnVerbose)
	if err != nil {
		res.setStatus(StatusGeneralError, err.Error())
		return res
	}
	res.Discovery = discovery

	product, err := enumerateAndLookup(ctx, lease, s.lookup, addr, coordinatorDpaVersion(s.engine), req.Repeat, &res.Raw, req.ReturnVerbose)
	if err != nil {
		res.setStatus(StatusGeneralError, err.Error())
		return res
	}
	res.Product = product

	hwpConfig, err := s.readHWPConfig(ctx, lease, addr, req.Repeat, &res.Raw, req.ReturnVerbose)
	if err != nil {
		res.setStatus(StatusGeneralError, err.Error())
		return res
	}
	res.HWPConfig = hwpConfig

	res.setStatus(StatusOK, "ok")
	return res
}

// readDiscoveryData reads the coordinator's four discovery EEPROM blocks
// for addr: discovered flag, VRN, zone, parent.
func (s *EnumerateDevice) readDiscoveryData(ctx context.Context, lease *dpa.ExclusiveLease, addr uint16, repeat int, raw *[]RawTransaction, verbose bool) (DiscoveryData, error) {
	var d DiscoveryData

	read := func(block uint16) (byte, error) {
		result := lease.ExecuteWithRetry(ctx, dpa.Frame{
			NADR: dpa.CoordinatorAddress,
			PNUM: PNUMEEPROM,
			PCMD: CmdEEPROMXRead,
			Data: []byte{byte(block + addr), byte((block + addr) >> 8), 1},
		}, 0, repeat)
		appendRaw(raw, verbose, result)
		if result.Outcome != dpa.OutcomeOK {
			return 0, result.Err
		}
		if len(result.Response.Data) == 0 {
			return 0, nil
		}
		return result.Response.Data[0], nil
	}

	discByte, err := read(eepromDiscoveredBlock)
	if err != nil {
		return d, fmt.Errorf("reading discovered flag for node %d: %w", addr, err)
	}
	d.Discovered = discByte != 0

	d.VRN, err = read(eepromVrnBlock)
	if err != nil {
		return d, fmt.Errorf("reading VRN for node %d: %w", addr, err)
	}
	d.Zone, err = read(eepromZoneBlock)
	if err != nil {
		return d, fmt.Errorf("reading zone for node %d: %w", addr, err)
	}
	d.Parent, err = read(eepromParentBlock)
	if err != nil {
		return d, fmt.Errorf("reading parent for node %d: %w", addr, err)
	}
	return d, nil
}

// readHWPConfig reads and decodes the node's 31-byte HWP configuration.
func (s *EnumerateDevice) readHWPConfig(ctx context.Context, lease *dpa.ExclusiveLease, addr uint16, repeat int, raw *[]RawTransaction, verbose bool) (HWPConfiguration, error) {
	result := lease.ExecuteWithRetry(ctx, dpa.Frame{
		NADR: addr,
		PNUM: PNUMOS,
		PCMD: CmdOSReadHWPConfig,
	}, 0, repeat)
	appendRaw(raw, verbose, result)
	if result.Outcome != dpa.OutcomeOK {
		return HWPConfiguration{}, fmt.Errorf("reading HWP config for node %d: %w", addr, result.Err)
	}
	return decodeHWPConfig(result.Response.Data, s.dpaVersion), nil
}

// decodeHWPConfig decodes a node's raw HWP configuration bytes. DPA
// versions before 3.03 obfuscate the block by XORing every byte with
// 0x34; later versions carry it unobfuscated.
func decodeHWPConfig(raw []byte, dpaVersion int) HWPConfiguration {
	var cfg HWPConfiguration
	n := copy(cfg.RawConfig[:], raw)
	if dpaVersion < minSmartConnectDpaVersion {
		for i := 0; i < n; i++ {
			cfg.RawConfig[i] ^= 0x34
		}
	}

	if n == 0 {
		return cfg
	}
	flags := cfg.RawConfig[0]
	cfg.CustomDpaHandler = flags&0x01 != 0
	if dpaVersion >= 0x0400 {
		cfg.StdAndLpNetwork = flags&0x02 != 0
	}
	if dpaVersion >= 0x0303 {
		cfg.NeverSleep = flags&0x04 != 0
	}
	if dpaVersion >= 0x0410 {
		cfg.DpaPeerToPeer = flags&0x08 != 0
	}
	if dpaVersion >= 0x0415 {
		cfg.LocalFrcReception = flags&0x10 != 0
	}

	if n > 1 {
		switch cfg.RawConfig[1] & 0x03 {
		case 0:
			cfg.RFBand = "868"
		case 1:
			cfg.RFBand = "916"
		case 2:
			cfg.RFBand = "433"
		}
	}

	return cfg
}
