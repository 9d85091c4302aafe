package iqmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/iqrf-gateway/daemon-core/pkg/dpa"
)

// BondNodeLocalRequest is the `iqmeshNetwork_BondNodeLocal` request.
type BondNodeLocalRequest struct {
	BaseRequest
	DeviceAddr         uint16 `json:"deviceAddr"`         // 0 means "any free address"
	BondingTestRetries int    `json:"bondingTestRetries"` // 0..255
}

// BondNodeLocalResult is the `iqmeshNetwork_BondNodeLocal` response.
type BondNodeLocalResult struct {
	BaseResult
	BondedAddr     uint16 `json:"assignedAddr"`
	BondedNodesNum int    `json:"nodesNr"`
	Product
}

// BondNodeLocal implements `iqmeshNetwork_BondNodeLocal`: bond a node on
// the local coordinator and enumerate it.
type BondNodeLocal struct {
	engine *dpa.Engine
	lookup Lookup
	config Config
}

// NewBondNodeLocal constructs a BondNodeLocal service.
func NewBondNodeLocal(engine *dpa.Engine, lookup Lookup, config Config) *BondNodeLocal {
	return &BondNodeLocal{engine: engine, lookup: lookup, config: config}
}

// Execute runs the bond/enumerate sequence: read the bonded bitmap,
// assign or validate an address, bond it, wait for the node to settle,
// then enumerate it.
func (s *BondNodeLocal) Execute(ctx context.Context, req BondNodeLocalRequest) BondNodeLocalResult {
	var res BondNodeLocalResult

	if req.DeviceAddr > dpa.MaxNodeAddress {
		res.setStatus(StatusGeneralError, ErrNodeAddressOutOfRange.Error())
		return res
	}

	lease, err := s.engine.AcquireExclusive()
	if err != nil {
		res.setStatus(StatusExclusiveAccessError, err.Error())
		return res
	}
	defer lease.Release()

	bonded, err := readBondedBitmap(ctx, lease, req.Repeat, &res.Raw, req.ReturnVerbose)
	if err != nil {
		res.setStatus(StatusGeneralError, err.Error())
		return res
	}

	reqAddr := req.DeviceAddr
	if reqAddr == 0 {
		free, ok := bonded.FirstFree()
		if !ok {
			res.setStatus(StatusNoFreeAddressError, ErrNoFreeAddress.Error())
			return res
		}
		reqAddr = free
	} else if bonded.IsBonded(reqAddr) {
		res.setStatus(StatusAddressUsedError, "Requested address is already assigned to another device.")
		return res
	}

	bondResult := lease.ExecuteWithRetry(ctx, dpa.Frame{
		NADR: dpa.CoordinatorAddress,
		PNUM: PNUMCoordinator,
		PCMD: CmdCoordinatorBondNode,
		Data: []byte{byte(reqAddr), byte(req.BondingTestRetries)},
	}, requestTimeout(req.Timeout), req.Repeat)
	appendRaw(&res.Raw, req.ReturnVerbose, bondResult)
	if bondResult.Outcome != dpa.OutcomeOK {
		res.setStatus(StatusGeneralError, bondResult.Err.Error())
		return res
	}
	if len(bondResult.Response.Data) >= 2 {
		res.BondedAddr = uint16(bondResult.Response.Data[0])
		res.BondedNodesNum = int(bondResult.Response.Data[1])
	}

	select {
	case <-time.After(s.config.postBondDelay()):
	case <-ctx.Done():
		res.setStatus(StatusGeneralError, ctx.Err().Error())
		return res
	}

	product, err := enumerateAndLookup(ctx, lease, s.lookup, res.BondedAddr, coordinatorDpaVersion(s.engine), req.Repeat, &res.Raw, req.ReturnVerbose)
	if err != nil {
		res.setStatus(StatusGeneralError, err.Error())
		return res
	}
	res.Product = product

	res.setStatus(StatusOK, "ok")
	return res
}

func requestTimeout(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// readBondedBitmap issues CMD_COORDINATOR_BONDED_DEVICES and decodes the
// 30-byte bonded bitmap from its response. The bitmap is read fresh for
// every invocation, never cached across transactions.
func readBondedBitmap(ctx context.Context, lease *dpa.ExclusiveLease, repeat int, raw *[]RawTransaction, verbose bool) (dpa.BondedBitmap, error) {
	var bitmap dpa.BondedBitmap
	result := lease.ExecuteWithRetry(ctx, dpa.Frame{
		NADR: dpa.CoordinatorAddress,
		PNUM: PNUMCoordinator,
		PCMD: CmdCoordinatorBondedDevices,
	}, 0, repeat)
	appendRaw(raw, verbose, result)
	if result.Outcome != dpa.OutcomeOK {
		return bitmap, fmt.Errorf("reading bonded devices: %w", result.Err)
	}
	copy(bitmap[:], result.Response.Data)
	return bitmap, nil
}

// enumerateAndLookup reads a node's HWPID/HWPID version/OS build and
// resolves the corresponding Product via the cache, keyed additionally
// by dpaVer, the coordinator's DPA version string.
func enumerateAndLookup(ctx context.Context, lease *dpa.ExclusiveLease, lookup Lookup, addr uint16, dpaVer string, repeat int, raw *[]RawTransaction, verbose bool) (Product, error) {
	enumResult := lease.ExecuteWithRetry(ctx, dpa.Frame{
		NADR: addr,
		PNUM: PNUMEnumeration,
		PCMD: CmdGetPerInfo,
	}, 0, repeat)
	appendRaw(raw, verbose, enumResult)
	if enumResult.Outcome != dpa.OutcomeOK {
		return Product{}, fmt.Errorf("enumerating node %d: %w", addr, enumResult.Err)
	}
	var hwpid, hwpidVer uint16
	if len(enumResult.Response.Data) >= 4 {
		hwpid = uint16(enumResult.Response.Data[0]) | uint16(enumResult.Response.Data[1])<<8
		hwpidVer = uint16(enumResult.Response.Data[2]) | uint16(enumResult.Response.Data[3])<<8
	}

	osResult := lease.ExecuteWithRetry(ctx, dpa.Frame{
		NADR: addr,
		PNUM: PNUMOS,
		PCMD: CmdOSRead,
	}, 0, repeat)
	appendRaw(raw, verbose, osResult)
	if osResult.Outcome != dpa.OutcomeOK {
		return Product{}, fmt.Errorf("reading OS info for node %d: %w", addr, osResult.Err)
	}
	var osBuild uint16
	if len(osResult.Response.Data) >= 6 {
		osBuild = uint16(osResult.Response.Data[4]) | uint16(osResult.Response.Data[5])<<8
	}

	if lookup == nil {
		return Product{HWPID: hwpid, HWPIDVersion: hwpidVer}, nil
	}
	return lookup.Product(ctx, hwpid, hwpidVer, osBuild, dpaVer)
}

// coordinatorDpaVersion returns the DPA version string the engine learned
// from the coordinator's reset notification, or "unknown" before one has
// announced it.
func coordinatorDpaVersion(engine *dpa.Engine) string {
	if v := engine.CoordinatorParameters().DpaVersion; v != "" {
		return v
	}
	return "unknown"
}
