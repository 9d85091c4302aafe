package iqmesh

import "context"

// Product is the human-readable manufacturer/product data the external JS
// cache service resolves from low-level identifiers.
type Product struct {
	HWPID        uint16   `json:"hwpId"`
	HWPIDVersion uint16   `json:"hwpIdVer"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Product      string   `json:"product,omitempty"`
	Standards    []string `json:"standards,omitempty"`
}

// Lookup is the product/manufacturer cache service's interface, external
// to this core; services call it once they have enumerated a node's
// identifiers.
type Lookup interface {
	Product(ctx context.Context, hwpid, hwpidVer, osBuild uint16, dpaVer string) (Product, error)
}
