package pricefeed

import (
	"context"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/fee"
)

// Oracle serves fee quotes from PriceFeed contracts. Service ID is the
// contract account, provider ID is the publisher account.
type Oracle struct {
	invoker Invoker
}

// NewOracle returns Oracle reading entries via the given Invoker.
func NewOracle(invoker Invoker) *Oracle {
	return &Oracle{invoker: invoker}
}

// GetEntry implements fee.Oracle.
func (o *Oracle) GetEntry(ctx context.Context, service, pair, provider string) (fee.Quote, error) {
	var q fee.Quote

	contract, err := common.ScriptHash(service)
	if err != nil {
		return q, fmt.Errorf("oracle service: %w", err)
	}

	publisher, err := common.ScriptHash(provider)
	if err != nil {
		return q, fmt.Errorf("oracle provider: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return q, err
	}

	e, err := NewReader(o.invoker, contract).GetEntry(pair, publisher)
	if err != nil {
		return q, fmt.Errorf("get %s entry of %s: %w", pair, provider, err)
	}

	price, overflow := uint256.FromBig(e.Price)
	if overflow || e.Price.Sign() < 0 {
		return q, fmt.Errorf("price %s is out of range", e.Price)
	}
	if !e.Decimals.IsUint64() || e.Decimals.Uint64() > math.MaxUint32 {
		return q, fmt.Errorf("decimals %s are out of range", e.Decimals)
	}
	if !e.LastUpdate.IsUint64() {
		return q, fmt.Errorf("update time %s is out of range", e.LastUpdate)
	}

	q.Price = price
	q.Decimals = uint32(e.Decimals.Uint64())
	q.LastUpdate = e.LastUpdate.Uint64()

	return q, nil
}
