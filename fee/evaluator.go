/*
Package fee converts service fee payments into quota using the price
quoted by an external oracle.

Per-address fee is fixed in USD and converted into native currency units as

	oracle_fee = OneUnit * USDPerAddress * 10^(decimals - DecimalOffset) / price

where price and decimals come from the oracle quote. Caller-provided
estimation is accepted if it differs from oracle_fee by no more than
oracle_fee / ToleranceDivisor. All the math is unsigned 256-bit integer.
*/
package fee

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
)

// Quote is a price entry returned by the oracle. It is trusted as is.
type Quote struct {
	Price      *uint256.Int
	Decimals   uint32
	LastUpdate uint64
}

// Oracle provides price quotes.
type Oracle interface {
	// GetEntry returns the latest price of the pair published by provider
	// via the oracle service.
	GetEntry(ctx context.Context, service, pair, provider string) (Quote, error)
}

// Default fee parameters.
const (
	DefaultPair             = "GAS/USD"
	DefaultOneUnit          = 100_000_000
	DefaultUSDPerAddress    = 5
	DefaultDecimalOffset    = 2
	DefaultToleranceDivisor = 10
)

// Params groups fee calculation parameters.
type Params struct {
	// Pair is the currency pair requested from the oracle.
	Pair string
	// OneUnit is the number of minimal units in one native coin.
	OneUnit *uint256.Int
	// USDPerAddress is the fee per disbursement slot scaled by
	// 10^DecimalOffset.
	USDPerAddress *uint256.Int
	DecimalOffset uint32
	// ToleranceDivisor defines the acceptance band as oracle_fee / divisor.
	ToleranceDivisor uint64
}

// DefaultParams returns parameters for a 0.05 USD per address fee paid in
// GAS.
func DefaultParams() Params {
	return Params{
		Pair:             DefaultPair,
		OneUnit:          uint256.NewInt(DefaultOneUnit),
		USDPerAddress:    uint256.NewInt(DefaultUSDPerAddress),
		DecimalOffset:    DefaultDecimalOffset,
		ToleranceDivisor: DefaultToleranceDivisor,
	}
}

// Validate checks that parameters are usable.
func (p Params) Validate() error {
	switch {
	case p.Pair == "":
		return errors.New("empty currency pair")
	case p.OneUnit == nil || p.OneUnit.IsZero():
		return errors.New("zero coin unit")
	case p.USDPerAddress == nil || p.USDPerAddress.IsZero():
		return errors.New("zero USD fee")
	case p.ToleranceDivisor == 0:
		return errors.New("zero tolerance divisor")
	}
	return nil
}

// OracleFee calculates fee per disbursement slot in native units. Zero price,
// decimals below DecimalOffset and overflows are reported as
// common.ErrArithmetic.
func (p Params) OracleFee(q Quote) (*uint256.Int, error) {
	if q.Price == nil || q.Price.IsZero() {
		return nil, fmt.Errorf("%w: zero price", common.ErrArithmetic)
	}
	if q.Decimals < p.DecimalOffset {
		return nil, fmt.Errorf("%w: price decimals %d are less than offset %d",
			common.ErrArithmetic, q.Decimals, p.DecimalOffset)
	}

	res, overflow := new(uint256.Int).MulOverflow(p.OneUnit, p.USDPerAddress)
	if overflow {
		return nil, fmt.Errorf("%w: fee numerator overflows", common.ErrArithmetic)
	}

	ten := uint256.NewInt(10)
	for range q.Decimals - p.DecimalOffset {
		if _, overflow = res.MulOverflow(res, ten); overflow {
			return nil, fmt.Errorf("%w: fee numerator overflows with %d decimals",
				common.ErrArithmetic, q.Decimals)
		}
	}

	return res.Div(res, q.Price), nil
}

// Decision is the result of fee payment evaluation.
type Decision struct {
	OracleFee *uint256.Int
	// Accepted is false when estimation is out of the tolerance band. In this
	// case the whole payment is refunded.
	Accepted bool
	// Slots is the number of quota slots bought.
	Slots *uint256.Int
	// Refund is the part of the payment returned to the payer.
	Refund *uint256.Int
}

// Evaluate decides on the payment of amount made with the estimated fee per
// slot against the quote. Estimated fee must be positive.
func (p Params) Evaluate(q Quote, estimated, amount *uint256.Int) (Decision, error) {
	if estimated == nil || estimated.IsZero() {
		return Decision{}, fmt.Errorf("%w: zero estimated fee", common.ErrValidation)
	}

	oracleFee, err := p.OracleFee(q)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{OracleFee: oracleFee}

	diff := new(uint256.Int)
	if oracleFee.Gt(estimated) {
		diff.Sub(oracleFee, estimated)
	} else {
		diff.Sub(estimated, oracleFee)
	}

	band := new(uint256.Int).Div(oracleFee, uint256.NewInt(p.ToleranceDivisor))
	if diff.Gt(band) {
		d.Slots = new(uint256.Int)
		d.Refund = amount.Clone()
		return d, nil
	}

	d.Accepted = true
	d.Slots, d.Refund = new(uint256.Int).DivMod(amount, estimated, new(uint256.Int))

	return d, nil
}
