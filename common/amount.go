package common

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/encoding/fixedn"
)

// ParseAmount parses non-negative decimal integer fitting into 256 bits.
func ParseAmount(s string) (*uint256.Int, error) {
	bi, ok := new(big.Int).SetString(s, 10)
	if !ok || bi.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}

	v, overflow := uint256.FromBig(bi)
	if overflow {
		return nil, fmt.Errorf("%w: amount %q overflows 256 bits", ErrArithmetic, s)
	}

	return v, nil
}

// FormatAmount returns amount as decimal integer string.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.ToBig().String()
}

// FormatFixed renders amount with given precision (e.g. 8 for GAS).
func FormatFixed(v *uint256.Int, precision int) string {
	if v == nil {
		return "0"
	}
	return fixedn.ToString(v.ToBig(), precision)
}

// Sum adds all amounts up, failing with ErrArithmetic on overflow.
func Sum(amounts []*uint256.Int) (*uint256.Int, error) {
	total := new(uint256.Int)
	for i := range amounts {
		if amounts[i] == nil {
			return nil, fmt.Errorf("%w: missing amount #%d", ErrValidation, i)
		}
		if _, overflow := total.AddOverflow(total, amounts[i]); overflow {
			return nil, fmt.Errorf("%w: sum of amounts overflows", ErrArithmetic)
		}
	}
	return total, nil
}

// MulCount returns v*n, failing with ErrArithmetic on overflow.
func MulCount(v *uint256.Int, n int) (*uint256.Int, error) {
	res, overflow := new(uint256.Int).MulOverflow(v, uint256.NewInt(uint64(n)))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %d overflows", ErrArithmetic, FormatAmount(v), n)
	}
	return res, nil
}
