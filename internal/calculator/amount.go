// Package calculator implements exact token amount arithmetic for splits.
//
// Every amount is a *big.Int in the token's smallest unit. Conversions to and
// from human-readable decimals always take the token's decimals explicitly.
package calculator

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/AccountantBot/coordinator/internal/models"
)

// ErrInvalidAmount is returned for negative, missing or non-numeric amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// MaxUint256 is the largest ERC-20 amount, used by wallets for unlimited allowances.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount parses a base-unit integer string (e.g., "1500000").
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, s)
	}
	if v.Cmp(MaxUint256) > 0 {
		return nil, fmt.Errorf("%w: %s exceeds uint256", ErrInvalidAmount, s)
	}
	return v, nil
}

// Sum adds all item amounts exactly.
func Sum(items []models.SplitItem) (*big.Int, error) {
	total := new(big.Int)
	for i, item := range items {
		if item.Amount == nil {
			return nil, fmt.Errorf("%w: item %d has no amount", ErrInvalidAmount, i)
		}
		if item.Amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: item %d is negative", ErrInvalidAmount, i)
		}
		total.Add(total, item.Amount)
	}
	return total, nil
}

// FormatUnits renders a base-unit amount as a decimal string, e.g.
// FormatUnits(1500000, 6) == "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits converts a decimal string into base units. It rejects values
// with more fractional digits than decimals instead of rounding them away.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	return shifted.BigInt(), nil
}
