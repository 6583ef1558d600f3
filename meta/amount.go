package meta

import (
	"github.com/confirmledger/commonconst"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// NormalizeAmount rounds to the ledger's fixed-point precision.
func NormalizeAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(commonconst.AmountPrecision)
}

// ParseAmount parses a decimal string, e.g. "100" or "0.001".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "parse %q", s)
	}
	return NormalizeAmount(d), nil
}

// MustAmount is for compile-time constants only.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}
