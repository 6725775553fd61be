package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy converts VND bank amounts into PI, the unit seller balances are kept
// in. The rate is injected configuration; Version is recorded on every ledger
// row so a historic entry can be traced to the rate that produced it.
type Policy struct {
	RateVND decimal.Decimal // VND per 1 PI
	Version string
}

// NewPolicy validates the rate and returns a conversion policy.
func NewPolicy(rateVND decimal.Decimal, version string) (Policy, error) {
	if !rateVND.IsPositive() {
		return Policy{}, fmt.Errorf("conversion rate must be positive, got %s", rateVND)
	}
	return Policy{RateVND: rateVND, Version: version}, nil
}

// ToPI returns floor(vnd / rate).
func (p Policy) ToPI(vnd int64) int64 {
	return decimal.NewFromInt(vnd).Div(p.RateVND).Floor().IntPart()
}

// ToVND converts a PI amount back to VND.
func (p Policy) ToVND(pi int64) int64 {
	return decimal.NewFromInt(pi).Mul(p.RateVND).IntPart()
}

// WithinTolerance reports whether received differs from expected by at most
// tolerance VND.
func WithinTolerance(expected, received, tolerance int64) bool {
	diff := decimal.NewFromInt(received).Sub(decimal.NewFromInt(expected)).Abs()
	return diff.LessThanOrEqual(decimal.NewFromInt(tolerance))
}
