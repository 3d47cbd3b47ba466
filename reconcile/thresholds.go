package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Thresholds are the business policy constants of a control.
//
//	|pct| <= LowThresholdPercent                          -> low
//	LowThresholdPercent < |pct| <= MediumThresholdPercent -> medium
//	|pct| > MediumThresholdPercent                        -> high
//
// MediumThresholdPercent is also the materiality threshold for the decision:
// an aggregate deviation above it blocks approval. Totals differing by at most
// AmountToleranceAbsolute are treated as equal (currency rounding).
type Thresholds struct {
	LowThresholdPercent     decimal.Decimal `json:"low_threshold_percent"`
	MediumThresholdPercent  decimal.Decimal `json:"medium_threshold_percent"`
	AmountToleranceAbsolute decimal.Decimal `json:"amount_tolerance_absolute"`
}

// DefaultThresholds returns 2% / 5% / 0.01.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowThresholdPercent:     decimal.NewFromInt(2),
		MediumThresholdPercent:  decimal.NewFromInt(5),
		AmountToleranceAbsolute: decimal.RequireFromString("0.01"),
	}
}

// Validate checks the thresholds are usable.
func (t Thresholds) Validate() error {
	if t.LowThresholdPercent.IsNegative() {
		return fmt.Errorf("%w: low threshold must not be negative", ErrInvalidInput)
	}
	if t.MediumThresholdPercent.IsNegative() {
		return fmt.Errorf("%w: medium threshold must not be negative", ErrInvalidInput)
	}
	if t.LowThresholdPercent.GreaterThan(t.MediumThresholdPercent) {
		return fmt.Errorf("%w: low threshold %s exceeds medium threshold %s",
			ErrInvalidInput, t.LowThresholdPercent, t.MediumThresholdPercent)
	}
	if t.AmountToleranceAbsolute.IsNegative() {
		return fmt.Errorf("%w: amount tolerance must not be negative", ErrInvalidInput)
	}
	return nil
}
