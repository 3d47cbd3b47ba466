package reconcile

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Recommended actions.
const (
	ActionToVerify              = "to verify"
	ActionSupplierJustification = "supplier justification required"
	ActionManagerCFOValidation  = "manager/CFO validation required"
	ActionMandatoryCFO          = "mandatory CFO validation"
	ActionManagerValidation     = "manager validation"
)

// deltaPercent returns delta / |expected| * 100, or nil when expected is zero.
func deltaPercent(expected, delta decimal.Decimal) *decimal.Decimal {
	if expected.IsZero() {
		return nil
	}
	pct := delta.Div(expected.Abs()).Mul(hundred)
	return &pct
}

// classify maps a percentage deviation to a severity. nil (unbounded) is high.
func (t Thresholds) classify(pct *decimal.Decimal) Severity {
	if pct == nil {
		return SeverityHigh
	}
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(t.LowThresholdPercent):
		return SeverityLow
	case abs.LessThanOrEqual(t.MediumThresholdPercent):
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// material reports whether an aggregate deviation exceeds the materiality
// threshold. Unbounded deviations are always material.
func (t Thresholds) material(pct *decimal.Decimal) bool {
	if pct == nil {
		return true
	}
	return pct.Abs().GreaterThan(t.MediumThresholdPercent)
}

// recommendedAction picks the follow-up for a variance.
func (t Thresholds) recommendedAction(kind VarianceKind, sev Severity, pct *decimal.Decimal) string {
	switch kind {
	case KindAmount:
		if t.material(pct) {
			return ActionMandatoryCFO
		}
		return ActionManagerValidation
	case KindPrice:
		if sev == SeverityHigh {
			return ActionSupplierJustification
		}
		return ActionToVerify
	default:
		if sev == SeverityHigh {
			return ActionManagerCFOValidation
		}
		return ActionToVerify
	}
}

// newVariance builds a fully classified variance.
func (t Thresholds) newVariance(kind VarianceKind, line *int, expected, observed decimal.Decimal) Variance {
	delta := observed.Sub(expected)
	pct := deltaPercent(expected, delta)
	sev := t.classify(pct)
	return Variance{
		Kind:              kind,
		LineNumber:        line,
		Expected:          expected,
		Observed:          observed,
		Delta:             delta,
		DeltaPercent:      pct,
		Severity:          sev,
		RecommendedAction: t.recommendedAction(kind, sev, pct),
	}
}
