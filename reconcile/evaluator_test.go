package reconcile_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func newEvaluator() *reconcile.Evaluator {
	return reconcile.NewEvaluator(reconcile.WithClock(reconcile.FixedClock{At: fixedNow}))
}

func refLine(n int, qty, price string) reconcile.ReferenceLine {
	return reconcile.ReferenceLine{LineNumber: n, OrderedQuantity: dec(qty), UnitPrice: dec(price)}
}

func candLine(n int, qty, price string) reconcile.CandidateLine {
	return reconcile.CandidateLine{LineNumber: n, InvoicedQuantity: dec(qty), UnitPrice: dec(price)}
}

func order(lines ...reconcile.ReferenceLine) reconcile.ReferenceDocument {
	return reconcile.ReferenceDocument{ID: "PO-1", Lines: lines}
}

func invoice(lines ...reconcile.CandidateLine) reconcile.CandidateDocument {
	return reconcile.CandidateDocument{ID: "INV-1", Lines: lines}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestEvaluate_SeverityBands(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		severity reconcile.Severity
		action   string
	}{
		{"exactly low threshold", "102", reconcile.SeverityLow, reconcile.ActionToVerify},
		{"just above low", "102.01", reconcile.SeverityMedium, reconcile.ActionToVerify},
		{"exactly medium threshold", "105", reconcile.SeverityMedium, reconcile.ActionToVerify},
		{"just above medium", "105.01", reconcile.SeverityHigh, reconcile.ActionSupplierJustification},
		{"price decrease", "90", reconcile.SeverityHigh, reconcile.ActionSupplierJustification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newEvaluator().Evaluate(
				order(refLine(1, "1", "100")),
				invoice(candLine(1, "1", tt.price)),
			)
			require.NoError(t, err)
			require.NotEmpty(t, res.Variances)

			price := res.Variances[0]
			assert.Equal(t, reconcile.KindPrice, price.Kind)
			assert.Equal(t, tt.severity, price.Severity)
			assert.Equal(t, tt.action, price.RecommendedAction)
		})
	}
}

func TestEvaluate_QuantityActions(t *testing.T) {
	res, err := newEvaluator().Evaluate(
		order(refLine(1, "100", "1"), refLine(2, "100", "1")),
		invoice(candLine(1, "101", "1"), candLine(2, "150", "1")),
	)
	require.NoError(t, err)

	require.Len(t, res.Variances, 3)
	assert.Equal(t, reconcile.SeverityLow, res.Variances[0].Severity)
	assert.Equal(t, reconcile.ActionToVerify, res.Variances[0].RecommendedAction)
	assert.Equal(t, reconcile.SeverityHigh, res.Variances[1].Severity)
	assert.Equal(t, reconcile.ActionManagerCFOValidation, res.Variances[1].RecommendedAction)
}

func TestEvaluate_AmountActions(t *testing.T) {
	// 3% over: manager validation
	res, err := newEvaluator().Evaluate(order(refLine(1, "100", "1")), invoice(candLine(1, "103", "1")))
	require.NoError(t, err)
	amount, ok := res.AmountVariance()
	require.True(t, ok)
	assert.Equal(t, reconcile.ActionManagerValidation, amount.RecommendedAction)
	assert.Equal(t, reconcile.SeverityMedium, amount.Severity)

	// 8% over: CFO
	res, err = newEvaluator().Evaluate(order(refLine(1, "100", "1")), invoice(candLine(1, "108", "1")))
	require.NoError(t, err)
	amount, ok = res.AmountVariance()
	require.True(t, ok)
	assert.Equal(t, reconcile.ActionMandatoryCFO, amount.RecommendedAction)
	assert.Nil(t, amount.LineNumber)
}

// =============================================================================
// ORDERING
// =============================================================================

func TestEvaluate_VarianceOrder(t *testing.T) {
	res, err := newEvaluator().Evaluate(
		order(refLine(1, "10", "5"), refLine(2, "4", "100")),
		invoice(candLine(2, "5", "110"), candLine(1, "11", "5")),
	)
	require.NoError(t, err)

	kinds := make([]reconcile.VarianceKind, len(res.Variances))
	lines := make([]int, 0, len(res.Variances))
	for i, v := range res.Variances {
		kinds[i] = v.Kind
		if v.LineNumber != nil {
			lines = append(lines, *v.LineNumber)
		}
	}
	assert.Equal(t, []reconcile.VarianceKind{
		reconcile.KindQuantity, reconcile.KindPrice, reconcile.KindQuantity, reconcile.KindAmount,
	}, kinds)
	assert.Equal(t, []int{2, 2, 1}, lines, "candidate line order, amount last")
}

// =============================================================================
// SCORE
// =============================================================================

func TestEvaluate_ScoreFromWorstLine_WhenTotalsMatch(t *testing.T) {
	// GIVEN: quantities shifted between two lines, totals unchanged
	res, err := newEvaluator().Evaluate(
		order(refLine(1, "10", "5"), refLine(2, "5", "10")),
		invoice(candLine(1, "12", "5"), candLine(2, "4", "10")),
	)
	require.NoError(t, err)

	// THEN: not compliant, score driven by the worst line (20%)
	_, hasAmount := res.AmountVariance()
	assert.False(t, hasAmount)
	assert.False(t, res.Compliant)
	assertDec(t, "80", res.ComplianceScore)
	assert.Equal(t, reconcile.DecisionApprove, res.Decision)
}

func TestEvaluate_ScoreClampedAtZero(t *testing.T) {
	res, err := newEvaluator().Evaluate(order(refLine(1, "10", "5")), invoice(candLine(1, "30", "5")))
	require.NoError(t, err)
	assertDec(t, "0", res.ComplianceScore)
	assert.Equal(t, reconcile.DecisionInvestigate, res.Decision)
}

func TestEvaluate_ScoreNeverReaches100_WhenNotCompliant(t *testing.T) {
	res, err := newEvaluator().Evaluate(
		order(refLine(1, "1", "100000")),
		invoice(candLine(1, "1", "100000.01")),
	)
	require.NoError(t, err)
	require.False(t, res.Compliant)
	assert.True(t, res.ComplianceScore.LessThan(dec("100")), "got %s", res.ComplianceScore)
	assertDec(t, "99.99", res.ComplianceScore)
}

// =============================================================================
// DIVISION BY ZERO
// =============================================================================

func TestEvaluate_ZeroExpected_IsUnboundedHigh(t *testing.T) {
	// GIVEN: a free line on the order, billed on the invoice
	res, err := newEvaluator().Evaluate(order(refLine(1, "2", "0")), invoice(candLine(1, "2", "10")))
	require.NoError(t, err)

	require.Len(t, res.Variances, 2)
	price := res.Variances[0]
	assert.Equal(t, reconcile.KindPrice, price.Kind)
	assert.True(t, price.Unbounded())
	assert.Nil(t, price.DeltaPercent)
	assert.Equal(t, reconcile.SeverityHigh, price.Severity)

	amount := res.Variances[1]
	assert.Equal(t, reconcile.KindAmount, amount.Kind)
	assert.True(t, amount.Unbounded())
	assert.Equal(t, reconcile.ActionMandatoryCFO, amount.RecommendedAction)

	assert.Nil(t, res.AmountDeltaPercent)
	assertDec(t, "0", res.ComplianceScore)
	assert.Equal(t, reconcile.DecisionInvestigate, res.Decision)
}

func TestEvaluate_ZeroExpected_MarshalsUnboundedFlag(t *testing.T) {
	res, err := newEvaluator().Evaluate(
		order(refLine(1, "2", "0"), refLine(2, "1", "100")),
		invoice(candLine(1, "2", "10"), candLine(2, "1", "101")),
	)
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var body struct {
		Variances []map[string]any `json:"variances"`
		Unbounded *bool            `json:"amount_unbounded"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	require.Len(t, body.Variances, 3)

	// price on the free line 1: unbounded
	assert.Nil(t, body.Variances[0]["delta_percent"])
	assert.Equal(t, true, body.Variances[0]["unbounded"])
	// price on line 2: 1%, no flag
	assert.NotNil(t, body.Variances[1]["delta_percent"])
	assert.NotContains(t, body.Variances[1], "unbounded")
	// amount: 121 vs 100 is bounded
	assert.NotContains(t, body.Variances[2], "unbounded")
	assert.Nil(t, body.Unbounded)
}

func TestEvaluate_ZeroTotalsBothSides(t *testing.T) {
	res, err := newEvaluator().Evaluate(order(refLine(1, "0", "5")), invoice(candLine(1, "0", "5")))
	require.NoError(t, err)
	assert.True(t, res.Compliant)
	require.NotNil(t, res.AmountDeltaPercent)
	assertDec(t, "0", *res.AmountDeltaPercent)
}

// =============================================================================
// OPTIONS & CONCURRENCY
// =============================================================================

func TestEvaluate_CustomThresholds(t *testing.T) {
	ev := reconcile.NewEvaluator(reconcile.WithThresholds(reconcile.Thresholds{
		LowThresholdPercent:     dec("1"),
		MediumThresholdPercent:  dec("3"),
		AmountToleranceAbsolute: dec("1"),
	}))

	res, err := ev.Evaluate(order(refLine(1, "1", "100")), invoice(candLine(1, "1", "100.90")))
	require.NoError(t, err)

	require.Len(t, res.Variances, 1, "0.90 is within the 1.00 amount tolerance")
	assert.Equal(t, reconcile.SeverityLow, res.Variances[0].Severity)

	res, err = ev.Evaluate(order(refLine(1, "1", "100")), invoice(candLine(1, "1", "104")))
	require.NoError(t, err)
	assert.Equal(t, reconcile.DecisionInvestigate, res.Decision)
}

func TestWithThresholds_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		reconcile.WithThresholds(reconcile.Thresholds{
			LowThresholdPercent:    dec("10"),
			MediumThresholdPercent: dec("5"),
		})
	})
	assert.NotPanics(t, func() {
		reconcile.NewEvaluator(reconcile.WithThresholds(reconcile.DefaultThresholds()))
	})
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, reconcile.DefaultThresholds().Validate())

	bad := reconcile.DefaultThresholds()
	bad.AmountToleranceAbsolute = dec("-0.01")
	err := bad.Validate()
	assert.True(t, errors.Is(err, reconcile.ErrInvalidInput))
}

func TestEvaluate_ConcurrentCallers(t *testing.T) {
	ev := newEvaluator()
	ref := order(refLine(1, "10", "5"), refLine(2, "4", "100"))
	cand := invoice(candLine(1, "12", "5"), candLine(2, "4", "101"))

	want, err := ev.Evaluate(ref, cand)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*reconcile.Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = ev.Evaluate(ref, cand)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.NotNil(t, got)
		assert.Equal(t, len(want.Variances), len(got.Variances))
		assert.Equal(t, want.Decision, got.Decision)
		assert.True(t, want.ComplianceScore.Equal(got.ComplianceScore))
	}
}

func TestResult_CountBySeverity(t *testing.T) {
	res, err := newEvaluator().Evaluate(
		order(refLine(1, "10", "5"), refLine(2, "4", "100")),
		invoice(candLine(1, "12", "5"), candLine(2, "4", "101")),
	)
	require.NoError(t, err)

	// quantity 20%, price 1%, amount 14/450 = 3.11%
	counts := res.CountBySeverity()
	assert.Equal(t, 1, counts[reconcile.SeverityHigh])
	assert.Equal(t, 1, counts[reconcile.SeverityMedium])
	assert.Equal(t, 1, counts[reconcile.SeverityLow])
}
