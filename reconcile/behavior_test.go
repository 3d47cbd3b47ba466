/*
behavior_test.go - Behavioural tests of the invoice control engine

ORGANIZATION:
  1. Idempotence
  2. Clean invoice
  3. Line variances (quantity, price)
  4. Aggregate amount tolerance
  5. Decision boundary (aggregate percentage)
  6. Unpaired lines
  7. Input rejection

Each test states the scenario as GIVEN/WHEN/THEN.
*/
package reconcile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// 1. IDEMPOTENCE
// =============================================================================

func TestEvaluate_SameInputsSameOutcome(t *testing.T) {
	// GIVEN: a wall-clock evaluator and an invoice with several variances
	ev := reconcile.NewEvaluator()
	ref := order(refLine(1, "10", "5"), refLine(2, "4", "100"), refLine(3, "1", "250"))
	cand := invoice(candLine(1, "12", "5"), candLine(2, "4", "101"), candLine(3, "1", "250"))

	// WHEN: evaluated twice
	first, err := ev.Evaluate(ref, cand)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := ev.Evaluate(ref, cand)
	require.NoError(t, err)

	// THEN: everything but EvaluatedAt is identical
	first.EvaluatedAt, second.EvaluatedAt = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

// =============================================================================
// 2. CLEAN INVOICE
// =============================================================================

func TestEvaluate_NoVariance(t *testing.T) {
	// GIVEN: every invoice line matches its order line exactly
	ref := order(refLine(1, "10", "5"), refLine(2, "4", "100"))
	cand := invoice(candLine(1, "10", "5"), candLine(2, "4", "100"))

	// WHEN
	res, err := newEvaluator().Evaluate(ref, cand)
	require.NoError(t, err)

	// THEN: compliant, empty variance list, perfect score, approved
	assert.True(t, res.Compliant)
	assert.Empty(t, res.Variances)
	assertDec(t, "100", res.ComplianceScore)
	assert.Equal(t, reconcile.DecisionApprove, res.Decision)
	assert.Equal(t, fixedNow, res.EvaluatedAt)
	assertDec(t, "450", res.ReferenceTotal)
	assertDec(t, "450", res.CandidateTotal)
}

// =============================================================================
// 3. LINE VARIANCES
// =============================================================================

func TestEvaluate_QuantityVariance(t *testing.T) {
	// GIVEN: 10 ordered, 12 invoiced at the same price
	ref := order(refLine(1, "10", "5"))
	cand := invoice(candLine(1, "12", "5"))

	// WHEN
	res, err := newEvaluator().Evaluate(ref, cand)
	require.NoError(t, err)

	// THEN: exactly one quantity variance, +20%, high
	var qty []reconcile.Variance
	for _, v := range res.Variances {
		if v.Kind == reconcile.KindQuantity {
			qty = append(qty, v)
		}
	}
	require.Len(t, qty, 1)
	v := qty[0]
	require.NotNil(t, v.LineNumber)
	assert.Equal(t, 1, *v.LineNumber)
	assertDec(t, "10", v.Expected)
	assertDec(t, "12", v.Observed)
	assertDec(t, "2", v.Delta)
	require.NotNil(t, v.DeltaPercent)
	assertDec(t, "20", *v.DeltaPercent)
	assert.Equal(t, reconcile.SeverityHigh, v.Severity)
}

func TestEvaluate_PriceVariance(t *testing.T) {
	// GIVEN: unit price 100 ordered, 101 invoiced
	ref := reconcile.ReferenceDocument{Lines: []reconcile.ReferenceLine{refLine(2, "4", "100")}}
	cand := reconcile.CandidateDocument{Lines: []reconcile.CandidateLine{candLine(2, "4", "101")}}

	// WHEN
	res, err := newEvaluator().Evaluate(ref, cand)
	require.NoError(t, err)

	// THEN: one price variance of about 1%, low
	var price []reconcile.Variance
	for _, v := range res.Variances {
		if v.Kind == reconcile.KindPrice {
			price = append(price, v)
		}
	}
	require.Len(t, price, 1)
	assert.Equal(t, 2, *price[0].LineNumber)
	require.NotNil(t, price[0].DeltaPercent)
	f, _ := price[0].DeltaPercent.Float64()
	assert.InDelta(t, 1.0, f, 0.0001)
	assert.Equal(t, reconcile.SeverityLow, price[0].Severity)
	assert.Equal(t, reconcile.ActionToVerify, price[0].RecommendedAction)
}

// =============================================================================
// 4. AGGREGATE AMOUNT TOLERANCE
// =============================================================================

func TestEvaluate_AmountTolerance_IsInclusive(t *testing.T) {
	// GIVEN: totals differing by exactly 0.01
	res, err := newEvaluator().Evaluate(order(refLine(1, "1", "100.00")), invoice(candLine(1, "1", "100.01")))
	require.NoError(t, err)

	// THEN: no amount variance (the price variance remains)
	_, ok := res.AmountVariance()
	assert.False(t, ok, "0.01 is within tolerance")
	assert.Len(t, res.Variances, 1)
}

func TestEvaluate_AmountTolerance_Exceeded(t *testing.T) {
	// GIVEN: totals differing by 0.02
	res, err := newEvaluator().Evaluate(order(refLine(1, "1", "100.00")), invoice(candLine(1, "1", "100.02")))
	require.NoError(t, err)

	// THEN: the amount variance is reported last, without a line number
	amount, ok := res.AmountVariance()
	require.True(t, ok)
	assert.Nil(t, amount.LineNumber)
	assertDec(t, "0.02", amount.Delta)
	assert.Equal(t, reconcile.KindAmount, res.Variances[len(res.Variances)-1].Kind)
}

// =============================================================================
// 5. DECISION BOUNDARY
// =============================================================================

func TestEvaluate_DecisionBoundary(t *testing.T) {
	tests := []struct {
		name     string
		invoiced string
		decision reconcile.Decision
		score    string
	}{
		{"aggregate exactly 5%", "105", reconcile.DecisionApprove, "95"},
		{"aggregate 5.01%", "105.01", reconcile.DecisionInvestigate, "94.99"},
		{"aggregate -5%", "95", reconcile.DecisionApprove, "95"},
		{"aggregate -5.01%", "94.99", reconcile.DecisionInvestigate, "94.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: an order of 100 and an invoice of tt.invoiced
			res, err := newEvaluator().Evaluate(order(refLine(1, "1", "100")), invoice(candLine(1, "1", tt.invoiced)))
			require.NoError(t, err)

			// THEN
			assert.False(t, res.Compliant)
			assert.Equal(t, tt.decision, res.Decision)
			assertDec(t, tt.score, res.ComplianceScore)
		})
	}
}

func TestEvaluate_SmallTotals_DecideOnAggregatePercent(t *testing.T) {
	// GIVEN: a 0.10 order billed at 0.11, a one-cent gap within the amount tolerance
	res, err := newEvaluator().Evaluate(order(refLine(1, "1", "0.10")), invoice(candLine(1, "1", "0.11")))
	require.NoError(t, err)

	// THEN: no amount variance is emitted, yet the aggregate is 10% off
	_, hasAmount := res.AmountVariance()
	assert.False(t, hasAmount)
	require.Len(t, res.Variances, 1)
	require.NotNil(t, res.AmountDeltaPercent)
	assertDec(t, "10", *res.AmountDeltaPercent)

	// AND: the decision follows the aggregate percentage
	assert.False(t, res.Compliant)
	assert.Equal(t, reconcile.DecisionInvestigate, res.Decision)
	assertDec(t, "90", res.ComplianceScore)
}

// =============================================================================
// 6. UNPAIRED LINES
// =============================================================================

func TestEvaluate_UnpairedCandidateLine_IsSkipped(t *testing.T) {
	// GIVEN: invoice line 3 has no order line (zero value, so totals still match)
	ref := order(refLine(1, "10", "5"))
	cand := invoice(candLine(1, "10", "5"), candLine(3, "0", "99"))

	// WHEN
	res, err := newEvaluator().Evaluate(ref, cand)

	// THEN: no error, no variance, the line is only listed as unpaired
	require.NoError(t, err)
	assert.Empty(t, res.Variances)
	assert.True(t, res.Compliant)
	assert.Equal(t, []int{3}, res.UnpairedLines)
}

func TestEvaluate_UnpairedCandidateLine_OnlyShowsInTotals(t *testing.T) {
	// GIVEN: an unpaired line that carries an amount
	ref := order(refLine(1, "10", "5"))
	cand := invoice(candLine(1, "10", "5"), candLine(7, "1", "20"))

	res, err := newEvaluator().Evaluate(ref, cand)
	require.NoError(t, err)

	// THEN: no line variance mentions line 7; the aggregate catches the extra 20
	for _, v := range res.Variances {
		if v.LineNumber != nil {
			assert.NotEqual(t, 7, *v.LineNumber)
		}
	}
	amount, ok := res.AmountVariance()
	require.True(t, ok)
	assertDec(t, "20", amount.Delta)
	assert.Equal(t, []int{7}, res.UnpairedLines)
}

// =============================================================================
// 7. INPUT REJECTION
// =============================================================================

func TestEvaluate_RejectsMalformedDocuments(t *testing.T) {
	good := order(refLine(1, "1", "1"))
	goodInv := invoice(candLine(1, "1", "1"))

	tests := []struct {
		name     string
		ref      reconcile.ReferenceDocument
		cand     reconcile.CandidateDocument
		document string
	}{
		{"empty reference", reconcile.ReferenceDocument{}, goodInv, "reference"},
		{"empty candidate", good, reconcile.CandidateDocument{}, "candidate"},
		{"duplicate reference line", order(refLine(1, "1", "1"), refLine(1, "2", "1")), goodInv, "reference"},
		{"duplicate candidate line", good, invoice(candLine(1, "1", "1"), candLine(1, "1", "1")), "candidate"},
		{"zero line number", order(refLine(0, "1", "1")), goodInv, "reference"},
		{"negative line number", good, invoice(candLine(-2, "1", "1")), "candidate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newEvaluator().Evaluate(tt.ref, tt.cand)

			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, errors.Is(err, reconcile.ErrInvalidInput))
			assert.True(t, reconcile.IsClientError(err))

			var inputErr *reconcile.InvalidInputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.document, inputErr.Document)
		})
	}
}
