/*
Package reconcile provides the invoice control engine.

PURPOSE:
  Compares a supplier invoice (the candidate document) against the purchase
  order it bills (the reference document), line by line and in total, and
  classifies every mismatch by severity. The result carries a compliance
  score and an approve/investigate decision that the surrounding system
  turns into an invoice status.

KEY CONCEPTS IN THIS FILE (types.go):
  - ReferenceLine / CandidateLine: quantity and unit price per line
  - ReferenceDocument / CandidateDocument: the two sides of a control
  - Variance: a single detected mismatch (quantity, price or amount)
  - Result: the immutable outcome of one evaluation

DESIGN PRINCIPLES:
  1. Purity: Evaluate depends only on its inputs and an injected Clock
  2. Precision: decimal.Decimal everywhere, no float64 money
  3. Totality: variances are data, never errors; division by zero yields
     an unbounded percentage marker instead of Inf/NaN

USAGE:
  ev := reconcile.NewEvaluator()
  res, err := ev.Evaluate(order, invoice)
  if err != nil {
      // *InvalidInputError: empty document or duplicate line numbers
  }
  if res.Decision == reconcile.DecisionInvestigate { ... }

SEE ALSO:
  - evaluator.go: The evaluation algorithm
  - classify.go: Severity and recommended actions
  - thresholds.go: Policy constants
  - threeway.go: Request -> order -> invoice control
*/
package reconcile

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT LINES
// =============================================================================

// ReferenceLine is a purchase order line.
type ReferenceLine struct {
	LineNumber      int             `json:"line_number"`
	Description     string          `json:"description,omitempty"`
	OrderedQuantity decimal.Decimal `json:"ordered_quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

// LineAmount returns OrderedQuantity * UnitPrice.
func (l ReferenceLine) LineAmount() decimal.Decimal {
	return l.OrderedQuantity.Mul(l.UnitPrice)
}

// CandidateLine is a supplier invoice line.
type CandidateLine struct {
	LineNumber       int             `json:"line_number"`
	Description      string          `json:"description,omitempty"`
	InvoicedQuantity decimal.Decimal `json:"invoiced_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
}

// LineAmount returns InvoicedQuantity * UnitPrice.
func (l CandidateLine) LineAmount() decimal.Decimal {
	return l.InvoicedQuantity.Mul(l.UnitPrice)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// ReferenceDocument is the purchase order an invoice is checked against.
type ReferenceDocument struct {
	ID    string          `json:"id"`
	Lines []ReferenceLine `json:"lines"`
}

// Total is the sum of line amounts.
func (d ReferenceDocument) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.LineAmount())
	}
	return total
}

// CandidateDocument is the supplier invoice being reconciled.
type CandidateDocument struct {
	ID    string          `json:"id"`
	Lines []CandidateLine `json:"lines"`
}

// Total is the sum of line amounts.
func (d CandidateDocument) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.LineAmount())
	}
	return total
}

// =============================================================================
// VARIANCE
// =============================================================================

type VarianceKind string

const (
	KindQuantity VarianceKind = "quantity"
	KindPrice    VarianceKind = "price"
	KindAmount   VarianceKind = "amount" // aggregate level, no line number
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Variance is a mismatch between the reference (expected) and the candidate
// (observed). DeltaPercent is nil when Expected is zero: the deviation is
// unbounded and the variance is always high severity.
type Variance struct {
	Kind              VarianceKind     `json:"kind"`
	LineNumber        *int             `json:"line_number,omitempty"`
	Expected          decimal.Decimal  `json:"expected"`
	Observed          decimal.Decimal  `json:"observed"`
	Delta             decimal.Decimal  `json:"delta"`
	DeltaPercent      *decimal.Decimal `json:"delta_percent"`
	Severity          Severity         `json:"severity"`
	RecommendedAction string           `json:"recommended_action"`
}

// Unbounded reports whether the percentage deviation could not be computed.
func (v Variance) Unbounded() bool {
	return v.DeltaPercent == nil
}

// MarshalJSON adds "unbounded": true when DeltaPercent is null.
func (v Variance) MarshalJSON() ([]byte, error) {
	type variance Variance
	return json.Marshal(struct {
		variance
		Unbounded bool `json:"unbounded,omitempty"`
	}{variance(v), v.Unbounded()})
}

// AbsPercent returns |DeltaPercent|, and false when unbounded.
func (v Variance) AbsPercent() (decimal.Decimal, bool) {
	if v.DeltaPercent == nil {
		return decimal.Zero, false
	}
	return v.DeltaPercent.Abs(), true
}

// =============================================================================
// RESULT
// =============================================================================

type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionInvestigate Decision = "investigate"
)

// Result is the outcome of one evaluation. Never mutated after Evaluate returns.
type Result struct {
	ReferenceID     string          `json:"reference_id,omitempty"`
	CandidateID     string          `json:"candidate_id,omitempty"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
	Compliant       bool            `json:"compliant"`
	Variances       []Variance      `json:"variances"`
	ComplianceScore decimal.Decimal `json:"compliance_score"`
	Decision        Decision        `json:"decision"`

	// AmountDeltaPercent drives the decision for non-compliant results.
	ReferenceTotal     decimal.Decimal  `json:"reference_total"`
	CandidateTotal     decimal.Decimal  `json:"candidate_total"`
	AmountDeltaPercent *decimal.Decimal `json:"amount_delta_percent"`
	UnpairedLines      []int            `json:"unpaired_lines,omitempty"`
}

// AmountUnbounded reports whether the totals differ against a zero
// reference total.
func (r Result) AmountUnbounded() bool {
	return r.AmountDeltaPercent == nil
}

// MarshalJSON adds "amount_unbounded": true when AmountDeltaPercent is null.
func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	return json.Marshal(struct {
		result
		AmountUnbounded bool `json:"amount_unbounded,omitempty"`
	}{result(r), r.AmountUnbounded()})
}

// CountBySeverity tallies variances per severity.
func (r *Result) CountBySeverity() map[Severity]int {
	counts := map[Severity]int{SeverityLow: 0, SeverityMedium: 0, SeverityHigh: 0}
	for _, v := range r.Variances {
		counts[v.Severity]++
	}
	return counts
}

// AmountVariance returns the aggregate amount variance, if any.
func (r *Result) AmountVariance() (Variance, bool) {
	for _, v := range r.Variances {
		if v.Kind == KindAmount {
			return v, true
		}
	}
	return Variance{}, false
}
