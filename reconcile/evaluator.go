/*
evaluator.go - Purchase order vs supplier invoice evaluation

ALGORITHM:
  1. Pair candidate lines with reference lines by line number.
     Candidate lines without a reference are skipped (UnpairedLines).
  2. Per paired line: quantity variance, then price variance.
  3. Aggregate: amount variance when |candidate total - reference total|
     exceeds the absolute tolerance. Always last in the list.
  4. Every variance is classified by |delta %| against the thresholds.
  5. Compliant iff there are no variances.
  6. Score: 100 when compliant, otherwise 100 - |amount %| (or the worst
     line % when only line variances exist), clamped to [0, 99.99].
  7. Decision: investigate iff the result is not compliant and the
     aggregate |delta %| is material, whether or not an amount variance
     was emitted.

CONCURRENCY:
  An Evaluator is immutable after NewEvaluator. Evaluate allocates a fresh
  Result per call and may be called from any number of goroutines.
*/
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	perfectScore         = decimal.NewFromInt(100)
	maxNonCompliantScore = decimal.RequireFromString("99.99")
)

// Evaluator runs controls with a fixed set of thresholds.
type Evaluator struct {
	thresholds Thresholds
	clock      Clock
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithThresholds overrides the default thresholds. It panics when t does not
// pass Thresholds.Validate; policies read from user input go through
// factory.PolicyFactory, which reports the error instead.
func WithThresholds(t Thresholds) Option {
	if err := t.Validate(); err != nil {
		panic(fmt.Sprintf("reconcile: WithThresholds: %v", err))
	}
	return func(e *Evaluator) {
		e.thresholds = t
	}
}

// WithClock sets the source of EvaluatedAt.
func WithClock(c Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.clock = c
		}
	}
}

// NewEvaluator creates an evaluator with default thresholds and the system clock.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		thresholds: DefaultThresholds(),
		clock:      SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the thresholds in effect.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate compares candidate against reference.
func (e *Evaluator) Evaluate(reference ReferenceDocument, candidate CandidateDocument) (*Result, error) {
	refByLine, err := indexReference(reference)
	if err != nil {
		return nil, err
	}
	if err := checkCandidate(candidate); err != nil {
		return nil, err
	}

	t := e.thresholds
	variances := make([]Variance, 0)
	var unpaired []int

	// Line level
	for _, cl := range candidate.Lines {
		rl, ok := refByLine[cl.LineNumber]
		if !ok {
			unpaired = append(unpaired, cl.LineNumber)
			continue
		}
		if !cl.InvoicedQuantity.Equal(rl.OrderedQuantity) {
			variances = append(variances, t.newVariance(KindQuantity, lineRef(cl.LineNumber), rl.OrderedQuantity, cl.InvoicedQuantity))
		}
		if !cl.UnitPrice.Equal(rl.UnitPrice) {
			variances = append(variances, t.newVariance(KindPrice, lineRef(cl.LineNumber), rl.UnitPrice, cl.UnitPrice))
		}
	}

	// Aggregate level
	refTotal := reference.Total()
	candTotal := candidate.Total()
	totalDelta := candTotal.Sub(refTotal)
	amountPct := aggregatePercent(refTotal, totalDelta)

	var amount *Variance
	if totalDelta.Abs().GreaterThan(t.AmountToleranceAbsolute) {
		v := t.newVariance(KindAmount, nil, refTotal, candTotal)
		variances = append(variances, v)
		amount = &v
	}

	res := &Result{
		ReferenceID:        reference.ID,
		CandidateID:        candidate.ID,
		EvaluatedAt:        e.clock.Now(),
		Compliant:          len(variances) == 0,
		Variances:          variances,
		ReferenceTotal:     refTotal,
		CandidateTotal:     candTotal,
		AmountDeltaPercent: amountPct,
		UnpairedLines:      unpaired,
	}
	res.ComplianceScore = complianceScore(res.Compliant, amount, variances)
	res.Decision = t.decide(res.Compliant, amountPct)
	return res, nil
}

// =============================================================================
// SCORE & DECISION
// =============================================================================

func complianceScore(compliant bool, amount *Variance, variances []Variance) decimal.Decimal {
	if compliant {
		return perfectScore
	}

	var (
		driver decimal.Decimal
		ok     bool
	)
	if amount != nil {
		driver, ok = amount.AbsPercent()
	} else {
		driver, ok = worstLinePercent(variances)
	}
	if !ok {
		return decimal.Zero
	}

	score := perfectScore.Sub(driver).Round(2)
	if score.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(score, maxNonCompliantScore)
}

// worstLinePercent returns the largest |delta %| among line variances, and
// false when any of them is unbounded.
func worstLinePercent(variances []Variance) (decimal.Decimal, bool) {
	worst := decimal.Zero
	for _, v := range variances {
		p, ok := v.AbsPercent()
		if !ok {
			return decimal.Zero, false
		}
		if p.GreaterThan(worst) {
			worst = p
		}
	}
	return worst, true
}

// decide uses the aggregate percentage even when the amount delta stayed
// within the absolute tolerance: on small totals a one-cent line variance can
// still be a large share of the order.
func (t Thresholds) decide(compliant bool, aggregatePct *decimal.Decimal) Decision {
	if compliant {
		return DecisionApprove
	}
	if t.material(aggregatePct) {
		return DecisionInvestigate
	}
	return DecisionApprove
}

// =============================================================================
// INPUT CHECKS
// =============================================================================

// Validate reports whether the order can be evaluated: at least one line,
// positive and unique line numbers.
func (d ReferenceDocument) Validate() error {
	_, err := indexReference(d)
	return err
}

// Validate applies the same checks to an invoice.
func (d CandidateDocument) Validate() error {
	return checkCandidate(d)
}

func indexReference(doc ReferenceDocument) (map[int]ReferenceLine, error) {
	if len(doc.Lines) == 0 {
		return nil, &InvalidInputError{Document: "reference", Reason: "no lines"}
	}
	byLine := make(map[int]ReferenceLine, len(doc.Lines))
	for _, l := range doc.Lines {
		if l.LineNumber <= 0 {
			return nil, &InvalidInputError{Document: "reference", LineNumber: l.LineNumber, Reason: "line number must be positive"}
		}
		if _, dup := byLine[l.LineNumber]; dup {
			return nil, &InvalidInputError{Document: "reference", LineNumber: l.LineNumber, Reason: "duplicate line number"}
		}
		byLine[l.LineNumber] = l
	}
	return byLine, nil
}

func checkCandidate(doc CandidateDocument) error {
	if len(doc.Lines) == 0 {
		return &InvalidInputError{Document: "candidate", Reason: "no lines"}
	}
	seen := make(map[int]bool, len(doc.Lines))
	for _, l := range doc.Lines {
		if l.LineNumber <= 0 {
			return &InvalidInputError{Document: "candidate", LineNumber: l.LineNumber, Reason: "line number must be positive"}
		}
		if seen[l.LineNumber] {
			return &InvalidInputError{Document: "candidate", LineNumber: l.LineNumber, Reason: "duplicate line number"}
		}
		seen[l.LineNumber] = true
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func lineRef(n int) *int {
	return &n
}

// aggregatePercent is deltaPercent except that equal totals give 0 even when
// both are zero.
func aggregatePercent(expected, delta decimal.Decimal) *decimal.Decimal {
	if delta.IsZero() {
		zero := decimal.Zero
		return &zero
	}
	return deltaPercent(expected, delta)
}
