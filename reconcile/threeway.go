package reconcile

import "time"

// =============================================================================
// THREE-WAY CONTROL - purchase request -> purchase order -> invoice
// =============================================================================
//
// Only the order -> invoice leg is computed. The request -> order leg is
// accepted as compliant once the order references an approved request; the
// stage is still reported so that consumers render all three legs.

type Stage string

const (
	StageRequestOrder Stage = "request_order"
	StageOrderInvoice Stage = "order_invoice"
)

// StageResult summarises one leg of a three-way control.
type StageResult struct {
	Stage     Stage  `json:"stage"`
	Compliant bool   `json:"compliant"`
	Note      string `json:"note,omitempty"`
}

// ThreeWayInput bundles the documents of one control.
type ThreeWayInput struct {
	RequestID string
	Order     ReferenceDocument
	Invoice   CandidateDocument
}

// ThreeWayResult is the outcome of ControlThreeWay.
type ThreeWayResult struct {
	RequestID    string        `json:"request_id,omitempty"`
	Stages       []StageResult `json:"stages"`
	OrderInvoice *Result       `json:"order_invoice"`
	Decision     Decision      `json:"decision"`
	Status       InvoiceStatus `json:"status"`
	ControlledAt time.Time     `json:"controlled_at"`
}

// ControlThreeWay runs the full control chain for one invoice.
func (e *Evaluator) ControlThreeWay(in ThreeWayInput) (*ThreeWayResult, error) {
	res, err := e.Evaluate(in.Order, in.Invoice)
	if err != nil {
		return nil, err
	}

	requestStage := StageResult{Stage: StageRequestOrder, Compliant: true}
	if in.RequestID == "" {
		requestStage.Note = "order has no originating purchase request"
	}

	orderStage := StageResult{Stage: StageOrderInvoice, Compliant: res.Compliant}
	if !res.Compliant {
		orderStage.Note = "variances detected"
	}

	return &ThreeWayResult{
		RequestID:    in.RequestID,
		Stages:       []StageResult{requestStage, orderStage},
		OrderInvoice: res,
		Decision:     res.Decision,
		Status:       StatusForDecision(res.Decision),
		ControlledAt: res.EvaluatedAt,
	}, nil
}

// =============================================================================
// INVOICE STATUS
// =============================================================================

type InvoiceStatus string

const (
	InvoiceReceived            InvoiceStatus = "received"
	InvoiceControlled          InvoiceStatus = "controlled"
	InvoiceDiscrepancyDetected InvoiceStatus = "discrepancy_detected"
)

// StatusForDecision maps a control decision to the invoice status recorded
// alongside the result.
func StatusForDecision(d Decision) InvoiceStatus {
	if d == DecisionInvestigate {
		return InvoiceDiscrepancyDetected
	}
	return InvoiceControlled
}

// ValidInvoiceStatus reports whether s is a known status.
func ValidInvoiceStatus(s string) bool {
	switch InvoiceStatus(s) {
	case InvoiceReceived, InvoiceControlled, InvoiceDiscrepancyDetected:
		return true
	}
	return false
}
