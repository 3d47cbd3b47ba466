package reconcile

import (
	"context"
	"fmt"
)

// IDGenerator returns a fresh identifier for control records.
type IDGenerator func() string

// Controller runs three-way controls on stored invoices and records the
// outcome. The evaluation stays pure; the Controller owns the I/O around it.
type Controller struct {
	store     DocumentStore
	evaluator *Evaluator
	newID     IDGenerator
}

// NewController wires a store, an evaluator and an ID source.
func NewController(store DocumentStore, evaluator *Evaluator, newID IDGenerator) *Controller {
	if evaluator == nil {
		evaluator = NewEvaluator()
	}
	return &Controller{store: store, evaluator: evaluator, newID: newID}
}

// Evaluator returns the evaluator used for controls.
func (c *Controller) Evaluator() *Evaluator {
	return c.evaluator
}

// ControlInvoice loads the invoice and its purchase order, evaluates them and
// persists the result together with the derived invoice status.
func (c *Controller) ControlInvoice(ctx context.Context, invoiceID string) (*ControlRecord, error) {
	inv, err := c.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if inv.OrderID == "" {
		return nil, &InvalidInputError{Document: "candidate", Reason: "invoice does not reference a purchase order"}
	}
	po, err := c.store.GetPurchaseOrder(ctx, inv.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load purchase order: %w", err)
	}

	res, err := c.evaluator.ControlThreeWay(ThreeWayInput{
		RequestID: po.RequestID,
		Order:     po.Reference(),
		Invoice:   inv.Candidate(),
	})
	if err != nil {
		return nil, err
	}

	rec := ControlRecord{
		ID:        c.newID(),
		InvoiceID: inv.ID,
		OrderID:   po.ID,
		Result:    *res,
	}
	if err := c.store.SaveControl(ctx, rec); err != nil {
		return nil, fmt.Errorf("save control: %w", err)
	}
	return &rec, nil
}
