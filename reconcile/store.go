/*
store.go - Persistence interface for controlled documents

PURPOSE:
  The evaluator itself never does I/O. Loading the purchase order, saving the
  invoice and attaching the control result to it are the job of a
  DocumentStore. Implementations:
  - store/sqlite/sqlite.go: Production SQLite
  - reconcile/store/memory.go: In-memory for tests and the CLI

CONTRACT:
  - Get* return a *NotFoundError (errors.Is ErrNotFound) for unknown IDs.
  - Save* of an existing purchase order / invoice ID returns ErrConflict.
  - SaveControl stores the record AND moves the invoice to the status derived
    from the decision, atomically.

SEE ALSO:
  - service.go: Controller, the main consumer
*/
package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOCUMENT RECORDS
// =============================================================================

// PurchaseOrder is a stored purchase order.
type PurchaseOrder struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	SupplierName string          `json:"supplier_name"`
	RequestID    string          `json:"request_id,omitempty"`
	Currency     string          `json:"currency"`
	Lines        []ReferenceLine `json:"lines"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Reference returns the order as the reference side of a control.
func (po PurchaseOrder) Reference() ReferenceDocument {
	return ReferenceDocument{ID: po.ID, Lines: po.Lines}
}

// Total is the order amount.
func (po PurchaseOrder) Total() decimal.Decimal {
	return po.Reference().Total()
}

// Invoice is a stored supplier invoice.
type Invoice struct {
	ID           string          `json:"id"`
	Number       string          `json:"number"`
	SupplierName string          `json:"supplier_name"`
	OrderID      string          `json:"order_id"`
	Currency     string          `json:"currency"`
	IssueDate    time.Time       `json:"issue_date"`
	Status       InvoiceStatus   `json:"status"`
	Lines        []CandidateLine `json:"lines"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Candidate returns the invoice as the candidate side of a control.
func (inv Invoice) Candidate() CandidateDocument {
	return CandidateDocument{ID: inv.ID, Lines: inv.Lines}
}

// Total is the invoice amount.
func (inv Invoice) Total() decimal.Decimal {
	return inv.Candidate().Total()
}

// ControlRecord is a persisted three-way control.
type ControlRecord struct {
	ID        string         `json:"id"`
	InvoiceID string         `json:"invoice_id"`
	OrderID   string         `json:"order_id"`
	Result    ThreeWayResult `json:"result"`
}

// =============================================================================
// STORE
// =============================================================================

// DocumentStore persists orders, invoices and control records.
type DocumentStore interface {
	SavePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id string) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error)

	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	// ListInvoices filters by status; "" returns every invoice.
	ListInvoices(ctx context.Context, status InvoiceStatus) ([]Invoice, error)

	SaveControl(ctx context.Context, rec ControlRecord) error
	// GetLatestControl returns the most recent control of an invoice.
	GetLatestControl(ctx context.Context, invoiceID string) (*ControlRecord, error)
}
