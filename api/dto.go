/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stored records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Control:
    EvaluateRequest (inline order + invoice + optional thresholds)

  Purchase orders:
    CreatePurchaseOrderRequest, PurchaseOrderDTO

  Invoices:
    CreateInvoiceRequest, InvoiceDTO

  Purchase requests:
    PurchaseRequestPage (request bodies are validated by package purchasing)

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Purchase request payloads go through the JSON Schemas in package
  purchasing. Order and invoice lines are checked with the same rules the
  evaluator applies (ReferenceDocument.Validate / CandidateDocument.Validate).

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-control/factory"
	"github.com/warp/invoice-control/purchasing"
	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// CONTROL
// =============================================================================

// EvaluateRequest is a stateless evaluation of inline documents.
type EvaluateRequest struct {
	Order      reconcile.ReferenceDocument `json:"order"`
	Invoice    reconcile.CandidateDocument `json:"invoice"`
	Thresholds *factory.PolicyJSON         `json:"thresholds,omitempty"`
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

// CreatePurchaseOrderRequest creates a purchase order. RequestID, when set,
// must name an approved purchase request, which is then marked ordered.
type CreatePurchaseOrderRequest struct {
	ID           string                    `json:"id,omitempty"`
	Number       string                    `json:"number"`
	SupplierName string                    `json:"supplier_name"`
	RequestID    string                    `json:"request_id,omitempty"`
	Currency     string                    `json:"currency,omitempty"`
	Lines        []reconcile.ReferenceLine `json:"lines"`
}

// PurchaseOrderDTO represents a purchase order in API responses.
type PurchaseOrderDTO struct {
	ID           string                    `json:"id"`
	Number       string                    `json:"number"`
	SupplierName string                    `json:"supplier_name"`
	RequestID    string                    `json:"request_id,omitempty"`
	Currency     string                    `json:"currency"`
	Lines        []reconcile.ReferenceLine `json:"lines"`
	Total        decimal.Decimal           `json:"total"`
	CreatedAt    string                    `json:"created_at,omitempty"`
}

// =============================================================================
// INVOICES
// =============================================================================

// CreateInvoiceRequest registers a supplier invoice against an order.
type CreateInvoiceRequest struct {
	ID           string                    `json:"id,omitempty"`
	Number       string                    `json:"number"`
	SupplierName string                    `json:"supplier_name"`
	OrderID      string                    `json:"order_id"`
	Currency     string                    `json:"currency,omitempty"`
	IssueDate    string                    `json:"issue_date,omitempty"` // YYYY-MM-DD
	Lines        []reconcile.CandidateLine `json:"lines"`
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID           string                    `json:"id"`
	Number       string                    `json:"number"`
	SupplierName string                    `json:"supplier_name"`
	OrderID      string                    `json:"order_id"`
	Currency     string                    `json:"currency"`
	IssueDate    string                    `json:"issue_date,omitempty"`
	Status       reconcile.InvoiceStatus   `json:"status"`
	Lines        []reconcile.CandidateLine `json:"lines"`
	Total        decimal.Decimal           `json:"total"`
	CreatedAt    string                    `json:"created_at,omitempty"`
}

// =============================================================================
// PURCHASE REQUESTS
// =============================================================================

// PurchaseRequestPage is one page of a purchase request listing.
type PurchaseRequestPage struct {
	Items []purchasing.PurchaseRequest `json:"items"`
	Page  int                          `json:"page"`
	Limit int                          `json:"limit"`
	Total int                          `json:"total"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toPurchaseOrderDTO(po reconcile.PurchaseOrder) PurchaseOrderDTO {
	return PurchaseOrderDTO{
		ID:           po.ID,
		Number:       po.Number,
		SupplierName: po.SupplierName,
		RequestID:    po.RequestID,
		Currency:     po.Currency,
		Lines:        po.Lines,
		Total:        po.Total(),
		CreatedAt:    formatTime(po.CreatedAt),
	}
}

func toInvoiceDTO(inv reconcile.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:           inv.ID,
		Number:       inv.Number,
		SupplierName: inv.SupplierName,
		OrderID:      inv.OrderID,
		Currency:     inv.Currency,
		Status:       inv.Status,
		Lines:        inv.Lines,
		Total:        inv.Total(),
		CreatedAt:    formatTime(inv.CreatedAt),
	}
	if !inv.IssueDate.IsZero() {
		dto.IssueDate = inv.IssueDate.Format(purchasing.DateLayout)
	}
	return dto
}
