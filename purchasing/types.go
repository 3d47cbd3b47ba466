/*
Package purchasing holds purchase requests and the validation layer that
guards them.

PURPOSE:
  A purchase request (demande d'achat) is the first leg of the three-way
  control: an agency asks for goods or services, a manager approves it, and
  the approved request is turned into a purchase order. This package defines
  the request record, its closed vocabularies and its status machine, and
  parses raw HTTP payloads into typed inputs before any business logic runs.

KEY CONCEPTS:
  - Agency, RequestType, Status, Priority: closed enumerations
  - PurchaseRequest: the stored record
  - CreateInput / UpdateInput / ListQuery / ValidateInput: parsed payloads
  - ValidationError: per-field messages, wraps reconcile.ErrInvalidInput

SEE ALSO:
  - schema.go: JSON Schema documents for every payload shape
  - parse.go: Parse* entry points and numeric-string coercion
  - transition.go: Status machine
*/
package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// =============================================================================
// ENUMERATIONS
// =============================================================================

type Agency string

const (
	AgencyCasablanca Agency = "casablanca"
	AgencyTangier    Agency = "tangier"
	AgencyAgadir     Agency = "agadir"
	AgencyMarrakech  Agency = "marrakech"
	AgencyRabat      Agency = "rabat"
)

// Agencies lists every known agency.
var Agencies = []Agency{AgencyCasablanca, AgencyTangier, AgencyAgadir, AgencyMarrakech, AgencyRabat}

type RequestType string

const (
	TypeGoods     RequestType = "goods"
	TypeServices  RequestType = "services"
	TypeTransport RequestType = "transport"
	TypeCustoms   RequestType = "customs"
	TypeEquipment RequestType = "equipment"
)

var RequestTypes = []RequestType{TypeGoods, TypeServices, TypeTransport, TypeCustoms, TypeEquipment}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusOrdered   Status = "ordered"
	StatusCancelled Status = "cancelled"
)

var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected, StatusOrdered, StatusCancelled}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// =============================================================================
// PURCHASE REQUEST
// =============================================================================

// PurchaseRequest is a stored purchase request.
type PurchaseRequest struct {
	ID              int64           `json:"id"`
	Agency          Agency          `json:"agency"`
	Type            RequestType     `json:"type"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	RequesterID     int64           `json:"requester_id"`
	Priority        Priority        `json:"priority"`
	Status          Status          `json:"status"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	Currency        string          `json:"currency"`
	NeededBy        string          `json:"needed_by,omitempty"` // YYYY-MM-DD
	Comment         string          `json:"comment,omitempty"`   // set by approve/reject
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// =============================================================================
// PARSED PAYLOADS
// =============================================================================

// CreateInput is a validated create payload.
type CreateInput struct {
	Agency          Agency
	Type            RequestType
	Title           string
	Description     string
	RequesterID     int64
	Priority        Priority
	EstimatedAmount decimal.Decimal
	Currency        string
	NeededBy        string
	Submit          bool // create directly in submitted status
}

// NewRequest builds the record a CreateInput describes.
func (in CreateInput) NewRequest(now time.Time) PurchaseRequest {
	status := StatusDraft
	if in.Submit {
		status = StatusSubmitted
	}
	return PurchaseRequest{
		Agency:          in.Agency,
		Type:            in.Type,
		Title:           in.Title,
		Description:     in.Description,
		RequesterID:     in.RequesterID,
		Priority:        in.Priority,
		Status:          status,
		EstimatedAmount: in.EstimatedAmount,
		Currency:        in.Currency,
		NeededBy:        in.NeededBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// UpdateInput is a validated partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Agency          *Agency
	Type            *RequestType
	Title           *string
	Description     *string
	Priority        *Priority
	EstimatedAmount *decimal.Decimal
	Currency        *string
	NeededBy        *string
	Status          *Status // only submitted or cancelled
}

// ListQuery is a validated list query.
type ListQuery struct {
	Agency Agency
	Type   RequestType
	Status Status
	Page   int
	Limit  int
}

// Offset returns the row offset of the requested page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ValidateInput is an approval decision.
type ValidateInput struct {
	Decision Status // approved or rejected
	Comment  string
}
