/*
handlers.go - HTTP API handlers for the invoice control service

PURPOSE:
  Exposes the control engine and the purchasing records via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  packages reconcile and purchasing.

ENDPOINTS:
  Control:
    POST   /api/control/evaluate                 Evaluate inline documents (nothing stored)
    GET    /api/control/stats                    Invoice and variance counters
    GET    /api/thresholds                       Policy in effect

  Purchase requests:
    GET    /api/purchase-requests                List (?agency=&type=&status=&page=&limit=)
    POST   /api/purchase-requests                Create
    GET    /api/purchase-requests/{id}           Get
    PUT    /api/purchase-requests/{id}           Partial update (draft/submitted only)
    POST   /api/purchase-requests/{id}/validate  Approve or reject

  Purchase orders:
    GET    /api/purchase-orders                  List
    POST   /api/purchase-orders                  Create (marks the request ordered)
    GET    /api/purchase-orders/{id}             Get

  Invoices:
    GET    /api/invoices                         List (?status=)
    POST   /api/invoices                         Register
    GET    /api/invoices/{id}                    Get
    POST   /api/invoices/{id}/control            Run and store a three-way control
    GET    /api/invoices/{id}/control            Latest control
    GET    /api/invoices/{id}/control/report.xlsx  Latest control as a workbook

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Controller: Three-way control over the store
  - PolicyFactory / Policy: Thresholds in effect
  - Exporter: XLSX reports

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (JSON Schema for purchase requests, line checks for documents)
  3. Call domain logic
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, illegal status change
  - 404: Resource not found
  - 409: Conflict (duplicate ID)
  - 500: Internal errors (logged)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/invoice-control/export"
	"github.com/warp/invoice-control/factory"
	"github.com/warp/invoice-control/purchasing"
	"github.com/warp/invoice-control/reconcile"
	"github.com/warp/invoice-control/store/sqlite"
)

const (
	maxBodyBytes    = 1 << 20
	defaultCurrency = "MAD"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Controller    *reconcile.Controller
	PolicyFactory *factory.PolicyFactory
	Policy        *factory.Policy
	Exporter      *export.Exporter
	Logger        zerolog.Logger
	Clock         reconcile.Clock
	NewID         func() string

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler controlling invoices with the given policy.
// A nil policy means the default thresholds.
func NewHandler(store *sqlite.Store, policy *factory.Policy, logger zerolog.Logger) *Handler {
	if policy == nil {
		policy = &factory.Policy{ID: "default", Name: "Default control policy", Thresholds: reconcile.DefaultThresholds()}
	}
	clock := reconcile.SystemClock{}
	ev := reconcile.NewEvaluator(
		reconcile.WithThresholds(policy.Thresholds),
		reconcile.WithClock(clock),
	)
	return &Handler{
		Store:         store,
		Controller:    reconcile.NewController(store, ev, uuid.NewString),
		PolicyFactory: factory.NewPolicyFactory(),
		Policy:        policy,
		Exporter:      export.NewExporter(logger),
		Logger:        logger,
		Clock:         clock,
		NewID:         uuid.NewString,
	}
}

// =============================================================================
// CONTROL HANDLERS
// =============================================================================

// EvaluateControl evaluates an inline order and invoice. Thresholds in the
// body override the configured policy for this call only.
// POST /api/control/evaluate
func (h *Handler) EvaluateControl(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev := h.Controller.Evaluator()
	if req.Thresholds != nil {
		policy, err := h.PolicyFactory.FromJSON(*req.Thresholds)
		if err != nil {
			writeDomainError(w, r, "Invalid thresholds", err)
			return
		}
		ev = reconcile.NewEvaluator(
			reconcile.WithThresholds(policy.Thresholds),
			reconcile.WithClock(h.Clock),
		)
	}

	res, err := ev.Evaluate(req.Order, req.Invoice)
	if err != nil {
		writeDomainError(w, r, "Evaluation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetThresholds returns the control policy in effect.
// GET /api/thresholds
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	t := h.Controller.Evaluator().Thresholds()
	writeJSON(w, http.StatusOK, factory.ToJSON(h.Policy.ID, h.Policy.Name, t))
}

// GetControlStats returns invoice and variance counters.
// GET /api/control/stats
func (h *Handler) GetControlStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// PURCHASE REQUEST HANDLERS
// =============================================================================

// ListPurchaseRequests returns one page of purchase requests.
// GET /api/purchase-requests
func (h *Handler) ListPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	q, err := purchasing.ParseListQuery(r.URL.Query())
	if err != nil {
		writeDomainError(w, r, "Invalid query", err)
		return
	}

	items, total, err := h.Store.ListPurchaseRequests(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, "Failed to list purchase requests", err)
		return
	}
	if items == nil {
		items = []purchasing.PurchaseRequest{}
	}
	writeJSON(w, http.StatusOK, PurchaseRequestPage{Items: items, Page: q.Page, Limit: q.Limit, Total: total})
}

// CreatePurchaseRequest creates a purchase request in draft (or submitted
// when "submit": true).
// POST /api/purchase-requests
func (h *Handler) CreatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := purchasing.ParseCreate(body)
	if err != nil {
		writeDomainError(w, r, "Invalid purchase request", err)
		return
	}

	pr := in.NewRequest(h.Clock.Now())
	id, err := h.Store.CreatePurchaseRequest(r.Context(), pr)
	if err != nil {
		writeDomainError(w, r, "Failed to create purchase request", err)
		return
	}
	pr.ID = id
	writeJSON(w, http.StatusCreated, pr)
}

// GetPurchaseRequest returns one purchase request.
// GET /api/purchase-requests/{id}
func (h *Handler) GetPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, err := purchasing.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Invalid purchase request ID", err)
		return
	}
	pr, err := h.Store.GetPurchaseRequest(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "Purchase request not found", err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// UpdatePurchaseRequest applies a partial update.
// PUT /api/purchase-requests/{id}
func (h *Handler) UpdatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, err := purchasing.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Invalid purchase request ID", err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := purchasing.ParseUpdate(body)
	if err != nil {
		writeDomainError(w, r, "Invalid update", err)
		return
	}

	ctx := r.Context()
	pr, err := h.Store.GetPurchaseRequest(ctx, id)
	if err != nil {
		writeDomainError(w, r, "Purchase request not found", err)
		return
	}
	updated, err := pr.ApplyUpdate(in, h.Clock.Now())
	if err != nil {
		writeDomainError(w, r, "Update not allowed", err)
		return
	}
	if err := h.Store.UpdatePurchaseRequest(ctx, updated); err != nil {
		writeDomainError(w, r, "Failed to update purchase request", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ValidatePurchaseRequest approves or rejects a submitted request.
// POST /api/purchase-requests/{id}/validate
func (h *Handler) ValidatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, err := purchasing.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Invalid purchase request ID", err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := purchasing.ParseValidate(body)
	if err != nil {
		writeDomainError(w, r, "Invalid decision", err)
		return
	}

	ctx := r.Context()
	pr, err := h.Store.GetPurchaseRequest(ctx, id)
	if err != nil {
		writeDomainError(w, r, "Purchase request not found", err)
		return
	}
	decided, err := pr.ApplyValidation(in, h.Clock.Now())
	if err != nil {
		writeDomainError(w, r, "Decision not allowed", err)
		return
	}
	if err := h.Store.UpdatePurchaseRequest(ctx, decided); err != nil {
		writeDomainError(w, r, "Failed to update purchase request", err)
		return
	}

	zerolog.Ctx(ctx).Info().
		Int64("request_id", decided.ID).
		Str("decision", string(decided.Status)).
		Msg("Purchase request validated")
	writeJSON(w, http.StatusOK, decided)
}

// =============================================================================
// PURCHASE ORDER HANDLERS
// =============================================================================

// ListPurchaseOrders returns all purchase orders.
// GET /api/purchase-orders
func (h *Handler) ListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Store.ListPurchaseOrders(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to list purchase orders", err)
		return
	}
	dtos := make([]PurchaseOrderDTO, len(orders))
	for i, po := range orders {
		dtos[i] = toPurchaseOrderDTO(po)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePurchaseOrder stores a purchase order. When it names a purchase
// request, that request must be approved and becomes ordered.
// POST /api/purchase-orders
func (h *Handler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	now := h.Clock.Now()
	po := reconcile.PurchaseOrder{
		ID:           req.ID,
		Number:       strings.TrimSpace(req.Number),
		SupplierName: strings.TrimSpace(req.SupplierName),
		RequestID:    req.RequestID,
		Currency:     orDefault(req.Currency, defaultCurrency),
		Lines:        req.Lines,
		CreatedAt:    now,
	}
	if po.ID == "" {
		po.ID = h.NewID()
	}
	if po.Number == "" {
		writeDomainError(w, r, "Invalid purchase order",
			&reconcile.InvalidInputError{Document: "reference", Reason: "number is required"})
		return
	}
	if err := po.Reference().Validate(); err != nil {
		writeDomainError(w, r, "Invalid purchase order", err)
		return
	}

	if po.RequestID == "" {
		if err := h.Store.SavePurchaseOrder(ctx, po); err != nil {
			writeDomainError(w, r, "Failed to save purchase order", err)
			return
		}
		writeJSON(w, http.StatusCreated, toPurchaseOrderDTO(po))
		return
	}

	// The originating request is checked up front for a precise error; the
	// store repeats the check inside the transaction that orders it.
	prID, err := purchasing.ParseID(po.RequestID)
	if err != nil {
		writeDomainError(w, r, "Invalid purchase request ID", err)
		return
	}
	pr, err := h.Store.GetPurchaseRequest(ctx, prID)
	if err != nil {
		writeDomainError(w, r, "Purchase request not found", err)
		return
	}
	if _, err := pr.MarkOrdered(now); err != nil {
		writeDomainError(w, r, "Purchase request cannot be ordered", err)
		return
	}
	if err := h.Store.SavePurchaseOrderForRequest(ctx, po, prID, now); err != nil {
		writeDomainError(w, r, "Failed to save purchase order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPurchaseOrderDTO(po))
}

// GetPurchaseOrder returns one purchase order.
// GET /api/purchase-orders/{id}
func (h *Handler) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Store.GetPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Purchase order not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrderDTO(*po))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices, optionally filtered by status.
// GET /api/invoices?status=received
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !reconcile.ValidInvoiceStatus(status) {
		writeError(w, http.StatusBadRequest, "Unknown invoice status", fmt.Errorf("status %q", status))
		return
	}

	invoices, err := h.Store.ListInvoices(r.Context(), reconcile.InvoiceStatus(status))
	if err != nil {
		writeDomainError(w, r, "Failed to list invoices", err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvoice registers a supplier invoice in status received.
// POST /api/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	inv := reconcile.Invoice{
		ID:           req.ID,
		Number:       strings.TrimSpace(req.Number),
		SupplierName: strings.TrimSpace(req.SupplierName),
		OrderID:      req.OrderID,
		Currency:     orDefault(req.Currency, defaultCurrency),
		Status:       reconcile.InvoiceReceived,
		Lines:        req.Lines,
		CreatedAt:    h.Clock.Now(),
	}
	if inv.ID == "" {
		inv.ID = h.NewID()
	}
	if req.IssueDate != "" {
		d, err := time.Parse(purchasing.DateLayout, req.IssueDate)
		if err != nil {
			writeDomainError(w, r, "Invalid invoice",
				&reconcile.InvalidInputError{Document: "candidate", Reason: "issue_date must be YYYY-MM-DD"})
			return
		}
		inv.IssueDate = d
	}
	if inv.Number == "" || inv.OrderID == "" {
		writeDomainError(w, r, "Invalid invoice",
			&reconcile.InvalidInputError{Document: "candidate", Reason: "number and order_id are required"})
		return
	}
	if err := inv.Candidate().Validate(); err != nil {
		writeDomainError(w, r, "Invalid invoice", err)
		return
	}

	po, err := h.Store.GetPurchaseOrder(ctx, inv.OrderID)
	if reconcile.IsNotFound(err) {
		writeDomainError(w, r, "Invalid invoice",
			&reconcile.InvalidInputError{Document: "candidate", Reason: "unknown purchase order " + inv.OrderID})
		return
	}
	if err != nil {
		writeDomainError(w, r, "Failed to load purchase order", err)
		return
	}
	if po.Currency != inv.Currency {
		writeDomainError(w, r, "Invalid invoice", &reconcile.InvalidInputError{
			Document: "candidate",
			Reason:   fmt.Sprintf("currency %s differs from order currency %s", inv.Currency, po.Currency),
		})
		return
	}

	if err := h.Store.SaveInvoice(ctx, inv); err != nil {
		writeDomainError(w, r, "Failed to save invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GetInvoice returns one invoice.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Store.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Invoice not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// ControlInvoice runs the three-way control and stores the result.
// POST /api/invoices/{id}/control
func (h *Handler) ControlInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.Controller.ControlInvoice(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "Control failed", err)
		return
	}

	zerolog.Ctx(ctx).Info().
		Str("invoice_id", rec.InvoiceID).
		Str("control_id", rec.ID).
		Str("decision", string(rec.Result.Decision)).
		Msg("Invoice controlled")
	writeJSON(w, http.StatusOK, rec)
}

// GetLatestControl returns the most recent control of an invoice.
// GET /api/invoices/{id}/control
func (h *Handler) GetLatestControl(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetLatestControl(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "No control for this invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetControlReport downloads the latest control as an XLSX workbook.
// GET /api/invoices/{id}/control/report.xlsx
func (h *Handler) GetControlReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetLatestControl(ctx, id)
	if err != nil {
		writeDomainError(w, r, "No control for this invoice", err)
		return
	}
	inv, err := h.Store.GetInvoice(ctx, id)
	if err != nil {
		writeDomainError(w, r, "Invoice not found", err)
		return
	}
	po, err := h.Store.GetPurchaseOrder(ctx, rec.OrderID)
	if err != nil {
		writeDomainError(w, r, "Purchase order not found", err)
		return
	}

	data, err := h.Exporter.ControlReportXLSX(export.ControlReport{Order: po, Invoice: inv, Control: rec})
	if err != nil {
		writeDomainError(w, r, "Failed to build report", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "control-"+inv.Number+".xlsx"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an error from the domain packages to a status code.
// Validation errors carry their per-field messages as details.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case reconcile.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case reconcile.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, reconcile.ErrInvalidTransition):
		status, code = http.StatusBadRequest, "invalid_transition"
	case reconcile.IsClientError(err):
		status, code = http.StatusBadRequest, "invalid_input"
	}

	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}
	var verr *purchasing.ValidationError
	if errors.As(err, &verr) {
		resp.Code = "validation_failed"
		resp.Details = verr.Details()
	}

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg(message)
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}
