/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	freight purchasing data. Each scenario creates purchase requests, the
	purchase orders placed from them and the supplier invoices received,
	left in status "received" so that a control (manual or scheduled) can
	run on them.

AVAILABLE SCENARIOS:

	clean-invoice:  Invoice matches its order exactly -> approve, score 100
	price-drift:    Fuel surcharge within tolerance -> approve with variances
	overbilling:    Extra quantity and an unordered line -> investigate
	month-end:      All of the above plus requests in every status

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create purchase requests (ordered ones get a purchase order)
 3. Create purchase orders
 4. Register invoices

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overbilling"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Control handlers
  - scheduler.go: Controls received invoices in the background
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/invoice-control/purchasing"
	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "clean-invoice",
		Name:        "Clean Invoice",
		Description: "Casablanca - Tangier trucking invoiced exactly as ordered",
	},
	{
		ID:          "price-drift",
		Name:        "Price Drift",
		Description: "Carrier adds a 2% fuel surcharge to the trip price; within tolerance",
	},
	{
		ID:          "overbilling",
		Name:        "Overbilling",
		Description: "Customs broker bills an extra declaration and an unordered storage fee",
	},
	{
		ID:          "month-end",
		Name:        "Month End",
		Description: "Every invoice above plus purchase requests in each status across agencies",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "clean-invoice":
		load = h.loadCleanInvoiceScenario
	case "price-drift":
		load = h.loadPriceDriftScenario
	case "overbilling":
		load = h.loadOverbillingScenario
	case "month-end":
		load = h.loadMonthEndScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.Info().Str("scenario", req.ScenarioID).Msg("Scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// chain is one request -> order -> invoice flow. A nil invoice means the
// goods are not billed yet.
type chain struct {
	request purchasing.PurchaseRequest
	order   reconcile.PurchaseOrder
	invoice *reconcile.Invoice
}

func (h *Handler) loadCleanInvoiceScenario(ctx context.Context) error {
	return h.seedChains(ctx, cleanInvoiceChain(h.Clock.Now()))
}

func (h *Handler) loadPriceDriftScenario(ctx context.Context) error {
	return h.seedChains(ctx, priceDriftChain(h.Clock.Now()))
}

func (h *Handler) loadOverbillingScenario(ctx context.Context) error {
	return h.seedChains(ctx, overbillingChain(h.Clock.Now()))
}

func (h *Handler) loadMonthEndScenario(ctx context.Context) error {
	now := h.Clock.Now()
	if err := h.seedChains(ctx, cleanInvoiceChain(now), priceDriftChain(now), overbillingChain(now)); err != nil {
		return err
	}

	// Requests that never reached an order.
	open := []struct {
		agency purchasing.Agency
		kind   purchasing.RequestType
		title  string
		amount string
		status purchasing.Status
		note   string
	}{
		{purchasing.AgencyRabat, purchasing.TypeEquipment, "Forklift battery replacement", "18500", purchasing.StatusDraft, ""},
		{purchasing.AgencyMarrakech, purchasing.TypeServices, "Warehouse pest control contract", "7200", purchasing.StatusSubmitted, ""},
		{purchasing.AgencyAgadir, purchasing.TypeGoods, "Stretch film, 40 rolls", "3100.80", purchasing.StatusApproved, "Stock below threshold"},
		{purchasing.AgencyTangier, purchasing.TypeTransport, "Express van to Tetouan", "2400", purchasing.StatusRejected, "Use the weekly shuttle"},
		{purchasing.AgencyCasablanca, purchasing.TypeGoods, "Office chairs", "9800", purchasing.StatusCancelled, ""},
	}
	for i, o := range open {
		pr := purchasing.PurchaseRequest{
			Agency:          o.agency,
			Type:            o.kind,
			Title:           o.title,
			RequesterID:     int64(20 + i),
			Priority:        purchasing.PriorityNormal,
			Status:          o.status,
			EstimatedAmount: decimal.RequireFromString(o.amount),
			Currency:        defaultCurrency,
			Comment:         o.note,
			CreatedAt:       now.AddDate(0, 0, -i),
			UpdatedAt:       now,
		}
		if _, err := h.Store.CreatePurchaseRequest(ctx, pr); err != nil {
			return err
		}
	}
	return nil
}

// seedChains stores each chain, linking the order to the stored request.
func (h *Handler) seedChains(ctx context.Context, chains ...chain) error {
	for _, c := range chains {
		id, err := h.Store.CreatePurchaseRequest(ctx, c.request)
		if err != nil {
			return fmt.Errorf("request %q: %w", c.request.Title, err)
		}
		c.order.RequestID = strconv.FormatInt(id, 10)
		if err := h.Store.SavePurchaseOrder(ctx, c.order); err != nil {
			return fmt.Errorf("order %s: %w", c.order.Number, err)
		}
		if c.invoice == nil {
			continue
		}
		if err := h.Store.SaveInvoice(ctx, *c.invoice); err != nil {
			return fmt.Errorf("invoice %s: %w", c.invoice.Number, err)
		}
	}
	return nil
}

func orderedRequest(agency purchasing.Agency, kind purchasing.RequestType, title, amount string, created time.Time) purchasing.PurchaseRequest {
	return purchasing.PurchaseRequest{
		Agency:          agency,
		Type:            kind,
		Title:           title,
		RequesterID:     7,
		Priority:        purchasing.PriorityHigh,
		Status:          purchasing.StatusOrdered,
		EstimatedAmount: decimal.RequireFromString(amount),
		Currency:        defaultCurrency,
		Comment:         "Approved by agency manager",
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func refLine(n int, desc, qty, price string) reconcile.ReferenceLine {
	return reconcile.ReferenceLine{
		LineNumber:      n,
		Description:     desc,
		OrderedQuantity: decimal.RequireFromString(qty),
		UnitPrice:       decimal.RequireFromString(price),
	}
}

func invLine(n int, desc, qty, price string) reconcile.CandidateLine {
	return reconcile.CandidateLine{
		LineNumber:       n,
		Description:      desc,
		InvoicedQuantity: decimal.RequireFromString(qty),
		UnitPrice:        decimal.RequireFromString(price),
	}
}

func cleanInvoiceChain(now time.Time) chain {
	created := now.AddDate(0, 0, -20)
	return chain{
		request: orderedRequest(purchasing.AgencyCasablanca, purchasing.TypeTransport,
			"Port shuttle Casablanca - Tangier Med", "15000", created),
		order: reconcile.PurchaseOrder{
			ID:           "po-clean",
			Number:       "BC-CASA-0101",
			SupplierName: "Atlas Haulage",
			Currency:     defaultCurrency,
			CreatedAt:    created,
			Lines: []reconcile.ReferenceLine{
				refLine(1, "FTL Casablanca - Tangier Med", "4", "3500.00"),
				refLine(2, "Loading and strapping", "4", "250.50"),
			},
		},
		invoice: &reconcile.Invoice{
			ID:           "inv-clean",
			Number:       "AH-2291",
			SupplierName: "Atlas Haulage",
			OrderID:      "po-clean",
			Currency:     defaultCurrency,
			IssueDate:    now.AddDate(0, 0, -2).Truncate(24 * time.Hour),
			Status:       reconcile.InvoiceReceived,
			CreatedAt:    now,
			Lines: []reconcile.CandidateLine{
				invLine(1, "FTL Casablanca - Tangier Med", "4", "3500.00"),
				invLine(2, "Loading and strapping", "4", "250.50"),
			},
		},
	}
}

// 4 x 3570 + 1002 = 15282 against 15002: +1.87% overall, below the medium band.
func priceDriftChain(now time.Time) chain {
	created := now.AddDate(0, 0, -15)
	return chain{
		request: orderedRequest(purchasing.AgencyTangier, purchasing.TypeTransport,
			"Reefer trips Tangier - Agadir", "15000", created),
		order: reconcile.PurchaseOrder{
			ID:           "po-drift",
			Number:       "BC-TNG-0417",
			SupplierName: "Rif Logistique",
			Currency:     defaultCurrency,
			CreatedAt:    created,
			Lines: []reconcile.ReferenceLine{
				refLine(1, "Reefer trip Tangier - Agadir", "4", "3500.00"),
				refLine(2, "Temperature logging", "4", "250.50"),
			},
		},
		invoice: &reconcile.Invoice{
			ID:           "inv-drift",
			Number:       "RL-88310",
			SupplierName: "Rif Logistique",
			OrderID:      "po-drift",
			Currency:     defaultCurrency,
			IssueDate:    now.AddDate(0, 0, -1).Truncate(24 * time.Hour),
			Status:       reconcile.InvoiceReceived,
			CreatedAt:    now,
			Lines: []reconcile.CandidateLine{
				invLine(1, "Reefer trip Tangier - Agadir (fuel surcharge)", "4", "3570.00"),
				invLine(2, "Temperature logging", "4", "250.50"),
			},
		},
	}
}

func overbillingChain(now time.Time) chain {
	created := now.AddDate(0, 0, -10)
	return chain{
		request: orderedRequest(purchasing.AgencyAgadir, purchasing.TypeCustoms,
			"Import clearance, container batch 12", "6000", created),
		order: reconcile.PurchaseOrder{
			ID:           "po-customs",
			Number:       "BC-AGA-0933",
			SupplierName: "Souss Transit",
			Currency:     defaultCurrency,
			CreatedAt:    created,
			Lines: []reconcile.ReferenceLine{
				refLine(1, "Customs declaration (DUM)", "5", "900.00"),
				refLine(2, "Port handling", "5", "300.00"),
			},
		},
		invoice: &reconcile.Invoice{
			ID:           "inv-customs",
			Number:       "ST-5120",
			SupplierName: "Souss Transit",
			OrderID:      "po-customs",
			Currency:     defaultCurrency,
			IssueDate:    now.Truncate(24 * time.Hour),
			Status:       reconcile.InvoiceReceived,
			CreatedAt:    now,
			Lines: []reconcile.CandidateLine{
				invLine(1, "Customs declaration (DUM)", "6", "900.00"),
				invLine(2, "Port handling", "5", "300.00"),
				invLine(3, "Storage, 3 days", "1", "450.00"),
			},
		},
	}
}
