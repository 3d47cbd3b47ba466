// Package store provides DocumentStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	orders   map[string]reconcile.PurchaseOrder
	invoices map[string]reconcile.Invoice
	controls map[string][]reconcile.ControlRecord // by invoice ID, oldest first
}

func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[string]reconcile.PurchaseOrder),
		invoices: make(map[string]reconcile.Invoice),
		controls: make(map[string][]reconcile.ControlRecord),
	}
}

var _ reconcile.DocumentStore = (*Memory)(nil)

// SavePurchaseOrder stores a new order.
func (m *Memory) SavePurchaseOrder(_ context.Context, po reconcile.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[po.ID]; ok {
		return reconcile.ErrConflict
	}
	po.Lines = append([]reconcile.ReferenceLine(nil), po.Lines...)
	m.orders[po.ID] = po
	return nil
}

func (m *Memory) GetPurchaseOrder(_ context.Context, id string) (*reconcile.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	po, ok := m.orders[id]
	if !ok {
		return nil, &reconcile.NotFoundError{Resource: "purchase order", ID: id}
	}
	po.Lines = append([]reconcile.ReferenceLine(nil), po.Lines...)
	return &po, nil
}

func (m *Memory) ListPurchaseOrders(_ context.Context) ([]reconcile.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]reconcile.PurchaseOrder, 0, len(m.orders))
	for _, po := range m.orders {
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveInvoice stores a new invoice. An empty status defaults to received.
func (m *Memory) SaveInvoice(_ context.Context, inv reconcile.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[inv.ID]; ok {
		return reconcile.ErrConflict
	}
	if inv.Status == "" {
		inv.Status = reconcile.InvoiceReceived
	}
	inv.Lines = append([]reconcile.CandidateLine(nil), inv.Lines...)
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id string) (*reconcile.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, &reconcile.NotFoundError{Resource: "invoice", ID: id}
	}
	inv.Lines = append([]reconcile.CandidateLine(nil), inv.Lines...)
	return &inv, nil
}

func (m *Memory) ListInvoices(_ context.Context, status reconcile.InvoiceStatus) ([]reconcile.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]reconcile.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveControl appends a control record and updates the invoice status.
func (m *Memory) SaveControl(_ context.Context, rec reconcile.ControlRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[rec.InvoiceID]
	if !ok {
		return &reconcile.NotFoundError{Resource: "invoice", ID: rec.InvoiceID}
	}
	inv.Status = rec.Result.Status
	m.invoices[inv.ID] = inv
	m.controls[rec.InvoiceID] = append(m.controls[rec.InvoiceID], rec)
	return nil
}

func (m *Memory) GetLatestControl(_ context.Context, invoiceID string) (*reconcile.ControlRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.controls[invoiceID]
	if len(recs) == 0 {
		return nil, &reconcile.NotFoundError{Resource: "control", ID: invoiceID}
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}
