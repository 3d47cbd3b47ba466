package reconcile_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-control/reconcile"
	"github.com/warp/invoice-control/reconcile/store"
)

func sequentialIDs() reconcile.IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ctl-%d", n)
	}
}

func seedDocuments(t *testing.T, s reconcile.DocumentStore, invoiced string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SavePurchaseOrder(ctx, reconcile.PurchaseOrder{
		ID:           "po-1",
		Number:       "PO-2025-001",
		SupplierName: "Atlas Haulage",
		RequestID:    "pr-1",
		Currency:     "MAD",
		Lines:        []reconcile.ReferenceLine{refLine(1, "1", "100")},
	}))
	require.NoError(t, s.SaveInvoice(ctx, reconcile.Invoice{
		ID:           "inv-1",
		Number:       "F-889",
		SupplierName: "Atlas Haulage",
		OrderID:      "po-1",
		Currency:     "MAD",
		Lines:        []reconcile.CandidateLine{candLine(1, "1", invoiced)},
	}))
}

func TestControlThreeWay_Stages(t *testing.T) {
	res, err := newEvaluator().ControlThreeWay(reconcile.ThreeWayInput{
		RequestID: "pr-1",
		Order:     order(refLine(1, "1", "100")),
		Invoice:   invoice(candLine(1, "1", "110")),
	})
	require.NoError(t, err)

	require.Len(t, res.Stages, 2)
	assert.Equal(t, reconcile.StageRequestOrder, res.Stages[0].Stage)
	assert.True(t, res.Stages[0].Compliant)
	assert.Equal(t, reconcile.StageOrderInvoice, res.Stages[1].Stage)
	assert.False(t, res.Stages[1].Compliant)
	assert.Equal(t, reconcile.DecisionInvestigate, res.Decision)
	assert.Equal(t, reconcile.InvoiceDiscrepancyDetected, res.Status)
	assert.Equal(t, fixedNow, res.ControlledAt)
}

func TestControlThreeWay_NoRequest(t *testing.T) {
	res, err := newEvaluator().ControlThreeWay(reconcile.ThreeWayInput{
		Order:   order(refLine(1, "1", "100")),
		Invoice: invoice(candLine(1, "1", "100")),
	})
	require.NoError(t, err)
	assert.True(t, res.Stages[0].Compliant)
	assert.NotEmpty(t, res.Stages[0].Note)
	assert.Equal(t, reconcile.InvoiceControlled, res.Status)
}

func TestControlThreeWay_PropagatesInputError(t *testing.T) {
	_, err := newEvaluator().ControlThreeWay(reconcile.ThreeWayInput{Order: order(refLine(1, "1", "1"))})
	assert.ErrorIs(t, err, reconcile.ErrInvalidInput)
}

func TestController_ControlInvoice(t *testing.T) {
	tests := []struct {
		name     string
		invoiced string
		status   reconcile.InvoiceStatus
	}{
		{"matching invoice is controlled", "100", reconcile.InvoiceControlled},
		{"small overcharge is tolerated", "103", reconcile.InvoiceControlled},
		{"large overcharge is flagged", "120", reconcile.InvoiceDiscrepancyDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: a stored order and invoice
			mem := store.NewMemory()
			seedDocuments(t, mem, tt.invoiced)
			ctl := reconcile.NewController(mem, newEvaluator(), sequentialIDs())
			ctx := context.Background()

			// WHEN: the invoice is controlled
			rec, err := ctl.ControlInvoice(ctx, "inv-1")
			require.NoError(t, err)

			// THEN: the record is persisted and the invoice status follows the decision
			assert.Equal(t, "ctl-1", rec.ID)
			assert.Equal(t, "pr-1", rec.Result.RequestID)

			inv, err := mem.GetInvoice(ctx, "inv-1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, inv.Status)

			latest, err := mem.GetLatestControl(ctx, "inv-1")
			require.NoError(t, err)
			assert.Equal(t, rec.ID, latest.ID)
		})
	}
}

func TestController_ControlInvoice_Missing(t *testing.T) {
	ctl := reconcile.NewController(store.NewMemory(), nil, sequentialIDs())

	_, err := ctl.ControlInvoice(context.Background(), "nope")
	assert.True(t, reconcile.IsNotFound(err))
}

func TestController_ControlInvoice_NoOrder(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveInvoice(ctx, reconcile.Invoice{
		ID:    "inv-orphan",
		Lines: []reconcile.CandidateLine{candLine(1, "1", "1")},
	}))
	ctl := reconcile.NewController(mem, nil, sequentialIDs())

	_, err := ctl.ControlInvoice(ctx, "inv-orphan")
	assert.True(t, reconcile.IsClientError(err))
}
