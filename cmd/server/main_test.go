package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-control/reconcile"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEvaluateCommand(t *testing.T) {
	dir := t.TempDir()
	order := writeFile(t, dir, "po.json", `{
		"id": "po-9", "number": "BC-9", "currency": "MAD",
		"lines": [{"line_number": 1, "ordered_quantity": "10", "unit_price": "120"}]
	}`)
	invoice := writeFile(t, dir, "invoice.yaml", `
number: FA-9
currency: MAD
lines:
  - line_number: 1
    invoiced_quantity: "10"
    unit_price: "124.80"
`)
	strict := writeFile(t, dir, "strict.yaml", "low_threshold_percent: 1\nmedium_threshold_percent: 3\n")
	report := filepath.Join(dir, "control.xlsx")

	tests := []struct {
		name     string
		args     []string
		decision reconcile.Decision
	}{
		{"default policy", []string{"evaluate", "--order", order, "--invoice", invoice}, reconcile.DecisionApprove},
		{"strict policy", []string{"evaluate", "--order", order, "--invoice", invoice, "--thresholds", strict, "--report", report}, reconcile.DecisionInvestigate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			root := newRootCommand()
			root.SetOut(&out)
			root.SetArgs(tt.args)
			require.NoError(t, root.ExecuteContext(context.Background()))

			var rec reconcile.ControlRecord
			require.NoError(t, json.Unmarshal(out.Bytes(), &rec), out.String())
			assert.Equal(t, "po-9", rec.OrderID)
			assert.Equal(t, tt.decision, rec.Result.Decision)
		})
	}

	info, err := os.Stat(report)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestEvaluateCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	order := writeFile(t, dir, "po.json", `{"lines": []}`)
	invoice := writeFile(t, dir, "inv.json", `{"lines": [{"line_number": 1, "invoiced_quantity": 1, "unit_price": 1}]}`)

	root := newRootCommand()
	root.SetArgs([]string{"evaluate", "--order", order, "--invoice", invoice})
	assert.Error(t, root.ExecuteContext(context.Background()), "empty order")

	root = newRootCommand()
	root.SetArgs([]string{"evaluate", "--order", filepath.Join(dir, "missing.json"), "--invoice", invoice})
	assert.Error(t, root.ExecuteContext(context.Background()))

	root = newRootCommand()
	root.SetArgs([]string{"evaluate", "--invoice", invoice})
	assert.Error(t, root.ExecuteContext(context.Background()), "--order is required")
}
