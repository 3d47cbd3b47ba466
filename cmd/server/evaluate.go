package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/warp/invoice-control/export"
	"github.com/warp/invoice-control/factory"
	"github.com/warp/invoice-control/logging"
	"github.com/warp/invoice-control/reconcile"
	"github.com/warp/invoice-control/reconcile/store"
)

type evaluateOptions struct {
	orderFile      string
	invoiceFile    string
	thresholdsFile string
	reportFile     string
}

func newEvaluateCommand() *cobra.Command {
	var opts evaluateOptions
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Control an invoice file against an order file",
		Long: `Runs the three-way control on documents read from disk (JSON or YAML)
and prints the control record as JSON. Nothing is stored.`,
		Example: `  invoice-control evaluate --order po.json --invoice invoice.yaml
  invoice-control evaluate --order po.json --invoice invoice.json --thresholds strict.yaml --report control.xlsx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.orderFile, "order", "", "purchase order file")
	f.StringVar(&opts.invoiceFile, "invoice", "", "invoice file")
	f.StringVar(&opts.thresholdsFile, "thresholds", "", "control policy file")
	f.StringVar(&opts.reportFile, "report", "", "also write an XLSX report to this path")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("invoice")
	return cmd
}

func runEvaluate(cmd *cobra.Command, opts evaluateOptions) error {
	ctx := cmd.Context()

	var po reconcile.PurchaseOrder
	if err := readDocument(opts.orderFile, &po); err != nil {
		return err
	}
	var inv reconcile.Invoice
	if err := readDocument(opts.invoiceFile, &inv); err != nil {
		return err
	}
	if po.ID == "" {
		po.ID = "order"
	}
	if inv.ID == "" {
		inv.ID = "invoice"
	}
	inv.OrderID = po.ID

	var evalOpts []reconcile.Option
	if opts.thresholdsFile != "" {
		policy, err := factory.NewPolicyFactory().LoadFile(opts.thresholdsFile)
		if err != nil {
			return err
		}
		evalOpts = append(evalOpts, reconcile.WithThresholds(policy.Thresholds))
	}

	docs := store.NewMemory()
	if err := docs.SavePurchaseOrder(ctx, po); err != nil {
		return err
	}
	if err := docs.SaveInvoice(ctx, inv); err != nil {
		return err
	}

	ctl := reconcile.NewController(docs, reconcile.NewEvaluator(evalOpts...), func() string { return "offline" })
	rec, err := ctl.ControlInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}

	if opts.reportFile != "" {
		data, err := export.NewExporter(logging.Nop()).ControlReportXLSX(export.ControlReport{
			Order:   &po,
			Invoice: &inv,
			Control: rec,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.reportFile, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// readDocument decodes a JSON or YAML file into v.
func readDocument(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if factory.FormatFromPath(path) == factory.FormatYAML {
		if data, err = yaml.YAMLToJSON(data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
