/*
Package factory provides JSON/YAML to Go control policy conversion.

PURPOSE:
  Converts control policy files into reconcile.Thresholds. Finance can tune
  the severity bands and the rounding tolerance without a code change: the
  server reads the file named by INVOICE_CONTROL_THRESHOLDS_FILE, the CLI
  takes --thresholds.

JSON SCHEMA:
  {
    "id": "freight-default",
    "name": "Default freight purchasing policy",
    "low_threshold_percent": 2,
    "medium_threshold_percent": 5,
    "amount_tolerance_absolute": "0.01"
  }

  The YAML form uses the same keys. Numbers may be written as numbers or as
  quoted strings; quoted strings keep every digit.

KEY FEATURES:
  - Missing fields fall back to reconcile.DefaultThresholds()
  - The result is validated (non-negative, low <= medium)
  - Format picked from the file extension (.yaml/.yml, else JSON)

USAGE:
  f := NewPolicyFactory()
  policy, err := f.LoadFile("thresholds.yaml")
  ev := reconcile.NewEvaluator(reconcile.WithThresholds(policy.Thresholds))

SEE ALSO:
  - reconcile/thresholds.go: Thresholds type and defaults
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/shopspring/decimal"

	"github.com/warp/invoice-control/reconcile"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// PolicyJSON is the serialized form of a control policy.
type PolicyJSON struct {
	ID                      string           `json:"id,omitempty"`
	Name                    string           `json:"name,omitempty"`
	LowThresholdPercent     *decimal.Decimal `json:"low_threshold_percent,omitempty"`
	MediumThresholdPercent  *decimal.Decimal `json:"medium_threshold_percent,omitempty"`
	AmountToleranceAbsolute *decimal.Decimal `json:"amount_tolerance_absolute,omitempty"`
}

// Policy is a parsed control policy.
type Policy struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Thresholds reconcile.Thresholds `json:"thresholds"`
}

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy files to Go structs.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// Parse parses a policy document in the given format.
func (f *PolicyFactory) Parse(data []byte, format Format) (*Policy, error) {
	if format == FormatYAML {
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
		}
		data = converted
	}

	var pj PolicyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParsePolicy parses a JSON string.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*Policy, error) {
	return f.Parse([]byte(jsonStr), FormatJSON)
}

// LoadFile reads and parses a policy file.
func (f *PolicyFactory) LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return f.Parse(data, FormatFromPath(path))
}

// FromJSON fills defaults and validates.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*Policy, error) {
	t := reconcile.DefaultThresholds()
	if pj.LowThresholdPercent != nil {
		t.LowThresholdPercent = *pj.LowThresholdPercent
	}
	if pj.MediumThresholdPercent != nil {
		t.MediumThresholdPercent = *pj.MediumThresholdPercent
	}
	if pj.AmountToleranceAbsolute != nil {
		t.AmountToleranceAbsolute = *pj.AmountToleranceAbsolute
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	id := pj.ID
	if id == "" {
		id = "default"
	}
	return &Policy{ID: id, Name: pj.Name, Thresholds: t}, nil
}

// ToJSON serializes thresholds back into the file schema.
func ToJSON(id, name string, t reconcile.Thresholds) PolicyJSON {
	low, medium, tol := t.LowThresholdPercent, t.MediumThresholdPercent, t.AmountToleranceAbsolute
	return PolicyJSON{
		ID:                      id,
		Name:                    name,
		LowThresholdPercent:     &low,
		MediumThresholdPercent:  &medium,
		AmountToleranceAbsolute: &tol,
	}
}
