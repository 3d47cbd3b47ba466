package factory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-control/reconcile"
)

func TestParsePolicy_JSON(t *testing.T) {
	policy, err := NewPolicyFactory().ParsePolicy(`{
		"id": "strict",
		"name": "Strict customs policy",
		"low_threshold_percent": 1,
		"medium_threshold_percent": "2.5"
	}`)
	require.NoError(t, err)

	assert.Equal(t, "strict", policy.ID)
	assert.True(t, policy.Thresholds.LowThresholdPercent.Equal(decimal.NewFromInt(1)))
	assert.True(t, policy.Thresholds.MediumThresholdPercent.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, policy.Thresholds.AmountToleranceAbsolute.Equal(decimal.RequireFromString("0.01")), "default kept")
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
name: Relaxed transport policy
low_threshold_percent: 3
medium_threshold_percent: 8
amount_tolerance_absolute: "0.50"
`)
	policy, err := NewPolicyFactory().Parse(data, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "default", policy.ID)
	assert.Equal(t, "Relaxed transport policy", policy.Name)
	assert.True(t, policy.Thresholds.MediumThresholdPercent.Equal(decimal.NewFromInt(8)))
	assert.True(t, policy.Thresholds.AmountToleranceAbsolute.Equal(decimal.RequireFromString("0.5")))
}

func TestParse_Empty_UsesDefaults(t *testing.T) {
	policy, err := NewPolicyFactory().ParsePolicy(`{}`)
	require.NoError(t, err)
	assert.Equal(t, reconcile.DefaultThresholds(), policy.Thresholds)
}

func TestParse_Rejects(t *testing.T) {
	f := NewPolicyFactory()

	_, err := f.ParsePolicy(`{"low_threshold_percent": 6, "medium_threshold_percent": 5}`)
	assert.True(t, errors.Is(err, reconcile.ErrInvalidInput))

	_, err = f.ParsePolicy(`{"amount_tolerance_absolute": -1}`)
	assert.True(t, errors.Is(err, reconcile.ErrInvalidInput))

	_, err = f.ParsePolicy(`{"low_threshold_percent": "two"}`)
	assert.Error(t, err)

	_, err = f.Parse([]byte("low_threshold_percent: [1, 2"), FormatYAML)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte("id: file\nlow_threshold_percent: 1.5\n"), 0o600))

	policy, err := NewPolicyFactory().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file", policy.ID)
	assert.True(t, policy.Thresholds.LowThresholdPercent.Equal(decimal.RequireFromString("1.5")))

	_, err = NewPolicyFactory().LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("a/b.YAML"))
	assert.Equal(t, FormatYAML, FormatFromPath("x.yml"))
	assert.Equal(t, FormatJSON, FormatFromPath("x.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("noext"))
}

func TestToJSON_RoundTrip(t *testing.T) {
	pj := ToJSON("p", "P", reconcile.DefaultThresholds())
	policy, err := NewPolicyFactory().FromJSON(pj)
	require.NoError(t, err)
	assert.Equal(t, reconcile.DefaultThresholds(), policy.Thresholds)
}
