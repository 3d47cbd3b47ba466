package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "invoice-control.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVOICE_CONTROL_PORT", "9090")
	t.Setenv("INVOICE_CONTROL_DB", ":memory:")
	t.Setenv("INVOICE_CONTROL_LOG_LEVEL", "debug")
	t.Setenv("INVOICE_CONTROL_SCHEDULER_ENABLED", "true")
	t.Setenv("INVOICE_CONTROL_SCHEDULER_INTERVAL", "15s")
	t.Setenv("INVOICE_CONTROL_CORS_ORIGINS", " https://erp.example.ma , ")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, 15*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, []string{"https://erp.example.ma"}, cfg.CORSOrigins)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVOICE_CONTROL_PORT", "9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int(KeyPort, 8080, "")
	require.NoError(t, flags.Parse([]string{"--port=7070"}))

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVOICE_CONTROL_PORT", "70000")

	_, err := Load(nil)
	assert.Error(t, err)
}
