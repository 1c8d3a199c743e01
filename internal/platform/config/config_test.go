package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(20), cfg.Ledger.CostMarginPercent)
	assert.Equal(t, 30*24*time.Hour, cfg.Lifecycle.AppealWindow)
	assert.Equal(t, 3, cfg.Lifecycle.MaxResubmissions)
	assert.True(t, cfg.UsesDevSigningKey())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "certledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
ledger:
  cost_margin_percent: 35
  timeout: 4s
kafka:
  brokers: ["k1:9092"]
`), 0o600))

	t.Setenv("CERTLEDGER_CONFIG", path)
	t.Setenv("LEDGER_TIMEOUT", "7s")
	t.Setenv("KAFKA_BROKERS", "a:1, b:2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, uint64(35), cfg.Ledger.CostMarginPercent)
	assert.Equal(t, 7*time.Second, cfg.Ledger.Timeout, "env overrides file")
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
	// untouched defaults survive partial files
	assert.Equal(t, 3, cfg.Lifecycle.MaxResubmissions)
}

func TestApplyEnv_RejectsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(key string) (string, bool) {
		if key == "APPEAL_WINDOW" {
			return "soon", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APPEAL_WINDOW")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Timeout = 0
	assert.Error(t, cfg.Validate())
}
