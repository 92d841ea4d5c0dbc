package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeMeterFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestMeterConfigDefaultsWithoutFile(t *testing.T) {
	holder, err := NewMeterConfigHolder(Config{}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.True(t, cfg.TaxRateDecimal().Equal(decimal.RequireFromString("0.18")))
	assert.Equal(t, 1000, cfg.PersistChunkSize)
	assert.Equal(t, []string{"_VOLUME", "_COUNT"}, cfg.PGSubscriptionSuffixes)
}

func TestMeterConfigLoadsFileAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.yml")
	writeMeterFile(t, path, `meter:
  taxRate: "0.2"
  tenants:
    - id: tenant-a
      apiKey: key-a
      apiSecret: secret-a
`)

	holder, err := NewMeterConfigHolder(Config{MeterConfigFile: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.True(t, cfg.TaxRateDecimal().Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, 1000, cfg.PersistChunkSize)

	cred, ok := cfg.Tenant("TENANT-A")
	require.True(t, ok)
	assert.Equal(t, "key-a", cred.APIKey)
	assert.Equal(t, "secret-a", cred.APISecret)

	_, ok = cfg.Tenant("tenant-b")
	assert.False(t, ok)
}

func TestMeterConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.yml")
	writeMeterFile(t, path, `meter:
  taxRate: "-1"
`)

	_, err := NewMeterConfigHolder(Config{MeterConfigFile: path}, zap.NewNop())
	assert.Error(t, err)
}

func TestMeterConfigRejectsOversizedChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.yml")
	writeMeterFile(t, path, `meter:
  persistChunkSize: 10000
`)

	_, err := NewMeterConfigHolder(Config{MeterConfigFile: path}, zap.NewNop())
	assert.Error(t, err)
}

func TestMeterConfigHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meter.yml")
	writeMeterFile(t, path, `meter:
  persistChunkSize: 500
`)

	holder, err := NewMeterConfigHolder(Config{MeterConfigFile: path}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 500, holder.Get().PersistChunkSize)

	writeMeterFile(t, path, `meter:
  persistChunkSize: 250
`)

	assert.Eventually(t, func() bool {
		return holder.Get().PersistChunkSize == 250
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStaticMeterConfigNilHolder(t *testing.T) {
	var holder *MeterConfigHolder
	assert.Equal(t, DefaultMeterConfig(), holder.Get())
}
