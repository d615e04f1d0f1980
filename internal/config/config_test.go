package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("DefaultsOnly", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "{}"))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "0.05", cfg.Fees.BaseFeePercent)
		assert.Equal(t, "0.50", cfg.Fees.MinFeeAmount)
		assert.True(t, cfg.Fees.FirstTradeFree)
		assert.Equal(t, 24*time.Hour, cfg.Escrow.DeliveryWindow)
		assert.Equal(t, 12*time.Hour, cfg.Escrow.GracePeriod)
		assert.Equal(t, "blockbee", cfg.Payments.Provider)
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeConfig(t, `
fees:
  base_fee_percent: "0.03"
  min_fee_amount: "0"
escrow:
  delivery_window: 48h
payments:
  provider: kraken
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "0.03", cfg.Fees.BaseFeePercent)
		assert.Equal(t, "0", cfg.Fees.MinFeeAmount)
		assert.Equal(t, 48*time.Hour, cfg.Escrow.DeliveryWindow)
		assert.Equal(t, "kraken", cfg.Payments.Provider)

		min, err := cfg.Fees.MinFeeAmountDecimal()
		require.NoError(t, err)
		assert.True(t, min.IsZero(), "zero disables the minimum-fee floor")
	})

	t.Run("RejectsOutOfRangeFee", func(t *testing.T) {
		path := writeConfig(t, `
fees:
  base_fee_percent: "1.5"
`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("RejectsUnknownProvider", func(t *testing.T) {
		path := writeConfig(t, `
payments:
  provider: paypal
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("RejectsUnparseableAmounts", func(t *testing.T) {
		path := writeConfig(t, `
fees:
  base_fee_percent: "five percent"
  min_fee_amount: "-1"
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
	})
}
