package config

import (
	"testing"
	"time"

	"cashdrawer/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimits_DefaultsWhenEmpty(t *testing.T) {
	l, err := (&Config{}).Limits()
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultLimits(), l)
}

func TestLimits_Overrides(t *testing.T) {
	l, err := (&Config{MaxMovementAmount: "500", HighDiscrepancyRatio: "0.25"}).Limits()
	require.NoError(t, err)
	assert.Equal(t, "500", l.MaxMovementAmount.String())
	assert.Equal(t, "0.25", l.HighDiscrepancyRatio.String())
	assert.True(t, l.MaxOpeningAmount.Equal(ledger.DefaultLimits().MaxOpeningAmount))
}

func TestLimits_Invalid(t *testing.T) {
	_, err := (&Config{MaxOpeningAmount: "mucho"}).Limits()
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("REFRESH_DEBOUNCE_MS", "150")
	t.Setenv("CORS_ORIGINS", "https://pos.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 150*time.Millisecond, cfg.RefreshDebounce())
	assert.Equal(t, []string{"https://pos.example.com", "https://admin.example.com"}, cfg.AllowedOrigins())
}

func TestRecipients_NeedSMTPHost(t *testing.T) {
	cfg := &Config{ReportRecipients: "jefe@example.com, ,caja@example.com"}
	assert.Nil(t, cfg.Recipients())

	cfg.SMTPHost = "smtp.example.com"
	assert.Equal(t, []string{"jefe@example.com", "caja@example.com"}, cfg.Recipients())
}
