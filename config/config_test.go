package config

import (
	"testing"
	"time"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/pitabwire/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() ChamaConfig {
	return ChamaConfig{
		MpesaBaseURL:               "https://sandbox.safaricom.co.ke",
		MpesaConsumerKey:           "key",
		MpesaConsumerSecret:        "secret",
		MpesaShortCode:             "174379",
		MpesaPasskey:               "passkey",
		MpesaCallbackURL:           "https://chama.example.com/api/mpesa/callback",
		MpesaHTTPTimeout:           30 * time.Second,
		MpesaMaxAttempts:           3,
		ContributionExpectedAmount: "3000",
		PaymentTimeoutWindow:       10 * time.Minute,
		PaymentRetentionDays:       7,
		SettlementMaxAttempts:      3,
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MPESA_SHORTCODE", "600000")
	t.Setenv("MPESA_TEST_MODE", "true")
	t.Setenv("CONTRIBUTION_EXPECTED_AMOUNT", "2500")
	t.Setenv("PAYMENT_TIMEOUT_WINDOW", "15m")

	cfg, err := frame.ConfigFromEnv[ChamaConfig]()
	require.NoError(t, err)

	assert.Equal(t, "https://sandbox.safaricom.co.ke", cfg.MpesaBaseURL)
	assert.Equal(t, "600000", cfg.MpesaShortCode)
	assert.True(t, cfg.MpesaTestMode)
	assert.Equal(t, 15*time.Minute, cfg.PaymentTimeoutWindow)
	assert.Equal(t, 30*time.Second, cfg.MpesaHTTPTimeout)
	assert.Equal(t, 7, cfg.PaymentRetentionDays)

	expected, err := cfg.ExpectedContribution()
	require.NoError(t, err)
	assert.Equal(t, "2500", expected.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*ChamaConfig)
		expectError error
		contains    string
	}{
		{
			name:   "Happy path - all gateway settings present",
			mutate: func(*ChamaConfig) {},
		},
		{
			name: "Error - missing credentials outside test mode",
			mutate: func(c *ChamaConfig) {
				c.MpesaConsumerKey = ""
				c.MpesaPasskey = " "
			},
			expectError: business.ErrGatewayNotConfigured,
			contains:    "MPESA_CONSUMER_KEY, MPESA_PASSKEY",
		},
		{
			name: "Happy path - test mode does not need credentials",
			mutate: func(c *ChamaConfig) {
				c.MpesaTestMode = true
				c.MpesaConsumerKey = ""
				c.MpesaConsumerSecret = ""
			},
		},
		{
			name:     "Error - non numeric expected amount",
			mutate:   func(c *ChamaConfig) { c.ContributionExpectedAmount = "three" },
			contains: "CONTRIBUTION_EXPECTED_AMOUNT",
		},
		{
			name:     "Error - zero expected amount",
			mutate:   func(c *ChamaConfig) { c.ContributionExpectedAmount = "0" },
			contains: "must be positive",
		},
		{
			name:     "Error - zero retention",
			mutate:   func(c *ChamaConfig) { c.PaymentRetentionDays = 0 },
			contains: "PAYMENT_RETENTION_DAYS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.expectError == nil && tt.contains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
			}
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := validConfig()
	cfg.ContributionExpectedAmount = "3000.50"

	engineCfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "3000.5", engineCfg.ExpectedContribution.String())
	assert.Equal(t, 10*time.Minute, engineCfg.PendingTimeout)

	opts := cfg.DarajaOptions()
	assert.Equal(t, "174379", opts.ShortCode)
	assert.Equal(t, 3, opts.MaxAttempts)
}
