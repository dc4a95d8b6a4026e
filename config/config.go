package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
)

type ChamaConfig struct {
	frame.ConfigurationDefault

	MpesaBaseURL        string        `envDefault:"https://sandbox.safaricom.co.ke" env:"MPESA_BASE_URL"`
	MpesaConsumerKey    string        `env:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string        `env:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode      string        `env:"MPESA_SHORTCODE"`
	MpesaPasskey        string        `env:"MPESA_PASSKEY"`
	MpesaCallbackURL    string        `env:"MPESA_CALLBACK_URL"`
	MpesaTestMode       bool          `envDefault:"false" env:"MPESA_TEST_MODE"`
	MpesaHTTPTimeout    time.Duration `envDefault:"30s" env:"MPESA_HTTP_TIMEOUT"`
	MpesaMaxAttempts    int           `envDefault:"3" env:"MPESA_MAX_ATTEMPTS"`

	ContributionExpectedAmount string        `envDefault:"3000" env:"CONTRIBUTION_EXPECTED_AMOUNT"`
	PaymentTimeoutWindow       time.Duration `envDefault:"10m" env:"PAYMENT_TIMEOUT_WINDOW"`
	PaymentRetentionDays       int           `envDefault:"7" env:"PAYMENT_RETENTION_DAYS"`
	SweepInterval              time.Duration `envDefault:"1m" env:"SWEEP_INTERVAL"`
	SettlementMaxAttempts      int           `envDefault:"3" env:"SETTLEMENT_MAX_ATTEMPTS"`
}

// ExpectedContribution parses the monthly amount.
func (c *ChamaConfig) ExpectedContribution() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.ContributionExpectedAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("CONTRIBUTION_EXPECTED_AMOUNT: %w", err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("CONTRIBUTION_EXPECTED_AMOUNT must be positive, got %s", amount)
	}
	return amount, nil
}

func (c *ChamaConfig) MissingGatewaySettings() []string {
	var missing []string
	for name, value := range map[string]string{
		"MPESA_BASE_URL":        c.MpesaBaseURL,
		"MPESA_CONSUMER_KEY":    c.MpesaConsumerKey,
		"MPESA_CONSUMER_SECRET": c.MpesaConsumerSecret,
		"MPESA_SHORTCODE":       c.MpesaShortCode,
		"MPESA_PASSKEY":         c.MpesaPasskey,
		"MPESA_CALLBACK_URL":    c.MpesaCallbackURL,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Validate fails on settings the service cannot run with. Gateway credentials
// are only required outside test mode.
func (c *ChamaConfig) Validate() error {
	if _, err := c.ExpectedContribution(); err != nil {
		return err
	}
	if c.PaymentTimeoutWindow <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT_WINDOW must be positive, got %s", c.PaymentTimeoutWindow)
	}
	if c.PaymentRetentionDays < 1 {
		return fmt.Errorf("PAYMENT_RETENTION_DAYS must be at least 1, got %d", c.PaymentRetentionDays)
	}
	if c.MpesaTestMode {
		return nil
	}
	if missing := c.MissingGatewaySettings(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", business.ErrGatewayNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

func (c *ChamaConfig) DarajaOptions() daraja.Options {
	return daraja.Options{
		BaseURL:        c.MpesaBaseURL,
		ConsumerKey:    c.MpesaConsumerKey,
		ConsumerSecret: c.MpesaConsumerSecret,
		ShortCode:      c.MpesaShortCode,
		Passkey:        c.MpesaPasskey,
		CallbackURL:    c.MpesaCallbackURL,
		Timeout:        c.MpesaHTTPTimeout,
		MaxAttempts:    c.MpesaMaxAttempts,
	}
}

func (c *ChamaConfig) EngineConfig() (business.Config, error) {
	expected, err := c.ExpectedContribution()
	if err != nil {
		return business.Config{}, err
	}
	return business.Config{
		ExpectedContribution:  expected,
		TestMode:              c.MpesaTestMode,
		PendingTimeout:        c.PaymentTimeoutWindow,
		RetentionDays:         c.PaymentRetentionDays,
		SettlementMaxAttempts: c.SettlementMaxAttempts,
	}, nil
}
