package business

import (
	"context"
	"fmt"
	"time"

	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config carries the engine's business settings.
type Config struct {
	ExpectedContribution  decimal.Decimal
	TestMode              bool
	PendingTimeout        time.Duration
	RetentionDays         int
	SettlementMaxAttempts int
	ConflictRetryInterval time.Duration
}

// Engine drives payment initiation, callback reconciliation, settlement
// and overpayment allocation. It holds no ledger state between calls.
type Engine struct {
	store   repository.Datastore
	gateway daraja.Gateway
	audit   AuditSink
	log     *logrus.Entry
	cfg     Config
	now     func() time.Time

	users        repository.UserRepository
	loans        repository.LoanRepository
	loanPayments repository.LoanPaymentRepository
	contribution repository.ContributionRepository
	statuses     repository.PaymentStatusRepository
	overpayments repository.OverpaymentRepository
	unmatched    repository.UnmatchedCallbackRepository
}

func NewEngine(ctx context.Context, store repository.Datastore, gateway daraja.Gateway, audit AuditSink, cfg Config, log *logrus.Entry) *Engine {
	if audit == nil {
		audit = DiscardAudit
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.SettlementMaxAttempts <= 0 {
		cfg.SettlementMaxAttempts = 3
	}
	if cfg.ConflictRetryInterval <= 0 {
		cfg.ConflictRetryInterval = 25 * time.Millisecond
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 10 * time.Minute
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	return &Engine{
		store:   store,
		gateway: gateway,
		audit:   audit,
		log:     log.WithField("component", "chama-engine"),
		cfg:     cfg,
		now:     time.Now,

		users:        repository.NewUserRepository(ctx, store),
		loans:        repository.NewLoanRepository(ctx, store),
		loanPayments: repository.NewLoanPaymentRepository(ctx, store),
		contribution: repository.NewContributionRepository(ctx, store),
		statuses:     repository.NewPaymentStatusRepository(ctx, store),
		overpayments: repository.NewOverpaymentRepository(ctx, store),
		unmatched:    repository.NewUnmatchedCallbackRepository(ctx, store),
	}
}

// inTransaction runs fn in one transaction, retrying it from the start when
// the database reports a lock or serialization conflict.
func (e *Engine) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.ConflictRetryInterval
	retries := backoff.WithMaxRetries(policy, uint64(e.cfg.SettlementMaxAttempts-1))

	err := backoff.Retry(func() error {
		err := repository.WithTransaction(ctx, e.store, fn)
		if err == nil {
			return nil
		}
		if repository.IsRetryableConflict(err) {
			conflictRetriesTotal.Inc()
			e.log.WithError(err).Debug("retrying transaction after conflict")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(retries, ctx))

	if repository.IsRetryableConflict(err) {
		return fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	}
	return err
}

// RequireAdmin fails with ErrNotAdmin unless adminID is an admin member.
func (e *Engine) RequireAdmin(ctx context.Context, adminID string) error {
	admin, err := e.users.GetByID(ctx, adminID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrNotAdmin
		}
		return err
	}
	if !admin.IsAdmin {
		return ErrNotAdmin
	}
	return nil
}

// ConfigStatus reports gateway readiness without revealing secret values.
func (e *Engine) ConfigStatus() map[string]any {
	missing := e.gateway.MissingSettings()
	if missing == nil {
		missing = []string{}
	}
	return map[string]any{
		"test_mode":             e.cfg.TestMode,
		"gateway_configured":    e.gateway.Configured(),
		"missing_settings":      missing,
		"expected_contribution": e.cfg.ExpectedContribution.String(),
	}
}
