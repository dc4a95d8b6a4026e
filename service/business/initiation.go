package business

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	minPushAmount = 1
	maxPushAmount = 70000

	placeholderPrefix = "pending-"
)

// InitiateRequest asks a member's phone for a payment.
type InitiateRequest struct {
	UserID          string
	Amount          decimal.Decimal
	PhoneNumber     string
	TransactionType string
	LoanID          string
	// Month is YYYY-MM and only applies to contributions.
	Month string
}

type InitiateResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	Message           string
	PaymentStatusID   string
	Amount            decimal.Decimal
	PhoneNumber       string
	LoanID            string
	RemainingBalance  *decimal.Decimal
	// Settlement is set in test mode, where the callback is applied inline.
	Settlement *Outcome
}

type initiationTarget struct {
	reference   string
	description string
	loan        *models.Loan
	month       *time.Time
}

// InitiatePayment validates the request, records a pending attempt and only
// then asks the gateway for the money. A row always exists afterwards, pending
// or failed.
func (e *Engine) InitiatePayment(ctx context.Context, request InitiateRequest) (*InitiateResult, error) {
	amount, err := validatePushAmount(request.Amount)
	if err != nil {
		return nil, err
	}

	user, err := e.users.GetByID(ctx, request.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Suspended {
		return nil, ErrUserSuspended
	}

	rawPhone := strings.TrimSpace(request.PhoneNumber)
	if rawPhone == "" {
		rawPhone = user.PhoneNumber
	}
	phone, err := daraja.FormatPhoneNumber(rawPhone)
	if err != nil {
		return nil, err
	}

	var target *initiationTarget
	switch request.TransactionType {
	case models.TransactionTypeContribution:
		target, err = e.contributionTarget(ctx, user, request.Month)
	case models.TransactionTypeLoanRepayment:
		target, err = e.loanTarget(ctx, user, request.LoanID)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownTransactionType, request.TransactionType)
	}
	if err != nil {
		return nil, err
	}

	if !e.cfg.TestMode && !e.gateway.Configured() {
		return nil, fmt.Errorf("%w: missing %s", ErrGatewayNotConfigured, strings.Join(e.gateway.MissingSettings(), ", "))
	}

	status := &models.PaymentStatus{
		CheckoutRequestID: placeholderPrefix + uuid.NewString(),
		UserID:            user.GetID(),
		TransactionType:   request.TransactionType,
		Amount:            decimal.NewFromInt(amount),
		PhoneNumber:       phone,
		AccountReference:  target.reference,
		Status:            models.PaymentStatePending,
		TargetMonth:       target.month,
		InitiatedAt:       e.now(),
	}
	if target.loan != nil {
		loanID := target.loan.GetID()
		status.LoanID = &loanID
	}
	if err := e.statuses.Create(ctx, status); err != nil {
		return nil, err
	}

	logger := e.log.
		WithField("payment_status_id", status.GetID()).
		WithField("user_id", user.GetID()).
		WithField("transaction_type", request.TransactionType).
		WithField("amount", amount)

	result := &InitiateResult{
		PaymentStatusID: status.GetID(),
		Amount:          status.Amount,
		PhoneNumber:     phone,
	}
	if target.loan != nil {
		balance := target.loan.Outstanding()
		result.LoanID = target.loan.GetID()
		result.RemainingBalance = &balance
	}

	if e.cfg.TestMode {
		return e.simulateInitiation(ctx, status, result)
	}

	response, err := e.gateway.InitiateSTKPush(ctx, daraja.PushRequest{
		PhoneNumber:      phone,
		Amount:           amount,
		AccountReference: target.reference,
		Description:      target.description,
	})
	if err == nil && !response.Accepted() {
		err = fmt.Errorf("%w: %s %s", daraja.ErrGatewayRejected, response.ResponseCode, response.ResponseDescription)
	}
	if err != nil {
		stkPushTotal.WithLabelValues(request.TransactionType, "failed").Inc()
		logger.WithError(err).Warn("gateway did not accept payment request")
		e.failInitiation(ctx, status, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}

	if err := e.storeCorrelation(ctx, status.GetID(), response.CheckoutRequestID, response.MerchantRequestID); err != nil {
		logger.WithError(err).
			WithField("checkout_request_id", response.CheckoutRequestID).
			WithField("merchant_request_id", response.MerchantRequestID).
			Error("payment requested but correlation ids could not be stored")
		return nil, err
	}
	stkPushTotal.WithLabelValues(request.TransactionType, "accepted").Inc()
	logger.WithField("checkout_request_id", response.CheckoutRequestID).Info("payment request accepted by gateway")

	result.CheckoutRequestID = response.CheckoutRequestID
	result.MerchantRequestID = response.MerchantRequestID
	result.Message = response.CustomerMessage

	e.retryUnmatchedFor(ctx, response.CheckoutRequestID)
	return result, nil
}

func (e *Engine) contributionTarget(ctx context.Context, user *models.User, rawMonth string) (*initiationTarget, error) {
	month := models.MonthStart(e.now())
	if rawMonth = strings.TrimSpace(rawMonth); rawMonth != "" {
		parsed, err := time.Parse("2006-01", rawMonth)
		if err != nil {
			return nil, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalidPaymentRequest)
		}
		month = models.MonthStart(parsed)
	}

	_, err := e.contribution.GetByUserAndMonth(ctx, user.GetID(), month)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateContribution, month.Format("2006-01"))
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}

	return &initiationTarget{
		reference:   fmt.Sprintf("CONTRIB-%s-%s", user.GetID(), month.Format("2006-01")),
		description: "Contribution " + month.Format("Jan 2006"),
		month:       &month,
	}, nil
}

func (e *Engine) loanTarget(ctx context.Context, user *models.User, loanID string) (*initiationTarget, error) {
	var loan *models.Loan
	if loanID = strings.TrimSpace(loanID); loanID != "" {
		found, err := e.loans.GetByID(ctx, loanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, ErrLoanNotFound
			}
			return nil, err
		}
		switch {
		case found.UserID != user.GetID():
			return nil, ErrLoanNotOwned
		case found.Status == models.LoanStatusPaid || (found.Status == models.LoanStatusApproved && !found.Outstanding().IsPositive()):
			return nil, ErrLoanFullyPaid
		case found.Status != models.LoanStatusApproved:
			return nil, ErrLoanNotApproved
		}
		loan = found
	} else {
		found, err := e.loans.OldestOutstanding(ctx, user.GetID())
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, ErrNoOutstandingLoan
			}
			return nil, err
		}
		loan = found
	}

	return &initiationTarget{
		reference:   fmt.Sprintf("LOAN-%s-%s", loan.GetID(), user.GetID()),
		description: "Loan repayment",
		loan:        loan,
	}, nil
}

// storeCorrelation links the gateway ids to the pending row, retrying on the
// settlement backoff. The push is already on the member's phone when this runs.
func (e *Engine) storeCorrelation(ctx context.Context, statusID, checkoutID, merchantID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.ConflictRetryInterval
	retries := backoff.WithMaxRetries(policy, uint64(e.cfg.SettlementMaxAttempts-1))

	return backoff.Retry(func() error {
		err := e.statuses.UpdateCorrelation(ctx, statusID, checkoutID, merchantID)
		if err != nil && repository.IsNotFound(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			e.log.WithError(err).WithField("payment_status_id", statusID).Debug("retrying correlation write")
		}
		return err
	}, backoff.WithContext(retries, ctx))
}

func (e *Engine) failInitiation(ctx context.Context, status *models.PaymentStatus, cause error) {
	reason := cause.Error()
	if errors.Is(cause, daraja.ErrTransient) {
		reason = "gateway unavailable: " + reason
	}
	_, err := e.statuses.CompleteIfPending(ctx, status.GetID(), map[string]any{
		"status":         models.PaymentStateFailed,
		"failure_reason": reason,
		"completed_at":   e.now(),
	})
	if err != nil {
		e.log.WithError(err).WithField("payment_status_id", status.GetID()).Error("could not mark failed initiation")
	}
}

// simulateInitiation stands in for the gateway: it assigns synthetic ids and
// feeds a successful callback through the normal reconciliation path.
func (e *Engine) simulateInitiation(ctx context.Context, status *models.PaymentStatus, result *InitiateResult) (*InitiateResult, error) {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	checkoutID := "ws_CO_TEST_" + suffix[:16]
	merchantID := "TEST-" + suffix[16:24]
	if err := e.statuses.UpdateCorrelation(ctx, status.GetID(), checkoutID, merchantID); err != nil {
		return nil, err
	}
	stkPushTotal.WithLabelValues(status.TransactionType, "simulated").Inc()

	receipt := "TEST" + suffix[:8]
	payload := daraja.SimulatedCallback(checkoutID, merchantID, true, status.Amount, receipt, status.PhoneNumber, e.now())
	outcome, err := e.HandleCallback(ctx, payload)
	if err != nil {
		return nil, err
	}

	e.log.WithField("checkout_request_id", checkoutID).
		WithField("outcome", outcome.Kind).
		Info("test mode payment settled without gateway")

	result.CheckoutRequestID = checkoutID
	result.MerchantRequestID = merchantID
	result.Message = "Test mode: payment simulated"
	result.Settlement = outcome
	return result, nil
}

// validatePushAmount accepts whole amounts within the gateway's limits.
func validatePushAmount(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount must be a whole number", ErrInvalidAmount)
	}
	if amount.LessThan(decimal.NewFromInt(minPushAmount)) || amount.GreaterThan(decimal.NewFromInt(maxPushAmount)) {
		return 0, fmt.Errorf("%w: must be between %d and %d", ErrInvalidAmount, minPushAmount, maxPushAmount)
	}
	return amount.IntPart(), nil
}
