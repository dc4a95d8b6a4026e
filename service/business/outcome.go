package business

import (
	"fmt"

	"github.com/antinvestor/service-chama/service/models"
	"github.com/shopspring/decimal"
)

// OutcomeKind classifies what a callback did.
type OutcomeKind string

const (
	OutcomeSettled   OutcomeKind = "settled"
	OutcomeFailed    OutcomeKind = "payment_failed"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeOrphan    OutcomeKind = "orphan"
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeInvalid   OutcomeKind = "invalid"
)

// ErrorKind names an expected business failure.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindMalformedCallback     ErrorKind = "malformed_callback"
	KindMissingCorrelationID  ErrorKind = "missing_correlation_id"
	KindIncompleteCallback    ErrorKind = "incomplete_callback"
	KindDuplicateContribution ErrorKind = "duplicate_contribution"
	KindNoOutstandingLoan     ErrorKind = "no_outstanding_loan"
	KindUserNotFound          ErrorKind = "user_not_found"
	KindUnknownTransaction    ErrorKind = "unknown_transaction_type"
)

// Outcome is the result of reconciling one callback. Infrastructure failures
// are returned as errors alongside a nil Outcome.
type Outcome struct {
	Kind              OutcomeKind
	Error             ErrorKind
	Reason            string
	CheckoutRequestID string
	PaymentStatusID   string
	TransactionType   string
	ContributionID    string
	LoanPaymentID     string
	LoanID            string
	AppliedAmount     decimal.Decimal
	Overpayment       *models.Overpayment
}

// SettlementError is an expected refusal to apply a payment. It rolls back the
// settlement transaction and is recorded on the payment status.
type SettlementError struct {
	Kind ErrorKind
	Err  error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

func refuse(kind ErrorKind, err error) error {
	return &SettlementError{Kind: kind, Err: err}
}
