package business

import (
	"context"
	"fmt"

	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/shopspring/decimal"
)

// applySettlement runs inside the settlement transaction. It returns a
// SettlementError for refusals so the caller can roll back and record them.
func (e *Engine) applySettlement(ctx context.Context, status *models.PaymentStatus, settlement *daraja.Settlement) (*Outcome, error) {
	user, err := e.users.GetByID(ctx, status.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, refuse(KindUserNotFound, ErrUserNotFound)
		}
		return nil, err
	}

	switch status.TransactionType {
	case models.TransactionTypeContribution:
		return e.settleContribution(ctx, user, status, settlement)
	case models.TransactionTypeLoanRepayment:
		return e.settleLoanRepayment(ctx, user, status, settlement)
	default:
		return nil, refuse(KindUnknownTransaction, fmt.Errorf("%w: %q", ErrUnknownTransactionType, status.TransactionType))
	}
}

// settleContribution records at most the expected monthly amount and keeps
// any excess as a pending overpayment.
func (e *Engine) settleContribution(ctx context.Context, user *models.User, status *models.PaymentStatus, settlement *daraja.Settlement) (*Outcome, error) {
	month := monthOf(status, e.now())

	_, err := e.contribution.GetByUserAndMonth(ctx, user.GetID(), month)
	if err == nil {
		return nil, refuse(KindDuplicateContribution,
			fmt.Errorf("%w: %s", ErrDuplicateContribution, month.Format("2006-01")))
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}

	expected := e.cfg.ExpectedContribution
	applied := decimal.Min(settlement.Amount, expected)

	contribution := &models.Contribution{
		UserID:        user.GetID(),
		Month:         month,
		Amount:        applied,
		PaymentMethod: models.PaymentMethodMobileMoney,
		TransactionID: settlement.MpesaReceiptNumber,
	}
	if err := e.contribution.Create(ctx, contribution); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, refuse(KindDuplicateContribution, ErrDuplicateContribution)
		}
		return nil, err
	}

	outcome := &Outcome{
		ContributionID: contribution.GetID(),
		AppliedAmount:  applied,
	}

	overpayment := models.NewOverpayment(user.GetID(), models.OriginContribution, expected, settlement.Amount)
	if overpayment != nil {
		overpayment.PaymentStatusID = status.GetID()
		overpayment.OriginalPaymentID = contribution.GetID()
		if err := e.overpayments.Save(ctx, overpayment); err != nil {
			return nil, err
		}
		outcome.Overpayment = overpayment
	}
	return outcome, nil
}

// settleLoanRepayment applies up to the loan's unpaid balance and keeps any
// excess as a pending overpayment. The loan row stays locked until commit.
func (e *Engine) settleLoanRepayment(ctx context.Context, user *models.User, status *models.PaymentStatus, settlement *daraja.Settlement) (*Outcome, error) {
	loan, err := e.resolveLoan(ctx, user.GetID(), status.LoanID)
	if err != nil {
		return nil, err
	}

	remaining := loan.Outstanding()
	applied := decimal.Min(settlement.Amount, remaining)
	now := e.now()

	payment := &models.LoanPayment{
		LoanID:        loan.GetID(),
		Amount:        applied,
		PaymentDate:   now,
		PaymentMethod: models.PaymentMethodMobileMoney,
		TransactionID: settlement.MpesaReceiptNumber,
	}
	if err := e.loanPayments.Create(ctx, payment); err != nil {
		return nil, err
	}

	loan.ApplyPayment(applied, now)
	if err := e.loans.Save(ctx, loan); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		LoanPaymentID: payment.GetID(),
		LoanID:        loan.GetID(),
		AppliedAmount: applied,
	}

	overpayment := models.NewOverpayment(user.GetID(), models.OriginLoanPayment, remaining, settlement.Amount)
	if overpayment != nil {
		overpayment.PaymentStatusID = status.GetID()
		overpayment.OriginalPaymentID = payment.GetID()
		if err := e.overpayments.Save(ctx, overpayment); err != nil {
			return nil, err
		}
		outcome.Overpayment = overpayment
	}
	return outcome, nil
}

// resolveLoan prefers the loan named at initiation while it still accepts
// payments, and otherwise falls back to the member's oldest outstanding loan.
func (e *Engine) resolveLoan(ctx context.Context, userID string, loanID *string) (*models.Loan, error) {
	if loanID != nil && *loanID != "" {
		loan, err := e.loans.GetForUpdate(ctx, *loanID)
		switch {
		case err == nil:
			if loan.UserID == userID && loan.AcceptsPayments() {
				return loan, nil
			}
			e.log.WithField("loan_id", *loanID).
				WithField("loan_status", loan.Status).
				Info("requested loan no longer accepts payments, using oldest outstanding loan")
		case repository.IsNotFound(err):
			e.log.WithField("loan_id", *loanID).Info("requested loan not found, using oldest outstanding loan")
		default:
			return nil, err
		}
	}

	loan, err := e.loans.OldestOutstandingForUpdate(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, refuse(KindNoOutstandingLoan, ErrNoOutstandingLoan)
		}
		return nil, err
	}
	return loan, nil
}
