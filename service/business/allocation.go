package business

import (
	"context"
	"fmt"
	"strings"

	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/shopspring/decimal"
)

// AllocationRequest is an admin decision about where an overpayment goes.
type AllocationRequest struct {
	OverpaymentID  string
	AdminID        string
	AllocationType string
	LoanID         string
	Notes          string
}

// AllocateToFutureContribution releases the whole remaining amount in one step.
func (e *Engine) AllocateToFutureContribution(ctx context.Context, overpaymentID, adminID, notes string) (*models.Overpayment, error) {
	return e.AllocateOverpayment(ctx, AllocationRequest{
		OverpaymentID:  overpaymentID,
		AdminID:        adminID,
		AllocationType: models.AllocationFutureContribution,
		Notes:          notes,
	})
}

// AllocateToLoan applies as much of the remaining amount as the loan can take.
// Anything left keeps the overpayment pending.
func (e *Engine) AllocateToLoan(ctx context.Context, overpaymentID, loanID, adminID, notes string) (*models.Overpayment, error) {
	return e.AllocateOverpayment(ctx, AllocationRequest{
		OverpaymentID:  overpaymentID,
		AdminID:        adminID,
		AllocationType: models.AllocationLoanPayment,
		LoanID:         loanID,
		Notes:          notes,
	})
}

func (e *Engine) AllocateOverpayment(ctx context.Context, request AllocationRequest) (*models.Overpayment, error) {
	if err := e.RequireAdmin(ctx, request.AdminID); err != nil {
		return nil, err
	}
	switch request.AllocationType {
	case models.AllocationFutureContribution, models.AllocationRefund, models.AllocationLoanPayment:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAllocationType, request.AllocationType)
	}
	if request.AllocationType == models.AllocationLoanPayment && strings.TrimSpace(request.LoanID) == "" {
		return nil, fmt.Errorf("%w: loan id is required", ErrInvalidPaymentRequest)
	}

	var (
		before  map[string]any
		result  *models.Overpayment
		applied decimal.Decimal
		payment *models.LoanPayment
	)
	err := e.inTransaction(ctx, func(ctx context.Context) error {
		overpayment, err := e.overpayments.GetForUpdate(ctx, request.OverpaymentID)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrOverpaymentNotFound
			}
			return err
		}
		if overpayment.Status == models.OverpaymentStatusAllocated || !overpayment.RemainingAmount.IsPositive() {
			return ErrOverpaymentAllocated
		}
		before = snapshot(overpayment)
		now := e.now()

		if request.AllocationType == models.AllocationLoanPayment {
			loan, err := e.loans.GetForUpdate(ctx, request.LoanID)
			if err != nil {
				if repository.IsNotFound(err) {
					return ErrLoanNotFound
				}
				return err
			}
			switch {
			case loan.UserID != overpayment.UserID:
				return ErrLoanNotOwned
			case loan.Status != models.LoanStatusApproved:
				return ErrLoanNotApproved
			case !loan.Outstanding().IsPositive():
				return ErrLoanFullyPaid
			}

			applied = decimal.Min(overpayment.RemainingAmount, loan.Outstanding())
			payment = &models.LoanPayment{
				LoanID:        loan.GetID(),
				Amount:        applied,
				PaymentDate:   now,
				PaymentMethod: models.PaymentMethodOverpayment,
				TransactionID: "OVP-" + overpayment.GetID(),
			}
			if err := e.loanPayments.Create(ctx, payment); err != nil {
				return err
			}
			loan.ApplyPayment(applied, now)
			if err := e.loans.Save(ctx, loan); err != nil {
				return err
			}
			overpayment.AllocationTargetID = loan.GetID()
		} else {
			applied = overpayment.RemainingAmount
		}

		overpayment.Allocate(applied, request.AllocationType, now)
		overpayment.AdminID = request.AdminID
		if request.Notes != "" {
			overpayment.AdminNotes = request.Notes
		}
		if err := e.overpayments.Save(ctx, overpayment); err != nil {
			return err
		}
		result = overpayment
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := e.log.
		WithField("overpayment_id", result.GetID()).
		WithField("admin_id", request.AdminID).
		WithField("allocation_type", request.AllocationType).
		WithField("applied", applied.String()).
		WithField("remaining", result.RemainingAmount.String())
	if payment != nil {
		logger = logger.WithField("loan_payment_id", payment.GetID())
	}
	logger.Info("overpayment allocated")

	e.recordAudit(ctx, AuditEntry{
		ActorID:    request.AdminID,
		Action:     "overpayment.allocated",
		TargetType: "overpayment",
		TargetID:   result.GetID(),
		Before:     before,
		After:      snapshot(result),
		Details:    request.Notes,
	})
	return result, nil
}

// ListOverpayments returns overpayments by status. An empty status lists all.
func (e *Engine) ListOverpayments(ctx context.Context, adminID, status string) ([]*models.Overpayment, error) {
	if err := e.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return e.overpayments.ListByStatus(ctx, status)
}
