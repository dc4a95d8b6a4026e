package business

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
)

// ApproveLoan moves a pending loan to approved, starting its term.
func (e *Engine) ApproveLoan(ctx context.Context, loanID, adminID string) (*models.Loan, error) {
	return e.transitionLoan(ctx, loanID, adminID, "loan.approved", func(loan *models.Loan) bool {
		return loan.Approve(e.now())
	})
}

func (e *Engine) RejectLoan(ctx context.Context, loanID, adminID string) (*models.Loan, error) {
	return e.transitionLoan(ctx, loanID, adminID, "loan.rejected", func(loan *models.Loan) bool {
		return loan.Reject()
	})
}

func (e *Engine) transitionLoan(ctx context.Context, loanID, adminID, action string, apply func(*models.Loan) bool) (*models.Loan, error) {
	if err := e.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var (
		before map[string]any
		result *models.Loan
	)
	err := e.inTransaction(ctx, func(ctx context.Context) error {
		loan, err := e.loans.GetForUpdate(ctx, loanID)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrLoanNotFound
			}
			return err
		}
		before = snapshot(loan)
		if !apply(loan) {
			return ErrLoanNotPending
		}
		if err := e.loans.Save(ctx, loan); err != nil {
			return err
		}
		result = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithField("loan_id", result.GetID()).
		WithField("admin_id", adminID).
		WithField("status", result.Status).
		Info("loan status changed")

	e.recordAudit(ctx, AuditEntry{
		ActorID:    adminID,
		Action:     action,
		TargetType: "loan",
		TargetID:   result.GetID(),
		Before:     before,
		After:      snapshot(result),
	})
	return result, nil
}
