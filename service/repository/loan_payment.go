package repository

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
)

type LoanPaymentRepository interface {
	Create(ctx context.Context, payment *models.LoanPayment) error
	ListByLoan(ctx context.Context, loanID string) ([]*models.LoanPayment, error)
}

type loanPaymentRepository struct {
	abstractRepository
}

func NewLoanPaymentRepository(_ context.Context, store Datastore) LoanPaymentRepository {
	return &loanPaymentRepository{abstractRepository{store: store}}
}

func (repo *loanPaymentRepository) Create(ctx context.Context, payment *models.LoanPayment) error {
	if payment.GetID() == "" {
		payment.GenID(ctx)
	}
	return repo.writeDB(ctx).Create(payment).Error
}

func (repo *loanPaymentRepository) ListByLoan(ctx context.Context, loanID string) ([]*models.LoanPayment, error) {
	var payments []*models.LoanPayment
	err := repo.readDB(ctx).Where("loan_id = ?", loanID).Order("payment_date ASC").Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
