package repository

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LoanRepository interface {
	GetByID(ctx context.Context, id string) (*models.Loan, error)
	GetForUpdate(ctx context.Context, id string) (*models.Loan, error)
	OldestOutstanding(ctx context.Context, userID string) (*models.Loan, error)
	OldestOutstandingForUpdate(ctx context.Context, userID string) (*models.Loan, error)
	Save(ctx context.Context, loan *models.Loan) error
}

type loanRepository struct {
	abstractRepository
}

func NewLoanRepository(_ context.Context, store Datastore) LoanRepository {
	return &loanRepository{abstractRepository{store: store}}
}

func (repo *loanRepository) GetByID(ctx context.Context, id string) (*models.Loan, error) {
	loan := models.Loan{}
	err := repo.readDB(ctx).First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (repo *loanRepository) GetForUpdate(ctx context.Context, id string) (*models.Loan, error) {
	loan := models.Loan{}
	err := repo.writeDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (repo *loanRepository) OldestOutstanding(ctx context.Context, userID string) (*models.Loan, error) {
	loan := models.Loan{}
	err := repo.outstanding(repo.readDB(ctx), userID).First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (repo *loanRepository) outstanding(db *gorm.DB, userID string) *gorm.DB {
	return db.Where("user_id = ? AND status = ? AND unpaid_balance > 0", userID, models.LoanStatusApproved).
		Order("borrowed_date ASC")
}

// OldestOutstandingForUpdate locks the approved loan with a positive balance
// that was borrowed first.
func (repo *loanRepository) OldestOutstandingForUpdate(ctx context.Context, userID string) (*models.Loan, error) {
	loan := models.Loan{}
	err := repo.outstanding(repo.writeDB(ctx), userID).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (repo *loanRepository) Save(ctx context.Context, loan *models.Loan) error {
	if loan.GetID() == "" {
		loan.GenID(ctx)
	}
	return repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(loan).Error
}
