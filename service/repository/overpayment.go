package repository

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
	"gorm.io/gorm/clause"
)

type OverpaymentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Overpayment, error)
	GetForUpdate(ctx context.Context, id string) (*models.Overpayment, error)
	ListByStatus(ctx context.Context, status string) ([]*models.Overpayment, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Overpayment, error)
	Save(ctx context.Context, overpayment *models.Overpayment) error
}

type overpaymentRepository struct {
	abstractRepository
}

func NewOverpaymentRepository(_ context.Context, store Datastore) OverpaymentRepository {
	return &overpaymentRepository{abstractRepository{store: store}}
}

func (repo *overpaymentRepository) GetByID(ctx context.Context, id string) (*models.Overpayment, error) {
	overpayment := models.Overpayment{}
	err := repo.readDB(ctx).First(&overpayment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &overpayment, nil
}

func (repo *overpaymentRepository) GetForUpdate(ctx context.Context, id string) (*models.Overpayment, error) {
	overpayment := models.Overpayment{}
	err := repo.writeDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&overpayment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &overpayment, nil
}

func (repo *overpaymentRepository) ListByStatus(ctx context.Context, status string) ([]*models.Overpayment, error) {
	var overpayments []*models.Overpayment
	query := repo.readDB(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at ASC").Find(&overpayments).Error
	if err != nil {
		return nil, err
	}
	return overpayments, nil
}

func (repo *overpaymentRepository) ListByUser(ctx context.Context, userID string) ([]*models.Overpayment, error) {
	var overpayments []*models.Overpayment
	err := repo.readDB(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&overpayments).Error
	if err != nil {
		return nil, err
	}
	return overpayments, nil
}

func (repo *overpaymentRepository) Save(ctx context.Context, overpayment *models.Overpayment) error {
	if overpayment.GetID() == "" {
		overpayment.GenID(ctx)
	}
	return repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(overpayment).Error
}
