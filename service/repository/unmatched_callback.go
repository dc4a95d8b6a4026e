package repository

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
	"gorm.io/gorm/clause"
)

type UnmatchedCallbackRepository interface {
	GetByID(ctx context.Context, id string) (*models.UnmatchedCallback, error)
	ListByStatus(ctx context.Context, status string) ([]*models.UnmatchedCallback, error)
	Save(ctx context.Context, callback *models.UnmatchedCallback) error
}

type unmatchedCallbackRepository struct {
	abstractRepository
}

func NewUnmatchedCallbackRepository(_ context.Context, store Datastore) UnmatchedCallbackRepository {
	return &unmatchedCallbackRepository{abstractRepository{store: store}}
}

func (repo *unmatchedCallbackRepository) GetByID(ctx context.Context, id string) (*models.UnmatchedCallback, error) {
	callback := models.UnmatchedCallback{}
	err := repo.readDB(ctx).First(&callback, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &callback, nil
}

func (repo *unmatchedCallbackRepository) ListByStatus(ctx context.Context, status string) ([]*models.UnmatchedCallback, error) {
	var callbacks []*models.UnmatchedCallback
	err := repo.readDB(ctx).Where("status = ?", status).Order("created_at ASC").Find(&callbacks).Error
	if err != nil {
		return nil, err
	}
	return callbacks, nil
}

func (repo *unmatchedCallbackRepository) Save(ctx context.Context, callback *models.UnmatchedCallback) error {
	if callback.GetID() == "" {
		callback.GenID(ctx)
	}
	return repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(callback).Error
}
