package repository

import (
	"context"
	"time"

	"github.com/antinvestor/service-chama/service/models"
)

type ContributionRepository interface {
	GetByUserAndMonth(ctx context.Context, userID string, month time.Time) (*models.Contribution, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Contribution, error)
	Create(ctx context.Context, contribution *models.Contribution) error
}

type contributionRepository struct {
	abstractRepository
}

func NewContributionRepository(_ context.Context, store Datastore) ContributionRepository {
	return &contributionRepository{abstractRepository{store: store}}
}

func (repo *contributionRepository) GetByUserAndMonth(ctx context.Context, userID string, month time.Time) (*models.Contribution, error) {
	contribution := models.Contribution{}
	err := repo.writeDB(ctx).First(&contribution, "user_id = ? AND month = ?", userID, models.MonthStart(month)).Error
	if err != nil {
		return nil, err
	}
	return &contribution, nil
}

func (repo *contributionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Contribution, error) {
	var contributions []*models.Contribution
	err := repo.readDB(ctx).Where("user_id = ?", userID).Order("month ASC").Find(&contributions).Error
	if err != nil {
		return nil, err
	}
	return contributions, nil
}

func (repo *contributionRepository) Create(ctx context.Context, contribution *models.Contribution) error {
	if contribution.GetID() == "" {
		contribution.GenID(ctx)
	}
	contribution.Month = models.MonthStart(contribution.Month)
	return repo.writeDB(ctx).Create(contribution).Error
}
