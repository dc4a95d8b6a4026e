package repository

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

type userRepository struct {
	abstractRepository
}

func NewUserRepository(_ context.Context, store Datastore) UserRepository {
	return &userRepository{abstractRepository{store: store}}
}

func (repo *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := models.User{}
	err := repo.readDB(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (repo *userRepository) Save(ctx context.Context, user *models.User) error {
	if user.GetID() == "" {
		user.GenID(ctx)
	}
	return repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(user).Error
}
