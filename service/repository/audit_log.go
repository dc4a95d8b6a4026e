package repository

import (
	"context"

	"github.com/antinvestor/service-chama/service/models"
	"gorm.io/gorm/clause"
)

type AuditLogRepository interface {
	ListByTarget(ctx context.Context, targetType, targetID string) ([]*models.AuditLog, error)
	Save(ctx context.Context, entry *models.AuditLog) error
}

type auditLogRepository struct {
	abstractRepository
}

func NewAuditLogRepository(_ context.Context, store Datastore) AuditLogRepository {
	return &auditLogRepository{abstractRepository{store: store}}
}

func (repo *auditLogRepository) ListByTarget(ctx context.Context, targetType, targetID string) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	err := repo.readDB(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("occurred_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Save is an idempotent insert so a redelivered audit event does not duplicate rows.
func (repo *auditLogRepository) Save(ctx context.Context, entry *models.AuditLog) error {
	if entry.GetID() == "" {
		entry.GenID(ctx)
	}
	return repo.writeDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(entry).Error
}
