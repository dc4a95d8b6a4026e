package repository

import (
	"context"
	"time"

	"github.com/antinvestor/service-chama/service/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentStatusRepository interface {
	GetByID(ctx context.Context, id string) (*models.PaymentStatus, error)
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentStatus, error)
	GetByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (*models.PaymentStatus, error)
	ListPendingByUser(ctx context.Context, userID string) ([]*models.PaymentStatus, error)
	Create(ctx context.Context, paymentStatus *models.PaymentStatus) error
	UpdateCorrelation(ctx context.Context, id, checkoutRequestID, merchantRequestID string) error
	CompleteIfPending(ctx context.Context, id string, updates map[string]any) (bool, error)
	TimeoutStale(ctx context.Context, initiatedBefore, now time.Time) (int64, error)
	PurgeTerminal(ctx context.Context, completedBefore time.Time) (int64, error)
}

type paymentStatusRepository struct {
	abstractRepository
}

func NewPaymentStatusRepository(_ context.Context, store Datastore) PaymentStatusRepository {
	return &paymentStatusRepository{abstractRepository{store: store}}
}

func (repo *paymentStatusRepository) GetByID(ctx context.Context, id string) (*models.PaymentStatus, error) {
	paymentStatus := models.PaymentStatus{}
	err := repo.readDB(ctx).First(&paymentStatus, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &paymentStatus, nil
}

// GetByCheckoutID reads from the primary so a row written at initiation is
// visible to the callback that follows it.
func (repo *paymentStatusRepository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentStatus, error) {
	paymentStatus := models.PaymentStatus{}
	err := repo.writeDB(ctx).First(&paymentStatus, "checkout_request_id = ?", checkoutRequestID).Error
	if err != nil {
		return nil, err
	}
	return &paymentStatus, nil
}

func (repo *paymentStatusRepository) GetByCheckoutIDForUpdate(ctx context.Context, checkoutRequestID string) (*models.PaymentStatus, error) {
	paymentStatus := models.PaymentStatus{}
	err := repo.writeDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&paymentStatus, "checkout_request_id = ?", checkoutRequestID).Error
	if err != nil {
		return nil, err
	}
	return &paymentStatus, nil
}

func (repo *paymentStatusRepository) ListPendingByUser(ctx context.Context, userID string) ([]*models.PaymentStatus, error) {
	var statuses []*models.PaymentStatus
	err := repo.readDB(ctx).
		Where("user_id = ? AND status = ?", userID, models.PaymentStatePending).
		Order("initiated_at DESC").
		Find(&statuses).Error
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func (repo *paymentStatusRepository) Create(ctx context.Context, paymentStatus *models.PaymentStatus) error {
	if paymentStatus.GetID() == "" {
		paymentStatus.GenID(ctx)
	}
	return repo.writeDB(ctx).Create(paymentStatus).Error
}

// conditionalUpdate targets payment_statuses without model hooks. The base
// model's BeforeSave assigns an id to an empty model, which gorm would then
// add to the WHERE clause.
func (repo *paymentStatusRepository) conditionalUpdate(ctx context.Context) *gorm.DB {
	return repo.writeDB(ctx).Session(&gorm.Session{SkipHooks: true}).Model(&models.PaymentStatus{})
}

func (repo *paymentStatusRepository) UpdateCorrelation(ctx context.Context, id, checkoutRequestID, merchantRequestID string) error {
	result := repo.conditionalUpdate(ctx).
		Where("id = ?", id).
		Updates(map[string]any{
			"checkout_request_id": checkoutRequestID,
			"merchant_request_id": merchantRequestID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CompleteIfPending applies updates only while the row is still pending and
// reports whether this call performed the transition.
func (repo *paymentStatusRepository) CompleteIfPending(ctx context.Context, id string, updates map[string]any) (bool, error) {
	result := repo.conditionalUpdate(ctx).
		Where("id = ? AND status = ?", id, models.PaymentStatePending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (repo *paymentStatusRepository) TimeoutStale(ctx context.Context, initiatedBefore, now time.Time) (int64, error) {
	result := repo.conditionalUpdate(ctx).
		Where("status = ? AND initiated_at < ?", models.PaymentStatePending, initiatedBefore).
		Updates(map[string]any{
			"status":         models.PaymentStateTimeout,
			"failure_reason": "Transaction timed out",
			"completed_at":   now,
		})
	return result.RowsAffected, result.Error
}

func (repo *paymentStatusRepository) PurgeTerminal(ctx context.Context, completedBefore time.Time) (int64, error) {
	result := repo.writeDB(ctx).Unscoped().
		Where("completed_at < ? AND status IN ?", completedBefore,
			[]string{models.PaymentStateSuccess, models.PaymentStateFailed, models.PaymentStateTimeout}).
		Delete(&models.PaymentStatus{})
	return result.RowsAffected, result.Error
}
