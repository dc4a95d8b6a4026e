package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Datastore hands out gorm handles. *frame.Service satisfies it.
type Datastore interface {
	DB(ctx context.Context, readOnly bool) *gorm.DB
}

type txKey struct{}

// WithTransaction runs fn inside one database transaction. Repositories called
// with the ctx passed to fn join that transaction. Nested calls reuse the
// outer transaction.
func WithTransaction(ctx context.Context, store Datastore, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return store.DB(ctx, false).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func txFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

type abstractRepository struct {
	store Datastore
}

func (ar *abstractRepository) readDB(ctx context.Context) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return ar.store.DB(ctx, true)
}

func (ar *abstractRepository) writeDB(ctx context.Context) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return ar.store.DB(ctx, false)
}

// IsNotFound reports a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsUniqueViolation reports a duplicate key from postgres (23505) or sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsRetryableConflict reports serialization failures and deadlocks that are
// safe to retry from the start of the transaction.
func IsRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
