package events

import (
	"context"
	"errors"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/pitabwire/frame"
	"gorm.io/datatypes"
)

const AuditLogSaveEvent = "auditLog.save"

// AuditLogSave persists audit entries off the request path.
type AuditLogSave struct {
	Service *frame.Service
}

func (e *AuditLogSave) Name() string {
	return AuditLogSaveEvent
}

func (e *AuditLogSave) PayloadType() any {
	return &models.AuditLog{}
}

func (e *AuditLogSave) Validate(_ context.Context, payload any) error {
	entry, ok := payload.(*models.AuditLog)
	if !ok {
		return errors.New(" payload is not of type models.AuditLog")
	}
	if entry.GetID() == "" {
		return errors.New(" audit log Id should already have been set ")
	}
	if entry.Action == "" {
		return errors.New(" audit log action is required ")
	}
	return nil
}

func (e *AuditLogSave) Execute(ctx context.Context, payload any) error {
	entry := payload.(*models.AuditLog)

	logger := e.Service.Log(ctx).WithField("type", e.Name()).WithField("action", entry.Action)
	logger.Debug("handling event")

	repo := repository.NewAuditLogRepository(ctx, e.Service)
	if err := repo.Save(ctx, entry); err != nil {
		logger.WithError(err).Warn("could not save audit log to db")
		return err
	}
	logger.WithField("target", entry.TargetID).Debug("successfully saved audit log")
	return nil
}

// Emitter is the part of frame.Service the event sink needs.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// EventAuditSink hands audit entries to the AuditLogSave event.
type EventAuditSink struct {
	Emitter Emitter
}

func (s *EventAuditSink) Record(ctx context.Context, entry business.AuditEntry) error {
	record := ToAuditLog(entry)
	record.GenID(ctx)
	return s.Emitter.Emit(ctx, AuditLogSaveEvent, record)
}

// StoreAuditSink writes audit entries straight to the datastore. The CLI uses
// it since it runs without the event queue.
type StoreAuditSink struct {
	Repo repository.AuditLogRepository
}

func (s *StoreAuditSink) Record(ctx context.Context, entry business.AuditEntry) error {
	return s.Repo.Save(ctx, ToAuditLog(entry))
}

func ToAuditLog(entry business.AuditEntry) *models.AuditLog {
	record := &models.AuditLog{
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Details:    entry.Details,
		OccurredAt: entry.OccurredAt,
	}
	if entry.Before != nil {
		record.Before = datatypes.JSONMap(entry.Before)
	}
	if entry.After != nil {
		record.After = datatypes.JSONMap(entry.After)
	}
	return record
}
