package business

import (
	"context"
	"encoding/json"
	"time"
)

const SystemActor = "system"

// AuditEntry is one append-only record of who did what to which row.
type AuditEntry struct {
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Before     map[string]any
	After      map[string]any
	Details    string
	OccurredAt time.Time
}

// AuditSink receives audit entries after the change they describe has
// committed. Failures never undo the change.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type discardAudit struct{}

func (discardAudit) Record(context.Context, AuditEntry) error { return nil }

// DiscardAudit drops every entry.
var DiscardAudit AuditSink = discardAudit{}

func (e *Engine) recordAudit(ctx context.Context, entry AuditEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = e.now()
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.log.WithError(err).
			WithField("action", entry.Action).
			WithField("target", entry.TargetID).
			Warn("could not record audit entry")
	}
}

func snapshot(v any) map[string]any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
