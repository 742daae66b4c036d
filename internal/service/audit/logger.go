package audit

import (
	"context"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

const fallbackChannel = "audit_fallback"

// fallbackLogger receives audit entries that could not be persisted, with
// enough detail to replay them by hand.
type fallbackLogger struct {
	log *logger.Logger
}

func newFallbackLogger(log *logger.Logger) *fallbackLogger {
	if log == nil {
		log = logger.Nop()
	}
	return &fallbackLogger{log: log.Named(fallbackChannel)}
}

func (f *fallbackLogger) record(ctx context.Context, entry *model.AuditEntry, err error) {
	ev := f.log.ZL().Error().
		Err(err).
		Str("audit_id", entry.ID.String()).
		Str("unit_id", entry.UnitID).
		Str("action", string(entry.Action)).
		Str("actor_id", entry.ActorID).
		Str("actor_name", entry.ActorName).
		Str("ip_address", entry.IPAddress).
		Str("user_agent", entry.UserAgent).
		Str("reason", entry.Reason).
		Time("created_at", entry.CreatedAt)
	if len(entry.OldValue) > 0 {
		ev = ev.RawJSON("old_value", entry.OldValue)
	}
	if len(entry.NewValue) > 0 {
		ev = ev.RawJSON("new_value", entry.NewValue)
	}
	if rid, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg("audit entry not persisted")
}
