// Package audit records every ledger mutation as an append-only entry.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
	"github.com/jwalitptl/bloodbank-api/pkg/metrics"
)

type Service struct {
	fallback *fallbackLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(log *logger.Logger, m *metrics.Metrics, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		fallback: newFallbackLogger(log),
		metrics:  m,
		now:      now,
	}
}

type LogOptions struct {
	Before interface{}
	After  interface{}
	Reason string
}

// Log appends an audit entry through sink, normally the ledger
// transaction, and returns its id. It never fails: an entry that cannot be
// persisted goes to the fallback channel and Log returns uuid.Nil.
func (s *Service) Log(
	ctx context.Context,
	sink repository.AuditSink,
	actor model.Identity,
	unitID string,
	action model.AuditAction,
	opts *LogOptions,
) uuid.UUID {
	if opts == nil {
		opts = &LogOptions{}
	}

	entry := &model.AuditEntry{
		ID:        uuid.New(),
		UnitID:    unitID,
		Action:    action,
		ActorID:   actor.ActorID,
		ActorName: actor.ActorName,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
		Reason:    opts.Reason,
		CreatedAt: s.now().UTC(),
	}

	var err error
	if entry.OldValue, err = snapshot(opts.Before); err != nil {
		s.fail(ctx, entry, err)
		return uuid.Nil
	}
	if entry.NewValue, err = snapshot(opts.After); err != nil {
		s.fail(ctx, entry, err)
		return uuid.Nil
	}

	if err := sink.AppendAudit(ctx, entry, mirrorOf(entry)); err != nil {
		s.fail(ctx, entry, err)
		return uuid.Nil
	}
	return entry.ID
}

func (s *Service) fail(ctx context.Context, entry *model.AuditEntry, err error) {
	if s.metrics != nil {
		s.metrics.AuditWriteFailures.Inc()
	}
	s.fallback.record(ctx, entry, err)
}

func snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// mirrorOf builds the admin activity row that accompanies an entry.
func mirrorOf(e *model.AuditEntry) *model.AdminActivity {
	changes, _ := json.Marshal(map[string]json.RawMessage{
		"before": rawOrNull(e.OldValue),
		"after":  rawOrNull(e.NewValue),
	})
	return &model.AdminActivity{
		ID:         uuid.New(),
		UserID:     e.ActorID,
		Action:     string(e.Action),
		EntityType: model.AuditEntityBloodUnit,
		EntityID:   e.UnitID,
		Changes:    changes,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		CreatedAt:  e.CreatedAt,
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
