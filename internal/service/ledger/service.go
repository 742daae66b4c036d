// Package ledger owns every write to blood units. Each operation runs in
// one transaction together with its audit entry and outbox event.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/service/audit"
	"github.com/jwalitptl/bloodbank-api/internal/service/expiry"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
	"github.com/jwalitptl/bloodbank-api/pkg/metrics"
)

// Notifier delivers operational notices. It is called after commit, so a
// failure never affects the ledger.
type Notifier interface {
	Notify(ctx context.Context, recipient string, kind model.NotificationKind, vars map[string]string) error
}

// Invalidator drops cached read models after a mutation.
type Invalidator interface {
	Invalidate()
}

type Config struct {
	MaxMintAttempts   int
	LowStockThreshold int
	NotifyRecipient   string
}

type Service struct {
	repo     repository.LedgerRepository
	policy   *expiry.Policy
	auditor  *audit.Service
	notifier Notifier
	cache    Invalidator
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(
	repo repository.LedgerRepository,
	policy *expiry.Policy,
	auditor *audit.Service,
	notifier Notifier,
	cache Invalidator,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.MaxMintAttempts <= 0 {
		config.MaxMintAttempts = 3
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		policy:   policy,
		auditor:  auditor,
		notifier: notifier,
		cache:    cache,
		config:   config,
		logger:   log.Named("ledger"),
		metrics:  m,
	}
}

func require(id model.Identity, c model.Capability) error {
	if !id.Can(c) {
		return apperrors.PermissionDenied(string(c))
	}
	return nil
}

// observe is deferred by every operation with a pointer to its named error.
func (s *Service) observe(ctx context.Context, op string, start time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.ObserveLedger(op, time.Since(start).Seconds(), *err)
	}
	if *err == nil {
		return
	}
	if appErr, ok := apperrors.As(*err); ok && appErr.Code != apperrors.ErrPersistence {
		return
	}
	logger.FromContext(ctx, s.logger).Error(*err, "ledger operation failed", "operation", op)
}

// unitErr maps repository errors for a unit lookup onto the taxonomy.
func unitErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("unit", nil)
	}
	return apperrors.Wrap(err)
}

func (s *Service) appendEvent(ctx context.Context, tx repository.LedgerTx, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Persistence(err)
	}
	now := s.policy.Now()
	return tx.InsertOutboxEvent(ctx, &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   body,
		Status:    model.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// afterCommit invalidates cached reports and sends notices.
func (s *Service) afterCommit(ctx context.Context, notices ...notice) {
	if s.cache != nil {
		s.cache.Invalidate()
	}
	for _, n := range notices {
		s.notify(ctx, n)
	}
}

type notice struct {
	kind model.NotificationKind
	vars map[string]string
}

func (s *Service) notify(ctx context.Context, n notice) {
	if s.notifier == nil || s.config.NotifyRecipient == "" {
		return
	}
	if err := s.notifier.Notify(ctx, s.config.NotifyRecipient, n.kind, n.vars); err != nil {
		logger.FromContext(ctx, s.logger).Warn("notification failed",
			"kind", string(n.kind), "error", err.Error())
	}
}

// unitEvent is the outbox payload for unit changes.
type unitEvent struct {
	UnitID  string      `json:"unit_id"`
	ActorID string      `json:"actor_id"`
	Before  *model.Unit `json:"before,omitempty"`
	After   *model.Unit `json:"after,omitempty"`
	Extra   interface{} `json:"extra,omitempty"`
}
