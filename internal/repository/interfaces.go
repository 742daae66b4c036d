package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate key")
)

// All repository interfaces in one file
type (
	// LedgerTx is the unit of work for every ledger mutation. All writes made
	// through one LedgerTx commit or roll back together.
	LedgerTx interface {
		// GetEligibleDonor returns the donor unless it is missing or synthetic.
		GetEligibleDonor(ctx context.Context, id uuid.UUID) (*model.Donor, error)
		// LockMintKey serializes sequence assignment for one (type, date) pair
		// until the transaction ends.
		LockMintKey(ctx context.Context, bloodType model.BloodType, collectionDate time.Time) error
		NextSequence(ctx context.Context, bloodType model.BloodType, collectionDate time.Time) (int, error)
		InsertUnit(ctx context.Context, unit *model.Unit) error
		GetUnitForUpdate(ctx context.Context, unitID string) (*model.Unit, error)
		// NextAvailableForUpdate locks the oldest available unit of the type,
		// skipping rows another transaction already holds.
		NextAvailableForUpdate(ctx context.Context, bloodType model.BloodType) (*model.Unit, error)
		UpdateUnit(ctx context.Context, unit *model.Unit) error
		DeleteUnit(ctx context.Context, unitID string) error
		ListExpirableForUpdate(ctx context.Context, today time.Time) ([]*model.Unit, error)
		CountAvailable(ctx context.Context, bloodType model.BloodType) (int, error)
		InsertIssuance(ctx context.Context, record *model.IssuanceRecord) error
		InsertOutboxEvent(ctx context.Context, event *model.OutboxEvent) error
		AuditSink
	}

	// AuditSink appends an audit entry and its admin mirror. A failed append
	// must leave the surrounding transaction usable.
	AuditSink interface {
		AppendAudit(ctx context.Context, entry *model.AuditEntry, mirror *model.AdminActivity) error
	}

	LedgerRepository interface {
		WithTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	}

	ReportRepository interface {
		ListUnits(ctx context.Context, q model.UnitQuery) ([]*model.UnitRow, error)
		CountUnits(ctx context.Context, f model.UnitFilters) (int64, error)
		GetUnit(ctx context.Context, unitID string) (*model.UnitRow, error)
		StatusCounts(ctx context.Context) ([]model.StatusCount, error)
		CountExpiringBetween(ctx context.Context, from, to time.Time) (int, error)
		ListIssuances(ctx context.Context, unitID string) ([]*model.IssuanceRecord, error)
	}

	AuditRepository interface {
		ListAudit(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error)
	}

	DonorRepository interface {
		CreateDonor(ctx context.Context, donor *model.Donor) error
		GetDonor(ctx context.Context, id uuid.UUID) (*model.Donor, error)
	}

	OutboxRepository interface {
		// ClaimPending locks up to limit pending events, runs handle on each and
		// records the outcome. Events whose handler fails stay pending until
		// maxAttempts is reached, then become failed.
		ClaimPending(ctx context.Context, limit, maxAttempts int, handle func(context.Context, *model.OutboxEvent) error) (processed int, failed int, err error)
		// PurgeProcessed deletes processed events published before the cutoff.
		// Pending and failed events are kept.
		PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
	}

	NotificationRepository interface {
		CreateNotification(ctx context.Context, n *model.Notification) error
	}

	HealthChecker interface {
		Ping(ctx context.Context) error
	}
)
