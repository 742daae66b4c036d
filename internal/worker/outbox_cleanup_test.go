package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/repository/memory"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

type purgeRepo struct {
	repository.OutboxRepository
	before time.Time
	err    error
}

func (r *purgeRepo) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	r.before = before
	return 4, r.err
}

func TestCleanupUsesRetentionCutoff(t *testing.T) {
	repo := &purgeRepo{}
	w, err := NewOutboxCleanupWorker(repo, 7, time.Hour, logger.Nop())
	require.NoError(t, err)
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.Cleanup(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, time.Date(2024, 1, 13, 10, 0, 0, 0, time.UTC), repo.before)

	repo.err = errors.New("timeout")
	_, err = w.Cleanup(context.Background())
	assert.ErrorContains(t, err, "failed to cleanup outbox events")
}

func TestCleanupRejectsBadSettings(t *testing.T) {
	_, err := NewOutboxCleanupWorker(&purgeRepo{}, 0, time.Hour, logger.Nop())
	assert.Error(t, err)
	_, err = NewOutboxCleanupWorker(&purgeRepo{}, 7, 0, logger.Nop())
	assert.Error(t, err)
}

func TestCleanupKeepsUnpublishedEvents(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		for _, et := range []string{model.EventUnitCreated, model.EventUnitIssued} {
			if err := tx.InsertOutboxEvent(ctx, &model.OutboxEvent{ID: uuid.New(), EventType: et, Status: model.OutboxStatusPending}); err != nil {
				return err
			}
		}
		return nil
	}))

	// Publish only the first event.
	first := true
	_, _, err := store.ClaimPending(ctx, 10, 3, func(context.Context, *model.OutboxEvent) error {
		if first {
			first = false
			return nil
		}
		return errors.New("broker down")
	})
	require.NoError(t, err)

	w, err := NewOutboxCleanupWorker(store, 1, time.Hour, logger.Nop())
	require.NoError(t, err)
	w.now = func() time.Time { return time.Now().AddDate(0, 0, 2) }

	n, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left := store.OutboxEvents()
	require.Len(t, left, 1)
	assert.Equal(t, model.EventUnitIssued, left[0].EventType)
	assert.Equal(t, model.OutboxStatusPending, left[0].Status)
}
