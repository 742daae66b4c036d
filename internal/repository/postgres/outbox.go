package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

// ClaimPending holds the row locks for the whole batch so that concurrent
// workers skip events already being published.
func (r *outboxRepository) ClaimPending(
	ctx context.Context,
	limit, maxAttempts int,
	handle func(context.Context, *model.OutboxEvent) error,
) (processed int, failed int, err error) {
	err = r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		query := `
			SELECT id, event_type, payload, status, error_message, retry_count,
				created_at, processed_at, updated_at
			FROM outbox_events
			WHERE status = $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`
		var events []*model.OutboxEvent
		if err := tx.SelectContext(ctx, &events, query, model.OutboxStatusPending, limit); err != nil {
			return fmt.Errorf("failed to claim outbox events: %w", err)
		}

		for _, evt := range events {
			if herr := handle(ctx, evt); herr != nil {
				msg := herr.Error()
				status := model.OutboxStatusPending
				if evt.RetryCount+1 >= maxAttempts {
					status = model.OutboxStatusFailed
				}
				failed++
				if err := updateOutboxStatus(ctx, tx, evt, status, &msg, 1); err != nil {
					return err
				}
				continue
			}
			if err := updateOutboxStatus(ctx, tx, evt, model.OutboxStatusProcessed, nil, 0); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	return processed, failed, err
}

func (r *outboxRepository) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM outbox_events WHERE status = $1 AND processed_at < $2`
	result, err := r.db.ExecContext(ctx, query, model.OutboxStatusProcessed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox events: %w", err)
	}
	return result.RowsAffected()
}

func updateOutboxStatus(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent, status model.OutboxStatus, errorMessage *string, retryDelta int) error {
	query := `
		UPDATE outbox_events
		SET status = $1,
			error_message = $2,
			retry_count = retry_count + $3,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, query, status, errorMessage, retryDelta, evt.ID); err != nil {
		return fmt.Errorf("failed to update outbox event %s: %w", evt.ID, err)
	}
	return nil
}
