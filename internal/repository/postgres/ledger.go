package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

const unitColumns = `
	id, unit_id, sequence_no, donor_id, blood_type, collection_date, expiry_date,
	status, volume_ml, collection_site, storage_location, notes, test_results,
	screening_status, created_by, updated_by, created_at, updated_at`

type ledgerRepository struct {
	BaseRepository
}

func NewLedgerRepository(base BaseRepository) repository.LedgerRepository {
	return &ledgerRepository{base}
}

func (r *ledgerRepository) WithTx(ctx context.Context, fn func(context.Context, repository.LedgerTx) error) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx})
	})
}

type ledgerTx struct {
	tx *sqlx.Tx
}

// sqlDate renders a civil date as text so the session time zone cannot
// shift it when Postgres casts to DATE.
func sqlDate(t time.Time) string {
	return model.DateOf(t).Format(model.DateLayout)
}

func normalizeUnitDates(u *model.Unit) {
	u.CollectionDate = model.DateOf(u.CollectionDate)
	u.ExpiryDate = model.DateOf(u.ExpiryDate)
}

func (t *ledgerTx) GetEligibleDonor(ctx context.Context, id uuid.UUID) (*model.Donor, error) {
	query := `
		SELECT id, reference_code, first_name, last_name, email, phone,
			blood_type, status, is_synthetic, created_at
		FROM donors
		WHERE id = $1 AND NOT is_synthetic
	`
	var donor model.Donor
	if err := t.tx.GetContext(ctx, &donor, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get donor: %w", err)
	}
	return &donor, nil
}

func (t *ledgerTx) LockMintKey(ctx context.Context, bloodType model.BloodType, collectionDate time.Time) error {
	key := fmt.Sprintf("unit-mint:%s:%s", bloodType, sqlDate(collectionDate))
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock mint key: %w", err)
	}
	return nil
}

// NextSequence advances the persistent counter for the mint key. Deletes do
// not lower it. The caller holds the mint lock.
func (t *ledgerTx) NextSequence(ctx context.Context, bloodType model.BloodType, collectionDate time.Time) (int, error) {
	query := `
		INSERT INTO unit_sequences (blood_type, collection_date, last_seq)
		VALUES ($1, $2::date, (
			SELECT COALESCE(MAX(sequence_no), 0) + 1
			FROM blood_units
			WHERE blood_type = $1 AND collection_date = $2::date
		))
		ON CONFLICT (blood_type, collection_date)
		DO UPDATE SET last_seq = GREATEST(unit_sequences.last_seq, EXCLUDED.last_seq - 1) + 1
		RETURNING last_seq
	`
	var seq int
	if err := t.tx.GetContext(ctx, &seq, query, bloodType, sqlDate(collectionDate)); err != nil {
		return 0, fmt.Errorf("failed to compute sequence: %w", err)
	}
	return seq, nil
}

func (t *ledgerTx) InsertUnit(ctx context.Context, u *model.Unit) error {
	query := `
		INSERT INTO blood_units (
			unit_id, sequence_no, donor_id, blood_type, collection_date, expiry_date,
			status, volume_ml, collection_site, storage_location, notes, test_results,
			screening_status, created_by, updated_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::date, $6::date, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		RETURNING id
	`
	err := t.tx.QueryRowxContext(ctx, query,
		u.UnitID,
		u.SequenceNo,
		u.DonorID,
		u.BloodType,
		sqlDate(u.CollectionDate),
		sqlDate(u.ExpiryDate),
		u.Status,
		u.VolumeML,
		u.CollectionSite,
		u.StorageLocation,
		u.Notes,
		u.TestResults,
		u.ScreeningStatus,
		u.CreatedBy,
		u.UpdatedBy,
		u.CreatedAt,
		u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to insert unit: %w", err)
	}
	return nil
}

func (t *ledgerTx) getUnit(ctx context.Context, query string, args ...interface{}) (*model.Unit, error) {
	var u model.Unit
	if err := t.tx.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	normalizeUnitDates(&u)
	return &u, nil
}

func (t *ledgerTx) GetUnitForUpdate(ctx context.Context, unitID string) (*model.Unit, error) {
	return t.getUnit(ctx, `SELECT `+unitColumns+` FROM blood_units WHERE unit_id = $1 FOR UPDATE`, unitID)
}

func (t *ledgerTx) NextAvailableForUpdate(ctx context.Context, bloodType model.BloodType) (*model.Unit, error) {
	query := `SELECT ` + unitColumns + `
		FROM blood_units
		WHERE blood_type = $1 AND status = $2
		ORDER BY collection_date ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	return t.getUnit(ctx, query, bloodType, model.UnitStatusAvailable)
}

func (t *ledgerTx) UpdateUnit(ctx context.Context, u *model.Unit) error {
	query := `
		UPDATE blood_units
		SET blood_type = $1, status = $2, notes = $3, storage_location = $4,
			test_results = $5, screening_status = $6, updated_by = $7, updated_at = $8
		WHERE unit_id = $9
	`
	res, err := t.tx.ExecContext(ctx, query,
		u.BloodType,
		u.Status,
		u.Notes,
		u.StorageLocation,
		u.TestResults,
		u.ScreeningStatus,
		u.UpdatedBy,
		u.UpdatedAt,
		u.UnitID,
	)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	return expectOneRow(res)
}

func (t *ledgerTx) DeleteUnit(ctx context.Context, unitID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM blood_units WHERE unit_id = $1`, unitID)
	if err != nil {
		return fmt.Errorf("failed to delete unit: %w", err)
	}
	return expectOneRow(res)
}

func (t *ledgerTx) ListExpirableForUpdate(ctx context.Context, today time.Time) ([]*model.Unit, error) {
	query := `SELECT ` + unitColumns + `
		FROM blood_units
		WHERE status IN ($1, $2) AND expiry_date < $3::date
		ORDER BY expiry_date ASC, id ASC
		FOR UPDATE
	`
	var units []*model.Unit
	err := t.tx.SelectContext(ctx, &units, query,
		model.UnitStatusAvailable, model.UnitStatusQuarantined, sqlDate(today))
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable units: %w", err)
	}
	for _, u := range units {
		normalizeUnitDates(u)
	}
	return units, nil
}

func (t *ledgerTx) CountAvailable(ctx context.Context, bloodType model.BloodType) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM blood_units WHERE blood_type = $1 AND status = $2`,
		bloodType, model.UnitStatusAvailable)
	if err != nil {
		return 0, fmt.Errorf("failed to count available units: %w", err)
	}
	return n, nil
}

func (t *ledgerTx) InsertIssuance(ctx context.Context, rec *model.IssuanceRecord) error {
	query := `
		INSERT INTO issuance_records (
			id, unit_id, request_reference, issued_by, recipient_facility,
			recipient_patient_ref, notes, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		rec.ID,
		rec.UnitID,
		rec.RequestReference,
		rec.IssuedBy,
		rec.RecipientFacility,
		rec.RecipientPatientRef,
		rec.Notes,
		rec.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to insert issuance record: %w", err)
	}
	return nil
}

func (t *ledgerTx) InsertOutboxEvent(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil || len(event.Payload) == 0 {
		return fmt.Errorf("outbox event payload cannot be empty")
	}
	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, $5, $6)
	`
	_, err := t.tx.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// AppendAudit writes the entry and its admin mirror under a savepoint, so a
// failed insert rolls back only the audit rows and the business writes of
// the transaction survive.
func (t *ledgerTx) AppendAudit(ctx context.Context, entry *model.AuditEntry, mirror *model.AdminActivity) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT audit_entry`); err != nil {
		return fmt.Errorf("failed to open audit savepoint: %w", err)
	}

	if err := t.insertAudit(ctx, entry, mirror); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT audit_entry`); rbErr != nil {
			return fmt.Errorf("audit insert failed (%v) and savepoint rollback failed: %w", err, rbErr)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT audit_entry`); err != nil {
		return fmt.Errorf("failed to release audit savepoint: %w", err)
	}
	return nil
}

func (t *ledgerTx) insertAudit(ctx context.Context, entry *model.AuditEntry, mirror *model.AdminActivity) error {
	query := `
		INSERT INTO unit_audit_log (
			id, unit_id, action, old_value, new_value, actor_id, actor_name,
			ip_address, user_agent, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.tx.ExecContext(ctx, query,
		entry.ID,
		entry.UnitID,
		entry.Action,
		nullJSON(entry.OldValue),
		nullJSON(entry.NewValue),
		entry.ActorID,
		entry.ActorName,
		entry.IPAddress,
		entry.UserAgent,
		entry.Reason,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if mirror == nil {
		return nil
	}

	mirrorQuery := `
		INSERT INTO admin_activity_log (
			id, user_id, action, entity_type, entity_id, changes,
			ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = t.tx.ExecContext(ctx, mirrorQuery,
		mirror.ID,
		mirror.UserID,
		mirror.Action,
		mirror.EntityType,
		mirror.EntityID,
		nullJSON(mirror.Changes),
		mirror.IPAddress,
		mirror.UserAgent,
		mirror.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin activity: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
