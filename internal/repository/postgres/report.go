package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

const unitRowSelect = `
	SELECT u.id, u.unit_id, u.sequence_no, u.donor_id, u.blood_type, u.collection_date,
		u.expiry_date, u.status, u.volume_ml, u.collection_site, u.storage_location,
		u.notes, u.test_results, u.screening_status, u.created_by, u.updated_by,
		u.created_at, u.updated_at,
		d.reference_code AS donor_reference,
		TRIM(d.first_name || ' ' || d.last_name) AS donor_name,
		d.email AS donor_email,
		d.phone AS donor_phone,
		d.is_synthetic AS donor_is_synthetic
	FROM blood_units u
	JOIN donors d ON d.id = u.donor_id`

const unitRowFrom = `
	FROM blood_units u
	JOIN donors d ON d.id = u.donor_id`

// statusPriority orders available < quarantined < used < expired.
const statusPriority = `CASE u.status
		WHEN 'available' THEN 1
		WHEN 'quarantined' THEN 2
		WHEN 'used' THEN 3
		WHEN 'expired' THEN 4
		ELSE 5 END`

var sortColumns = map[string]string{
	model.SortCreatedAt:      "u.created_at",
	model.SortUnitID:         "u.unit_id",
	model.SortBloodType:      "u.blood_type",
	model.SortCollectionDate: "u.collection_date",
	model.SortExpiryDate:     "u.expiry_date",
	model.SortStatus:         statusPriority,
}

type reportRepository struct {
	BaseRepository
}

func NewReportRepository(base BaseRepository) repository.ReportRepository {
	return &reportRepository{base}
}

// compiledFilter is the WHERE clause shared by every unit report query.
type compiledFilter struct {
	where string
	args  []interface{}
}

func (c *compiledFilter) add(cond string, args ...interface{}) {
	for _, a := range args {
		c.args = append(c.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(c.args)), 1)
	}
	if c.where == "" {
		c.where = " WHERE " + cond
		return
	}
	c.where += " AND " + cond
}

// next returns the placeholder for the argument after the filter's own.
func (c *compiledFilter) next(offset int) string {
	return fmt.Sprintf("$%d", len(c.args)+offset)
}

// compileUnitFilter is the single source of WHERE semantics for list and
// count.
func compileUnitFilter(f model.UnitFilters) compiledFilter {
	var c compiledFilter
	if !f.IncludeSynthetic {
		c.add("NOT d.is_synthetic")
	}
	if f.BloodType != "" {
		c.add("u.blood_type = ?", string(f.BloodType))
	}
	if f.Status != "" {
		c.add("u.status = ?", string(f.Status))
	}
	if f.CollectedFrom != nil {
		c.add("u.collection_date >= ?::date", sqlDate(*f.CollectedFrom))
	}
	if f.CollectedTo != nil {
		c.add("u.collection_date <= ?::date", sqlDate(*f.CollectedTo))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(s) + "%"
		c.add("(u.unit_id ILIKE ? OR TRIM(d.first_name || ' ' || d.last_name) ILIKE ? OR d.reference_code ILIKE ?)",
			pattern, pattern, pattern)
	}
	return c
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// orderClause resolves a normalized query to ORDER BY. The internal id is
// always the last key so paging is stable.
func orderClause(q model.UnitQuery) string {
	if q.SortField == "" {
		return " ORDER BY " + statusPriority + " ASC, u.collection_date ASC, u.id ASC"
	}
	col, ok := sortColumns[q.SortField]
	if !ok {
		col = sortColumns[model.SortCreatedAt]
	}
	dir := "DESC"
	if q.SortOrder == "ASC" {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, u.id %s", col, dir, dir)
}

func buildListQuery(q model.UnitQuery) (string, []interface{}) {
	c := compileUnitFilter(q.Filters)
	query := unitRowSelect + c.where + orderClause(q) +
		fmt.Sprintf(" LIMIT %s OFFSET %s", c.next(1), c.next(2))
	args := append(c.args, q.PageSize, q.Offset())
	return query, args
}

func buildCountQuery(f model.UnitFilters) (string, []interface{}) {
	c := compileUnitFilter(f)
	return "SELECT COUNT(*)" + unitRowFrom + c.where, c.args
}

func (r *reportRepository) ListUnits(ctx context.Context, q model.UnitQuery) ([]*model.UnitRow, error) {
	query, args := buildListQuery(q.Normalize())
	var rows []*model.UnitRow
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	for _, row := range rows {
		normalizeUnitDates(&row.Unit)
	}
	return rows, nil
}

func (r *reportRepository) CountUnits(ctx context.Context, f model.UnitFilters) (int64, error) {
	query, args := buildCountQuery(f)
	var total int64
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &total, query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count units: %w", err)
	}
	return total, nil
}

func (r *reportRepository) GetUnit(ctx context.Context, unitID string) (*model.UnitRow, error) {
	var row model.UnitRow
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, unitRowSelect+` WHERE u.unit_id = $1`, unitID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	normalizeUnitDates(&row.Unit)
	return &row, nil
}

func (r *reportRepository) StatusCounts(ctx context.Context) ([]model.StatusCount, error) {
	query := `
		SELECT u.blood_type, u.status, COUNT(*) AS count
		FROM blood_units u
		JOIN donors d ON d.id = u.donor_id
		WHERE NOT d.is_synthetic
		GROUP BY u.blood_type, u.status
	`
	var counts []model.StatusCount
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &counts, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count units by status: %w", err)
	}
	return counts, nil
}

func (r *reportRepository) CountExpiringBetween(ctx context.Context, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM blood_units u
		JOIN donors d ON d.id = u.donor_id
		WHERE NOT d.is_synthetic
			AND u.status = $1
			AND u.expiry_date >= $2::date AND u.expiry_date <= $3::date
	`
	var n int
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, query, model.UnitStatusAvailable, sqlDate(from), sqlDate(to))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count expiring units: %w", err)
	}
	return n, nil
}

func (r *reportRepository) ListIssuances(ctx context.Context, unitID string) ([]*model.IssuanceRecord, error) {
	query := `
		SELECT id, unit_id, request_reference, issued_by, recipient_facility,
			recipient_patient_ref, notes, issued_at
		FROM issuance_records
		WHERE unit_id = $1
		ORDER BY issued_at DESC
	`
	var records []*model.IssuanceRecord
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &records, query, unitID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issuance records: %w", err)
	}
	return records, nil
}
