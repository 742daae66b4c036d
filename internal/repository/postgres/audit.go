package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

// buildAuditQuery orders by the insertion sequence so entries written in one
// transaction, which share a timestamp, still come back newest first.
func buildAuditQuery(f model.AuditFilter) (string, []interface{}) {
	f = f.Normalize()
	query := `
		SELECT id, unit_id, action, old_value, new_value, actor_id, actor_name,
			ip_address, user_agent, reason, created_at
		FROM unit_audit_log
	`
	var args []interface{}

	if f.UnitID != "" {
		args = append(args, f.UnitID)
		query += fmt.Sprintf(" WHERE unit_id = $%d", len(args))
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))
	return query, args
}

func (r *auditRepository) ListAudit(ctx context.Context, f model.AuditFilter) ([]*model.AuditEntry, error) {
	query, args := buildAuditQuery(f)

	var entries []*model.AuditEntry
	err := r.readOnly(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &entries, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
