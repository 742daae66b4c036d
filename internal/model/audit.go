package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionCreated            AuditAction = "created"
	AuditActionUpdated            AuditAction = "updated"
	AuditActionIssued             AuditAction = "issued"
	AuditActionStatusUpdated      AuditAction = "status_updated"
	AuditActionBloodTypeUpdated   AuditAction = "blood_type_updated"
	AuditActionTestResultsUpdated AuditAction = "test_results_updated"
	AuditActionUnitDeleted        AuditAction = "unit_deleted"
)

const (
	AuditEntityBloodUnit = "blood_unit"

	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditEntry is the append-only record of one ledger mutation.
type AuditEntry struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UnitID    string          `json:"unit_id" db:"unit_id"`
	Action    AuditAction     `json:"action" db:"action"`
	OldValue  json.RawMessage `json:"old_value,omitempty" db:"old_value"`
	NewValue  json.RawMessage `json:"new_value,omitempty" db:"new_value"`
	ActorID   string          `json:"actor_id" db:"actor_id"`
	ActorName string          `json:"actor_name" db:"actor_name"`
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	Reason    string          `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AdminActivity is the secondary, admin-facing mirror of an audit entry.
type AdminActivity struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	Changes    json.RawMessage `json:"changes" db:"changes"`
	IPAddress  string          `json:"ip_address" db:"ip_address"`
	UserAgent  string          `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	UnitID string
	Limit  int
}

// Normalize applies the default and maximum limit.
func (f AuditFilter) Normalize() AuditFilter {
	if f.Limit <= 0 {
		f.Limit = defaultAuditLimit
	}
	if f.Limit > maxAuditLimit {
		f.Limit = maxAuditLimit
	}
	return f
}
