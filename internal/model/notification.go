package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusSent   NotificationStatus = "sent"
	NotificationStatusFailed NotificationStatus = "failed"
)

type NotificationKind string

const (
	NotificationUnitIssued      NotificationKind = "unit_issued"
	NotificationUnitQuarantined NotificationKind = "unit_quarantined"
	NotificationUnitsExpired    NotificationKind = "units_expired"
	NotificationLowStock        NotificationKind = "low_stock"
)

type Notification struct {
	ID        uuid.UUID          `db:"id" json:"id"`
	Channel   string             `db:"channel" json:"channel"`
	Kind      NotificationKind   `db:"kind" json:"kind"`
	Recipient string             `db:"recipient" json:"recipient"`
	Subject   string             `db:"subject" json:"subject"`
	Content   string             `db:"content" json:"content"`
	Status    NotificationStatus `db:"status" json:"status"`
	LastError string             `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	SentAt    *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
}

// NotificationEvent is the in-app payload published to the broker.
type NotificationEvent struct {
	ID        uuid.UUID        `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Recipient string           `json:"recipient"`
	Subject   string           `json:"subject"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
}
