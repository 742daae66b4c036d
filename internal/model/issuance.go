package model

import (
	"time"

	"github.com/google/uuid"
)

// IssueRequest describes the request an issued unit fulfils.
type IssueRequest struct {
	RequestReference    string `json:"request_reference"`
	RecipientFacility   string `json:"recipient_facility"`
	RecipientPatientRef string `json:"recipient_patient_ref"`
	Notes               string `json:"notes"`
}

type IssuanceRecord struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	UnitID              string    `db:"unit_id" json:"unit_id"`
	RequestReference    string    `db:"request_reference" json:"request_reference"`
	IssuedBy            string    `db:"issued_by" json:"issued_by"`
	RecipientFacility   string    `db:"recipient_facility" json:"recipient_facility"`
	RecipientPatientRef string    `db:"recipient_patient_ref" json:"recipient_patient_ref"`
	Notes               string    `db:"notes" json:"notes"`
	IssuedAt            time.Time `db:"issued_at" json:"issued_at"`
}
