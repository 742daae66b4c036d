package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type DonorStatus string

const (
	DonorStatusPending  DonorStatus = "pending"
	DonorStatusApproved DonorStatus = "approved"
	DonorStatusServed   DonorStatus = "served"
	DonorStatusRejected DonorStatus = "rejected"
	DonorStatusUnserved DonorStatus = "unserved"
)

// Donor is owned by the registration workflow; the ledger only reads it.
type Donor struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	ReferenceCode string      `db:"reference_code" json:"reference_code"`
	FirstName     string      `db:"first_name" json:"first_name"`
	LastName      string      `db:"last_name" json:"last_name"`
	Email         string      `db:"email" json:"email"`
	Phone         string      `db:"phone" json:"phone"`
	BloodType     BloodType   `db:"blood_type" json:"blood_type"`
	Status        DonorStatus `db:"status" json:"status"`
	IsSynthetic   bool        `db:"is_synthetic" json:"is_synthetic"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

func (d *Donor) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// CanDonate reports whether the donor status allows backing a new unit.
func (d *Donor) CanDonate() bool {
	return d.Status == DonorStatusApproved || d.Status == DonorStatusServed
}
