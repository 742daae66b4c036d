package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "available"
	UnitStatusQuarantined UnitStatus = "quarantined"
	UnitStatusUsed        UnitStatus = "used"
	UnitStatusExpired     UnitStatus = "expired"
)

func ParseUnitStatus(s string) (UnitStatus, bool) {
	switch st := UnitStatus(s); st {
	case UnitStatusAvailable, UnitStatusQuarantined, UnitStatusUsed, UnitStatusExpired:
		return st, true
	}
	return "", false
}

// Terminal statuses never change again.
func (s UnitStatus) Terminal() bool {
	return s == UnitStatusUsed || s == UnitStatusExpired
}

// Priority orders statuses for the default report sort: least resolved first.
func (s UnitStatus) Priority() int {
	switch s {
	case UnitStatusAvailable:
		return 1
	case UnitStatusQuarantined:
		return 2
	case UnitStatusUsed:
		return 3
	case UnitStatusExpired:
		return 4
	}
	return 5
}

// CanTransitionTo reports whether an explicit update may move a unit from s
// to next. Only available and quarantined swap this way; issuance and the
// expiry sweep own the moves into used and expired.
func (s UnitStatus) CanTransitionTo(next UnitStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case UnitStatusAvailable:
		return next == UnitStatusQuarantined
	case UnitStatusQuarantined:
		return next == UnitStatusAvailable
	}
	return false
}

type ScreeningStatus string

const (
	ScreeningPending ScreeningStatus = "pending"
	ScreeningPassed  ScreeningStatus = "passed"
	ScreeningFailed  ScreeningStatus = "failed"
)

func ParseScreeningStatus(s string) (ScreeningStatus, bool) {
	switch st := ScreeningStatus(s); st {
	case ScreeningPending, ScreeningPassed, ScreeningFailed:
		return st, true
	}
	return "", false
}

const DefaultVolumeML = 450

type Unit struct {
	ID              int64           `db:"id" json:"-"`
	UnitID          string          `db:"unit_id" json:"unit_id"`
	SequenceNo      int             `db:"sequence_no" json:"sequence_no"`
	DonorID         uuid.UUID       `db:"donor_id" json:"donor_id"`
	BloodType       BloodType       `db:"blood_type" json:"blood_type"`
	CollectionDate  time.Time       `db:"collection_date" json:"collection_date"`
	ExpiryDate      time.Time       `db:"expiry_date" json:"expiry_date"`
	Status          UnitStatus      `db:"status" json:"status"`
	VolumeML        int             `db:"volume_ml" json:"volume_ml"`
	CollectionSite  string          `db:"collection_site" json:"collection_site"`
	StorageLocation string          `db:"storage_location" json:"storage_location"`
	Notes           string          `db:"notes" json:"notes"`
	TestResults     string          `db:"test_results" json:"test_results"`
	ScreeningStatus ScreeningStatus `db:"screening_status" json:"screening_status"`
	CreatedBy       string          `db:"created_by" json:"created_by"`
	UpdatedBy       string          `db:"updated_by" json:"updated_by"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy safe to mutate.
func (u *Unit) Clone() *Unit {
	c := *u
	return &c
}

// UnitAttributes are the optional fields supplied at creation.
type UnitAttributes struct {
	VolumeML        int
	CollectionSite  string
	StorageLocation string
	Notes           string
}

// UnitPatch carries the fields an update may change. Nil means untouched.
type UnitPatch struct {
	BloodType       *BloodType       `json:"blood_type,omitempty"`
	Status          *UnitStatus      `json:"status,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	StorageLocation *string          `json:"storage_location,omitempty"`
	TestResults     *string          `json:"test_results,omitempty"`
	ScreeningStatus *ScreeningStatus `json:"screening_status,omitempty"`
}

func (p UnitPatch) Empty() bool {
	return p.BloodType == nil && p.Status == nil && p.Notes == nil &&
		p.StorageLocation == nil && p.TestResults == nil && p.ScreeningStatus == nil
}

// Apply writes the set fields onto u.
func (p UnitPatch) Apply(u *Unit) {
	if p.BloodType != nil {
		u.BloodType = *p.BloodType
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	if p.Notes != nil {
		u.Notes = *p.Notes
	}
	if p.StorageLocation != nil {
		u.StorageLocation = *p.StorageLocation
	}
	if p.TestResults != nil {
		u.TestResults = *p.TestResults
	}
	if p.ScreeningStatus != nil {
		u.ScreeningStatus = *p.ScreeningStatus
	}
}

// Keys accepted by UnitPatchFromFields. Anything else is ignored.
var patchKeys = []string{
	"blood_type", "status", "notes", "storage_location", "test_results", "screening_status",
}

// UnitPatchFromFields builds a patch from loosely typed request fields.
// Unknown keys are dropped; recognized keys must carry strings with valid
// values.
func UnitPatchFromFields(fields map[string]json.RawMessage) (UnitPatch, error) {
	var p UnitPatch
	for _, key := range patchKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return UnitPatch{}, fmt.Errorf("%s must be a string", key)
		}
		switch key {
		case "blood_type":
			bt, ok := ParseBloodType(v)
			if !ok {
				return UnitPatch{}, fmt.Errorf("invalid blood type %q", v)
			}
			p.BloodType = &bt
		case "status":
			st, ok := ParseUnitStatus(v)
			if !ok {
				return UnitPatch{}, fmt.Errorf("invalid status %q", v)
			}
			p.Status = &st
		case "notes":
			p.Notes = &v
		case "storage_location":
			p.StorageLocation = &v
		case "test_results":
			p.TestResults = &v
		case "screening_status":
			ss, ok := ParseScreeningStatus(v)
			if !ok {
				return UnitPatch{}, fmt.Errorf("invalid screening status %q", v)
			}
			p.ScreeningStatus = &ss
		}
	}
	return p, nil
}
