package model

import (
	"strings"
	"time"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100

	// MaskedValue replaces donor PII for callers without view_donor_info.
	MaskedValue = "***"
)

// Sort fields accepted by the unit report. Anything else falls back to
// created_at.
const (
	SortCreatedAt      = "created_at"
	SortUnitID         = "unit_id"
	SortBloodType      = "blood_type"
	SortCollectionDate = "collection_date"
	SortExpiryDate     = "expiry_date"
	SortStatus         = "status"
)

var sortFields = map[string]bool{
	SortCreatedAt:      true,
	SortUnitID:         true,
	SortBloodType:      true,
	SortCollectionDate: true,
	SortExpiryDate:     true,
	SortStatus:         true,
}

type UnitFilters struct {
	BloodType        BloodType  `json:"blood_type,omitempty"`
	Status           UnitStatus `json:"status,omitempty"`
	CollectedFrom    *time.Time `json:"collected_from,omitempty"`
	CollectedTo      *time.Time `json:"collected_to,omitempty"`
	Search           string     `json:"search,omitempty"`
	IncludeSynthetic bool       `json:"include_synthetic"`
}

type UnitQuery struct {
	Filters   UnitFilters
	Page      int
	PageSize  int
	SortField string
	SortOrder string
}

// Normalize clamps paging and resolves the sort. An empty sort field keeps
// the default status-priority ordering; an unknown one becomes created_at.
func (q UnitQuery) Normalize() UnitQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.SortField = strings.ToLower(strings.TrimSpace(q.SortField))
	if q.SortField != "" && !sortFields[q.SortField] {
		q.SortField = SortCreatedAt
	}
	if strings.EqualFold(q.SortOrder, "asc") {
		q.SortOrder = "ASC"
	} else {
		q.SortOrder = "DESC"
	}
	q.Filters.Search = strings.TrimSpace(q.Filters.Search)
	return q
}

func (q UnitQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// UnitRow is a unit joined with its donor.
type UnitRow struct {
	Unit
	DonorReference string `db:"donor_reference" json:"donor_reference"`
	DonorName      string `db:"donor_name" json:"donor_name"`
	DonorEmail     string `db:"donor_email" json:"donor_email"`
	DonorPhone     string `db:"donor_phone" json:"donor_phone"`
	DonorSynthetic bool   `db:"donor_is_synthetic" json:"donor_is_synthetic"`
}

// MaskPII hides donor contact details.
func (r *UnitRow) MaskPII() {
	r.DonorName = MaskedValue
	r.DonorEmail = MaskedValue
	r.DonorPhone = MaskedValue
}

// UnitDetail is the single-unit view with its issuance history.
type UnitDetail struct {
	*UnitRow
	Issuances []*IssuanceRecord `json:"issuances"`
}

type UnitPage struct {
	Rows     []*UnitRow `json:"rows"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type StatusCounts struct {
	Available   int `json:"available"`
	Quarantined int `json:"quarantined"`
	Used        int `json:"used"`
	Expired     int `json:"expired"`
}

func (c *StatusCounts) Add(status UnitStatus, n int) {
	switch status {
	case UnitStatusAvailable:
		c.Available += n
	case UnitStatusQuarantined:
		c.Quarantined += n
	case UnitStatusUsed:
		c.Used += n
	case UnitStatusExpired:
		c.Expired += n
	}
}

type InventorySummary struct {
	ByBloodType  map[BloodType]*StatusCounts `json:"by_blood_type"`
	ExpiringSoon int                         `json:"expiring_soon"`
	GeneratedAt  time.Time                   `json:"generated_at"`
}

// StatusCount is one GROUP BY row of the summary query.
type StatusCount struct {
	BloodType BloodType  `db:"blood_type"`
	Status    UnitStatus `db:"status"`
	Count     int        `db:"count"`
}
