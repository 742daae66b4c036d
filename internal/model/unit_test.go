package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloodTypeCode(t *testing.T) {
	tests := map[BloodType]string{
		BloodTypeAPos:    "AP",
		BloodTypeANeg:    "AN",
		BloodTypeABPos:   "ABP",
		BloodTypeABNeg:   "ABN",
		BloodTypeOPos:    "OP",
		BloodTypeONeg:    "ON",
		BloodTypeUnknown: "UNK",
		BloodType("C+"):  "UNK",
	}
	for bt, want := range tests {
		assert.Equal(t, want, bt.Code(), "code for %q", bt)
	}
}

func TestParseBloodType(t *testing.T) {
	bt, ok := ParseBloodType(" ab- ")
	require.True(t, ok)
	assert.Equal(t, BloodTypeABNeg, bt)

	bt, ok = ParseBloodType("unknown")
	require.True(t, ok)
	assert.Equal(t, BloodTypeUnknown, bt)
	assert.False(t, bt.Known())

	_, ok = ParseBloodType("O")
	assert.False(t, ok)
}

func TestUnitStatusTransitions(t *testing.T) {
	allowed := [][2]UnitStatus{
		{UnitStatusAvailable, UnitStatusQuarantined},
		{UnitStatusQuarantined, UnitStatusAvailable},
		{UnitStatusUsed, UnitStatusUsed},
	}
	for _, tr := range allowed {
		assert.True(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]UnitStatus{
		{UnitStatusAvailable, UnitStatusUsed},
		{UnitStatusAvailable, UnitStatusExpired},
		{UnitStatusUsed, UnitStatusAvailable},
		{UnitStatusExpired, UnitStatusQuarantined},
	}
	for _, tr := range denied {
		assert.False(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.True(t, UnitStatusUsed.Terminal())
	assert.True(t, UnitStatusExpired.Terminal())
	assert.False(t, UnitStatusQuarantined.Terminal())
}

func TestUnitPatchFromFields(t *testing.T) {
	fields := map[string]json.RawMessage{
		"blood_type":       json.RawMessage(`"o-"`),
		"notes":            json.RawMessage(`"moved to fridge 2"`),
		"screening_status": json.RawMessage(`"failed"`),
		"donor_id":         json.RawMessage(`"ignored"`),
	}
	p, err := UnitPatchFromFields(fields)
	require.NoError(t, err)
	require.NotNil(t, p.BloodType)
	assert.Equal(t, BloodTypeONeg, *p.BloodType)
	assert.Equal(t, "moved to fridge 2", *p.Notes)
	assert.Equal(t, ScreeningFailed, *p.ScreeningStatus)
	assert.Nil(t, p.Status)
	assert.Nil(t, p.StorageLocation)

	u := &Unit{BloodType: BloodTypeUnknown, Notes: "old", StorageLocation: "A1"}
	p.Apply(u)
	assert.Equal(t, BloodTypeONeg, u.BloodType)
	assert.Equal(t, "moved to fridge 2", u.Notes)
	assert.Equal(t, "A1", u.StorageLocation)

	empty, err := UnitPatchFromFields(map[string]json.RawMessage{"collection_date": json.RawMessage(`"2024-01-01"`)})
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	_, err = UnitPatchFromFields(map[string]json.RawMessage{"status": json.RawMessage(`"destroyed"`)})
	assert.Error(t, err)

	_, err = UnitPatchFromFields(map[string]json.RawMessage{"notes": json.RawMessage(`42`)})
	assert.EqualError(t, err, "notes must be a string")
}

func TestUnitQueryNormalize(t *testing.T) {
	q := UnitQuery{Page: 0, PageSize: 1000, SortField: " Expiry_Date ", SortOrder: "asc"}.Normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, MaxPageSize, q.PageSize)
	assert.Equal(t, SortExpiryDate, q.SortField)
	assert.Equal(t, "ASC", q.SortOrder)

	q = UnitQuery{Page: 3, SortField: "donor_email; drop table"}.Normalize()
	assert.Equal(t, DefaultPageSize, q.PageSize)
	assert.Equal(t, SortCreatedAt, q.SortField)
	assert.Equal(t, "DESC", q.SortOrder)
	assert.Equal(t, 2*DefaultPageSize, q.Offset())

	q = UnitQuery{}.Normalize()
	assert.Empty(t, q.SortField)
}

func TestAuditFilterNormalize(t *testing.T) {
	assert.Equal(t, defaultAuditLimit, AuditFilter{}.Normalize().Limit)
	assert.Equal(t, maxAuditLimit, AuditFilter{Limit: 10_000}.Normalize().Limit)
	assert.Equal(t, 7, AuditFilter{Limit: 7}.Normalize().Limit)
}

func TestIdentityCan(t *testing.T) {
	roles := DefaultRoleCapabilities()
	viewer := Identity{Capabilities: roles["viewer"]}
	assert.True(t, viewer.Can(CapView))
	assert.False(t, viewer.Can(CapIssue))

	tech := Identity{Capabilities: roles["technician"]}
	assert.True(t, tech.Can(CapUpdateTestResults))
	assert.False(t, tech.Can(CapDelete))

	sys := SystemIdentity("expiry-sweeper")
	assert.True(t, sys.Can(CapSweep))
	assert.False(t, sys.Can(CapCreate))
}

func TestMaskPII(t *testing.T) {
	row := &UnitRow{DonorName: "Jane Doe", DonorEmail: "jane@x.com", DonorPhone: "555", DonorReference: "DNR-1"}
	row.MaskPII()
	assert.Equal(t, MaskedValue, row.DonorName)
	assert.Equal(t, MaskedValue, row.DonorEmail)
	assert.Equal(t, MaskedValue, row.DonorPhone)
	assert.Equal(t, "DNR-1", row.DonorReference)
}
