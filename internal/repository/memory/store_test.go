package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func seedDonor(t *testing.T, s *Store, synthetic bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.CreateDonor(context.Background(), &model.Donor{
		ID:            id,
		ReferenceCode: id.String()[:8],
		FirstName:     "Jane",
		LastName:      "Doe",
		BloodType:     model.BloodTypeAPos,
		Status:        model.DonorStatusApproved,
		IsSynthetic:   synthetic,
	}))
	return id
}

func insert(t *testing.T, s *Store, donor uuid.UUID, unitID string, collected time.Time, status model.UnitStatus) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		return tx.InsertUnit(ctx, &model.Unit{
			UnitID:         unitID,
			DonorID:        donor,
			BloodType:      model.BloodTypeAPos,
			CollectionDate: collected,
			ExpiryDate:     collected.AddDate(0, 0, 42),
			Status:         status,
		})
	}))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	donor := seedDonor(t, s, false)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		require.NoError(t, tx.InsertUnit(ctx, &model.Unit{UnitID: "U-1", DonorID: donor, CollectionDate: day(1)}))
		require.NoError(t, tx.AppendAudit(ctx, &model.AuditEntry{UnitID: "U-1"}, nil))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetUnit(context.Background(), "U-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	entries, err := s.ListAudit(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNextSequence_PerTypeAndDate(t *testing.T) {
	s := NewStore()
	donor := seedDonor(t, s, false)
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		for _, u := range []*model.Unit{
			{UnitID: "a", DonorID: donor, BloodType: model.BloodTypeAPos, CollectionDate: day(1), SequenceNo: 1},
			{UnitID: "b", DonorID: donor, BloodType: model.BloodTypeAPos, CollectionDate: day(1), SequenceNo: 2},
			{UnitID: "c", DonorID: donor, BloodType: model.BloodTypeONeg, CollectionDate: day(1), SequenceNo: 1},
		} {
			if err := tx.InsertUnit(ctx, u); err != nil {
				return err
			}
		}

		next, err := tx.NextSequence(ctx, model.BloodTypeAPos, day(1).Add(15*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, next)

		next, err = tx.NextSequence(ctx, model.BloodTypeAPos, day(2))
		require.NoError(t, err)
		assert.Equal(t, 1, next)

		assert.ErrorIs(t, tx.InsertUnit(ctx, &model.Unit{UnitID: "a"}), repository.ErrDuplicate)
		return nil
	}))
}

func TestNextSequence_SurvivesDelete(t *testing.T) {
	s := NewStore()
	donor := seedDonor(t, s, false)
	ctx := context.Background()

	mint := func() int {
		var seq int
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			next, err := tx.NextSequence(ctx, model.BloodTypeAPos, day(3))
			if err != nil {
				return err
			}
			seq = next
			return tx.InsertUnit(ctx, &model.Unit{
				UnitID: fmt.Sprintf("u-%d", next), DonorID: donor,
				BloodType: model.BloodTypeAPos, CollectionDate: day(3), SequenceNo: next,
			})
		}))
		return seq
	}

	assert.Equal(t, 1, mint())
	assert.Equal(t, 2, mint())
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		return tx.DeleteUnit(ctx, "u-2")
	}))
	assert.Equal(t, 3, mint())

	// A rolled back mint does not consume a number.
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		_, err := tx.NextSequence(ctx, model.BloodTypeAPos, day(3))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, mint())
}

func TestNextAvailableForUpdate_FIFO(t *testing.T) {
	s := NewStore()
	donor := seedDonor(t, s, false)
	insert(t, s, donor, "late", day(5), model.UnitStatusAvailable)
	insert(t, s, donor, "held", day(1), model.UnitStatusQuarantined)
	insert(t, s, donor, "first-in", day(3), model.UnitStatusAvailable)
	insert(t, s, donor, "second-in", day(3), model.UnitStatusAvailable)

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		u, err := tx.NextAvailableForUpdate(ctx, model.BloodTypeAPos)
		require.NoError(t, err)
		assert.Equal(t, "first-in", u.UnitID)

		_, err = tx.NextAvailableForUpdate(ctx, model.BloodTypeBNeg)
		assert.ErrorIs(t, err, repository.ErrNotFound)

		n, err := tx.CountAvailable(ctx, model.BloodTypeAPos)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return nil
	}))
}

func TestListExpirable(t *testing.T) {
	s := NewStore()
	donor := seedDonor(t, s, false)
	insert(t, s, donor, "old", day(1), model.UnitStatusAvailable)
	insert(t, s, donor, "held", day(2), model.UnitStatusQuarantined)
	insert(t, s, donor, "used", day(1), model.UnitStatusUsed)
	insert(t, s, donor, "fresh", day(10), model.UnitStatusAvailable)

	// day(1)+42 expires on Feb 12; today Feb 14 sees the first two only.
	today := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		units, err := tx.ListExpirableForUpdate(ctx, today)
		require.NoError(t, err)
		ids := make([]string, 0, len(units))
		for _, u := range units {
			ids = append(ids, u.UnitID)
		}
		assert.Equal(t, []string{"old", "held"}, ids)
		return nil
	}))
}

func TestSyntheticDonors(t *testing.T) {
	s := NewStore()
	genuine := seedDonor(t, s, false)
	synthetic := seedDonor(t, s, true)
	insert(t, s, genuine, "genuine", day(1), model.UnitStatusAvailable)
	insert(t, s, synthetic, "synthetic", day(1), model.UnitStatusAvailable)

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		_, err := tx.GetEligibleDonor(ctx, synthetic)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	}))

	n, err := s.CountUnits(context.Background(), model.UnitFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.CountUnits(context.Background(), model.UnitFilters{IncludeSynthetic: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	counts, err := s.StatusCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 1, counts[0].Count)
}

func TestListUnits_DefaultOrderAndPaging(t *testing.T) {
	s := NewStore()
	donor := seedDonor(t, s, false)
	insert(t, s, donor, "used", day(1), model.UnitStatusUsed)
	insert(t, s, donor, "avail-late", day(4), model.UnitStatusAvailable)
	insert(t, s, donor, "avail-early", day(2), model.UnitStatusAvailable)

	rows, err := s.ListUnits(context.Background(), model.UnitQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "avail-early", rows[0].UnitID)
	assert.Equal(t, "avail-late", rows[1].UnitID)
	assert.Equal(t, "Jane Doe", rows[0].DonorName)

	rows, err = s.ListUnits(context.Background(), model.UnitQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "used", rows[0].UnitID)

	rows, err = s.ListUnits(context.Background(), model.UnitQuery{Page: 5, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListAudit_NewestFirst(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		for _, e := range []*model.AuditEntry{
			{UnitID: "A", Action: model.AuditActionCreated},
			{UnitID: "B", Action: model.AuditActionCreated},
			{UnitID: "A", Action: model.AuditActionIssued},
		} {
			if err := tx.AppendAudit(ctx, e, &model.AdminActivity{EntityID: e.UnitID}); err != nil {
				return err
			}
		}
		return nil
	}))

	entries, err := s.ListAudit(context.Background(), model.AuditFilter{UnitID: "A"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditActionIssued, entries[0].Action)
	assert.Equal(t, model.AuditActionCreated, entries[1].Action)

	entries, err = s.ListAudit(context.Background(), model.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].UnitID)

	assert.Len(t, s.AdminActivity(), 3)
}

func TestFailAudit(t *testing.T) {
	s := NewStore()
	s.FailAudit(true)
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		assert.ErrorIs(t, tx.AppendAudit(ctx, &model.AuditEntry{UnitID: "A"}, nil), ErrAuditUnavailable)
		return nil
	}))
}

func TestClaimPending(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx repository.LedgerTx) error {
		for _, typ := range []string{model.EventUnitCreated, model.EventUnitIssued} {
			if err := tx.InsertOutboxEvent(ctx, &model.OutboxEvent{ID: uuid.New(), EventType: typ, Status: model.OutboxStatusPending}); err != nil {
				return err
			}
		}
		return nil
	}))

	failIssued := func(_ context.Context, e *model.OutboxEvent) error {
		if e.EventType == model.EventUnitIssued {
			return errors.New("broker down")
		}
		return nil
	}

	processed, failed, err := s.ClaimPending(context.Background(), 10, 2, failIssued)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)

	processed, failed, err = s.ClaimPending(context.Background(), 10, 2, failIssued)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, failed)

	events := s.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, model.OutboxStatusProcessed, events[0].Status)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.Equal(t, model.OutboxStatusFailed, events[1].Status)
	assert.Equal(t, 2, events[1].RetryCount)
	require.NotNil(t, events[1].ErrorMessage)
	assert.Equal(t, "broker down", *events[1].ErrorMessage)

	// Failed events are never claimed again.
	processed, failed, err = s.ClaimPending(context.Background(), 10, 2, failIssued)
	require.NoError(t, err)
	assert.Zero(t, processed+failed)
}
