// Package expiry mints unit identifiers and computes expiry dates.
package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

const (
	DefaultShelfLifeDays        = 42
	DefaultMaxCollectionAgeDays = 30

	unitIDPrefix = "PRC"
)

// Sequencer hands out per-(type, date) sequence numbers inside a
// transaction.
type Sequencer interface {
	LockMintKey(ctx context.Context, bloodType model.BloodType, collectionDate time.Time) error
	NextSequence(ctx context.Context, bloodType model.BloodType, collectionDate time.Time) (int, error)
}

// Minted is the identity assigned to a new unit.
type Minted struct {
	UnitID     string
	SequenceNo int
	ExpiryDate time.Time
}

type Policy struct {
	shelfLifeDays int
	maxAgeDays    int
	loc           *time.Location
	now           func() time.Time
}

// NewPolicy validates the shelf life once; it never changes afterwards.
func NewPolicy(shelfLifeDays, maxAgeDays int, loc *time.Location, now func() time.Time) (*Policy, error) {
	if shelfLifeDays <= 0 {
		return nil, fmt.Errorf("shelf life must be positive, got %d", shelfLifeDays)
	}
	if maxAgeDays < 0 {
		return nil, fmt.Errorf("max collection age must not be negative, got %d", maxAgeDays)
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{
		shelfLifeDays: shelfLifeDays,
		maxAgeDays:    maxAgeDays,
		loc:           loc,
		now:           now,
	}, nil
}

func (p *Policy) ShelfLifeDays() int { return p.shelfLifeDays }

// Now is the policy clock, used for row timestamps.
func (p *Policy) Now() time.Time { return p.now().UTC() }

// Today is the civil date of the clock in the inventory time zone.
func (p *Policy) Today() time.Time {
	return model.DateOf(p.now().In(p.loc))
}

func (p *Policy) ExpiryFor(collectionDate time.Time) time.Time {
	return model.DateOf(collectionDate).AddDate(0, 0, p.shelfLifeDays)
}

// ValidateCollectionDate accepts dates from today back to the maximum
// collection age, inclusive.
func (p *Policy) ValidateCollectionDate(collectionDate time.Time) error {
	if collectionDate.IsZero() {
		return apperrors.InvalidCollectionDate("collection date is required")
	}
	d := model.DateOf(collectionDate)
	today := p.Today()
	if d.After(today) {
		return apperrors.InvalidCollectionDate("collection date cannot be in the future")
	}
	if d.Before(today.AddDate(0, 0, -p.maxAgeDays)) {
		return apperrors.InvalidCollectionDate(fmt.Sprintf("collection date is more than %d days ago", p.maxAgeDays))
	}
	return nil
}

// Mint assigns the next identifier for (bloodType, collectionDate). The
// caller's transaction holds the mint lock until it ends.
func (p *Policy) Mint(ctx context.Context, seq Sequencer, bloodType model.BloodType, collectionDate time.Time) (*Minted, error) {
	if err := p.ValidateCollectionDate(collectionDate); err != nil {
		return nil, err
	}
	d := model.DateOf(collectionDate)

	if err := seq.LockMintKey(ctx, bloodType, d); err != nil {
		return nil, err
	}
	n, err := seq.NextSequence(ctx, bloodType, d)
	if err != nil {
		return nil, err
	}

	return &Minted{
		UnitID:     FormatUnitID(bloodType, d, n),
		SequenceNo: n,
		ExpiryDate: p.ExpiryFor(d),
	}, nil
}

// FormatUnitID renders PRC-<code>-<YYYYMMDD>-<seq>, e.g. PRC-OP-20240105-0003.
func FormatUnitID(bloodType model.BloodType, collectionDate time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%04d", unitIDPrefix, bloodType.Code(), collectionDate.Format("20060102"), seq)
}
