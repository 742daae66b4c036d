package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/service/audit"
	"github.com/jwalitptl/bloodbank-api/internal/service/eligibility"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

const maxVolumeML = 1000

type CreateUnitInput struct {
	DonorID uuid.UUID
	// BloodType may be empty, in which case the donor's type is used.
	BloodType      string
	CollectionDate time.Time
	Attributes     model.UnitAttributes
}

func (in CreateUnitInput) validate() (model.BloodType, error) {
	if in.DonorID == uuid.Nil {
		return "", apperrors.InvalidInput("donor id is required")
	}
	var bt model.BloodType
	if strings.TrimSpace(in.BloodType) != "" {
		parsed, ok := model.ParseBloodType(in.BloodType)
		if !ok {
			return "", apperrors.InvalidInput("invalid blood type " + in.BloodType)
		}
		bt = parsed
	}
	if in.Attributes.VolumeML < 0 {
		return "", apperrors.InvalidInput("volume must not be negative")
	}
	if in.Attributes.VolumeML > maxVolumeML {
		return "", apperrors.InvalidInput(fmt.Sprintf("volume must be at most %d ml", maxVolumeML))
	}
	return bt, nil
}

// CreateUnit registers a unit collected from an eligible donor. A lost
// minting race restarts the whole transaction, up to MaxMintAttempts.
func (s *Service) CreateUnit(ctx context.Context, id model.Identity, in CreateUnitInput) (unit *model.Unit, err error) {
	defer s.observe(ctx, "create", time.Now(), &err)

	if err := require(id, model.CapCreate); err != nil {
		return nil, err
	}
	requested, err := in.validate()
	if err != nil {
		return nil, err
	}
	if err := s.policy.ValidateCollectionDate(in.CollectionDate); err != nil {
		return nil, err
	}

	var lastUnitID string
	for attempt := 1; attempt <= s.config.MaxMintAttempts; attempt++ {
		unit, err = s.createOnce(ctx, id, in, requested)
		if err == nil {
			s.afterCommit(ctx)
			return unit, nil
		}
		var dup *duplicateError
		if !errors.As(err, &dup) {
			return nil, err
		}
		lastUnitID = dup.unitID
		if s.metrics != nil {
			s.metrics.MintRetries.Inc()
		}
		s.logger.Warn("unit id collision, retrying", "unit_id", dup.unitID, "attempt", attempt)
	}
	return nil, apperrors.DuplicateUnitID(lastUnitID, nil)
}

type duplicateError struct {
	unitID string
}

func (e *duplicateError) Error() string { return "duplicate unit id " + e.unitID }

func (s *Service) createOnce(ctx context.Context, id model.Identity, in CreateUnitInput, requested model.BloodType) (*model.Unit, error) {
	var created *model.Unit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		donor, err := eligibility.Check(ctx, tx, in.DonorID, requested)
		if err != nil {
			return err
		}
		bt := eligibility.ResolveBloodType(donor, requested)

		minted, err := s.policy.Mint(ctx, tx, bt, in.CollectionDate)
		if err != nil {
			return apperrors.Wrap(err)
		}

		volume := in.Attributes.VolumeML
		if volume == 0 {
			volume = model.DefaultVolumeML
		}
		now := s.policy.Now()
		unit := &model.Unit{
			UnitID:          minted.UnitID,
			SequenceNo:      minted.SequenceNo,
			DonorID:         donor.ID,
			BloodType:       bt,
			CollectionDate:  model.DateOf(in.CollectionDate),
			ExpiryDate:      minted.ExpiryDate,
			Status:          model.UnitStatusAvailable,
			VolumeML:        volume,
			CollectionSite:  in.Attributes.CollectionSite,
			StorageLocation: in.Attributes.StorageLocation,
			Notes:           in.Attributes.Notes,
			ScreeningStatus: model.ScreeningPending,
			CreatedBy:       id.ActorID,
			UpdatedBy:       id.ActorID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := tx.InsertUnit(ctx, unit); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return &duplicateError{unitID: unit.UnitID}
			}
			return apperrors.Persistence(err)
		}

		s.auditor.Log(ctx, tx, id, unit.UnitID, model.AuditActionCreated, &audit.LogOptions{After: unit})

		if err := s.appendEvent(ctx, tx, model.EventUnitCreated, unitEvent{
			UnitID:  unit.UnitID,
			ActorID: id.ActorID,
			After:   unit,
		}); err != nil {
			return apperrors.Wrap(err)
		}

		created = unit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
