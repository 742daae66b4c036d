package ledger

import (
	"context"
	"time"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/service/audit"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

// UpdateUnit applies a corrective patch. Blood type may only be corrected
// on units typed Unknown, and status may only move between available and
// quarantined.
func (s *Service) UpdateUnit(ctx context.Context, id model.Identity, unitID string, patch model.UnitPatch, reason string) (unit *model.Unit, err error) {
	defer s.observe(ctx, "update", time.Now(), &err)

	if err := require(id, model.CapEdit); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, apperrors.NoFieldsToUpdate()
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	var before *model.Unit
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.GetUnitForUpdate(ctx, unitID)
		if err != nil {
			return unitErr(err)
		}
		before = current.Clone()

		next := current.Clone()
		patch.Apply(next)
		if err := checkCorrection(before, next); err != nil {
			return err
		}
		if next.ScreeningStatus == model.ScreeningFailed && next.Status == model.UnitStatusAvailable {
			next.Status = model.UnitStatusQuarantined
		}
		next.UpdatedBy = id.ActorID
		next.UpdatedAt = s.policy.Now()

		if err := tx.UpdateUnit(ctx, next); err != nil {
			return unitErr(err)
		}

		s.auditor.Log(ctx, tx, id, unitID, updateAction(patch), &audit.LogOptions{
			Before: before,
			After:  next,
			Reason: reason,
		})
		if err := s.appendEvent(ctx, tx, model.EventUnitUpdated, unitEvent{
			UnitID:  unitID,
			ActorID: id.ActorID,
			Before:  before,
			After:   next,
		}); err != nil {
			return apperrors.Wrap(err)
		}

		unit = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, quarantineNotice(before, unit, reason)...)
	return unit, nil
}

func validatePatch(p model.UnitPatch) error {
	if p.BloodType != nil && !p.BloodType.Valid() {
		return apperrors.InvalidInput("invalid blood type " + string(*p.BloodType))
	}
	if p.Status != nil {
		if _, ok := model.ParseUnitStatus(string(*p.Status)); !ok {
			return apperrors.InvalidInput("invalid status " + string(*p.Status))
		}
	}
	if p.ScreeningStatus != nil {
		if _, ok := model.ParseScreeningStatus(string(*p.ScreeningStatus)); !ok {
			return apperrors.InvalidInput("invalid screening status " + string(*p.ScreeningStatus))
		}
	}
	return nil
}

func checkCorrection(before, next *model.Unit) error {
	if next.BloodType != before.BloodType {
		if before.BloodType != model.BloodTypeUnknown {
			return apperrors.InvalidTransition("blood type can only be corrected on units typed Unknown")
		}
		if !next.BloodType.Known() {
			return apperrors.InvalidInput("corrected blood type must be a known ABO/Rh type")
		}
	}
	if !before.Status.CanTransitionTo(next.Status) {
		return apperrors.InvalidTransition("cannot change status from " + string(before.Status) + " to " + string(next.Status))
	}
	return nil
}

func updateAction(p model.UnitPatch) model.AuditAction {
	onlyType := p.BloodType != nil && p.Status == nil && p.Notes == nil &&
		p.StorageLocation == nil && p.TestResults == nil && p.ScreeningStatus == nil
	onlyStatus := p.Status != nil && p.BloodType == nil && p.Notes == nil &&
		p.StorageLocation == nil && p.TestResults == nil && p.ScreeningStatus == nil
	switch {
	case onlyType:
		return model.AuditActionBloodTypeUpdated
	case onlyStatus:
		return model.AuditActionStatusUpdated
	default:
		return model.AuditActionUpdated
	}
}

func quarantineNotice(before, after *model.Unit, reason string) []notice {
	if before == nil || after == nil ||
		before.Status == model.UnitStatusQuarantined || after.Status != model.UnitStatusQuarantined {
		return nil
	}
	return []notice{{
		kind: model.NotificationUnitQuarantined,
		vars: map[string]string{
			"unit_id":    after.UnitID,
			"blood_type": string(after.BloodType),
			"screening":  string(after.ScreeningStatus),
			"reason":     reason,
		},
	}}
}

// UpdateTestResults records screening results. A failed screening
// quarantines the unit whatever its status, unless the unit has already
// left inventory. A pass releases a unit that a failed screening had
// quarantined.
func (s *Service) UpdateTestResults(ctx context.Context, id model.Identity, unitID, results, screening string) (unit *model.Unit, err error) {
	defer s.observe(ctx, "test_results", time.Now(), &err)

	if err := require(id, model.CapUpdateTestResults); err != nil {
		return nil, err
	}
	status, ok := model.ParseScreeningStatus(screening)
	if !ok {
		return nil, apperrors.InvalidInput("invalid screening status " + screening)
	}

	var before *model.Unit
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.GetUnitForUpdate(ctx, unitID)
		if err != nil {
			return unitErr(err)
		}
		before = current.Clone()

		next := current.Clone()
		next.TestResults = results
		next.ScreeningStatus = status
		if !next.Status.Terminal() {
			switch {
			case status == model.ScreeningFailed:
				next.Status = model.UnitStatusQuarantined
			case status == model.ScreeningPassed &&
				before.Status == model.UnitStatusQuarantined &&
				before.ScreeningStatus == model.ScreeningFailed:
				next.Status = model.UnitStatusAvailable
			}
		}
		next.UpdatedBy = id.ActorID
		next.UpdatedAt = s.policy.Now()

		if err := tx.UpdateUnit(ctx, next); err != nil {
			return unitErr(err)
		}

		s.auditor.Log(ctx, tx, id, unitID, model.AuditActionTestResultsUpdated, &audit.LogOptions{
			Before: before,
			After:  next,
		})
		if err := s.appendEvent(ctx, tx, model.EventUnitTestResultsUpdated, unitEvent{
			UnitID:  unitID,
			ActorID: id.ActorID,
			Before:  before,
			After:   next,
		}); err != nil {
			return apperrors.Wrap(err)
		}

		unit = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, quarantineNotice(before, unit, "screening failed")...)
	return unit, nil
}

// DeleteUnit audits the full pre-image and then removes the row.
func (s *Service) DeleteUnit(ctx context.Context, id model.Identity, unitID, reason string) (err error) {
	defer s.observe(ctx, "delete", time.Now(), &err)

	if err := require(id, model.CapDelete); err != nil {
		return err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.GetUnitForUpdate(ctx, unitID)
		if err != nil {
			return unitErr(err)
		}

		s.auditor.Log(ctx, tx, id, unitID, model.AuditActionUnitDeleted, &audit.LogOptions{
			Before: current,
			Reason: reason,
		})

		if err := tx.DeleteUnit(ctx, unitID); err != nil {
			return unitErr(err)
		}
		return apperrors.Wrap(s.appendEvent(ctx, tx, model.EventUnitDeleted, unitEvent{
			UnitID:  unitID,
			ActorID: id.ActorID,
			Before:  current,
			Extra:   map[string]string{"reason": reason},
		}))
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx)
	return nil
}
