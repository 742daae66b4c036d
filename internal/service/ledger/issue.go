package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/service/audit"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

type IssueResult struct {
	Unit      *model.Unit           `json:"unit"`
	Issuance  *model.IssuanceRecord `json:"issuance"`
	Remaining int                   `json:"remaining"`
}

// IssueUnit hands out the oldest available unit of the blood type. The
// candidate row stays locked until commit, so concurrent callers never
// receive the same unit.
func (s *Service) IssueUnit(ctx context.Context, id model.Identity, bloodType string, req model.IssueRequest) (result *IssueResult, err error) {
	defer s.observe(ctx, "issue", time.Now(), &err)

	if err := require(id, model.CapIssue); err != nil {
		return nil, err
	}
	bt, ok := model.ParseBloodType(bloodType)
	if !ok || !bt.Known() {
		return nil, apperrors.InvalidInput("a known ABO/Rh blood type is required for issuance")
	}
	req.RequestReference = strings.TrimSpace(req.RequestReference)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		current, err := tx.NextAvailableForUpdate(ctx, bt)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.OutOfStock(string(bt))
			}
			return apperrors.Persistence(err)
		}
		before := current.Clone()

		now := s.policy.Now()
		next := current.Clone()
		next.Status = model.UnitStatusUsed
		next.UpdatedBy = id.ActorID
		next.UpdatedAt = now
		if err := tx.UpdateUnit(ctx, next); err != nil {
			return unitErr(err)
		}

		record := &model.IssuanceRecord{
			ID:                  uuid.New(),
			UnitID:              next.UnitID,
			RequestReference:    req.RequestReference,
			IssuedBy:            id.ActorID,
			RecipientFacility:   req.RecipientFacility,
			RecipientPatientRef: req.RecipientPatientRef,
			Notes:               req.Notes,
			IssuedAt:            now,
		}
		if err := tx.InsertIssuance(ctx, record); err != nil {
			return apperrors.Persistence(err)
		}

		s.auditor.Log(ctx, tx, id, next.UnitID, model.AuditActionIssued, &audit.LogOptions{
			Before: before,
			After:  next,
			Reason: req.RequestReference,
		})
		if err := s.appendEvent(ctx, tx, model.EventUnitIssued, unitEvent{
			UnitID:  next.UnitID,
			ActorID: id.ActorID,
			Before:  before,
			After:   next,
			Extra:   record,
		}); err != nil {
			return apperrors.Wrap(err)
		}

		remaining, err := tx.CountAvailable(ctx, bt)
		if err != nil {
			return apperrors.Persistence(err)
		}

		result = &IssueResult{Unit: next, Issuance: record, Remaining: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.UnitsIssued.WithLabelValues(string(bt)).Inc()
	}

	notices := []notice{{
		kind: model.NotificationUnitIssued,
		vars: map[string]string{
			"unit_id":            result.Unit.UnitID,
			"blood_type":         string(bt),
			"request_reference":  req.RequestReference,
			"recipient_facility": req.RecipientFacility,
			"issued_by":          id.ActorName,
		},
	}}
	if result.Remaining < s.config.LowStockThreshold {
		notices = append(notices, notice{
			kind: model.NotificationLowStock,
			vars: map[string]string{
				"blood_type": string(bt),
				"remaining":  strconv.Itoa(result.Remaining),
				"threshold":  strconv.Itoa(s.config.LowStockThreshold),
			},
		})
	}
	s.afterCommit(ctx, notices...)
	return result, nil
}
