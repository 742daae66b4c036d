package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/service/audit"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

// maxListedUnits bounds the unit ids quoted in the expiry notice.
const maxListedUnits = 20

// SweepExpired expires every available or quarantined unit whose expiry
// date is before today. Running it again the same day changes nothing.
func (s *Service) SweepExpired(ctx context.Context, id model.Identity) (count int, err error) {
	defer s.observe(ctx, "sweep", time.Now(), &err)

	if err := require(id, model.CapSweep); err != nil {
		return 0, err
	}

	today := s.policy.Today()
	var expired []string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		units, err := tx.ListExpirableForUpdate(ctx, today)
		if err != nil {
			return apperrors.Persistence(err)
		}

		now := s.policy.Now()
		for _, current := range units {
			before := current.Clone()
			next := current.Clone()
			next.Status = model.UnitStatusExpired
			next.UpdatedBy = id.ActorID
			next.UpdatedAt = now
			if err := tx.UpdateUnit(ctx, next); err != nil {
				return unitErr(err)
			}

			s.auditor.Log(ctx, tx, id, next.UnitID, model.AuditActionStatusUpdated, &audit.LogOptions{
				Before: before,
				After:  next,
				Reason: "shelf life exceeded on " + next.ExpiryDate.Format(model.DateLayout),
			})
			if err := s.appendEvent(ctx, tx, model.EventUnitExpired, unitEvent{
				UnitID:  next.UnitID,
				ActorID: id.ActorID,
				Before:  before,
				After:   next,
			}); err != nil {
				return apperrors.Wrap(err)
			}
			expired = append(expired, next.UnitID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(expired) == 0 {
		return 0, nil
	}
	if s.metrics != nil {
		s.metrics.UnitsExpired.Add(float64(len(expired)))
	}

	listed := expired
	if len(listed) > maxListedUnits {
		listed = listed[:maxListedUnits]
	}
	s.afterCommit(ctx, notice{
		kind: model.NotificationUnitsExpired,
		vars: map[string]string{
			"count":    strconv.Itoa(len(expired)),
			"unit_ids": strings.Join(listed, ", "),
			"date":     today.Format(model.DateLayout),
		},
	})
	return len(expired), nil
}
