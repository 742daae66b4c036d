// Package eligibility decides whether a donor may back a new blood unit.
package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

// DonorLookup returns a donor unless it is missing or flagged synthetic.
type DonorLookup interface {
	GetEligibleDonor(ctx context.Context, id uuid.UUID) (*model.Donor, error)
}

// Check returns the donor when it may back a unit of the requested type.
// An empty requested type accepts whatever the donor is typed as. Check
// performs no writes.
func Check(ctx context.Context, lookup DonorLookup, donorID uuid.UUID, requested model.BloodType) (*model.Donor, error) {
	donor, err := lookup.GetEligibleDonor(ctx, donorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("donor", nil)
		}
		return nil, apperrors.Persistence(err)
	}

	if !donor.CanDonate() {
		return nil, apperrors.NotEligible(fmt.Sprintf("donor status is %s", donor.Status))
	}

	if requested.Known() && donor.BloodType.Known() && requested != donor.BloodType {
		return nil, apperrors.BloodTypeMismatch(string(donor.BloodType), string(requested))
	}

	return donor, nil
}

// ResolveBloodType picks the type a new unit is recorded under: the
// requested one when given, otherwise the donor's.
func ResolveBloodType(donor *model.Donor, requested model.BloodType) model.BloodType {
	if requested != "" {
		return requested
	}
	if donor.BloodType.Valid() {
		return donor.BloodType
	}
	return model.BloodTypeUnknown
}
