package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
)

type donorRepository struct {
	BaseRepository
}

func NewDonorRepository(base BaseRepository) repository.DonorRepository {
	return &donorRepository{base}
}

func (r *donorRepository) CreateDonor(ctx context.Context, d *model.Donor) error {
	query := `
		INSERT INTO donors (
			id, reference_code, first_name, last_name, email, phone,
			blood_type, status, is_synthetic, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.ReferenceCode,
		d.FirstName,
		d.LastName,
		d.Email,
		d.Phone,
		d.BloodType,
		d.Status,
		d.IsSynthetic,
		d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("failed to create donor: %w", err)
	}
	return nil
}

func (r *donorRepository) GetDonor(ctx context.Context, id uuid.UUID) (*model.Donor, error) {
	query := `
		SELECT id, reference_code, first_name, last_name, email, phone,
			blood_type, status, is_synthetic, created_at
		FROM donors
		WHERE id = $1
	`
	var d model.Donor
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get donor: %w", err)
	}
	return &d, nil
}
