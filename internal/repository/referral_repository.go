package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"referral-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// closedReferralStatuses can no longer receive a clinic report.
var closedReferralStatuses = []string{
	string(models.ReferralVisited),
	string(models.ReferralPaid),
	string(models.ReferralCancelled),
	string(models.ReferralDuplicate),
}

type ReferralRepository struct {
	db *sqlx.DB
}

func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// OpenReferralsForClinic returns open referrals sent to the clinic, plus legacy referrals that only
// name the clinic in free text.
func (r *ReferralRepository) OpenReferralsForClinic(ctx context.Context, clinicID *int64, clinicNameFallback string) ([]models.Referral, error) {
	referrals := []models.Referral{}
	query := `
		SELECT ` + referralColumns + `
		FROM referrals
		WHERE status <> ALL($1)
		AND (
			($2::bigint IS NOT NULL AND clinic_id = $2::bigint)
			OR ($3 <> '' AND clinic_id IS NULL AND lower(clinic_name) = lower($3))
		)
		ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &referrals, query, pq.Array(closedReferralStatuses), clinicID, clinicNameFallback); err != nil {
		return nil, fmt.Errorf("failed to load open referrals: %w", err)
	}
	return referrals, nil
}

func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*models.Referral, error) {
	var referral models.Referral
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`
	if err := r.db.GetContext(ctx, &referral, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("referral %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return &referral, nil
}
