package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"referral-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ClinicRepository is the clinic directory: names and the mailboxes clinics send reports from.
type ClinicRepository struct {
	db *sqlx.DB
}

func NewClinicRepository(db *sqlx.DB) *ClinicRepository {
	return &ClinicRepository{db: db}
}

func (r *ClinicRepository) ResolveBySenderEmail(ctx context.Context, address string) (*models.Clinic, error) {
	query := `
		SELECT c.id, c.name
		FROM clinic_sender_emails e
		JOIN clinics c ON c.id = e.clinic_id
		WHERE e.email = lower($1)`
	return r.getOptional(ctx, query, strings.TrimSpace(address))
}

// ResolveByName tries an exact match first, then a case-insensitive one.
func (r *ClinicRepository) ResolveByName(ctx context.Context, name string) (*models.Clinic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	clinic, err := r.getOptional(ctx, `SELECT id, name FROM clinics WHERE name = $1 ORDER BY id LIMIT 1`, name)
	if err != nil || clinic != nil {
		return clinic, err
	}
	return r.getOptional(ctx, `SELECT id, name FROM clinics WHERE lower(name) = lower($1) ORDER BY id LIMIT 1`, name)
}

func (r *ClinicRepository) GetClinic(ctx context.Context, clinicID int64) (*models.Clinic, error) {
	clinic, err := r.getOptional(ctx, `SELECT id, name FROM clinics WHERE id = $1`, clinicID)
	if err != nil {
		return nil, err
	}
	if clinic == nil {
		return nil, fmt.Errorf("clinic %d: %w", clinicID, ErrNotFound)
	}
	return clinic, nil
}

func (r *ClinicRepository) AddSenderEmail(ctx context.Context, clinicID int64, address string) error {
	query := `
		INSERT INTO clinic_sender_emails (email, clinic_id)
		VALUES (lower($1), $2)
		ON CONFLICT (email) DO UPDATE SET clinic_id = EXCLUDED.clinic_id`
	if _, err := r.db.ExecContext(ctx, query, strings.TrimSpace(address), clinicID); err != nil {
		return fmt.Errorf("failed to add clinic sender email: %w", err)
	}
	slog.Info("Clinic sender email registered", "clinic_id", clinicID, "email", address)
	return nil
}

func (r *ClinicRepository) getOptional(ctx context.Context, query string, arg any) (*models.Clinic, error) {
	var clinic models.Clinic
	if err := r.db.GetContext(ctx, &clinic, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query clinic: %w", err)
	}
	return &clinic, nil
}
