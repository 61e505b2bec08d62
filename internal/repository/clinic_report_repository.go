package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"referral-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const reportColumns = `id, referral_id, clinic_id, email_message_id, source_kind, sender_email, subject,
	patient_name, patient_birth_date, visit_date, treatment_amount_kopecks, services, clinic_name_hint,
	ai_confidence, match_confidence, status, raw_snapshot_key, source_report_count, reviewed_by, review_notes, created_at, updated_at`

type ClinicReportRepository struct {
	db *sqlx.DB
}

func NewClinicReportRepository(db *sqlx.DB) *ClinicReportRepository {
	return &ClinicReportRepository{db: db}
}

// Create inserts a report. A taken email_message_id yields ErrDuplicateReport.
func (r *ClinicReportRepository) Create(ctx context.Context, report *models.ClinicReport) error {
	now := time.Now()
	report.CreatedAt = now
	report.UpdatedAt = now
	if report.Services == nil {
		report.Services = []string{}
	}

	query := `
		INSERT INTO clinic_reports (
			referral_id, clinic_id, email_message_id, source_kind, sender_email, subject,
			patient_name, patient_birth_date, visit_date, treatment_amount_kopecks, services, clinic_name_hint,
			ai_confidence, match_confidence, status, raw_snapshot_key, source_report_count, created_at, updated_at
		) VALUES (
			:referral_id, :clinic_id, :email_message_id, :source_kind, :sender_email, :subject,
			:patient_name, :patient_birth_date, :visit_date, :treatment_amount_kopecks, :services, :clinic_name_hint,
			:ai_confidence, :match_confidence, :status, :raw_snapshot_key, :source_report_count, :created_at, :updated_at
		) RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, report)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == clinicReportsMessageIDKey {
			return ErrDuplicateReport
		}
		return fmt.Errorf("failed to create clinic report: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&report.ID); err != nil {
			return fmt.Errorf("failed to scan clinic report id: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to create clinic report: %w", err)
	}

	slog.Info("Clinic report created",
		"report_id", report.ID,
		"key", report.EmailMessageID,
		"status", report.Status,
		"referral_id", report.ReferralID)
	return nil
}

func (r *ClinicReportRepository) ExistsByMessageID(ctx context.Context, key string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM clinic_reports WHERE email_message_id = $1)`
	if err := r.db.GetContext(ctx, &exists, query, key); err != nil {
		return false, fmt.Errorf("failed to check clinic report key: %w", err)
	}
	return exists, nil
}

// SourceProgress matches the bare source id and every per-patient key derived from it.
func (r *ClinicReportRepository) SourceProgress(ctx context.Context, sourceID string) (int, int, error) {
	var progress struct {
		Stored   int `db:"stored"`
		Expected int `db:"expected"`
	}
	query := `
		SELECT COUNT(*) AS stored, COALESCE(MAX(source_report_count), 0) AS expected
		FROM clinic_reports
		WHERE email_message_id = $1 OR email_message_id LIKE $2`
	if err := r.db.GetContext(ctx, &progress, query, sourceID, escapeLike(sourceID)+"::patient-%"); err != nil {
		return 0, 0, fmt.Errorf("failed to check clinic report source: %w", err)
	}
	return progress.Stored, progress.Expected, nil
}

func (r *ClinicReportRepository) GetByID(ctx context.Context, id int64) (*models.ClinicReport, error) {
	var report models.ClinicReport
	query := `SELECT ` + reportColumns + ` FROM clinic_reports WHERE id = $1`
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("clinic report %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get clinic report: %w", err)
	}
	return &report, nil
}

// ListByStatus returns the newest reports first.
func (r *ClinicReportRepository) ListByStatus(ctx context.Context, status models.ClinicReportStatus, limit, offset int) ([]models.ClinicReport, error) {
	reports := []models.ClinicReport{}
	query := `
		SELECT ` + reportColumns + `
		FROM clinic_reports
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &reports, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list clinic reports: %w", err)
	}
	return reports, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
