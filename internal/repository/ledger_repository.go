package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"referral-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// LedgerTx is the set of statements the ledger runs inside one transaction.
// Methods named Lock* or *ForUpdate take row locks that are held until commit.
type LedgerTx interface {
	GetAgent(ctx context.Context, agentID int64) (*models.Agent, error)
	LockAgent(ctx context.Context, agentID int64) (*models.Agent, error)
	AddEarnings(ctx context.Context, agentID int64, deltaKopecks int64) (int64, error)
	TransferBonus(ctx context.Context, agentID int64) (int64, error)
	UpdateAgentRequisites(ctx context.Context, agentID int64, update models.AgentRequisitesUpdate) error

	PaymentSums(ctx context.Context, agentID int64) (models.PaymentSums, error)
	CountInFlightPayments(ctx context.Context, agentID int64, excludePaymentID int64) (int, error)
	InsertPayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
	GetPaymentForUpdate(ctx context.Context, paymentID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, payment *models.Payment) error

	GetReferral(ctx context.Context, referralID int64) (*models.Referral, error)
	LockReferral(ctx context.Context, referralID int64) (*models.Referral, error)
	CountPaidReferrals(ctx context.Context, agentID int64) (int, error)
	MonthReferralsForUpdate(ctx context.Context, agentID int64, month string) ([]models.Referral, error)
	SetReferralCommission(ctx context.Context, referralID int64, commissionKopecks int64) error
	ApplyReferralMutation(ctx context.Context, referralID int64, mutation models.ReferralMutation) error

	GetReportForUpdate(ctx context.Context, reportID int64) (*models.ClinicReport, error)
	UpdateReportReview(ctx context.Context, report *models.ClinicReport) error
}

type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// RunInTx runs fn in a READ COMMITTED transaction, so every statement issued after a row lock
// sees rows committed by the transaction that held it before.
// fn's error rolls the transaction back and is returned unchanged.
func (r *LedgerRepository) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		slog.Error("Failed to begin ledger transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Failed to rollback ledger transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sqlx.Tx
}

const agentColumns = `id, user_id, full_name, phone, email, total_earnings_kopecks, bonus_points_kopecks,
	excluded_clinic_ids, is_self_employed, bank_name, bank_account, bank_bic, created_at, updated_at`

const referralColumns = `id, agent_id, patient_full_name, patient_birth_date, clinic_id, clinic_name,
	scheduled_visit_date, status, treatment_amount_kopecks, commission_amount_kopecks, treatment_month,
	created_at, updated_at`

const paymentColumns = `id, agent_id, amount_kopecks, gross_amount_kopecks, net_amount_kopecks,
	tax_amount_kopecks, social_contributions_kopecks, status, is_self_employed_snapshot, failure_reason,
	created_at, updated_at, completed_at`

// ============================================================================
// AGENTS
// ============================================================================

func (l *ledgerTx) GetAgent(ctx context.Context, agentID int64) (*models.Agent, error) {
	var agent models.Agent
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	if err := l.tx.GetContext(ctx, &agent, query, agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %d: %w", agentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

func (l *ledgerTx) LockAgent(ctx context.Context, agentID int64) (*models.Agent, error) {
	var agent models.Agent
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1 FOR UPDATE`
	if err := l.tx.GetContext(ctx, &agent, query, agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %d: %w", agentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock agent: %w", err)
	}
	return &agent, nil
}

// AddEarnings adds delta to the agent's earnings, clamping the result at zero, and returns the new total.
func (l *ledgerTx) AddEarnings(ctx context.Context, agentID int64, deltaKopecks int64) (int64, error) {
	var total int64
	query := `
		UPDATE agents
		SET total_earnings_kopecks = GREATEST(0, total_earnings_kopecks + $2), updated_at = NOW()
		WHERE id = $1
		RETURNING total_earnings_kopecks`
	if err := l.tx.GetContext(ctx, &total, query, agentID, deltaKopecks); err != nil {
		return 0, fmt.Errorf("failed to add earnings: %w", err)
	}
	return total, nil
}

// TransferBonus moves the whole bonus balance into earnings and returns the amount moved.
func (l *ledgerTx) TransferBonus(ctx context.Context, agentID int64) (int64, error) {
	var transferred int64
	query := `
		UPDATE agents a
		SET total_earnings_kopecks = a.total_earnings_kopecks + old.bonus_points_kopecks,
			bonus_points_kopecks = 0,
			updated_at = NOW()
		FROM (SELECT id, bonus_points_kopecks FROM agents WHERE id = $1) old
		WHERE a.id = old.id
		RETURNING old.bonus_points_kopecks`
	if err := l.tx.GetContext(ctx, &transferred, query, agentID); err != nil {
		return 0, fmt.Errorf("failed to transfer bonus: %w", err)
	}
	return transferred, nil
}

func (l *ledgerTx) UpdateAgentRequisites(ctx context.Context, agentID int64, update models.AgentRequisitesUpdate) error {
	query := `
		UPDATE agents
		SET bank_name = $2, bank_account = $3, bank_bic = $4, is_self_employed = $5, updated_at = NOW()
		WHERE id = $1`
	res, err := l.tx.ExecContext(ctx, query, agentID, update.BankName, update.BankAccount, update.BankBIC, update.IsSelfEmployed)
	if err != nil {
		return fmt.Errorf("failed to update agent requisites: %w", err)
	}
	return expectOneRow(res, "agent", agentID)
}

// ============================================================================
// PAYMENTS
// ============================================================================

func (l *ledgerTx) PaymentSums(ctx context.Context, agentID int64) (models.PaymentSums, error) {
	var sums models.PaymentSums
	query := `
		SELECT
			COALESCE(SUM(amount_kopecks) FILTER (WHERE status = 'completed'), 0) AS completed_kopecks,
			COALESCE(SUM(amount_kopecks) FILTER (WHERE status = ANY($2)), 0) AS pending_kopecks
		FROM payments
		WHERE agent_id = $1`
	if err := l.tx.GetContext(ctx, &sums, query, agentID, pq.Array(statusStrings(models.NonTerminalPaymentStatuses))); err != nil {
		return models.PaymentSums{}, fmt.Errorf("failed to sum payments: %w", err)
	}
	return sums, nil
}

func (l *ledgerTx) CountInFlightPayments(ctx context.Context, agentID int64, excludePaymentID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM payments WHERE agent_id = $1 AND status = ANY($2) AND id <> $3`
	if err := l.tx.GetContext(ctx, &count, query, agentID, pq.Array(statusStrings(models.InFlightPaymentStatuses)), excludePaymentID); err != nil {
		return 0, fmt.Errorf("failed to count in-flight payments: %w", err)
	}
	return count, nil
}

func (l *ledgerTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	now := time.Now()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	query := `
		INSERT INTO payments (
			agent_id, amount_kopecks, gross_amount_kopecks, net_amount_kopecks, tax_amount_kopecks,
			social_contributions_kopecks, status, is_self_employed_snapshot, failure_reason,
			created_at, updated_at, completed_at
		) VALUES (
			:agent_id, :amount_kopecks, :gross_amount_kopecks, :net_amount_kopecks, :tax_amount_kopecks,
			:social_contributions_kopecks, :status, :is_self_employed_snapshot, :failure_reason,
			:created_at, :updated_at, :completed_at
		) RETURNING id`

	rows, err := sqlx.NamedQueryContext(ctx, l.tx, query, payment)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == paymentsOneInFlightIndex {
			return ErrInFlightConflict
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&payment.ID); err != nil {
			return fmt.Errorf("failed to scan payment id: %w", err)
		}
	}
	return rows.Err()
}

func (l *ledgerTx) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return l.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
}

func (l *ledgerTx) GetPaymentForUpdate(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return l.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
}

func (l *ledgerTx) getPayment(ctx context.Context, query string, paymentID int64) (*models.Payment, error) {
	var payment models.Payment
	if err := l.tx.GetContext(ctx, &payment, query, paymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %d: %w", paymentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (l *ledgerTx) UpdatePaymentStatus(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now()
	query := `
		UPDATE payments
		SET status = :status, failure_reason = :failure_reason, completed_at = :completed_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := l.tx.NamedExecContext(ctx, query, payment)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == paymentsOneInFlightIndex {
			return ErrInFlightConflict
		}
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return expectOneRow(res, "payment", payment.ID)
}

// ============================================================================
// REFERRALS
// ============================================================================

func (l *ledgerTx) GetReferral(ctx context.Context, referralID int64) (*models.Referral, error) {
	return l.getReferral(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = $1`, referralID)
}

func (l *ledgerTx) LockReferral(ctx context.Context, referralID int64) (*models.Referral, error) {
	return l.getReferral(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = $1 FOR UPDATE`, referralID)
}

func (l *ledgerTx) getReferral(ctx context.Context, query string, referralID int64) (*models.Referral, error) {
	var referral models.Referral
	if err := l.tx.GetContext(ctx, &referral, query, referralID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("referral %d: %w", referralID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return &referral, nil
}

func (l *ledgerTx) CountPaidReferrals(ctx context.Context, agentID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM referrals WHERE agent_id = $1 AND status = $2`
	if err := l.tx.GetContext(ctx, &count, query, agentID, models.ReferralPaid); err != nil {
		return 0, fmt.Errorf("failed to count paid referrals: %w", err)
	}
	return count, nil
}

func (l *ledgerTx) MonthReferralsForUpdate(ctx context.Context, agentID int64, month string) ([]models.Referral, error) {
	var referrals []models.Referral
	query := `
		SELECT ` + referralColumns + `
		FROM referrals
		WHERE agent_id = $1 AND treatment_month = $2
		ORDER BY id
		FOR UPDATE`
	if err := l.tx.SelectContext(ctx, &referrals, query, agentID, month); err != nil {
		return nil, fmt.Errorf("failed to lock month referrals: %w", err)
	}
	return referrals, nil
}

func (l *ledgerTx) SetReferralCommission(ctx context.Context, referralID int64, commissionKopecks int64) error {
	query := `UPDATE referrals SET commission_amount_kopecks = $2, updated_at = NOW() WHERE id = $1`
	res, err := l.tx.ExecContext(ctx, query, referralID, commissionKopecks)
	if err != nil {
		return fmt.Errorf("failed to set referral commission: %w", err)
	}
	return expectOneRow(res, "referral", referralID)
}

func (l *ledgerTx) ApplyReferralMutation(ctx context.Context, referralID int64, mutation models.ReferralMutation) error {
	var (
		res sql.Result
		err error
	)
	switch m := mutation.(type) {
	case models.ReferralStatusUpdate:
		res, err = l.tx.ExecContext(ctx,
			`UPDATE referrals SET status = $2, updated_at = NOW() WHERE id = $1`,
			referralID, m.Status)
	case models.ReferralAmountUpdate:
		res, err = l.tx.ExecContext(ctx,
			`UPDATE referrals SET treatment_amount_kopecks = $2, treatment_month = $3, updated_at = NOW() WHERE id = $1`,
			referralID, m.TreatmentAmountKopecks, m.TreatmentMonth)
	default:
		return fmt.Errorf("unsupported referral mutation %T", mutation)
	}
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}
	return expectOneRow(res, "referral", referralID)
}

// ============================================================================
// CLINIC REPORTS
// ============================================================================

func (l *ledgerTx) GetReportForUpdate(ctx context.Context, reportID int64) (*models.ClinicReport, error) {
	var report models.ClinicReport
	query := `SELECT ` + reportColumns + ` FROM clinic_reports WHERE id = $1 FOR UPDATE`
	if err := l.tx.GetContext(ctx, &report, query, reportID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("clinic report %d: %w", reportID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock clinic report: %w", err)
	}
	return &report, nil
}

func (l *ledgerTx) UpdateReportReview(ctx context.Context, report *models.ClinicReport) error {
	report.UpdatedAt = time.Now()
	query := `
		UPDATE clinic_reports
		SET referral_id = :referral_id, treatment_amount_kopecks = :treatment_amount_kopecks, status = :status,
			reviewed_by = :reviewed_by, review_notes = :review_notes, updated_at = :updated_at
		WHERE id = :id`
	res, err := l.tx.NamedExecContext(ctx, query, report)
	if err != nil {
		return fmt.Errorf("failed to update clinic report review: %w", err)
	}
	return expectOneRow(res, "clinic report", report.ID)
}

func expectOneRow(res sql.Result, entity string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}

func statusStrings(statuses []models.PaymentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
