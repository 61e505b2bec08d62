package repository

import (
	"context"
	"fmt"

	"referral-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// AgentHistoryRepository serves read-only listings for one agent. Writes go through LedgerTx.
type AgentHistoryRepository struct {
	db *sqlx.DB
}

func NewAgentHistoryRepository(db *sqlx.DB) *AgentHistoryRepository {
	return &AgentHistoryRepository{db: db}
}

func (r *AgentHistoryRepository) ListReferralsByAgent(ctx context.Context, agentID int64) ([]models.Referral, error) {
	referrals := []models.Referral{}
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE agent_id = $1 ORDER BY created_at DESC, id DESC`
	if err := r.db.SelectContext(ctx, &referrals, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return referrals, nil
}

func (r *AgentHistoryRepository) ListPaymentsByAgent(ctx context.Context, agentID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE agent_id = $1 ORDER BY created_at DESC, id DESC`
	if err := r.db.SelectContext(ctx, &payments, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
