package services

import (
	"context"
	"log/slog"

	"referral-service/internal/models"
	"referral-service/internal/repository"
)

// AgentHistory lists what an agent referred and was paid.
type AgentHistory interface {
	ListReferralsByAgent(ctx context.Context, agentID int64) ([]models.Referral, error)
	ListPaymentsByAgent(ctx context.Context, agentID int64) ([]models.Payment, error)
}

type AgentService struct {
	ledger  *CommissionLedger
	history AgentHistory
}

func NewAgentService(ledger *CommissionLedger, history AgentHistory) *AgentService {
	return &AgentService{
		ledger:  ledger,
		history: history,
	}
}

func (s *AgentService) GetAgent(ctx context.Context, agentID int64) (*models.Agent, error) {
	var agent *models.Agent
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		agent, err = tx.GetAgent(ctx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// UpdateRequisites changes the payout details. The agent lock keeps a concurrent payment request
// from snapshotting a half-updated tax status.
func (s *AgentService) UpdateRequisites(ctx context.Context, agentID int64, update models.AgentRequisitesUpdate) (*models.Agent, error) {
	var agent *models.Agent
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		if _, err := tx.LockAgent(ctx, agentID); err != nil {
			return err
		}
		if err := tx.UpdateAgentRequisites(ctx, agentID, update); err != nil {
			return err
		}
		var err error
		agent, err = tx.GetAgent(ctx, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Agent requisites updated", "agent_id", agentID, "is_self_employed", update.IsSelfEmployed)
	return agent, nil
}

// ListReferrals returns the agent's referrals, newest first. An unknown agent is reported as not found.
func (s *AgentService) ListReferrals(ctx context.Context, agentID int64) ([]models.Referral, error) {
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.history.ListReferralsByAgent(ctx, agentID)
}

// ListPayments returns the agent's payments, newest first.
func (s *AgentService) ListPayments(ctx context.Context, agentID int64) ([]models.Payment, error) {
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.history.ListPaymentsByAgent(ctx, agentID)
}
