package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"referral-service/internal/models"
	"referral-service/internal/repository"
)

type ReferralStatusService struct {
	ledger *CommissionLedger
	notify NotificationSink
}

func NewReferralStatusService(ledger *CommissionLedger, notify NotificationSink) *ReferralStatusService {
	return &ReferralStatusService{
		ledger: ledger,
		notify: notify,
	}
}

// ReferralTransition is the outcome of a status change. Bonus is set when reaching paid unlocked it.
type ReferralTransition struct {
	Referral models.Referral           `json:"referral"`
	Bonus    *models.BonusUnlockResult `json:"bonus,omitempty"`
}

// Transition moves a referral along its lifecycle. Reaching paid also unlocks the agent's bonus
// in the same transaction, under the agent lock; a bonus that is still locked is not an error.
func (s *ReferralStatusService) Transition(ctx context.Context, referralID int64, to models.ReferralStatus) (ReferralTransition, error) {
	var result ReferralTransition
	err := s.ledger.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		unlocked, err := tx.GetReferral(ctx, referralID)
		if err != nil {
			return err
		}
		agent, err := tx.LockAgent(ctx, unlocked.AgentID)
		if err != nil {
			return err
		}
		referral, err := tx.LockReferral(ctx, referralID)
		if err != nil {
			return err
		}
		if !referral.Status.CanTransitionTo(to) {
			return invalidTransition("referral", referral.Status, to)
		}
		if err := tx.ApplyReferralMutation(ctx, referralID, models.ReferralStatusUpdate{Status: to}); err != nil {
			return err
		}
		referral.Status = to
		result.Referral = *referral
		if to != models.ReferralPaid {
			return nil
		}

		bonus, err := s.ledger.unlockBonusTx(ctx, tx, agent)
		switch {
		case err == nil:
			result.Bonus = &bonus
		case errors.Is(err, ErrBonusLocked), errors.Is(err, ErrNoBonus):
			// nothing to unlock yet
		default:
			return fmt.Errorf("failed to unlock bonus: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReferralTransition{}, err
	}

	slog.Info("Referral status changed", "referral_id", referralID, "agent_id", result.Referral.AgentID, "status", to)
	if result.Bonus == nil {
		return result, nil
	}

	s.ledger.invalidate(ctx, result.Bonus.AgentID)
	slog.Info("Bonus unlocked",
		"agent_id", result.Bonus.AgentID,
		"transferred", result.Bonus.TransferredKopecks,
		"paid_referrals", result.Bonus.PaidReferrals)
	publish(ctx, s.notify, NotificationEvent{
		Type:       EventBonusUnlocked,
		AgentID:    result.Bonus.AgentID,
		ReferralID: &result.Referral.ID,
		Amount:     result.Bonus.TransferredKopecks,
	})
	return result, nil
}
