package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"referral-service/internal/config"
	"referral-service/internal/models"
	"referral-service/internal/repository"
)

// LedgerStore runs ledger statements in one transaction; fn's error rolls everything back.
type LedgerStore interface {
	RunInTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
}

// BalanceCache keeps recently computed balance snapshots. Get returns nil on a miss.
// Invalidate bumps the agent's generation, and Set stores a snapshot only while the generation
// it was computed under is still current, so a read that raced a mutation is never cached.
type BalanceCache interface {
	Get(ctx context.Context, agentID int64) (*models.BalanceSnapshot, error)
	Generation(ctx context.Context, agentID int64) (int64, error)
	Set(ctx context.Context, snapshot models.BalanceSnapshot, generation int64) error
	Invalidate(ctx context.Context, agentID int64) error
}

type LedgerConfig struct {
	MinPayoutKopecks           int64
	BonusUnlockPaidReferrals   int
	Tier                       TierTable
	TaxRateBps                 int64
	SocialContributionsRateBps int64
}

func LedgerConfigFrom(cfg config.BusinessConfig) LedgerConfig {
	return LedgerConfig{
		MinPayoutKopecks:           cfg.MinPayoutKopecks,
		BonusUnlockPaidReferrals:   cfg.BonusUnlockPaidReferrals,
		Tier:                       TierTableFrom(cfg),
		TaxRateBps:                 cfg.TaxRateBps,
		SocialContributionsRateBps: cfg.SocialContributionsRateBps,
	}
}

// CommissionLedger owns every change to an agent's earnings.
// All mutations hold the agent row lock; referral rows are locked after it.
type CommissionLedger struct {
	store LedgerStore
	cache BalanceCache
	cfg   LedgerConfig
	now   func() time.Time
}

// NewCommissionLedger builds the ledger. cache may be nil.
func NewCommissionLedger(store LedgerStore, cache BalanceCache, cfg LedgerConfig) *CommissionLedger {
	return &CommissionLedger{
		store: store,
		cache: cache,
		cfg:   cfg,
		now:   time.Now,
	}
}

// AvailableBalance is what an agent may still request: earnings minus completed and reserved payouts, floored at zero.
func AvailableBalance(totalEarningsKopecks int64, sums models.PaymentSums) int64 {
	available := totalEarningsKopecks - sums.CompletedKopecks - sums.PendingKopecks
	if available < 0 {
		return 0
	}
	return available
}

func (l *CommissionLedger) snapshotTx(ctx context.Context, tx repository.LedgerTx, agent *models.Agent) (models.BalanceSnapshot, error) {
	sums, err := tx.PaymentSums(ctx, agent.ID)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	return models.BalanceSnapshot{
		AgentID:              agent.ID,
		TotalEarningsKopecks: agent.TotalEarningsKopecks,
		CompletedKopecks:     sums.CompletedKopecks,
		PendingKopecks:       sums.PendingKopecks,
		AvailableKopecks:     AvailableBalance(agent.TotalEarningsKopecks, sums),
		BonusPointsKopecks:   agent.BonusPointsKopecks,
		ComputedAt:           l.now(),
	}, nil
}

// Balance returns the agent's balance without taking locks.
func (l *CommissionLedger) Balance(ctx context.Context, agentID int64) (models.BalanceSnapshot, error) {
	cacheable := false
	var generation int64
	if l.cache != nil {
		cached, err := l.cache.Get(ctx, agentID)
		if err != nil {
			slog.Warn("Balance cache read failed", "agent_id", agentID, "error", err)
		} else if cached != nil {
			return *cached, nil
		}
		generation, err = l.cache.Generation(ctx, agentID)
		if err != nil {
			slog.Warn("Balance cache generation read failed", "agent_id", agentID, "error", err)
		} else {
			cacheable = true
		}
	}

	var snapshot models.BalanceSnapshot
	err := l.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		snapshot, err = l.snapshotTx(ctx, tx, agent)
		return err
	})
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("failed to compute balance: %w", err)
	}

	if cacheable {
		if err := l.cache.Set(ctx, snapshot, generation); err != nil {
			slog.Warn("Balance cache write failed", "agent_id", agentID, "error", err)
		}
	}
	return snapshot, nil
}

// invalidate drops the cached balance after a committed mutation.
func (l *CommissionLedger) invalidate(ctx context.Context, agentID int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, agentID); err != nil {
		slog.Warn("Balance cache invalidation failed", "agent_id", agentID, "error", err)
	}
}

// ============================================================================
// COMMISSION DELTAS
// ============================================================================

// ApplyCommissionDelta sets the referral's commission and moves the agent's earnings by the difference
// to the stored value. Applying the same value twice changes nothing.
func (l *CommissionLedger) ApplyCommissionDelta(ctx context.Context, referralID int64, newCommissionKopecks int64) (models.CommissionChange, error) {
	if newCommissionKopecks < 0 {
		return models.CommissionChange{}, ErrInvalidAmount
	}

	var change models.CommissionChange
	err := l.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		referral, err := tx.GetReferral(ctx, referralID)
		if err != nil {
			return err
		}
		if _, err := tx.LockAgent(ctx, referral.AgentID); err != nil {
			return err
		}
		change, err = l.applyCommissionTx(ctx, tx, referralID, newCommissionKopecks)
		return err
	})
	if err != nil {
		return models.CommissionChange{}, err
	}

	l.invalidate(ctx, change.AgentID)
	slog.Info("Commission updated",
		"referral_id", referralID,
		"agent_id", change.AgentID,
		"old_commission", change.OldCommission,
		"new_commission", change.NewCommission,
		"delta", change.DeltaKopecks)
	return change, nil
}

// applyCommissionTx expects the referral's agent to be locked already.
func (l *CommissionLedger) applyCommissionTx(ctx context.Context, tx repository.LedgerTx, referralID int64, newCommissionKopecks int64) (models.CommissionChange, error) {
	referral, err := tx.LockReferral(ctx, referralID)
	if err != nil {
		return models.CommissionChange{}, err
	}

	change := models.CommissionChange{
		ReferralID:    referral.ID,
		AgentID:       referral.AgentID,
		OldCommission: referral.CommissionAmountKopecks,
		NewCommission: newCommissionKopecks,
		DeltaKopecks:  newCommissionKopecks - referral.CommissionAmountKopecks,
	}
	if change.DeltaKopecks == 0 {
		return change, nil
	}

	if _, err := tx.AddEarnings(ctx, referral.AgentID, change.DeltaKopecks); err != nil {
		return models.CommissionChange{}, err
	}
	if err := tx.SetReferralCommission(ctx, referral.ID, newCommissionKopecks); err != nil {
		return models.CommissionChange{}, err
	}
	return change, nil
}

// ============================================================================
// BONUS
// ============================================================================

// UnlockBonus moves the agent's bonus into earnings once enough referrals were paid.
// The bonus is zeroed in the same statement, so a second unlock finds nothing to move.
func (l *CommissionLedger) UnlockBonus(ctx context.Context, agentID int64) (models.BonusUnlockResult, error) {
	var result models.BonusUnlockResult
	err := l.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		agent, err := tx.LockAgent(ctx, agentID)
		if err != nil {
			return err
		}
		result, err = l.unlockBonusTx(ctx, tx, agent)
		return err
	})
	if err != nil {
		return models.BonusUnlockResult{}, err
	}

	l.invalidate(ctx, agentID)
	slog.Info("Bonus unlocked",
		"agent_id", agentID,
		"transferred", result.TransferredKopecks,
		"paid_referrals", result.PaidReferrals)
	return result, nil
}

func (l *CommissionLedger) unlockBonusTx(ctx context.Context, tx repository.LedgerTx, agent *models.Agent) (models.BonusUnlockResult, error) {
	if agent.BonusPointsKopecks <= 0 {
		return models.BonusUnlockResult{}, ErrNoBonus
	}

	paid, err := tx.CountPaidReferrals(ctx, agent.ID)
	if err != nil {
		return models.BonusUnlockResult{}, err
	}
	if paid < l.cfg.BonusUnlockPaidReferrals {
		return models.BonusUnlockResult{}, bonusLocked(l.cfg.BonusUnlockPaidReferrals, paid)
	}

	transferred, err := tx.TransferBonus(ctx, agent.ID)
	if err != nil {
		return models.BonusUnlockResult{}, err
	}
	return models.BonusUnlockResult{
		AgentID:              agent.ID,
		TransferredKopecks:   transferred,
		PaidReferrals:        paid,
		TotalEarningsKopecks: agent.TotalEarningsKopecks + transferred,
	}, nil
}

// ============================================================================
// MONTHLY TIER
// ============================================================================

// RecalculateMonthlyTier recomputes the commission of every referral of the agent's treatment month
// at the rate the month's revenue qualifies for, and books the sum of the deltas once.
func (l *CommissionLedger) RecalculateMonthlyTier(ctx context.Context, agentID int64, month string) (models.MonthlyTierRun, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return models.MonthlyTierRun{}, ErrInvalidMonth
	}

	var run models.MonthlyTierRun
	err := l.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		agent, err := tx.LockAgent(ctx, agentID)
		if err != nil {
			return err
		}
		run, err = l.recalculateTierTx(ctx, tx, agent, month)
		return err
	})
	if err != nil {
		return models.MonthlyTierRun{}, err
	}

	l.invalidate(ctx, agentID)
	slog.Info("Monthly tier recalculated",
		"agent_id", agentID,
		"month", month,
		"revenue", run.RevenueKopecks,
		"rate_bps", run.RateBps,
		"changes", len(run.Changes),
		"total_delta", run.TotalDeltaKopecks)
	return run, nil
}

// recalculateTierTx expects the agent to be locked already.
// Referrals to excluded clinics add no revenue and earn nothing.
func (l *CommissionLedger) recalculateTierTx(ctx context.Context, tx repository.LedgerTx, agent *models.Agent, month string) (models.MonthlyTierRun, error) {
	referrals, err := tx.MonthReferralsForUpdate(ctx, agent.ID, month)
	if err != nil {
		return models.MonthlyTierRun{}, err
	}

	eligible := func(r models.Referral) bool {
		return (r.Status == models.ReferralVisited || r.Status == models.ReferralPaid) && !agent.ExcludesClinic(r.ClinicID)
	}

	var revenue int64
	for _, r := range referrals {
		if eligible(r) {
			revenue += r.TreatmentAmountKopecks
		}
	}
	rate, premium := l.cfg.Tier.Rate(revenue)

	run := models.MonthlyTierRun{
		AgentID:        agent.ID,
		TreatmentMonth: month,
		RevenueKopecks: revenue,
		RateBps:        rate,
		Premium:        premium,
		Changes:        []models.CommissionChange{},
	}
	for _, r := range referrals {
		var commission int64
		if eligible(r) {
			commission = ApplyRate(r.TreatmentAmountKopecks, rate)
		}
		delta := commission - r.CommissionAmountKopecks
		if delta == 0 {
			continue
		}
		if err := tx.SetReferralCommission(ctx, r.ID, commission); err != nil {
			return models.MonthlyTierRun{}, err
		}
		run.Changes = append(run.Changes, models.CommissionChange{
			ReferralID:    r.ID,
			AgentID:       agent.ID,
			OldCommission: r.CommissionAmountKopecks,
			NewCommission: commission,
			DeltaKopecks:  delta,
		})
		run.TotalDeltaKopecks += delta
	}

	if run.TotalDeltaKopecks != 0 {
		if _, err := tx.AddEarnings(ctx, agent.ID, run.TotalDeltaKopecks); err != nil {
			return models.MonthlyTierRun{}, err
		}
	}
	return run, nil
}
