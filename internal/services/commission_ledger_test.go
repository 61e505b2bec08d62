package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"referral-service/internal/models"
	"referral-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAgentWithReferral(store *memLedgerStore, earnings, commission int64) {
	store.addAgent(models.Agent{ID: 1, FullName: "Петров Пётр", TotalEarningsKopecks: earnings})
	store.addReferral(models.Referral{
		ID:                      10,
		AgentID:                 1,
		PatientFullName:         "Иванов Иван Иванович",
		Status:                  models.ReferralVisited,
		CommissionAmountKopecks: commission,
	})
}

// ============================================================================
// COMMISSION DELTAS
// ============================================================================

func TestApplyCommissionDelta_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedAgentWithReferral(store, 0, 0)
	ledger := newTestLedger(store, nil)

	change, err := ledger.ApplyCommissionDelta(ctx, 10, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), change.DeltaKopecks)
	assert.Equal(t, int64(5000), store.agent(1).TotalEarningsKopecks)

	change, err = ledger.ApplyCommissionDelta(ctx, 10, 8000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), change.DeltaKopecks)
	assert.Equal(t, int64(8000), store.agent(1).TotalEarningsKopecks)

	change, err = ledger.ApplyCommissionDelta(ctx, 10, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), change.DeltaKopecks)
	assert.Equal(t, int64(5000), store.agent(1).TotalEarningsKopecks)
	assert.Equal(t, int64(5000), store.referral(10).CommissionAmountKopecks)
}

func TestApplyCommissionDelta_SameValueChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedAgentWithReferral(store, 7000, 7000)
	ledger := newTestLedger(store, nil)

	change, err := ledger.ApplyCommissionDelta(ctx, 10, 7000)
	require.NoError(t, err)
	assert.Zero(t, change.DeltaKopecks)
	assert.Equal(t, int64(7000), store.agent(1).TotalEarningsKopecks)
}

func TestApplyCommissionDelta_RejectsNegative(t *testing.T) {
	store := newMemLedgerStore()
	seedAgentWithReferral(store, 0, 0)
	ledger := newTestLedger(store, nil)

	_, err := ledger.ApplyCommissionDelta(context.Background(), 10, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Zero(t, store.txs, "validation must happen before any transaction")
}

func TestApplyCommissionDelta_EarningsNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	// earnings lower than the commission booked on the referral, e.g. after a manual correction
	seedAgentWithReferral(store, 1000, 5000)
	ledger := newTestLedger(store, nil)

	_, err := ledger.ApplyCommissionDelta(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), store.agent(1).TotalEarningsKopecks)

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance.AvailableKopecks, int64(0))
}

func TestApplyCommissionDelta_UnknownReferral(t *testing.T) {
	store := newMemLedgerStore()
	ledger := newTestLedger(store, nil)

	_, err := ledger.ApplyCommissionDelta(context.Background(), 404, 100)
	assert.Error(t, err)
}

func TestApplyCommissionDelta_ConcurrentUpdatesStayConsistent(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedAgentWithReferral(store, 0, 0)
	ledger := newTestLedger(store, nil)

	values := []int64{1000, 2500, 4000, 7000, 3000, 9000, 500, 6000}
	var wg sync.WaitGroup
	for _, v := range values {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_, err := ledger.ApplyCommissionDelta(ctx, 10, v)
			assert.NoError(t, err)
		}(v)
	}
	wg.Wait()

	// whatever order won, earnings equal the final commission
	assert.Equal(t, store.referral(10).CommissionAmountKopecks, store.agent(1).TotalEarningsKopecks)
}

// ============================================================================
// BALANCE
// ============================================================================

func TestAvailableBalance(t *testing.T) {
	assert.Equal(t, int64(350000), AvailableBalance(500000, models.PaymentSums{CompletedKopecks: 100000, PendingKopecks: 50000}))
	assert.Equal(t, int64(0), AvailableBalance(100000, models.PaymentSums{CompletedKopecks: 80000, PendingKopecks: 50000}))
}

func TestBalance_UsesAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedAgentWithReferral(store, 500000, 0)
	store.addPayment(models.Payment{ID: 1, AgentID: 1, AmountKopecks: 100000, Status: models.PaymentCompleted})
	store.addPayment(models.Payment{ID: 2, AgentID: 1, AmountKopecks: 50000, Status: models.PaymentSigned})
	cache := newMemBalanceCache()
	ledger := newTestLedger(store, cache)

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(350000), balance.AvailableKopecks)
	assert.Equal(t, int64(100000), balance.CompletedKopecks)
	assert.Equal(t, int64(50000), balance.PendingKopecks)

	txsBefore := store.txs
	_, err = ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, txsBefore, store.txs, "second read should be served from the cache")

	_, err = ledger.ApplyCommissionDelta(ctx, 10, 20000)
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, int64(1))

	balance, err = ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(370000), balance.AvailableKopecks)
}

// mutateAfterRead commits another mutation right after the next transaction, before the
// caller gets to write its result to the cache.
type mutateAfterRead struct {
	*memLedgerStore
	after func()
}

func (s *mutateAfterRead) RunInTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	err := s.memLedgerStore.RunInTx(ctx, fn)
	if after := s.after; after != nil {
		s.after = nil
		after()
	}
	return err
}

func TestBalance_RacingMutationIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := newMemLedgerStore()
	seedAgentWithReferral(mem, 500000, 0)
	store := &mutateAfterRead{memLedgerStore: mem}
	cache := newMemBalanceCache()
	ledger := NewCommissionLedger(store, cache, LedgerConfigFrom(testBusinessConfig()))

	store.after = func() {
		_, err := ledger.ApplyCommissionDelta(ctx, 10, 20000)
		require.NoError(t, err)
	}
	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), balance.AvailableKopecks)
	assert.False(t, cache.cached(1), "a snapshot read before the mutation must not be stored")

	balance, err = ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(520000), balance.AvailableKopecks)
	assert.True(t, cache.cached(1))
}

// ============================================================================
// BONUS
// ============================================================================

func seedBonusAgent(store *memLedgerStore, bonus int64, paid int) {
	store.addAgent(models.Agent{ID: 1, FullName: "Петров Пётр", TotalEarningsKopecks: 100000, BonusPointsKopecks: bonus})
	for i := 0; i < paid; i++ {
		store.addReferral(models.Referral{ID: int64(100 + i), AgentID: 1, PatientFullName: "Пациент", Status: models.ReferralPaid})
	}
}

func TestUnlockBonus_LockedBelowThreshold(t *testing.T) {
	store := newMemLedgerStore()
	seedBonusAgent(store, 30000, 9)
	ledger := newTestLedger(store, nil)

	_, err := ledger.UnlockBonus(context.Background(), 1)
	require.ErrorIs(t, err, ErrBonusLocked)
	assert.Contains(t, err.Error(), "10 paid referrals, 9 paid so far")
	assert.Equal(t, int64(30000), store.agent(1).BonusPointsKopecks)
	assert.Equal(t, int64(100000), store.agent(1).TotalEarningsKopecks)
}

func TestUnlockBonus_TransfersOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedBonusAgent(store, 30000, 10)
	ledger := newTestLedger(store, nil)

	result, err := ledger.UnlockBonus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), result.TransferredKopecks)
	assert.Equal(t, 10, result.PaidReferrals)
	assert.Equal(t, int64(130000), result.TotalEarningsKopecks)
	assert.Equal(t, int64(130000), store.agent(1).TotalEarningsKopecks)
	assert.Zero(t, store.agent(1).BonusPointsKopecks)

	_, err = ledger.UnlockBonus(ctx, 1)
	assert.ErrorIs(t, err, ErrNoBonus)
	assert.Equal(t, int64(130000), store.agent(1).TotalEarningsKopecks)
}

func TestUnlockBonus_ExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedBonusAgent(store, 30000, 12)
	ledger := newTestLedger(store, nil)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		noBonus   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.UnlockBonus(ctx, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNoBonus):
				noBonus++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, noBonus)
	assert.Equal(t, int64(130000), store.agent(1).TotalEarningsKopecks)
}

// ============================================================================
// MONTHLY TIER
// ============================================================================

func seedTierMonth(store *memLedgerStore) {
	store.addAgent(models.Agent{ID: 1, FullName: "Петров Пётр", ExcludedClinicIDs: []int64{99}})
	month := strPtr("2025-03")
	store.addReferral(models.Referral{ID: 1, AgentID: 1, PatientFullName: "A", Status: models.ReferralVisited,
		TreatmentAmountKopecks: 30000000, TreatmentMonth: month, ClinicID: int64Ptr(7)})
	store.addReferral(models.Referral{ID: 2, AgentID: 1, PatientFullName: "B", Status: models.ReferralPaid,
		TreatmentAmountKopecks: 30000000, TreatmentMonth: month, ClinicID: int64Ptr(7)})
	// excluded clinic: no revenue, no commission
	store.addReferral(models.Referral{ID: 3, AgentID: 1, PatientFullName: "C", Status: models.ReferralVisited,
		TreatmentAmountKopecks: 10000000, TreatmentMonth: month, ClinicID: int64Ptr(99)})
	// not visited yet
	store.addReferral(models.Referral{ID: 4, AgentID: 1, PatientFullName: "D", Status: models.ReferralScheduled,
		TreatmentAmountKopecks: 10000000, TreatmentMonth: month, ClinicID: int64Ptr(7)})
}

func TestRecalculateMonthlyTier_PremiumRate(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedTierMonth(store)
	ledger := newTestLedger(store, nil)

	run, err := ledger.RecalculateMonthlyTier(ctx, 1, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, int64(60000000), run.RevenueKopecks)
	assert.True(t, run.Premium)
	assert.Equal(t, int64(1200), run.RateBps)
	assert.Len(t, run.Changes, 2)
	assert.Equal(t, int64(7200000), run.TotalDeltaKopecks)

	assert.Equal(t, int64(3600000), store.referral(1).CommissionAmountKopecks)
	assert.Equal(t, int64(3600000), store.referral(2).CommissionAmountKopecks)
	assert.Zero(t, store.referral(3).CommissionAmountKopecks)
	assert.Zero(t, store.referral(4).CommissionAmountKopecks)
	assert.Equal(t, int64(7200000), store.agent(1).TotalEarningsKopecks)
}

func TestRecalculateMonthlyTier_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedTierMonth(store)
	ledger := newTestLedger(store, nil)

	_, err := ledger.RecalculateMonthlyTier(ctx, 1, "2025-03")
	require.NoError(t, err)
	run, err := ledger.RecalculateMonthlyTier(ctx, 1, "2025-03")
	require.NoError(t, err)
	assert.Empty(t, run.Changes)
	assert.Zero(t, run.TotalDeltaKopecks)
	assert.Equal(t, int64(7200000), store.agent(1).TotalEarningsKopecks)
}

func TestRecalculateMonthlyTier_DropsBackToBaseRate(t *testing.T) {
	ctx := context.Background()
	store := newMemLedgerStore()
	seedTierMonth(store)
	ledger := newTestLedger(store, nil)

	_, err := ledger.RecalculateMonthlyTier(ctx, 1, "2025-03")
	require.NoError(t, err)

	// one referral turns out to be a duplicate of another agent's referral
	cancelled := store.referral(2)
	cancelled.Status = models.ReferralCancelled
	store.addReferral(cancelled)

	run, err := ledger.RecalculateMonthlyTier(ctx, 1, "2025-03")
	require.NoError(t, err)
	assert.False(t, run.Premium)
	assert.Equal(t, int64(1000), run.RateBps)
	assert.Equal(t, int64(3000000), store.referral(1).CommissionAmountKopecks)
	assert.Zero(t, store.referral(2).CommissionAmountKopecks)
	assert.Equal(t, int64(3000000), store.agent(1).TotalEarningsKopecks)
}

func TestRecalculateMonthlyTier_InvalidMonth(t *testing.T) {
	store := newMemLedgerStore()
	seedTierMonth(store)
	ledger := newTestLedger(store, nil)

	for _, month := range []string{"", "2025-13", "03-2025", "2025/03"} {
		_, err := ledger.RecalculateMonthlyTier(context.Background(), 1, month)
		assert.ErrorIs(t, err, ErrInvalidMonth, month)
	}
}
