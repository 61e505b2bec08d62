package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"referral-service/internal/config"
	"referral-service/internal/models"
	"referral-service/internal/repository"
)

// ============================================================================
// IN-MEMORY LEDGER STORE
// ============================================================================

// memState is the whole database of the fake. Transactions work on a clone and
// replace the state on success, so a failing fn leaves nothing behind.
type memState struct {
	agents        map[int64]models.Agent
	referrals     map[int64]models.Referral
	payments      map[int64]models.Payment
	reports       map[int64]models.ClinicReport
	nextPaymentID int64
}

func newMemState() *memState {
	return &memState{
		agents:        map[int64]models.Agent{},
		referrals:     map[int64]models.Referral{},
		payments:      map[int64]models.Payment{},
		reports:       map[int64]models.ClinicReport{},
		nextPaymentID: 1,
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, a := range s.agents {
		a.ExcludedClinicIDs = append(a.ExcludedClinicIDs[:0:0], a.ExcludedClinicIDs...)
		c.agents[id] = a
	}
	for id, r := range s.referrals {
		c.referrals[id] = r
	}
	for id, p := range s.payments {
		c.payments[id] = p
	}
	for id, r := range s.reports {
		r.Services = append(r.Services[:0:0], r.Services...)
		c.reports[id] = r
	}
	c.nextPaymentID = s.nextPaymentID
	return c
}

// memLedgerStore serializes transactions with one mutex, which is at least as strict as the agent row lock.
type memLedgerStore struct {
	mu    sync.Mutex
	state *memState
	txs   int
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{state: newMemState()}
}

func (m *memLedgerStore) RunInTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memLedgerStore) addAgent(a models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.agents[a.ID] = a
}

func (m *memLedgerStore) addReferral(r models.Referral) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	}
	m.state.referrals[r.ID] = r
}

func (m *memLedgerStore) addPayment(p models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.payments[p.ID] = p
	if p.ID >= m.state.nextPaymentID {
		m.state.nextPaymentID = p.ID + 1
	}
}

func (m *memLedgerStore) addReport(r models.ClinicReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.reports[r.ID] = r
}

func (m *memLedgerStore) agent(id int64) models.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.agents[id]
}

func (m *memLedgerStore) referral(id int64) models.Referral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.referrals[id]
}

func (m *memLedgerStore) report(id int64) models.ClinicReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.reports[id]
}

func (m *memLedgerStore) paymentsOf(agentID int64) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.state.payments {
		if p.AgentID == agentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	s *memState
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, repository.ErrNotFound)
}

func (t *memTx) GetAgent(ctx context.Context, agentID int64) (*models.Agent, error) {
	a, ok := t.s.agents[agentID]
	if !ok {
		return nil, notFound("agent", agentID)
	}
	return &a, nil
}

func (t *memTx) LockAgent(ctx context.Context, agentID int64) (*models.Agent, error) {
	return t.GetAgent(ctx, agentID)
}

func (t *memTx) AddEarnings(ctx context.Context, agentID int64, deltaKopecks int64) (int64, error) {
	a, ok := t.s.agents[agentID]
	if !ok {
		return 0, notFound("agent", agentID)
	}
	a.TotalEarningsKopecks = max(0, a.TotalEarningsKopecks+deltaKopecks)
	t.s.agents[agentID] = a
	return a.TotalEarningsKopecks, nil
}

func (t *memTx) TransferBonus(ctx context.Context, agentID int64) (int64, error) {
	a, ok := t.s.agents[agentID]
	if !ok {
		return 0, notFound("agent", agentID)
	}
	bonus := a.BonusPointsKopecks
	a.TotalEarningsKopecks += bonus
	a.BonusPointsKopecks = 0
	t.s.agents[agentID] = a
	return bonus, nil
}

func (t *memTx) UpdateAgentRequisites(ctx context.Context, agentID int64, update models.AgentRequisitesUpdate) error {
	a, ok := t.s.agents[agentID]
	if !ok {
		return notFound("agent", agentID)
	}
	a.BankName = &update.BankName
	a.BankAccount = &update.BankAccount
	a.BankBIC = &update.BankBIC
	a.IsSelfEmployed = update.IsSelfEmployed
	t.s.agents[agentID] = a
	return nil
}

func (t *memTx) PaymentSums(ctx context.Context, agentID int64) (models.PaymentSums, error) {
	var sums models.PaymentSums
	for _, p := range t.s.payments {
		if p.AgentID != agentID {
			continue
		}
		switch {
		case p.Status == models.PaymentCompleted:
			sums.CompletedKopecks += p.AmountKopecks
		case !p.Status.IsTerminal():
			sums.PendingKopecks += p.AmountKopecks
		}
	}
	return sums, nil
}

func (t *memTx) CountInFlightPayments(ctx context.Context, agentID int64, excludePaymentID int64) (int, error) {
	count := 0
	for _, p := range t.s.payments {
		if p.AgentID == agentID && p.ID != excludePaymentID && p.Status.IsInFlight() {
			count++
		}
	}
	return count, nil
}

// inFlightConflict mimics the partial unique index on in-flight payments.
func (t *memTx) inFlightConflict(payment *models.Payment) bool {
	if !payment.Status.IsInFlight() {
		return false
	}
	for _, p := range t.s.payments {
		if p.AgentID == payment.AgentID && p.ID != payment.ID && p.Status.IsInFlight() {
			return true
		}
	}
	return false
}

func (t *memTx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if t.inFlightConflict(payment) {
		return repository.ErrInFlightConflict
	}
	payment.ID = t.s.nextPaymentID
	t.s.nextPaymentID++
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	t.s.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	p, ok := t.s.payments[paymentID]
	if !ok {
		return nil, notFound("payment", paymentID)
	}
	return &p, nil
}

func (t *memTx) GetPaymentForUpdate(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return t.GetPayment(ctx, paymentID)
}

func (t *memTx) UpdatePaymentStatus(ctx context.Context, payment *models.Payment) error {
	if _, ok := t.s.payments[payment.ID]; !ok {
		return notFound("payment", payment.ID)
	}
	if t.inFlightConflict(payment) {
		return repository.ErrInFlightConflict
	}
	t.s.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) GetReferral(ctx context.Context, referralID int64) (*models.Referral, error) {
	r, ok := t.s.referrals[referralID]
	if !ok {
		return nil, notFound("referral", referralID)
	}
	return &r, nil
}

func (t *memTx) LockReferral(ctx context.Context, referralID int64) (*models.Referral, error) {
	return t.GetReferral(ctx, referralID)
}

func (t *memTx) CountPaidReferrals(ctx context.Context, agentID int64) (int, error) {
	count := 0
	for _, r := range t.s.referrals {
		if r.AgentID == agentID && r.Status == models.ReferralPaid {
			count++
		}
	}
	return count, nil
}

func (t *memTx) MonthReferralsForUpdate(ctx context.Context, agentID int64, month string) ([]models.Referral, error) {
	var out []models.Referral
	for _, r := range t.s.referrals {
		if r.AgentID == agentID && r.TreatmentMonth != nil && *r.TreatmentMonth == month {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SetReferralCommission(ctx context.Context, referralID int64, commissionKopecks int64) error {
	r, ok := t.s.referrals[referralID]
	if !ok {
		return notFound("referral", referralID)
	}
	r.CommissionAmountKopecks = commissionKopecks
	t.s.referrals[referralID] = r
	return nil
}

func (t *memTx) ApplyReferralMutation(ctx context.Context, referralID int64, mutation models.ReferralMutation) error {
	r, ok := t.s.referrals[referralID]
	if !ok {
		return notFound("referral", referralID)
	}
	switch m := mutation.(type) {
	case models.ReferralStatusUpdate:
		r.Status = m.Status
	case models.ReferralAmountUpdate:
		r.TreatmentAmountKopecks = m.TreatmentAmountKopecks
		month := m.TreatmentMonth
		r.TreatmentMonth = &month
	default:
		return fmt.Errorf("unsupported referral mutation %T", mutation)
	}
	t.s.referrals[referralID] = r
	return nil
}

func (t *memTx) GetReportForUpdate(ctx context.Context, reportID int64) (*models.ClinicReport, error) {
	r, ok := t.s.reports[reportID]
	if !ok {
		return nil, notFound("clinic report", reportID)
	}
	return &r, nil
}

func (t *memTx) UpdateReportReview(ctx context.Context, report *models.ClinicReport) error {
	if _, ok := t.s.reports[report.ID]; !ok {
		return notFound("clinic report", report.ID)
	}
	t.s.reports[report.ID] = *report
	return nil
}

// ============================================================================
// CACHE AND NOTIFICATIONS
// ============================================================================

type memBalanceCache struct {
	mu          sync.Mutex
	snapshots   map[int64]models.BalanceSnapshot
	generations map[int64]int64
	invalidated []int64
}

func newMemBalanceCache() *memBalanceCache {
	return &memBalanceCache{
		snapshots:   map[int64]models.BalanceSnapshot{},
		generations: map[int64]int64{},
	}
}

func (c *memBalanceCache) Generation(ctx context.Context, agentID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[agentID], nil
}

func (c *memBalanceCache) cached(agentID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snapshots[agentID]
	return ok
}

func (c *memBalanceCache) Get(ctx context.Context, agentID int64) (*models.BalanceSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[agentID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *memBalanceCache) Set(ctx context.Context, snapshot models.BalanceSnapshot, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[snapshot.AgentID] != generation {
		return nil
	}
	c.snapshots[snapshot.AgentID] = snapshot
	return nil
}

func (c *memBalanceCache) Invalidate(ctx context.Context, agentID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, agentID)
	c.generations[agentID]++
	c.invalidated = append(c.invalidated, agentID)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (s *recordingSink) Notify(ctx context.Context, event NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []NotificationEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NotificationEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// ============================================================================
// HELPERS
// ============================================================================

func testBusinessConfig() config.BusinessConfig {
	return config.DefaultBusinessConfig()
}

func newTestLedger(store *memLedgerStore, cache BalanceCache) *CommissionLedger {
	ledger := NewCommissionLedger(store, cache, LedgerConfigFrom(testBusinessConfig()))
	ledger.now = func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) }
	return ledger
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }
