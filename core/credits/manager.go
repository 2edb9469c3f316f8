package credits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// membershipActivationFee is charged (locally, for display) when a
// membership is activated through the combined purchase flow.
const membershipActivationFee = 9.99

// API is the slice of the backend client the credits manager needs.
type API interface {
	GetCreditsBalance(ctx context.Context, userID string) (float64, error)
	GetMembershipStatus(ctx context.Context, userID string) (*backend.MembershipStatus, error)
	UnlockContent(ctx context.Context, req backend.UnlockRequest) error
}

var _ API = (*backend.Client)(nil)

// Manager mirrors the user's credit balance and membership from the
// backend, keyed by the signed-in user id. The balance intentionally does
// not survive a restart; it is reconstructed from the backend on every
// SetUser. The transaction log is client-local and display-only.
//
// Overlapping mutating calls are not serialized: a second call while one is
// in flight may race and a stale reconciliation read can win. Known risk.
type Manager struct {
	conf *core.Config
	api  API
	log  core.Logger
	now  func() time.Time

	mu         sync.RWMutex
	userID     string
	balance    float64
	membership Membership
	txs        []Transaction
	busy       bool
}

// Snapshot is a point-in-time copy of the mirrored state.
type Snapshot struct {
	UserID       string        `json:"user_id"`
	Balance      float64       `json:"balance"`
	Membership   Membership    `json:"membership"`
	Transactions []Transaction `json:"transactions"`
	Busy         bool          `json:"busy"`
}

func NewManager(conf *core.Config, api API, log core.Logger) *Manager {
	return &Manager{
		conf:       conf,
		api:        api,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		membership: FreeMembership(),
	}
}

// SetUser re-keys the manager. A changed id triggers a refetch of balance
// and membership; an empty id resets everything. Fetch failures are logged
// and swallowed: stale numbers beat a broken page.
func (m *Manager) SetUser(ctx context.Context, userID string) {
	m.mu.Lock()
	if m.userID == userID {
		m.mu.Unlock()
		return
	}
	m.userID = userID
	m.mu.Unlock()

	if userID == "" {
		m.Reset()
		return
	}
	if _, err := m.RefreshBalance(ctx); err != nil {
		m.log.Warn("refreshing balance", err)
	}
	if err := m.RefreshMembership(ctx); err != nil {
		m.log.Warn("refreshing membership", err)
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := make([]Transaction, len(m.txs))
	copy(txs, m.txs)
	return Snapshot{
		UserID:       m.userID,
		Balance:      m.balance,
		Membership:   m.membership,
		Transactions: txs,
		Busy:         m.busy,
	}
}

// Analytics recomputes the aggregates from the current transaction log.
func (m *Manager) Analytics() Analytics {
	m.mu.RLock()
	txs := m.txs
	m.mu.RUnlock()
	return ComputeAnalytics(txs, m.now())
}

// RefreshBalance re-reads the authoritative balance. On failure the prior
// balance is kept and the error is returned for the caller to log or
// ignore; nothing is surfaced to the user.
func (m *Manager) RefreshBalance(ctx context.Context) (float64, error) {
	m.mu.RLock()
	userID := m.userID
	prior := m.balance
	m.mu.RUnlock()
	if userID == "" {
		return prior, ErrNotAuthenticated
	}

	bal, err := m.api.GetCreditsBalance(ctx, userID)
	if err != nil {
		return prior, errors.Wrap(err, "fetching balance")
	}

	m.mu.Lock()
	m.balance = bal
	m.mu.Unlock()
	return bal, nil
}

// RefreshMembership re-reads the membership record. A null payload or any
// non-ACTIVE status maps to the free/inactive default.
func (m *Manager) RefreshMembership(ctx context.Context) error {
	m.mu.RLock()
	userID := m.userID
	m.mu.RUnlock()
	if userID == "" {
		return ErrNotAuthenticated
	}

	status, err := m.api.GetMembershipStatus(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "fetching membership")
	}

	record := FreeMembership()
	if status != nil && status.Status == membershipStatusActive {
		record = Membership{
			IsActive:        true,
			Type:            MembershipMonthly,
			ExpiresAt:       status.ExpiresAt,
			NextBillingDate: status.NextBillingDate,
		}
	}

	m.mu.Lock()
	m.membership = record
	m.mu.Unlock()
	return nil
}

// AddCredits optimistically tops up the local balance. Negative amounts
// clamp to zero. The simulated latency stands in for a payment round-trip.
func (m *Manager) AddCredits(ctx context.Context, amount float64) error {
	m.setBusy(true)
	defer m.setBusy(false)

	select {
	case <-time.After(m.conf.Credits.SimulatedLatency):
	case <-ctx.Done():
		return ctx.Err()
	}

	if amount < 0 {
		amount = 0
	}

	m.mu.Lock()
	m.balance += amount
	m.appendTxLocked(TxPurchase, amount, nil)
	m.mu.Unlock()
	return nil
}

// UnlockContent spends credits on the backend. The backend is authoritative
// here: no local deduction happens, a display-only spend transaction is
// logged, and the balance is re-read so the authoritative value wins over
// any local arithmetic. Backend failures are logged and propagated.
func (m *Manager) UnlockContent(ctx context.Context, unlockType, unlockID string, creditsSpent float64) error {
	m.mu.RLock()
	userID := m.userID
	m.mu.RUnlock()
	if userID == "" {
		return ErrNotAuthenticated
	}

	m.setBusy(true)
	defer m.setBusy(false)

	err := m.api.UnlockContent(ctx, backend.UnlockRequest{
		UserID:       userID,
		CreditsSpent: creditsSpent,
		UnlockType:   unlockType,
		UnlockID:     unlockID,
	})
	if err != nil {
		m.log.Error("unlocking content", err)
		return errors.Wrap(err, "unlocking content")
	}

	m.mu.Lock()
	m.appendTxLocked(TxSpend, creditsSpent, map[string]interface{}{
		"unlock_type": unlockType,
		"unlock_id":   unlockID,
	})
	m.mu.Unlock()

	if _, err := m.RefreshBalance(ctx); err != nil {
		m.log.Warn("refreshing balance after unlock", err)
	}
	return nil
}

// SpendCredits is the UI-only spend flow: a purely local decrement floored
// at zero, with no backend call. Negative amounts clamp to zero, same as
// AddCredits.
func (m *Manager) SpendCredits(amount float64, metadata map[string]interface{}) {
	if amount < 0 {
		amount = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance -= amount
	if m.balance < 0 {
		m.balance = 0
	}
	m.appendTxLocked(TxSpend, amount, metadata)
}

// PurchaseCreditsWithMembership activates a monthly membership and adds
// credits in one flow. Unlike UnlockContent this is simulated client-side;
// Credits.BackendMutations is the single switch that reconciles against the
// backend once membership mutations become server-backed.
func (m *Manager) PurchaseCreditsWithMembership(ctx context.Context, amount float64) error {
	m.setBusy(true)
	defer m.setBusy(false)

	select {
	case <-time.After(m.conf.Credits.SimulatedLatency):
	case <-ctx.Done():
		return ctx.Err()
	}

	if amount < 0 {
		amount = 0
	}

	now := m.now()
	next := now.AddDate(0, 1, 0)

	m.mu.Lock()
	m.membership = Membership{
		IsActive:        true,
		Type:            MembershipMonthly,
		ExpiresAt:       &next,
		NextBillingDate: &next,
	}
	m.appendTxLocked(TxMembership, membershipActivationFee, map[string]interface{}{"action": "activate"})
	m.balance += amount
	m.appendTxLocked(TxPurchase, amount, nil)
	m.mu.Unlock()

	return m.reconcileIfBackendMutations(ctx)
}

// RenewMembership pushes the billing dates one calendar month ahead.
// Client-local; see PurchaseCreditsWithMembership.
func (m *Manager) RenewMembership(ctx context.Context) error {
	now := m.now()
	next := now.AddDate(0, 1, 0)

	m.mu.Lock()
	m.membership = Membership{
		IsActive:        true,
		Type:            MembershipMonthly,
		ExpiresAt:       &next,
		NextBillingDate: &next,
	}
	m.appendTxLocked(TxMembership, membershipActivationFee, map[string]interface{}{"action": "renew"})
	m.mu.Unlock()

	return m.reconcileIfBackendMutations(ctx)
}

// CancelMembership drops back to the free/inactive default.
// Client-local; see PurchaseCreditsWithMembership.
func (m *Manager) CancelMembership(ctx context.Context) error {
	m.mu.Lock()
	m.membership = FreeMembership()
	m.appendTxLocked(TxMembership, 0, map[string]interface{}{"action": "cancel"})
	m.mu.Unlock()

	return m.reconcileIfBackendMutations(ctx)
}

// Reset hard-clears balance, log and membership. Used on logout.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = 0
	m.txs = nil
	m.membership = FreeMembership()
}

// Busy reports whether a mutating operation is in flight.
func (m *Manager) Busy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.busy
}

func (m *Manager) setBusy(busy bool) {
	m.mu.Lock()
	m.busy = busy
	m.mu.Unlock()
}

// reconcileIfBackendMutations re-reads authoritative state after a
// simulated membership mutation when the flag routes those flows through
// the backend.
func (m *Manager) reconcileIfBackendMutations(ctx context.Context) error {
	if !m.conf.Credits.BackendMutations {
		return nil
	}
	if err := m.RefreshMembership(ctx); err != nil {
		return err
	}
	_, err := m.RefreshBalance(ctx)
	return err
}

// appendTxLocked prepends a transaction (newest first) with the current
// balance snapshot. Caller holds m.mu.
func (m *Manager) appendTxLocked(txType string, amount float64, metadata map[string]interface{}) {
	tx := Transaction{
		ID:       uuid.New().String(),
		Type:     txType,
		Amount:   amount,
		Balance:  m.balance,
		At:       m.now(),
		Metadata: metadata,
	}
	m.txs = append([]Transaction{tx}, m.txs...)
}
