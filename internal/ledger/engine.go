package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/clock"
	"github.com/fernbooks/ledgercore/internal/integrity"
)

// Engine validates and commits double-entry postings, enforces period
// locks, and implements void-as-reversal. All writes for a given
// (tenant, period) are serialized through a keyed mutex on top of the
// store's own commit-time checks; operations on different tenants or
// periods proceed in parallel.
type Engine struct {
	store  Store
	clk    clock.Clock
	locks  *keyLock
	logger *zap.Logger
}

// NewEngine creates an Engine. clk decides which period is "current" for
// reversals; pass a fake clock in tests for deterministic behavior.
func NewEngine(store Store, clk clock.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		clk:    clk,
		locks:  newKeyLock(),
		logger: logger,
	}
}

// CreateAccount registers a new active account for a tenant with a zero
// opening balance.
func (e *Engine) CreateAccount(ctx context.Context, tenantID, code, name string, typ AccountType) (*Account, error) {
	switch typ {
	case TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense:
	default:
		return nil, fmt.Errorf("invalid account type %q", typ)
	}
	acct := &Account{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Code:      code,
		Name:      name,
		Type:      typ,
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: e.clk.Now(),
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// PostTransaction validates and atomically commits a double-entry posting
// into the given period. It fails with an *UnbalancedEntryError,
// ErrPeriodLocked, or ErrCrossTenantReference and performs no partial
// mutation on any failure path.
func (e *Engine) PostTransaction(ctx context.Context, tenantID string, p Period, lines []Line) (*Transaction, error) {
	deltas, err := e.validateLines(ctx, tenantID, lines)
	if err != nil {
		return nil, err
	}

	key := p.Key(tenantID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	locked, err := e.store.IsPeriodLocked(ctx, tenantID, p)
	if err != nil {
		return nil, fmt.Errorf("check period lock: %w", err)
	}
	if locked {
		return nil, ErrPeriodLocked
	}

	txn := &Transaction{
		ID:       uuid.New(),
		TenantID: tenantID,
		Period:   p,
		Status:   StatusPosted,
		Lines:    lines,
		PostedAt: e.clk.Now(),
	}
	if err := e.store.Commit(ctx, txn, deltas, nil); err != nil {
		return nil, err
	}

	e.logger.Info("transaction posted",
		zap.String("tenant", tenantID),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("period", p.String()),
		zap.Int("lines", len(lines)),
	)
	return txn, nil
}

// VoidTransaction voids a committed transaction by posting its mirror image
// into the currently open period. The original is never mutated beyond its
// status flag; its lines remain queryable for history. Fails with
// ErrAlreadyVoid, or ErrPeriodLocked if the *current* period is locked.
func (e *Engine) VoidTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*Transaction, error) {
	original, err := e.store.GetTransaction(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if original.Status == StatusVoid {
		return nil, ErrAlreadyVoid
	}

	reversalLines := make([]Line, len(original.Lines))
	for i, ln := range original.Lines {
		reversalLines[i] = Line{
			AccountID: ln.AccountID,
			Amount:    ln.Amount,
			Side:      ln.Side.Opposite(),
		}
	}
	deltas, err := e.validateLines(ctx, tenantID, reversalLines)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	current := PeriodOf(now)
	key := current.Key(tenantID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	locked, err := e.store.IsPeriodLocked(ctx, tenantID, current)
	if err != nil {
		return nil, fmt.Errorf("check period lock: %w", err)
	}
	if locked {
		return nil, ErrPeriodLocked
	}

	originalID := original.ID
	reversal := &Transaction{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Period:     current,
		Status:     StatusPosted,
		Lines:      reversalLines,
		ReversalOf: &originalID,
		PostedAt:   now,
	}
	if err := e.store.Commit(ctx, reversal, deltas, &originalID); err != nil {
		return nil, err
	}

	e.logger.Info("transaction voided",
		zap.String("tenant", tenantID),
		zap.String("original_id", originalID.String()),
		zap.String("reversal_id", reversal.ID.String()),
		zap.String("reversal_period", current.String()),
	)
	return reversal, nil
}

// LockPeriod marks a period closed for the tenant. Idempotent. The keyed
// mutex serializes the lock against in-flight postings for the same
// (tenant, period), so no posting is accepted after LockPeriod returns.
func (e *Engine) LockPeriod(ctx context.Context, tenantID string, p Period) error {
	key := p.Key(tenantID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if err := e.store.SetPeriodLock(ctx, tenantID, p, true); err != nil {
		return err
	}
	e.logger.Info("period locked",
		zap.String("tenant", tenantID), zap.String("period", p.String()))
	return nil
}

// UnlockPeriod reopens a period for the tenant. Idempotent.
func (e *Engine) UnlockPeriod(ctx context.Context, tenantID string, p Period) error {
	key := p.Key(tenantID)
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	if err := e.store.SetPeriodLock(ctx, tenantID, p, false); err != nil {
		return err
	}
	e.logger.Info("period unlocked",
		zap.String("tenant", tenantID), zap.String("period", p.String()))
	return nil
}

// ReversalOf returns the reversal transaction id for a voided original, if
// one exists.
func (e *Engine) ReversalOf(ctx context.Context, tenantID string, originalID uuid.UUID) (uuid.UUID, bool, error) {
	return e.store.ReversalOf(ctx, tenantID, originalID)
}

// GetTransaction returns a committed transaction.
func (e *Engine) GetTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*Transaction, error) {
	return e.store.GetTransaction(ctx, tenantID, id)
}

// TrialBalance computes account balances for the tenant as of the given
// time by replaying committed transactions, and hashes the canonical
// (account id, balance) pairs sorted by account code. Pure read; two calls
// over identical committed state yield an identical hash.
func (e *Engine) TrialBalance(ctx context.Context, tenantID string, asOf time.Time) (*TrialBalance, error) {
	accounts, err := e.store.AccountsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	txns, err := e.store.TransactionsAsOf(ctx, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	byID := make(map[uuid.UUID]*Account, len(accounts))
	balances := make(map[uuid.UUID]decimal.Decimal, len(accounts))
	for _, acct := range accounts {
		byID[acct.ID] = acct
		balances[acct.ID] = decimal.Zero
	}
	for _, txn := range txns {
		for _, ln := range txn.Lines {
			acct, ok := byID[ln.AccountID]
			if !ok {
				return nil, fmt.Errorf("transaction %s references unknown account %s", txn.ID, ln.AccountID)
			}
			balances[ln.AccountID] = balances[ln.AccountID].Add(balanceDelta(acct, ln))
		}
	}

	tb := &TrialBalance{TenantID: tenantID, AsOf: asOf}
	for _, acct := range accounts {
		tb.Lines = append(tb.Lines, TrialBalanceLine{
			AccountID: acct.ID,
			Code:      acct.Code,
			Type:      acct.Type,
			Balance:   balances[acct.ID],
		})
	}
	sort.Slice(tb.Lines, func(i, j int) bool { return tb.Lines[i].Code < tb.Lines[j].Code })

	pairs := make([]any, 0, len(tb.Lines))
	for _, ln := range tb.Lines {
		pairs = append(pairs, map[string]any{
			"account_id": ln.AccountID.String(),
			"balance":    ln.Balance.StringFixed(2),
		})
	}
	hash, err := integrity.Hash(pairs)
	if err != nil {
		return nil, fmt.Errorf("hash trial balance: %w", err)
	}
	tb.IntegrityHash = hash
	return tb, nil
}

// validateLines checks line shape, account ownership and activity, and the
// double-entry invariant, and returns the per-account balance deltas the
// commit must apply. External reads happen here, before any lock is taken.
func (e *Engine) validateLines(ctx context.Context, tenantID string, lines []Line) (map[uuid.UUID]decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}

	debits, credits := decimal.Zero, decimal.Zero
	deltas := make(map[uuid.UUID]decimal.Decimal)
	for _, ln := range lines {
		if !ln.Amount.IsPositive() {
			return nil, ErrNonPositiveAmount
		}
		if ln.Amount.Exponent() < -2 {
			return nil, ErrAmountScale
		}
		if ln.Side != Debit && ln.Side != Credit {
			return nil, fmt.Errorf("invalid line side %q", ln.Side)
		}

		acct, err := e.store.GetAccount(ctx, ln.AccountID)
		if err != nil {
			return nil, err
		}
		if acct.TenantID != tenantID {
			return nil, ErrCrossTenantReference
		}
		if !acct.Active {
			return nil, ErrInactiveAccount
		}

		if ln.Side == Debit {
			debits = debits.Add(ln.Amount)
		} else {
			credits = credits.Add(ln.Amount)
		}
		deltas[ln.AccountID] = deltas[ln.AccountID].Add(balanceDelta(acct, ln))
	}

	// Exact equality, no rounding tolerance.
	if !debits.Equal(credits) {
		return nil, &UnbalancedEntryError{Debits: debits, Credits: credits}
	}
	return deltas, nil
}
