package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not require durable persistence across restarts.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*Account
	transactions map[uuid.UUID]*Transaction
	order        []uuid.UUID // commit order
	reversals    map[uuid.UUID]uuid.UUID
	periodLocks  map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[uuid.UUID]*Account),
		transactions: make(map[uuid.UUID]*Transaction),
		reversals:    make(map[uuid.UUID]uuid.UUID),
		periodLocks:  make(map[string]bool),
	}
}

// CreateAccount implements Store.
func (s *MemoryStore) CreateAccount(_ context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("account %s already exists", acct.ID)
	}
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}

// GetAccount implements Store.
func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// AccountsByTenant implements Store.
func (s *MemoryStore) AccountsByTenant(_ context.Context, tenantID string) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, acct := range s.accounts {
		if acct.TenantID == tenantID {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetTransaction implements Store.
func (s *MemoryStore) GetTransaction(_ context.Context, tenantID string, id uuid.UUID) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[id]
	if !ok || txn.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyTransaction(txn), nil
}

// TransactionsAsOf implements Store.
func (s *MemoryStore) TransactionsAsOf(_ context.Context, tenantID string, asOf time.Time) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, id := range s.order {
		txn := s.transactions[id]
		if txn.TenantID == tenantID && !txn.PostedAt.After(asOf) {
			out = append(out, copyTransaction(txn))
		}
	}
	return out, nil
}

// ReversalOf implements Store.
func (s *MemoryStore) ReversalOf(_ context.Context, tenantID string, originalID uuid.UUID) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.reversals[originalID]
	if !ok {
		return uuid.Nil, false, nil
	}
	if txn := s.transactions[originalID]; txn == nil || txn.TenantID != tenantID {
		return uuid.Nil, false, nil
	}
	return rev, true, nil
}

// IsPeriodLocked implements Store.
func (s *MemoryStore) IsPeriodLocked(_ context.Context, tenantID string, p Period) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.periodLocks[p.Key(tenantID)], nil
}

// SetPeriodLock implements Store. Locking an already-locked period (or
// unlocking an open one) is a no-op.
func (s *MemoryStore) SetPeriodLock(_ context.Context, tenantID string, p Period, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if locked {
		s.periodLocks[p.Key(tenantID)] = true
	} else {
		delete(s.periodLocks, p.Key(tenantID))
	}
	return nil
}

// Commit implements Store. The period lock and void status are re-checked
// under the store mutex so the commit boundary is the final authority.
func (s *MemoryStore) Commit(_ context.Context, txn *Transaction, deltas map[uuid.UUID]decimal.Decimal, voidOf *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.periodLocks[txn.Period.Key(txn.TenantID)] {
		return ErrPeriodLocked
	}

	var original *Transaction
	if voidOf != nil {
		original = s.transactions[*voidOf]
		if original == nil || original.TenantID != txn.TenantID {
			return ErrNotFound
		}
		if original.Status == StatusVoid {
			return ErrAlreadyVoid
		}
	}
	for id := range deltas {
		if _, ok := s.accounts[id]; !ok {
			return ErrNotFound
		}
	}

	// Past the checks nothing can fail: apply everything.
	s.transactions[txn.ID] = copyTransaction(txn)
	s.order = append(s.order, txn.ID)
	for id, delta := range deltas {
		acct := s.accounts[id]
		acct.Balance = acct.Balance.Add(delta)
	}
	if original != nil {
		original.Status = StatusVoid
		s.reversals[original.ID] = txn.ID
	}
	return nil
}

func copyTransaction(t *Transaction) *Transaction {
	cp := *t
	cp.Lines = make([]Line, len(t.Lines))
	copy(cp.Lines, t.Lines)
	if t.ReversalOf != nil {
		id := *t.ReversalOf
		cp.ReversalOf = &id
	}
	return &cp
}
