package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence interface for the ledger engine. Both MemoryStore
// and PostgresStore implement this interface.
//
// Commit is the atomicity boundary: it must persist the transaction and its
// lines, apply the balance deltas, and (for reversals) mark the original
// void, all or nothing. It must also re-check the period lock and void
// status under its own serialization so no transaction is accepted after a
// lock is recorded as applied, even across processes.
type Store interface {
	CreateAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	AccountsByTenant(ctx context.Context, tenantID string) ([]*Account, error)

	GetTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*Transaction, error)

	// TransactionsAsOf returns every transaction committed for the tenant
	// with PostedAt <= asOf, in commit order. Reversal pairs are both
	// included; marking a transaction void never rewinds its balance
	// effect, the reversal compensates for it.
	TransactionsAsOf(ctx context.Context, tenantID string, asOf time.Time) ([]*Transaction, error)

	// ReversalOf is the derived reverse-lookup index from an original
	// transaction to the reversal that voided it.
	ReversalOf(ctx context.Context, tenantID string, originalID uuid.UUID) (uuid.UUID, bool, error)

	IsPeriodLocked(ctx context.Context, tenantID string, p Period) (bool, error)
	SetPeriodLock(ctx context.Context, tenantID string, p Period, locked bool) error

	Commit(ctx context.Context, txn *Transaction, deltas map[uuid.UUID]decimal.Decimal, voidOf *uuid.UUID) error
}
