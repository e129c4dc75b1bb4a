package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType classifies an account for normal-balance purposes.
type AccountType string

const (
	TypeAsset     AccountType = "asset"
	TypeLiability AccountType = "liability"
	TypeEquity    AccountType = "equity"
	TypeRevenue   AccountType = "revenue"
	TypeExpense   AccountType = "expense"
)

// Side is the debit/credit designation of a line.
type Side string

const (
	Debit  Side = "debit"
	Credit Side = "credit"
)

// Opposite returns the mirrored side, used when building reversals.
func (s Side) Opposite() Side {
	if s == Debit {
		return Credit
	}
	return Debit
}

// Account is a tenant-scoped ledger account. Its balance is denormalized and
// mutated only through committed transactions.
type Account struct {
	ID       uuid.UUID       `json:"id"`
	TenantID string          `json:"tenant_id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Type     AccountType     `json:"type"`
	Balance  decimal.Decimal `json:"balance"`
	Active   bool            `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// normalSide returns the side on which this account type accumulates.
// Asset and expense accounts grow on debit; the rest grow on credit.
func (a *Account) normalSide() Side {
	switch a.Type {
	case TypeAsset, TypeExpense:
		return Debit
	default:
		return Credit
	}
}

// Period identifies one accounting month for a tenant.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// ParsePeriod parses "YYYY-MM" into a Period.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Key returns the serialization key for a (tenant, period) pair.
func (p Period) Key(tenantID string) string {
	return tenantID + "|" + p.String()
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPosted TransactionStatus = "posted"
	StatusVoid   TransactionStatus = "void"
)

// Line is a single debit or credit against one account. Amount is always
// positive; direction is carried by Side.
type Line struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Side      Side            `json:"side"`
}

// Transaction is an immutable double-entry posting. Corrections never mutate
// a committed transaction; they post a reversal that references it.
type Transaction struct {
	ID       uuid.UUID         `json:"id"`
	TenantID string            `json:"tenant_id"`
	Period   Period            `json:"period"`
	Status   TransactionStatus `json:"status"`
	Lines    []Line            `json:"lines"`

	// ReversalOf is set on reversal transactions and points at the voided
	// original. The original never points forward; the reverse lookup is a
	// derived index maintained by the store.
	ReversalOf *uuid.UUID `json:"reversal_of,omitempty"`

	PostedAt time.Time `json:"posted_at"`
}

// TrialBalanceLine is one (account, balance) pair in a trial balance.
type TrialBalanceLine struct {
	AccountID uuid.UUID       `json:"account_id"`
	Code      string          `json:"code"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
}

// TrialBalance is a derived, read-only snapshot of account balances for a
// tenant as of a point in time, with an integrity hash over the canonical
// (account id, balance) set sorted by account code.
type TrialBalance struct {
	TenantID      string             `json:"tenant_id"`
	AsOf          time.Time          `json:"as_of"`
	Lines         []TrialBalanceLine `json:"lines"`
	IntegrityHash string             `json:"integrity_hash"`
}

// balanceDelta is the signed effect of one line on its account's
// denormalized balance: positive when the line side matches the account's
// normal side.
func balanceDelta(acct *Account, ln Line) decimal.Decimal {
	if ln.Side == acct.normalSide() {
		return ln.Amount
	}
	return ln.Amount.Neg()
}
