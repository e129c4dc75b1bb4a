package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresStore persists the ledger to PostgreSQL. It implements Store.
//
// Commit-time serialization uses a transaction-scoped advisory lock keyed on
// the (tenant, period) pair, so the period-lock check and the row writes are
// linearizable per key across every process sharing the database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// advisoryKey derives a stable 64-bit advisory lock key for a
// tenant-period serialization scope.
func advisoryKey(tenantID string, p Period) int64 {
	h := fnv.New64a()
	h.Write([]byte(p.Key(tenantID)))
	return int64(h.Sum64())
}

// CreateAccount implements Store.
func (s *PostgresStore) CreateAccount(ctx context.Context, acct *Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, tenant_id, code, name, type, balance, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		acct.ID, acct.TenantID, acct.Code, acct.Name, string(acct.Type),
		acct.Balance.String(), acct.Active, acct.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount implements Store.
func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, code, name, type, balance, active, created_at
		 FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// AccountsByTenant implements Store.
func (s *PostgresStore) AccountsByTenant(ctx context.Context, tenantID string) ([]*Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, code, name, type, balance, active, created_at
		 FROM accounts WHERE tenant_id = $1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acct    Account
		typ     string
		balance string
	)
	err := row.Scan(&acct.ID, &acct.TenantID, &acct.Code, &acct.Name,
		&typ, &balance, &acct.Active, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	acct.Type = AccountType(typ)
	acct.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &acct, nil
}

// GetTransaction implements Store.
func (s *PostgresStore) GetTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, period, status, reversal_of, posted_at
		 FROM transactions WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	txn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// TransactionsAsOf implements Store.
func (s *PostgresStore) TransactionsAsOf(ctx context.Context, tenantID string, asOf time.Time) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, period, status, reversal_of, posted_at
		 FROM transactions WHERE tenant_id = $1 AND posted_at <= $2
		 ORDER BY posted_at, id`, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, txn := range out {
		if err := s.loadLines(ctx, txn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		txn       Transaction
		periodStr string
		status    string
	)
	err := row.Scan(&txn.ID, &txn.TenantID, &periodStr, &status,
		&txn.ReversalOf, &txn.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	txn.Status = TransactionStatus(status)
	txn.Period, err = ParsePeriod(periodStr)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *PostgresStore) loadLines(ctx context.Context, txn *Transaction) error {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, amount, side FROM transaction_lines
		 WHERE transaction_id = $1 ORDER BY idx`, txn.ID)
	if err != nil {
		return fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ln     Line
			amount string
			side   string
		)
		if err := rows.Scan(&ln.AccountID, &amount, &side); err != nil {
			return fmt.Errorf("scan line: %w", err)
		}
		ln.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parse amount: %w", err)
		}
		ln.Side = Side(side)
		txn.Lines = append(txn.Lines, ln)
	}
	return rows.Err()
}

// ReversalOf implements Store.
func (s *PostgresStore) ReversalOf(ctx context.Context, tenantID string, originalID uuid.UUID) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM transactions WHERE tenant_id = $1 AND reversal_of = $2`,
		tenantID, originalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("query reversal: %w", err)
	}
	return id, true, nil
}

// IsPeriodLocked implements Store.
func (s *PostgresStore) IsPeriodLocked(ctx context.Context, tenantID string, p Period) (bool, error) {
	var locked bool
	err := s.pool.QueryRow(ctx,
		`SELECT locked FROM period_locks WHERE tenant_id = $1 AND period = $2`,
		tenantID, p.String()).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query period lock: %w", err)
	}
	return locked, nil
}

// SetPeriodLock implements Store. Serialized against concurrent commits for
// the same (tenant, period) via the advisory lock.
func (s *PostgresStore) SetPeriodLock(ctx context.Context, tenantID string, p Period, locked bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(tenantID, p)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO period_locks (tenant_id, period, locked)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, period) DO UPDATE SET locked = EXCLUDED.locked`,
		tenantID, p.String(), locked); err != nil {
		return fmt.Errorf("upsert period lock: %w", err)
	}
	return tx.Commit(ctx)
}

// Commit implements Store. It re-checks the period lock and the original's
// void status inside one serialized database transaction; the commit
// boundary is atomic, so a cancellation mid-commit leaves no partial lines
// visible.
func (s *PostgresStore) Commit(ctx context.Context, txn *Transaction, deltas map[uuid.UUID]decimal.Decimal, voidOf *uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(txn.TenantID, txn.Period)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var locked bool
	err = tx.QueryRow(ctx,
		`SELECT locked FROM period_locks WHERE tenant_id = $1 AND period = $2`,
		txn.TenantID, txn.Period.String()).Scan(&locked)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check period lock: %w", err)
	}
	if locked {
		return ErrPeriodLocked
	}

	if voidOf != nil {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM transactions WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
			*voidOf, txn.TenantID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock original: %w", err)
		}
		if TransactionStatus(status) == StatusVoid {
			return ErrAlreadyVoid
		}
	}

	var reversalOf any
	if txn.ReversalOf != nil {
		reversalOf = *txn.ReversalOf
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, tenant_id, period, status, reversal_of, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.ID, txn.TenantID, txn.Period.String(), string(txn.Status),
		reversalOf, txn.PostedAt); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	for i, ln := range txn.Lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transaction_lines (transaction_id, idx, account_id, amount, side)
			 VALUES ($1, $2, $3, $4, $5)`,
			txn.ID, i, ln.AccountID, ln.Amount.String(), string(ln.Side)); err != nil {
			return fmt.Errorf("insert line %d: %w", i, err)
		}
	}
	for id, delta := range deltas {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = balance + $1 WHERE id = $2`,
			delta.String(), id)
		if err != nil {
			return fmt.Errorf("apply balance delta: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	if voidOf != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = $1 WHERE id = $2`,
			string(StatusVoid), *voidOf); err != nil {
			return fmt.Errorf("mark original void: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	s.logger.Debug("transaction committed",
		zap.String("tenant", txn.TenantID),
		zap.String("transaction_id", txn.ID.String()),
	)
	return nil
}
