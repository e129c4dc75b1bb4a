package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fernbooks/ledgercore/internal/clock"
	"github.com/fernbooks/ledgercore/internal/ledger"
)

var ctx = context.Background()

func newTestEngine(t *testing.T) (*ledger.Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC))
	return ledger.NewEngine(ledger.NewMemoryStore(), clk, nil), clk
}

func mustAccount(t *testing.T, e *ledger.Engine, tenant, code string, typ ledger.AccountType) *ledger.Account {
	t.Helper()
	acct, err := e.CreateAccount(ctx, tenant, code, code, typ)
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", code, err)
	}
	return acct
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustPeriod(t *testing.T, s string) ledger.Period {
	t.Helper()
	p, err := ledger.ParsePeriod(s)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func balanceOf(t *testing.T, e *ledger.Engine, tenant string, id uuid.UUID, asOf time.Time) decimal.Decimal {
	t.Helper()
	tb, err := e.TrialBalance(ctx, tenant, asOf)
	if err != nil {
		t.Fatalf("TrialBalance: %v", err)
	}
	for _, ln := range tb.Lines {
		if ln.AccountID == id {
			return ln.Balance
		}
	}
	t.Fatalf("account %s not in trial balance", id)
	return decimal.Zero
}

func TestPostTransaction_balanced(t *testing.T) {
	e, clk := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	txn, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("100.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("100.00"), Side: ledger.Credit},
	})
	if err != nil {
		t.Fatalf("PostTransaction: %v", err)
	}
	if txn.Status != ledger.StatusPosted {
		t.Errorf("status: got %q, want %q", txn.Status, ledger.StatusPosted)
	}

	if got := balanceOf(t, e, "t1", cash.ID, clk.Now()); !got.Equal(amount("100.00")) {
		t.Errorf("cash balance: got %s, want 100.00", got)
	}
	if got := balanceOf(t, e, "t1", revenue.ID, clk.Now()); !got.Equal(amount("100.00")) {
		t.Errorf("revenue balance: got %s, want 100.00", got)
	}
}

func TestPostTransaction_unbalanced(t *testing.T) {
	e, clk := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	_, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("100.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("90.00"), Side: ledger.Credit},
	})
	var ub *ledger.UnbalancedEntryError
	if !errors.As(err, &ub) {
		t.Fatalf("got err %v, want UnbalancedEntryError", err)
	}
	if !ub.Debits.Equal(amount("100.00")) || !ub.Credits.Equal(amount("90.00")) {
		t.Errorf("totals: got %s/%s, want 100.00/90.00", ub.Debits, ub.Credits)
	}

	// No partial mutation on the failure path.
	if got := balanceOf(t, e, "t1", cash.ID, clk.Now()); !got.IsZero() {
		t.Errorf("cash balance after failed post: got %s, want 0", got)
	}
}

func TestPostTransaction_crossTenant(t *testing.T) {
	e, _ := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	other := mustAccount(t, e, "t2", "4000", ledger.TypeRevenue)

	_, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("50.00"), Side: ledger.Debit},
		{AccountID: other.ID, Amount: amount("50.00"), Side: ledger.Credit},
	})
	if !errors.Is(err, ledger.ErrCrossTenantReference) {
		t.Errorf("got err %v, want ErrCrossTenantReference", err)
	}
}

func TestPostTransaction_lineValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)
	p := mustPeriod(t, "2025-01")

	_, err := e.PostTransaction(ctx, "t1", p, nil)
	if !errors.Is(err, ledger.ErrNoLines) {
		t.Errorf("empty lines: got %v, want ErrNoLines", err)
	}

	_, err = e.PostTransaction(ctx, "t1", p, []ledger.Line{
		{AccountID: cash.ID, Amount: amount("-5.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("-5.00"), Side: ledger.Credit},
	})
	if !errors.Is(err, ledger.ErrNonPositiveAmount) {
		t.Errorf("negative amount: got %v, want ErrNonPositiveAmount", err)
	}

	_, err = e.PostTransaction(ctx, "t1", p, []ledger.Line{
		{AccountID: cash.ID, Amount: amount("0.001"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("0.001"), Side: ledger.Credit},
	})
	if !errors.Is(err, ledger.ErrAmountScale) {
		t.Errorf("sub-cent amount: got %v, want ErrAmountScale", err)
	}
}

func TestLockPeriod_rejectsSubsequentPosts(t *testing.T) {
	e, _ := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)
	p := mustPeriod(t, "2025-01")

	if err := e.LockPeriod(ctx, "t1", p); err != nil {
		t.Fatalf("LockPeriod: %v", err)
	}
	_, err := e.PostTransaction(ctx, "t1", p, []ledger.Line{
		{AccountID: cash.ID, Amount: amount("10.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("10.00"), Side: ledger.Credit},
	})
	if !errors.Is(err, ledger.ErrPeriodLocked) {
		t.Errorf("got err %v, want ErrPeriodLocked", err)
	}
}

func TestLockPeriod_idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	p := mustPeriod(t, "2025-01")
	for i := 0; i < 3; i++ {
		if err := e.LockPeriod(ctx, "t1", p); err != nil {
			t.Fatalf("LockPeriod call %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := e.UnlockPeriod(ctx, "t1", p); err != nil {
			t.Fatalf("UnlockPeriod call %d: %v", i, err)
		}
	}
}

func TestLockPeriod_otherPeriodsUnaffected(t *testing.T) {
	e, _ := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	if err := e.LockPeriod(ctx, "t1", mustPeriod(t, "2025-01")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-02"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("10.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("10.00"), Side: ledger.Credit},
	}); err != nil {
		t.Errorf("post into open period after locking another: %v", err)
	}
}

// TestLockPeriod_racingPosts hammers concurrent posts against a concurrent
// lock. Every post must either commit before the lock or fail with
// ErrPeriodLocked; none may slip in after the lock is applied.
func TestLockPeriod_racingPosts(t *testing.T) {
	e, _ := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)
	p := mustPeriod(t, "2025-01")

	const posters = 32
	var wg sync.WaitGroup
	results := make([]error, posters)
	start := make(chan struct{})

	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = e.PostTransaction(ctx, "t1", p, []ledger.Line{
				{AccountID: cash.ID, Amount: amount("1.00"), Side: ledger.Debit},
				{AccountID: revenue.ID, Amount: amount("1.00"), Side: ledger.Credit},
			})
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		if err := e.LockPeriod(ctx, "t1", p); err != nil {
			t.Errorf("LockPeriod: %v", err)
		}
	}()

	close(start)
	wg.Wait()

	committed := 0
	for i, err := range results {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, ledger.ErrPeriodLocked):
		default:
			t.Errorf("poster %d: unexpected error %v", i, err)
		}
	}

	// After the dust settles the lock is in place; nothing more may land.
	_, err := e.PostTransaction(ctx, "t1", p, []ledger.Line{
		{AccountID: cash.ID, Amount: amount("1.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("1.00"), Side: ledger.Credit},
	})
	if !errors.Is(err, ledger.ErrPeriodLocked) {
		t.Errorf("post after lock: got %v, want ErrPeriodLocked", err)
	}

	// Balance must equal exactly the committed count.
	want := decimal.NewFromInt(int64(committed))
	if got := balanceOf(t, e, "t1", cash.ID, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)); !got.Equal(want) {
		t.Errorf("cash balance: got %s, want %s", got, want)
	}
}

func TestVoidTransaction_reversalSemantics(t *testing.T) {
	e, clk := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	txn, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("100.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("100.00"), Side: ledger.Credit},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Move into February so the reversal posts into the open period.
	clk.Set(time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC))

	reversal, err := e.VoidTransaction(ctx, "t1", txn.ID)
	if err != nil {
		t.Fatalf("VoidTransaction: %v", err)
	}
	if reversal.Period.String() != "2025-02" {
		t.Errorf("reversal period: got %s, want 2025-02", reversal.Period)
	}
	if reversal.ReversalOf == nil || *reversal.ReversalOf != txn.ID {
		t.Error("reversal must back-reference the original")
	}
	if len(reversal.Lines) != len(txn.Lines) {
		t.Fatalf("reversal lines: got %d, want %d", len(reversal.Lines), len(txn.Lines))
	}
	for i, ln := range reversal.Lines {
		orig := txn.Lines[i]
		if ln.AccountID != orig.AccountID || !ln.Amount.Equal(orig.Amount) {
			t.Errorf("line %d: account/amount must be preserved", i)
		}
		if ln.Side != orig.Side.Opposite() {
			t.Errorf("line %d: side must be swapped, got %s", i, ln.Side)
		}
	}

	// Original is marked void but its lines stay queryable.
	got, err := e.GetTransaction(ctx, "t1", txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.StatusVoid {
		t.Errorf("original status: got %q, want void", got.Status)
	}
	if len(got.Lines) != 2 {
		t.Errorf("original lines after void: got %d, want 2", len(got.Lines))
	}

	// Derived reverse lookup.
	rev, ok, err := e.ReversalOf(ctx, "t1", txn.ID)
	if err != nil || !ok || rev != reversal.ID {
		t.Errorf("ReversalOf: got (%s, %v, %v), want (%s, true, nil)", rev, ok, err, reversal.ID)
	}

	// Net-zero effect of the pair.
	if got := balanceOf(t, e, "t1", cash.ID, clk.Now()); !got.IsZero() {
		t.Errorf("cash balance after void: got %s, want 0", got)
	}
	if got := balanceOf(t, e, "t1", revenue.ID, clk.Now()); !got.IsZero() {
		t.Errorf("revenue balance after void: got %s, want 0", got)
	}
}

func TestVoidTransaction_alreadyVoid(t *testing.T) {
	e, _ := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	txn, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("20.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("20.00"), Side: ledger.Credit},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.VoidTransaction(ctx, "t1", txn.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.VoidTransaction(ctx, "t1", txn.ID); !errors.Is(err, ledger.ErrAlreadyVoid) {
		t.Errorf("second void: got %v, want ErrAlreadyVoid", err)
	}
}

func TestVoidTransaction_currentPeriodLocked(t *testing.T) {
	e, clk := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	txn, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("20.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("20.00"), Side: ledger.Credit},
	})
	if err != nil {
		t.Fatal(err)
	}

	clk.Set(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))
	if err := e.LockPeriod(ctx, "t1", mustPeriod(t, "2025-02")); err != nil {
		t.Fatal(err)
	}

	// The reversal targets the current (February) period, which is locked.
	if _, err := e.VoidTransaction(ctx, "t1", txn.ID); !errors.Is(err, ledger.ErrPeriodLocked) {
		t.Errorf("got %v, want ErrPeriodLocked", err)
	}

	// The original must be untouched by the failed void.
	got, err := e.GetTransaction(ctx, "t1", txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.StatusPosted {
		t.Errorf("original status after failed void: got %q, want posted", got.Status)
	}
}

func TestTrialBalance_hashStable(t *testing.T) {
	e, clk := newTestEngine(t)
	cash := mustAccount(t, e, "t1", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "t1", "4000", ledger.TypeRevenue)

	if _, err := e.PostTransaction(ctx, "t1", mustPeriod(t, "2025-01"), []ledger.Line{
		{AccountID: cash.ID, Amount: amount("42.50"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("42.50"), Side: ledger.Credit},
	}); err != nil {
		t.Fatal(err)
	}

	asOf := clk.Now()
	first, err := e.TrialBalance(ctx, "t1", asOf)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.TrialBalance(ctx, "t1", asOf)
	if err != nil {
		t.Fatal(err)
	}
	if first.IntegrityHash == "" {
		t.Fatal("trial balance hash is empty")
	}
	if first.IntegrityHash != second.IntegrityHash {
		t.Errorf("hash not stable: %q vs %q", first.IntegrityHash, second.IntegrityHash)
	}
}

// TestScenario_postLockVoid walks the documented end-to-end flow: post in
// January, lock January, rejected post, void into February, net-zero pair.
func TestScenario_postLockVoid(t *testing.T) {
	e, clk := newTestEngine(t)
	cash := mustAccount(t, e, "tenant-a", "1000", ledger.TypeAsset)
	revenue := mustAccount(t, e, "tenant-a", "4000", ledger.TypeRevenue)
	jan := mustPeriod(t, "2025-01")

	txn, err := e.PostTransaction(ctx, "tenant-a", jan, []ledger.Line{
		{AccountID: cash.ID, Amount: amount("100.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("100.00"), Side: ledger.Credit},
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := balanceOf(t, e, "tenant-a", cash.ID, clk.Now()); !got.Equal(amount("100.00")) {
		t.Errorf("cash: got %s, want 100.00", got)
	}
	if got := balanceOf(t, e, "tenant-a", revenue.ID, clk.Now()); !got.Equal(amount("100.00")) {
		t.Errorf("revenue: got %s, want 100.00", got)
	}

	if err := e.LockPeriod(ctx, "tenant-a", jan); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := e.PostTransaction(ctx, "tenant-a", jan, []ledger.Line{
		{AccountID: cash.ID, Amount: amount("1.00"), Side: ledger.Debit},
		{AccountID: revenue.ID, Amount: amount("1.00"), Side: ledger.Credit},
	}); !errors.Is(err, ledger.ErrPeriodLocked) {
		t.Fatalf("post into locked period: got %v, want ErrPeriodLocked", err)
	}

	clk.Set(time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC))
	reversal, err := e.VoidTransaction(ctx, "tenant-a", txn.ID)
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if reversal.Period.String() != "2025-02" {
		t.Errorf("reversal period: got %s, want 2025-02", reversal.Period)
	}

	tb, err := e.TrialBalance(ctx, "tenant-a", clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	for _, ln := range tb.Lines {
		if !ln.Balance.IsZero() {
			t.Errorf("account %s: balance %s, want net-zero", ln.Code, ln.Balance)
		}
	}
}
