package auditchain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fernbooks/ledgercore/internal/auditchain"
	"github.com/fernbooks/ledgercore/internal/clock"
)

var ctx = context.Background()

func newChain() *auditchain.MemoryChain {
	return auditchain.New(clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNew_genesisEntry(t *testing.T) {
	c := newChain()

	n, err := c.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := c.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != auditchain.ActionGenesis {
		t.Errorf("expected genesis action, got %q", entry.Action)
	}
	if entry.Hash != auditchain.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	c := newChain()

	e1, err := c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.4.2"})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := c.Append(ctx, auditchain.ActionRollback, "oncall@fernbooks.io", map[string]any{"to": "1.4.1"})
	if err != nil {
		t.Fatal(err)
	}

	if e1.PrevHash != auditchain.GenesisHash {
		t.Errorf("e1.PrevHash: got %q, want GenesisHash", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}

	n, _ := c.Len(ctx)
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestAppend_contentOrderInvariant(t *testing.T) {
	a := newChain()
	b := newChain()

	e1, _ := a.Append(ctx, auditchain.ActionConfigChange, "ops", map[string]any{"key": "shed_threshold", "value": 0.8})
	e2, _ := b.Append(ctx, auditchain.ActionConfigChange, "ops", map[string]any{"value": 0.8, "key": "shed_threshold"})

	if e1.ContentHash != e2.ContentHash {
		t.Errorf("content hash depends on construction order: %q vs %q", e1.ContentHash, e2.ContentHash)
	}
}

func TestVerify_valid(t *testing.T) {
	c := newChain()
	_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.0"})
	_, _ = c.Append(ctx, auditchain.ActionPeriodLock, "controller@fernbooks.io", map[string]any{"tenant": "t1", "period": "2025-01"})

	if err := c.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestVerifyEntries_detectsContentTampering(t *testing.T) {
	c := newChain()
	_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.0"})
	_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.1"})

	entries, err := c.List(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Alter content after append, leaving hash and prev_hash untouched.
	entries[1].Content["version"] = "9.9.9"

	if err := auditchain.VerifyEntries(entries); !errors.Is(err, auditchain.ErrChainCompromised) {
		t.Errorf("got %v, want ErrChainCompromised", err)
	}
}

func TestVerifyEntries_detectsLinkageTampering(t *testing.T) {
	c := newChain()
	_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.0"})
	_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.1"})

	entries, _ := c.List(ctx, 0, 0)
	entries[2].PrevHash = auditchain.GenesisHash

	if err := auditchain.VerifyEntries(entries); !errors.Is(err, auditchain.ErrChainCompromised) {
		t.Errorf("got %v, want ErrChainCompromised", err)
	}
}

func TestVerifyEntries_genesisOnly(t *testing.T) {
	c := newChain()
	entries, _ := c.List(ctx, 0, 0)
	if err := auditchain.VerifyEntries(entries); err != nil {
		t.Errorf("genesis-only chain should verify: %v", err)
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	c := newChain()
	e, _ := c.Append(ctx, auditchain.ActionKillSwitchSet, "oncall@fernbooks.io", nil)

	root, err := c.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}

func TestAppend_concurrentSerialized(t *testing.T) {
	c := auditchain.New(clock.System())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"n": 1})
		}()
	}
	wg.Wait()

	n, _ := c.Len(ctx)
	if n != 51 {
		t.Errorf("expected 51 entries, got %d", n)
	}
	if err := c.Verify(ctx); err != nil {
		t.Errorf("chain invalid after concurrent appends: %v", err)
	}
}

func TestList_pagination(t *testing.T) {
	c := newChain()
	for i := 0; i < 5; i++ {
		_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"n": i})
	}

	page, err := c.List(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Index != 2 || page[1].Index != 3 {
		t.Errorf("List(2,2): got %d entries starting at %d", len(page), page[0].Index)
	}
}

func TestVerifyEntries_survivesMicrosecondStorage(t *testing.T) {
	// A timestamptz column keeps microsecond precision, so a chain read
	// back from PostgreSQL must still verify even when the clock ticks
	// in nanoseconds.
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 123456789, time.UTC))
	c := auditchain.New(clk)
	e, err := c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Timestamp.Nanosecond()%1000 != 0 {
		t.Errorf("timestamp stamped with sub-microsecond precision: %v", e.Timestamp)
	}

	entries, err := c.List(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		e.Timestamp = e.Timestamp.Truncate(time.Microsecond)
	}
	if err := auditchain.VerifyEntries(entries); err != nil {
		t.Errorf("chain invalid after storage round trip: %v", err)
	}
}

func TestGet_returnsDetachedCopy(t *testing.T) {
	c := newChain()
	_, _ = c.Append(ctx, auditchain.ActionDeploy, "release-bot", map[string]any{"version": "1.0.0"})

	got, err := c.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	got.Content["version"] = "9.9.9"
	got.PrevHash = "tampered"

	if err := c.Verify(ctx); err != nil {
		t.Errorf("mutating a returned entry corrupted the chain: %v", err)
	}
	fresh, _ := c.Get(ctx, 1)
	if fresh.Content["version"] != "1.0.0" {
		t.Errorf("stored content changed: got %v", fresh.Content["version"])
	}
}

func TestList_returnsDetachedCopies(t *testing.T) {
	c := newChain()
	_, _ = c.Append(ctx, auditchain.ActionConfigChange, "oncall@fernbooks.io", map[string]any{"key": "shed_fraction"})

	entries, err := c.List(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	entries[1].Content["key"] = "tampered"

	if err := c.Verify(ctx); err != nil {
		t.Errorf("mutating a listed entry corrupted the chain: %v", err)
	}
}
