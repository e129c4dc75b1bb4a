package auditchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fernbooks/ledgercore/internal/clock"
	"github.com/fernbooks/ledgercore/internal/integrity"
)

// MemoryChain is an in-memory, thread-safe Chain implementation.
type MemoryChain struct {
	mu      sync.RWMutex
	clk     clock.Clock
	entries []*Entry
}

// New creates a MemoryChain initialised with the canonical genesis entry
// at index 0. Pass a fake clock for deterministic entries in tests.
func New(clk clock.Clock) *MemoryChain {
	if clk == nil {
		clk = clock.System()
	}
	c := &MemoryChain{clk: clk}
	genesis := &Entry{
		Index:       0,
		Timestamp:   clk.Now().Truncate(time.Microsecond),
		Action:      ActionGenesis,
		Actor:       "ledgercore-system",
		ContentHash: GenesisHash,
		PrevHash:    GenesisHash,
		Hash:        GenesisHash, // genesis hash is the well-known constant, not computed
	}
	c.entries = append(c.entries, genesis)
	return c
}

// Append implements Chain. Timestamps are stamped at microsecond precision
// to match what a timestamptz column preserves, so entries hash identically
// after a round trip through either backend.
func (c *MemoryChain) Append(_ context.Context, action Action, actor string, content map[string]any) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	contentHash, err := integrity.Hash(content)
	if err != nil {
		return nil, fmt.Errorf("hash content: %w", err)
	}

	prev := c.entries[len(c.entries)-1]
	entry := copyEntry(&Entry{
		Index:       len(c.entries),
		Timestamp:   c.clk.Now().Truncate(time.Microsecond),
		Action:      action,
		Actor:       actor,
		Content:     content,
		ContentHash: contentHash,
		PrevHash:    prev.Hash,
	})
	entry.Hash, err = hashEntry(entry)
	if err != nil {
		return nil, err
	}
	c.entries = append(c.entries, entry)
	return copyEntry(entry), nil
}

// Get implements Chain.
func (c *MemoryChain) Get(_ context.Context, index int) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return copyEntry(c.entries[index]), nil
}

// List implements Chain.
func (c *MemoryChain) List(_ context.Context, offset, limit int) ([]*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if offset < 0 || offset > len(c.entries) {
		return nil, fmt.Errorf("offset %d out of range", offset)
	}
	end := offset + limit
	if limit <= 0 || end > len(c.entries) {
		end = len(c.entries)
	}
	out := make([]*Entry, end-offset)
	for i, e := range c.entries[offset:end] {
		out[i] = copyEntry(e)
	}
	return out, nil
}

// Len implements Chain.
func (c *MemoryChain) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

// Root implements Chain.
func (c *MemoryChain) Root(_ context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[len(c.entries)-1].Hash, nil
}

// Verify implements Chain.
func (c *MemoryChain) Verify(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return VerifyEntries(c.entries)
}

// copyEntry returns a detached copy so callers cannot mutate the stored
// chain through returned entries.
func copyEntry(e *Entry) *Entry {
	out := *e
	if e.Content != nil {
		out.Content = make(map[string]any, len(e.Content))
		for k, v := range e.Content {
			out.Content[k] = v
		}
	}
	return &out
}
