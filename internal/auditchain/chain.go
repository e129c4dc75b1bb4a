// Package auditchain implements the hash-chained, append-only log of
// operational actions: deploys, rollbacks, degradation-level changes,
// kill-switch flips, period locks, admission overrides.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry binds the canonical
// hash of its content to its predecessor's hash, making any tampering
// detectable by a linear scan. Entries live in a sequential append-only
// store, never a mutable linked structure.
//
// Two implementations of the Chain interface are provided:
//   - MemoryChain: in-process, for testing and single-node deployments.
//   - PostgresChain: durable, for production use.
package auditchain

import "context"

// Chain is the interface for the release audit chain.
type Chain interface {
	// Append adds a new entry chained to the previous one. content is
	// canonicalized and hashed; appends are serialized since each entry
	// depends on its predecessor's hash.
	Append(ctx context.Context, action Action, actor string, content map[string]any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// List returns entries [offset, offset+limit) in index order.
	List(ctx context.Context, offset, limit int) ([]*Entry, error)

	// Len returns the total number of entries (including genesis).
	Len(ctx context.Context) (int, error)

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error
}
