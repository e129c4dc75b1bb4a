package auditchain

import (
	"errors"
	"fmt"
	"time"

	"github.com/fernbooks/ledgercore/internal/integrity"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// It is the trust anchor of the chain; all subsequent entry hashes chain
// from this constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action classifies the operational event an entry records.
type Action string

const (
	ActionGenesis           Action = "genesis"
	ActionDeploy            Action = "deploy"
	ActionRollback          Action = "rollback"
	ActionConfigChange      Action = "config-change"
	ActionDegradationChange Action = "degradation-change"
	ActionKillSwitchSet     Action = "killswitch-set"
	ActionKillSwitchCleared Action = "killswitch-cleared"
	ActionPeriodLock        Action = "period-lock"
	ActionPeriodUnlock      Action = "period-unlock"
	ActionAdmissionOverride Action = "admission-override"
)

// ErrChainCompromised wraps every verification failure. A mismatch means
// tampering, not a transient fault; it is reported, never retried.
var ErrChainCompromised = errors.New("audit chain compromised")

// Entry is a single record in the release audit chain. Entries are
// append-only; no operation modifies or removes a prior entry.
type Entry struct {
	Index       int            `json:"index"`
	Timestamp   time.Time      `json:"timestamp"`
	Action      Action         `json:"action"`
	Actor       string         `json:"actor"`
	Content     map[string]any `json:"content"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

// hashEntry computes the deterministic digest of an entry: the canonical
// content hash bound to the previous entry's hash along with the entry's
// own metadata. Must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) (string, error) {
	return integrity.Hash(map[string]any{
		"index":        e.Index,
		"timestamp":    e.Timestamp.UTC().Format(time.RFC3339Nano),
		"action":       string(e.Action),
		"actor":        e.Actor,
		"content_hash": e.ContentHash,
		"prev_hash":    e.PrevHash,
	})
}

// VerifyEntries recomputes every hash in a detached slice of entries and
// confirms linkage, starting from the genesis entry. Any mismatch — altered
// content included, even when the stored hash fields were left untouched —
// returns an error wrapping ErrChainCompromised.
func VerifyEntries(entries []*Entry) error {
	for i, curr := range entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("%w: genesis entry has wrong hash %q", ErrChainCompromised, curr.Hash)
			}
			continue
		}

		prev := entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("%w: linkage broken at index %d", ErrChainCompromised, curr.Index)
		}

		contentHash, err := integrity.Hash(curr.Content)
		if err != nil {
			return fmt.Errorf("%w: entry %d content unhashable: %v", ErrChainCompromised, curr.Index, err)
		}
		if contentHash != curr.ContentHash {
			return fmt.Errorf("%w: entry %d content altered", ErrChainCompromised, curr.Index)
		}

		want, err := hashEntry(curr)
		if err != nil {
			return fmt.Errorf("%w: entry %d unhashable: %v", ErrChainCompromised, curr.Index, err)
		}
		if curr.Hash != want {
			return fmt.Errorf("%w: entry %d has invalid hash", ErrChainCompromised, curr.Index)
		}
	}
	return nil
}
