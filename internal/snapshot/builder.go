// Package snapshot assembles point-in-time compliance snapshots: version
// metadata, permission-registry counts, admission capacity and state, and
// readiness-gate results, sealed with an integrity hash over the canonical
// payload. A snapshot is immutable once produced; a new build is a new
// object, never an edit.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/admission"
	"github.com/fernbooks/ledgercore/internal/auditchain"
	"github.com/fernbooks/ledgercore/internal/clock"
	"github.com/fernbooks/ledgercore/internal/integrity"
)

// Environment is deploy/version metadata captured into every snapshot.
type Environment struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Environment string `json:"environment"`
}

// PermissionCounts summarises the external permission/role registry.
type PermissionCounts struct {
	Roles       int `json:"roles"`
	Permissions int `json:"permissions"`
	Assignments int `json:"assignments"`
}

// PermissionRegistry is the external role registry collaborator.
type PermissionRegistry interface {
	Counts(ctx context.Context) (PermissionCounts, error)
}

// ReadinessGate is an optional externally-defined readiness check.
type ReadinessGate interface {
	Name() string
	Check(ctx context.Context) error
}

// GateResult records one readiness-gate outcome.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// AdmissionView is the read-only slice of admission state a snapshot
// captures. *admission.Controller satisfies this interface.
type AdmissionView interface {
	Level() admission.DegradationLevel
	KillSwitch() bool
	Capacity() admission.Capacity
}

// Snapshot is the immutable compliance aggregate.
type Snapshot struct {
	TakenAt          time.Time          `json:"taken_at"`
	Environment      Environment        `json:"environment"`
	Permissions      PermissionCounts   `json:"permissions"`
	MaxInFlight      int                `json:"max_in_flight"`
	MaxErrorRate     float64            `json:"max_error_rate"`
	ShedFraction     map[string]float64 `json:"shed_fraction"`
	KillSwitch       bool               `json:"kill_switch"`
	DegradationLevel string             `json:"degradation_level"`
	ChainLength      int                `json:"chain_length"`
	ChainRoot        string             `json:"chain_root"`
	Gates            []GateResult       `json:"gates,omitempty"`
	IntegrityHash    string             `json:"integrity_hash"`
}

// Builder aggregates snapshot inputs. All collaborators are injected; the
// clock decides TakenAt, so builds are deterministic under a fake clock.
type Builder struct {
	env      Environment
	registry PermissionRegistry
	adm      AdmissionView
	chain    auditchain.Chain
	gates    []ReadinessGate
	clk      clock.Clock
	logger   *zap.Logger
}

// NewBuilder creates a Builder. registry, chain, and gates may be nil/empty
// when those inputs are unavailable.
func NewBuilder(env Environment, registry PermissionRegistry, adm AdmissionView, chain auditchain.Chain, gates []ReadinessGate, clk clock.Clock, logger *zap.Logger) *Builder {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		env:      env,
		registry: registry,
		adm:      adm,
		chain:    chain,
		gates:    gates,
		clk:      clk,
		logger:   logger,
	}
}

// Build produces a snapshot of the current state. The integrity hash covers
// the canonical serialization of the whole payload excluding the hash field
// itself; identical underlying state and clock yield an identical hash.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		TakenAt:          b.clk.Now(),
		Environment:      b.env,
		KillSwitch:       b.adm.KillSwitch(),
		DegradationLevel: b.adm.Level().String(),
	}

	capacity := b.adm.Capacity()
	snap.MaxInFlight = capacity.MaxInFlight
	snap.MaxErrorRate = capacity.MaxErrorRate
	snap.ShedFraction = make(map[string]float64, len(capacity.ShedFraction))
	for level, frac := range capacity.ShedFraction {
		snap.ShedFraction[level.String()] = frac
	}

	if b.registry != nil {
		counts, err := b.registry.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("permission registry: %w", err)
		}
		snap.Permissions = counts
	}

	if b.chain != nil {
		n, err := b.chain.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain length: %w", err)
		}
		root, err := b.chain.Root(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain root: %w", err)
		}
		snap.ChainLength = n
		snap.ChainRoot = root
	}

	for _, gate := range b.gates {
		result := GateResult{Name: gate.Name(), Passed: true}
		if err := gate.Check(ctx); err != nil {
			result.Passed = false
			result.Detail = err.Error()
		}
		snap.Gates = append(snap.Gates, result)
	}

	hash, err := integrity.Hash(snap) // IntegrityHash still zero-valued here
	if err != nil {
		return nil, fmt.Errorf("hash snapshot: %w", err)
	}
	snap.IntegrityHash = hash

	b.logger.Info("compliance snapshot built",
		zap.String("hash", hash),
		zap.String("level", snap.DegradationLevel),
		zap.Bool("kill_switch", snap.KillSwitch),
	)
	return snap, nil
}

// VerifyHash recomputes a snapshot's integrity hash and reports whether it
// matches the stored value.
func VerifyHash(snap *Snapshot) (bool, error) {
	cp := *snap
	cp.IntegrityHash = ""
	want, err := integrity.Hash(&cp)
	if err != nil {
		return false, err
	}
	return want == snap.IntegrityHash, nil
}
