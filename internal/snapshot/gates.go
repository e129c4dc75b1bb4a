package snapshot

import (
	"context"
	"time"
)

// Pinger is anything with a health ping. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingGate is a ReadinessGate backed by a dependency's health ping.
type PingGate struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewPingGate creates a PingGate. timeout 0 defaults to 3 seconds.
func NewPingGate(name string, p Pinger, timeout time.Duration) *PingGate {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &PingGate{name: name, pinger: p, timeout: timeout}
}

// Name implements ReadinessGate.
func (g *PingGate) Name() string { return g.name }

// Check implements ReadinessGate.
func (g *PingGate) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.pinger.Ping(ctx)
}

// ChainVerifier is the slice of the audit chain a ChainGate needs.
type ChainVerifier interface {
	Verify(ctx context.Context) error
}

// ChainGate is a ReadinessGate that fails when the release audit chain no
// longer verifies. A failing chain gate in a snapshot is an integrity
// incident, not a transient outage.
type ChainGate struct {
	chain ChainVerifier
}

// NewChainGate creates a ChainGate over the given chain.
func NewChainGate(chain ChainVerifier) *ChainGate {
	return &ChainGate{chain: chain}
}

// Name implements ReadinessGate.
func (g *ChainGate) Name() string { return "release-chain-intact" }

// Check implements ReadinessGate.
func (g *ChainGate) Check(ctx context.Context) error {
	return g.chain.Verify(ctx)
}
