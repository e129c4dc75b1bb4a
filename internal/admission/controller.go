// Package admission decides whether a write request may proceed at all:
// capacity-based load shedding, operator-controlled degradation levels, and
// a kill switch that overrides everything.
//
// Decide is a cheap, side-effect-free read suitable for every request.
// Level and kill-switch transitions are explicit operator or automation
// actions: serialized, rate-limited, and recorded into the release audit
// chain. They are never a side effect of Decide.
package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fernbooks/ledgercore/internal/auditchain"
)

// Verdict is the outcome of an admission decision. Shed and
// reject-killswitch are normal, expected outcomes the caller must branch
// on, not errors; a shed response is distinguishable from an authorization
// failure so clients apply backoff instead of giving up.
type Verdict string

const (
	VerdictAdmit            Verdict = "admit"
	VerdictShed             Verdict = "shed"
	VerdictRejectKillSwitch Verdict = "reject-killswitch"
)

// Reason codes attached to decisions.
const (
	ReasonOK               = "ok"
	ReasonKillSwitch       = "kill-switch"
	ReasonCapacityExceeded = "capacity-exceeded"
	ReasonErrorRate        = "error-rate-exceeded"
	ReasonHalted           = "halted"
)

// ErrTransitionRateLimited is returned when level transitions arrive faster
// than the configured limit allows.
var ErrTransitionRateLimited = errors.New("degradation transition rate limited")

// LoadSignal is the externally-sourced load measurement Decide compares
// against capacity.
type LoadSignal struct {
	InFlight  int
	ErrorRate float64
}

// LoadSource supplies the current load signal. Implementations live outside
// this core (request middleware, metrics scrapers).
type LoadSource interface {
	Sample(ctx context.Context) LoadSignal
}

// Capacity is the admission capacity configuration. ShedFraction maps each
// degradation level to the fraction of MaxInFlight still admitted at that
// level; LevelHalted always sheds everything regardless of its entry.
type Capacity struct {
	MaxInFlight  int
	MaxErrorRate float64
	ShedFraction map[DegradationLevel]float64
}

// DefaultCapacity returns the shipped capacity configuration.
func DefaultCapacity() Capacity {
	return Capacity{
		MaxInFlight:  512,
		MaxErrorRate: 0.5,
		ShedFraction: map[DegradationLevel]float64{
			LevelNormal:   1.0,
			LevelDegraded: 0.5,
			LevelCritical: 0.1,
			LevelHalted:   0,
		},
	}
}

// ReqContext identifies the request being decided.
type ReqContext struct {
	CorrelationID string
	TenantID      string
	Actor         string
}

// Decision is the ephemeral record of one admission decision. It is folded
// into audit and trace context by the caller, not persisted on its own.
type Decision struct {
	CorrelationID string           `json:"correlation_id"`
	TenantID      string           `json:"tenant_id"`
	Actor         string           `json:"actor"`
	Verdict       Verdict          `json:"verdict"`
	ReasonCode    string           `json:"reason_code"`
	Level         DegradationLevel `json:"-"`
	LevelName     string           `json:"level"`
	DecidedAt     time.Time        `json:"decided_at"`
}

// Controller holds the process-wide admission state. Construct it once at
// startup and inject it explicitly; it is not an ambient singleton.
type Controller struct {
	level    atomic.Int32
	kill     atomic.Bool
	capacity atomic.Pointer[Capacity]

	source LoadSource
	chain  auditchain.Chain // nil = transitions not audited

	transitionMu sync.Mutex
	transitions  *rate.Limiter

	logger *zap.Logger
}

// NewController creates a Controller at LevelNormal with the kill switch
// clear. chain may be nil to disable transition auditing (tests only).
func NewController(capacity Capacity, source LoadSource, chain auditchain.Chain, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		source: source,
		chain:  chain,
		// Transitions are operator/signal driven at coarse granularity.
		transitions: rate.NewLimiter(rate.Every(time.Second), 4),
		logger:      logger,
	}
	c.capacity.Store(&capacity)
	return c
}

// Level returns the current degradation level.
func (c *Controller) Level() DegradationLevel {
	return DegradationLevel(c.level.Load())
}

// KillSwitch reports whether the kill switch is set.
func (c *Controller) KillSwitch() bool {
	return c.kill.Load()
}

// Capacity returns the capacity configuration in effect.
func (c *Controller) Capacity() Capacity {
	return *c.capacity.Load()
}

// SetCapacity swaps the capacity configuration. Audited as a config change.
func (c *Controller) SetCapacity(ctx context.Context, capacity Capacity, actor string) error {
	c.capacity.Store(&capacity)
	return c.audit(ctx, auditchain.ActionConfigChange, actor, map[string]any{
		"max_in_flight":  capacity.MaxInFlight,
		"max_error_rate": capacity.MaxErrorRate,
	})
}

// SetLevel transitions the degradation level. Transitions are serialized,
// rate-limited, and appended to the release audit chain.
func (c *Controller) SetLevel(ctx context.Context, to DegradationLevel, actor, reason string) error {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	from := DegradationLevel(c.level.Load())
	if from == to {
		return nil
	}
	// Only real transitions draw on the limiter; repeated no-op calls must
	// not starve a later genuine level change.
	if !c.transitions.Allow() {
		return ErrTransitionRateLimited
	}
	c.level.Store(int32(to))

	c.logger.Warn("degradation level changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return c.audit(ctx, auditchain.ActionDegradationChange, actor, map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	})
}

// SetKillSwitch flips the kill switch. Audited.
func (c *Controller) SetKillSwitch(ctx context.Context, on bool, actor, reason string) error {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	prev := c.kill.Swap(on)
	if prev == on {
		return nil
	}

	action := auditchain.ActionKillSwitchSet
	if !on {
		action = auditchain.ActionKillSwitchCleared
	}
	c.logger.Warn("kill switch changed",
		zap.Bool("on", on), zap.String("actor", actor), zap.String("reason", reason))
	return c.audit(ctx, action, actor, map[string]any{"reason": reason})
}

func (c *Controller) audit(ctx context.Context, action auditchain.Action, actor string, content map[string]any) error {
	if c.chain == nil {
		return nil
	}
	if _, err := c.chain.Append(ctx, action, actor, content); err != nil {
		return err
	}
	return nil
}

// Decide computes the admission decision for one request. Pure read path:
// no locks taken, no state mutated, safely cancellable.
func (c *Controller) Decide(ctx context.Context, req ReqContext) Decision {
	d := Decision{
		CorrelationID: req.CorrelationID,
		TenantID:      req.TenantID,
		Actor:         req.Actor,
		Level:         c.Level(),
		DecidedAt:     time.Now().UTC(),
	}
	d.LevelName = d.Level.String()

	// The kill switch overrides everything, including zero load.
	if c.kill.Load() {
		d.Verdict = VerdictRejectKillSwitch
		d.ReasonCode = ReasonKillSwitch
		return d
	}

	if d.Level == LevelHalted {
		d.Verdict = VerdictShed
		d.ReasonCode = ReasonHalted
		return d
	}

	capacity := *c.capacity.Load()
	var signal LoadSignal
	if c.source != nil {
		signal = c.source.Sample(ctx)
	}

	admitted := float64(capacity.MaxInFlight)
	if frac, ok := capacity.ShedFraction[d.Level]; ok {
		admitted *= frac
	}
	switch {
	case float64(signal.InFlight) >= admitted:
		d.Verdict = VerdictShed
		d.ReasonCode = ReasonCapacityExceeded
	case capacity.MaxErrorRate > 0 && signal.ErrorRate >= capacity.MaxErrorRate:
		d.Verdict = VerdictShed
		d.ReasonCode = ReasonErrorRate
	default:
		d.Verdict = VerdictAdmit
		d.ReasonCode = ReasonOK
	}
	return d
}
