// Package retention computes retain/purge eligibility for audit records.
//
// The evaluator is fail-safe by construction: every outcome of the legal
// hold check — including errors, timeouts, and "unknown" — maps to a retain
// decision through a total function. Only a definitive not-held answer on a
// record past its retention period yields purge eligibility. Nothing in
// this package deletes anything; deletion is an external, separately
// authorized action.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/clock"
)

// HoldStatus is the tagged outcome of a legal-hold lookup.
type HoldStatus string

const (
	HoldHeld    HoldStatus = "held"
	HoldNotHeld HoldStatus = "notHeld"
	HoldUnknown HoldStatus = "unknown"
)

// LegalHoldChecker is the external legal-hold authority.
type LegalHoldChecker interface {
	CheckLegalHold(ctx context.Context, recordID string) (HoldStatus, error)
}

// Record is the audit-log entry under evaluation.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Reason codes recorded on retention decisions.
const (
	ReasonRetentionActive       = "retention-period-active"
	ReasonLegalHoldActive       = "legal-hold-active"
	ReasonLegalHoldUnknown      = "legal-hold-unknown"
	ReasonLegalHoldUnverifiable = "legal-hold-unverifiable"
	ReasonRetentionElapsed      = "retention-elapsed"
)

// RetentionRecord is the computed eligibility for one record. LegalHold is
// empty when the hold status could not be determined.
type RetentionRecord struct {
	RecordID         string     `json:"record_id"`
	CreatedAt        time.Time  `json:"created_at"`
	EligibleForPurge bool       `json:"eligible_for_purge"`
	Reason           string     `json:"reason"`
	LegalHold        HoldStatus `json:"legal_hold,omitempty"`
	EvaluatedAt      time.Time  `json:"evaluated_at"`
}

// Config holds evaluator settings.
type Config struct {
	// RetentionPeriod is the minimum age before a record can be considered
	// for purging.
	RetentionPeriod time.Duration
	// CheckTimeout bounds each legal-hold lookup.
	CheckTimeout time.Duration
}

// Evaluator computes retention eligibility. Pure apart from the legal-hold
// lookup; safe for concurrent use.
type Evaluator struct {
	checker LegalHoldChecker
	cfg     Config
	clk     clock.Clock
	logger  *zap.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(checker LegalHoldChecker, cfg Config, clk clock.Clock, logger *zap.Logger) *Evaluator {
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = 7 * 365 * 24 * time.Hour
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{checker: checker, cfg: cfg, clk: clk, logger: logger}
}

// Evaluate computes eligibility for one record. It never returns an error:
// a failed or ambiguous legal-hold check is absorbed into a retain decision
// and logged, not propagated to the caller.
func (e *Evaluator) Evaluate(ctx context.Context, rec Record) RetentionRecord {
	now := e.clk.Now()
	out := RetentionRecord{
		RecordID:    rec.ID,
		CreatedAt:   rec.CreatedAt,
		EvaluatedAt: now,
	}

	if now.Sub(rec.CreatedAt) < e.cfg.RetentionPeriod {
		out.Reason = ReasonRetentionActive
		return out
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
	defer cancel()

	status, err := e.checker.CheckLegalHold(checkCtx, rec.ID)
	if err != nil {
		// Never purge on ambiguity.
		e.logger.Warn("legal hold check failed, retaining record",
			zap.String("record_id", rec.ID), zap.Error(err))
		out.Reason = ReasonLegalHoldUnverifiable
		return out
	}

	out.LegalHold = status
	switch status {
	case HoldNotHeld:
		out.EligibleForPurge = true
		out.Reason = ReasonRetentionElapsed
	case HoldHeld:
		out.Reason = ReasonLegalHoldActive
	default:
		// unknown, or any status this version does not recognise.
		out.LegalHold = HoldUnknown
		out.Reason = ReasonLegalHoldUnknown
	}
	return out
}
