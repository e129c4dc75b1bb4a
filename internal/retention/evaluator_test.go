package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernbooks/ledgercore/internal/clock"
	"github.com/fernbooks/ledgercore/internal/retention"
)

var ctx = context.Background()

type stubChecker struct {
	status retention.HoldStatus
	err    error
	block  bool
}

func (s *stubChecker) CheckLegalHold(ctx context.Context, _ string) (retention.HoldStatus, error) {
	if s.block {
		<-ctx.Done()
		return retention.HoldUnknown, ctx.Err()
	}
	return s.status, s.err
}

func newEvaluator(checker retention.LegalHoldChecker, cfg retention.Config) (*retention.Evaluator, *clock.Fake) {
	clk := clock.NewFake(time.Date(2032, 1, 1, 0, 0, 0, 0, time.UTC))
	return retention.NewEvaluator(checker, cfg, clk, nil), clk
}

func oldRecord() retention.Record {
	// Created well before any sensible retention period.
	return retention.Record{ID: "rec-1", CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestEvaluate_eligibleWhenNotHeldAndExpired(t *testing.T) {
	e, _ := newEvaluator(&stubChecker{status: retention.HoldNotHeld}, retention.Config{})

	out := e.Evaluate(ctx, oldRecord())
	if !out.EligibleForPurge {
		t.Error("expired, not-held record must be eligible")
	}
	if out.Reason != retention.ReasonRetentionElapsed {
		t.Errorf("reason: got %q, want retention-elapsed", out.Reason)
	}
	if out.LegalHold != retention.HoldNotHeld {
		t.Errorf("legal hold: got %q, want notHeld", out.LegalHold)
	}
}

func TestEvaluate_retainsWithinRetentionPeriod(t *testing.T) {
	e, clk := newEvaluator(&stubChecker{status: retention.HoldNotHeld}, retention.Config{})

	recent := retention.Record{ID: "rec-2", CreatedAt: clk.Now().Add(-24 * time.Hour)}
	out := e.Evaluate(ctx, recent)
	if out.EligibleForPurge {
		t.Error("record inside retention period must be retained")
	}
	if out.Reason != retention.ReasonRetentionActive {
		t.Errorf("reason: got %q, want retention-period-active", out.Reason)
	}
}

func TestEvaluate_retainsOnHold(t *testing.T) {
	e, _ := newEvaluator(&stubChecker{status: retention.HoldHeld}, retention.Config{})

	out := e.Evaluate(ctx, oldRecord())
	if out.EligibleForPurge {
		t.Error("held record must never be eligible")
	}
	if out.Reason != retention.ReasonLegalHoldActive {
		t.Errorf("reason: got %q, want legal-hold-active", out.Reason)
	}
}

// Fail-safe property: unknown status, checker errors, and timeouts all map
// to retain, never purge.
func TestEvaluate_failSafe(t *testing.T) {
	cases := []struct {
		name    string
		checker *stubChecker
		cfg     retention.Config
		reason  string
	}{
		{"unknown status", &stubChecker{status: retention.HoldUnknown}, retention.Config{}, retention.ReasonLegalHoldUnknown},
		{"checker error", &stubChecker{err: errors.New("authority unreachable")}, retention.Config{}, retention.ReasonLegalHoldUnverifiable},
		{"timeout", &stubChecker{block: true}, retention.Config{CheckTimeout: 10 * time.Millisecond}, retention.ReasonLegalHoldUnverifiable},
		{"unrecognised status", &stubChecker{status: retention.HoldStatus("maybe")}, retention.Config{}, retention.ReasonLegalHoldUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newEvaluator(tc.checker, tc.cfg)
			out := e.Evaluate(ctx, oldRecord())
			if out.EligibleForPurge {
				t.Error("ambiguous hold status must retain, never purge")
			}
			if out.Reason != tc.reason {
				t.Errorf("reason: got %q, want %q", out.Reason, tc.reason)
			}
		})
	}
}
