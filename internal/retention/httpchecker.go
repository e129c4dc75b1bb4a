package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPChecker queries a remote legal-hold authority over HTTP. The authority
// is expected to answer GET {base}/holds/{record_id} with
// {"status": "held"|"notHeld"|"unknown"}.
type HTTPChecker struct {
	base       string
	httpClient *http.Client
}

// NewHTTPChecker creates an HTTPChecker against base, e.g.
// "https://legal-holds.internal.fernbooks.io".
func NewHTTPChecker(base string, hc *http.Client) *HTTPChecker {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPChecker{base: base, httpClient: hc}
}

// CheckLegalHold implements LegalHoldChecker. Transport failures and
// non-200 responses return an error; the evaluator maps those to retain.
func (c *HTTPChecker) CheckLegalHold(ctx context.Context, recordID string) (HoldStatus, error) {
	target := c.base + "/holds/" + url.PathEscape(recordID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return HoldUnknown, fmt.Errorf("build hold request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HoldUnknown, fmt.Errorf("legal hold lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return HoldUnknown, fmt.Errorf("read hold response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return HoldUnknown, fmt.Errorf("legal hold authority returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return HoldUnknown, fmt.Errorf("decode hold response: %w", err)
	}

	switch HoldStatus(payload.Status) {
	case HoldHeld, HoldNotHeld, HoldUnknown:
		return HoldStatus(payload.Status), nil
	default:
		// An unrecognised status is reported as unknown, not an error: the
		// authority answered, it just answered something this version does
		// not understand.
		return HoldUnknown, nil
	}
}

// StaticChecker always answers with a fixed status. Used when no legal-hold
// authority is configured: the zero value answers unknown, so every record
// past retention is still retained.
type StaticChecker struct {
	Status HoldStatus
}

// CheckLegalHold implements LegalHoldChecker.
func (s StaticChecker) CheckLegalHold(context.Context, string) (HoldStatus, error) {
	if s.Status == "" {
		return HoldUnknown, nil
	}
	return s.Status, nil
}
