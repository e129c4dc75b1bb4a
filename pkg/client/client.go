// Package client provides the Go SDK for the Fern Books ledger core
// service: posting and voiding transactions, period locks, the release
// audit chain, and the admission control surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel errors mapped from the service's machine-readable error codes.
var (
	// ErrPeriodLocked is returned when a transaction targets a locked period.
	ErrPeriodLocked = errors.New("accounting period is locked")

	// ErrUnbalanced is returned when debits and credits do not match.
	ErrUnbalanced = errors.New("transaction debits and credits are unequal")

	// ErrAlreadyVoid is returned when voiding a transaction twice.
	ErrAlreadyVoid = errors.New("transaction is already void")

	// ErrNotFound is returned for unknown accounts or transactions.
	ErrNotFound = errors.New("not found")

	// ErrLoadShed is returned when the service sheds the request under
	// degraded capacity. Retry after backing off.
	ErrLoadShed = errors.New("request shed: service under degraded capacity")

	// ErrKillSwitchActive is returned when the operator kill switch is
	// rejecting all write traffic. Do not retry automatically.
	ErrKillSwitchActive = errors.New("write traffic halted by kill switch")

	// ErrUnauthorized is returned when an operator call lacks a valid token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Line is one leg of a transaction. Amount is a decimal string ("100.00").
type Line struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Side      string `json:"side"`
}

// Transaction is the service's transaction record.
type Transaction struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Status     string    `json:"status"`
	Lines      []Line    `json:"lines"`
	ReversalOf string    `json:"reversal_of,omitempty"`
	PostedAt   time.Time `json:"posted_at"`
}

// Account is the service's account record.
type Account struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Balance  string `json:"balance"`
	Active   bool   `json:"active"`
}

// TrialBalanceLine is one account row of a trial balance.
type TrialBalanceLine struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
}

// TrialBalance is a point-in-time balance report with its integrity hash.
type TrialBalance struct {
	TenantID      string             `json:"tenant_id"`
	AsOf          time.Time          `json:"as_of"`
	Lines         []TrialBalanceLine `json:"lines"`
	IntegrityHash string             `json:"integrity_hash"`
}

// ChainEntry is one entry of the release audit chain.
type ChainEntry struct {
	Index       int            `json:"index"`
	Timestamp   time.Time      `json:"timestamp"`
	Action      string         `json:"action"`
	Actor       string         `json:"actor"`
	Content     map[string]any `json:"content,omitempty"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

// AdmissionStatus is the current admission control state.
type AdmissionStatus struct {
	Level        string  `json:"level"`
	KillSwitch   bool    `json:"kill_switch"`
	MaxInFlight  int     `json:"max_in_flight"`
	MaxErrorRate float64 `json:"max_error_rate"`
}

// RetentionDecision is the outcome of a retention evaluation.
type RetentionDecision struct {
	RecordID         string `json:"record_id"`
	EligibleForPurge bool   `json:"eligible_for_purge"`
	Reason           string `json:"reason"`
}

// Client is the ledger core SDK entry point.
type Client struct {
	base          string
	httpClient    *http.Client
	operatorToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithOperatorToken attaches a pre-obtained operator token to every request.
func WithOperatorToken(token string) Option {
	return func(c *Client) { c.operatorToken = token }
}

// New creates a Client connected to base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchOperatorToken exchanges the shared operator secret for a short-lived
// token and attaches it to subsequent requests.
func (c *Client) FetchOperatorToken(ctx context.Context, secret, actor string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/auth/token",
		map[string]string{"secret": secret, "actor": actor}, &out)
	if err != nil {
		return "", err
	}
	c.operatorToken = out.Token
	return out.Token, nil
}

// CreateAccount creates an account in the tenant's chart of accounts.
// accountType is one of asset, liability, equity, revenue, expense.
func (c *Client) CreateAccount(ctx context.Context, tenant, code, name, accountType string) (*Account, error) {
	var acct Account
	err := c.call(ctx, http.MethodPost, "/v1/tenants/"+url.PathEscape(tenant)+"/accounts",
		map[string]string{"code": code, "name": name, "type": accountType}, &acct)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// PostTransaction posts a balanced transaction into the given period
// ("2025-01"). Returns ErrUnbalanced or ErrPeriodLocked on rejection.
func (c *Client) PostTransaction(ctx context.Context, tenant, period string, lines []Line) (*Transaction, error) {
	var txn Transaction
	err := c.call(ctx, http.MethodPost, "/v1/tenants/"+url.PathEscape(tenant)+"/transactions",
		map[string]any{"period": period, "lines": lines}, &txn)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetTransaction fetches a transaction by ID.
func (c *Client) GetTransaction(ctx context.Context, tenant, id string) (*Transaction, error) {
	var txn Transaction
	err := c.call(ctx, http.MethodGet, "/v1/tenants/"+url.PathEscape(tenant)+"/transactions/"+url.PathEscape(id), nil, &txn)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// VoidTransaction voids a transaction by posting its reversal into the
// current open period. Returns the reversal transaction.
func (c *Client) VoidTransaction(ctx context.Context, tenant, id string) (*Transaction, error) {
	var reversal Transaction
	err := c.call(ctx, http.MethodPost,
		"/v1/tenants/"+url.PathEscape(tenant)+"/transactions/"+url.PathEscape(id)+"/void", nil, &reversal)
	if err != nil {
		return nil, err
	}
	return &reversal, nil
}

// TrialBalance fetches the tenant's trial balance as of the given time.
// Pass the zero time for "now".
func (c *Client) TrialBalance(ctx context.Context, tenant string, asOf time.Time) (*TrialBalance, error) {
	path := "/v1/tenants/" + url.PathEscape(tenant) + "/trial-balance"
	if !asOf.IsZero() {
		path += "?as_of=" + url.QueryEscape(asOf.Format(time.RFC3339))
	}
	var tb TrialBalance
	if err := c.call(ctx, http.MethodGet, path, nil, &tb); err != nil {
		return nil, err
	}
	return &tb, nil
}

// LockPeriod closes an accounting period to further posting. Operator only.
func (c *Client) LockPeriod(ctx context.Context, tenant, period string) error {
	return c.call(ctx, http.MethodPost,
		"/v1/tenants/"+url.PathEscape(tenant)+"/periods/"+url.PathEscape(period)+"/lock", nil, nil)
}

// UnlockPeriod reopens a locked accounting period. Operator only.
func (c *Client) UnlockPeriod(ctx context.Context, tenant, period string) error {
	return c.call(ctx, http.MethodDelete,
		"/v1/tenants/"+url.PathEscape(tenant)+"/periods/"+url.PathEscape(period)+"/lock", nil, nil)
}

// Admission fetches the current admission control state.
func (c *Client) Admission(ctx context.Context) (*AdmissionStatus, error) {
	var status AdmissionStatus
	if err := c.call(ctx, http.MethodGet, "/v1/admission", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetLevel transitions the degradation level. Operator only.
func (c *Client) SetLevel(ctx context.Context, level, reason string) error {
	return c.call(ctx, http.MethodPost, "/v1/admission/level",
		map[string]string{"level": level, "reason": reason}, nil)
}

// SetKillSwitch engages or clears the kill switch. Operator only.
func (c *Client) SetKillSwitch(ctx context.Context, on bool, reason string) error {
	return c.call(ctx, http.MethodPost, "/v1/admission/killswitch",
		map[string]any{"on": on, "reason": reason}, nil)
}

// ChainList fetches a page of release audit chain entries.
func (c *Client) ChainList(ctx context.Context, offset, limit int) ([]ChainEntry, string, error) {
	path := "/v1/chain?offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(limit)
	var out struct {
		Entries []ChainEntry `json:"entries"`
		Root    string       `json:"root"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, "", err
	}
	return out.Entries, out.Root, nil
}

// ChainVerify asks the service to verify its audit chain end to end.
// Returns (false, nil) when the chain is compromised, with the failing
// detail in the returned reason.
func (c *Client) ChainVerify(ctx context.Context) (intact bool, reason string, err error) {
	status, body, err := c.doStatusBody(ctx, http.MethodGet, "/v1/chain/verify", nil)
	if err != nil {
		return false, "", err
	}
	var out struct {
		Intact bool   `json:"intact"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, "", fmt.Errorf("decode verify response: %w", err)
	}
	switch status {
	case http.StatusOK:
		return true, "", nil
	case http.StatusConflict:
		return false, out.Error, nil
	default:
		return false, "", fmt.Errorf("verify endpoint error %d: %s", status, string(body))
	}
}

// ChainAppend records an operational action in the audit chain. Operator only.
func (c *Client) ChainAppend(ctx context.Context, action string, content map[string]any) (*ChainEntry, error) {
	var entry ChainEntry
	err := c.call(ctx, http.MethodPost, "/v1/chain",
		map[string]any{"action": action, "content": content}, &entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Snapshot fetches the current compliance snapshot as raw JSON, preserving
// every field for archival.
func (c *Client) Snapshot(ctx context.Context) (json.RawMessage, error) {
	_, body, err := c.doStatusBody(ctx, http.MethodGet, "/v1/snapshot", nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// EvaluateRetention asks whether a record is eligible for purge.
func (c *Client) EvaluateRetention(ctx context.Context, recordID string, createdAt time.Time) (*RetentionDecision, error) {
	var out RetentionDecision
	err := c.call(ctx, http.MethodPost, "/v1/retention/evaluate",
		map[string]any{"record_id": recordID, "created_at": createdAt.Format(time.RFC3339)}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// call executes a JSON request against the service and decodes the
// response into out (which may be nil). Error responses are mapped to
// sentinel errors by their machine-readable code.
func (c *Client) call(ctx context.Context, method, path string, reqBody, out any) error {
	status, body, err := c.doStatusBody(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	if status >= 300 {
		return mapError(status, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doStatusBody(ctx context.Context, method, path string, reqBody any) (int, []byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.operatorToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.operatorToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// mapError translates an error response into a sentinel where one exists.
// The service distinguishes shed (429) and kill-switch (503) responses by
// verdict so clients never confuse load shedding with an outage.
func mapError(status int, body []byte) error {
	var payload struct {
		Code    string `json:"code"`
		Verdict string `json:"verdict"`
		Error   string `json:"error"`
		Debits  string `json:"debits"`
		Credits string `json:"credits"`
	}
	_ = json.Unmarshal(body, &payload)

	switch payload.Verdict {
	case "reject-killswitch":
		return ErrKillSwitchActive
	case "shed":
		return ErrLoadShed
	}

	switch payload.Code {
	case "period-locked":
		return ErrPeriodLocked
	case "unbalanced-entry":
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalanced, payload.Debits, payload.Credits)
	case "already-void":
		return ErrAlreadyVoid
	case "not-found":
		return ErrNotFound
	}

	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return fmt.Errorf("server error %d: %s", status, string(body))
}
