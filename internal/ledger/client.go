// Package ledger is the only component aware of network semantics. It talks
// to a Horizon-style endpoint: account loading, fee probing, transaction
// submission with retry, and status polling. Envelope assembly and signing
// are purely local (txbuild.go).
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAccountNotFound is returned when Horizon has no record of the account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNetworkUnavailable is returned after transient-failure retries are
	// exhausted. It never escapes to callers of the engine except as an
	// ABANDONED receipt.
	ErrNetworkUnavailable = errors.New("ledger network unavailable")
)

// Outcome classifies a submission response.
type Outcome string

const (
	OutcomeAccepted          Outcome = "ACCEPTED"
	OutcomeRejectedPermanent Outcome = "REJECTED_PERMANENT"
	OutcomeRejectedTransient Outcome = "REJECTED_TRANSIENT"
)

// TxStatus is the polled state of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// SubmitResult reports the outcome of one or more submission attempts.
type SubmitResult struct {
	TxID     string
	Outcome  Outcome
	Code     string // ledger rejection code, e.g. "tx_bad_auth"
	Attempts int
}

// Retry policy for transient submission failures.
const (
	DefaultBaseFee      = int64(100)
	DefaultMaxAttempts  = 6
	DefaultBackoffBase  = 250 * time.Millisecond
	DefaultBackoffCap   = 30 * time.Second
	defaultPollInterval = 2 * time.Second
)

// Config configures a Client.
type Config struct {
	HorizonURL        string
	NetworkPassphrase string
	FeeCeiling        int64
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client submits signed transactions to a Horizon-like endpoint.
// It is safe for concurrent use; per-source-account sequence numbers are
// serialized by the account pool (sequencer.go).
type Client struct {
	horizonURL        string
	networkPassphrase string
	feeCeiling        int64
	maxAttempts       int
	backoffBase       time.Duration
	backoffCap        time.Duration
	httpClient        *http.Client
	logger            *slog.Logger
	accounts          []*Account
}

// New creates a ledger client for the given Horizon endpoint and source
// accounts.
func New(cfg Config, accounts []*Account) (*Client, error) {
	if cfg.HorizonURL == "" {
		return nil, fmt.Errorf("ledger: horizon URL is required")
	}
	if cfg.NetworkPassphrase == "" {
		return nil, fmt.Errorf("ledger: network passphrase is required")
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("ledger: at least one source account is required")
	}
	c := &Client{
		horizonURL:        strings.TrimRight(cfg.HorizonURL, "/"),
		networkPassphrase: cfg.NetworkPassphrase,
		feeCeiling:        cfg.FeeCeiling,
		maxAttempts:       cfg.MaxAttempts,
		backoffBase:       cfg.BackoffBase,
		backoffCap:        cfg.BackoffCap,
		httpClient:        cfg.HTTPClient,
		logger:            cfg.Logger,
		accounts:          accounts,
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoffBase == 0 {
		c.backoffBase = DefaultBackoffBase
	}
	if c.backoffCap == 0 {
		c.backoffCap = DefaultBackoffCap
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// LoadAccount retrieves the current sequence number for a public key.
func (c *Client) LoadAccount(ctx context.Context, publicKey string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.horizonURL+"/accounts/"+url.PathEscape(publicKey), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, publicKey)
	}
	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("%w: horizon returned %d", ErrNetworkUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("loading account %s: horizon returned %d", publicKey, resp.StatusCode)
	}

	var body struct {
		Sequence json.RawMessage `json:"sequence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding account: %w", err)
	}
	seq, err := rawInt64(body.Sequence)
	if err != nil {
		return 0, fmt.Errorf("parsing sequence: %w", err)
	}
	return seq, nil
}

// ProbeFee returns a per-operation fee suggestion: the last observed maximum
// charged fee from /fee_stats, bounded by the configured ceiling, or the
// default base fee when the endpoint is unavailable.
func (c *Client) ProbeFee(ctx context.Context) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.horizonURL+"/fee_stats", nil)
	if err != nil {
		return DefaultBaseFee
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("fee probe failed, using base fee", "err", err)
		return DefaultBaseFee
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DefaultBaseFee
	}

	var body struct {
		FeeCharged struct {
			Max json.RawMessage `json:"max"`
		} `json:"fee_charged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return DefaultBaseFee
	}
	fee, err := rawInt64(body.FeeCharged.Max)
	if err != nil || fee < DefaultBaseFee {
		return DefaultBaseFee
	}
	if c.feeCeiling > 0 && fee > c.feeCeiling {
		return c.feeCeiling
	}
	return fee
}

// Submit posts a signed envelope once and classifies the response.
// The returned SubmitResult is non-nil whenever err is nil.
func (c *Client) Submit(ctx context.Context, envelope string) (*SubmitResult, error) {
	form := url.Values{"tx": {envelope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.horizonURL+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection reset, DNS failure, client timeout: all transient.
		return &SubmitResult{Outcome: OutcomeRejectedTransient, Code: "network: " + err.Error()}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SubmitResult{Outcome: OutcomeRejectedTransient, Code: "network: " + err.Error()}, nil
	}
	return classify(resp.StatusCode, body), nil
}

// classify maps a Horizon submission response to an outcome.
func classify(status int, body []byte) *SubmitResult {
	switch {
	case status == http.StatusOK:
		var ok struct {
			ID         string `json:"id"`
			Successful bool   `json:"successful"`
		}
		if err := json.Unmarshal(body, &ok); err != nil {
			return &SubmitResult{Outcome: OutcomeRejectedTransient, Code: "bad response body"}
		}
		if !ok.Successful {
			return &SubmitResult{TxID: ok.ID, Outcome: OutcomeRejectedPermanent, Code: txCode(body)}
		}
		return &SubmitResult{TxID: ok.ID, Outcome: OutcomeAccepted}

	case status == http.StatusGatewayTimeout, status == http.StatusTooManyRequests, status >= 500:
		return &SubmitResult{Outcome: OutcomeRejectedTransient, Code: fmt.Sprintf("horizon %d", status)}

	default:
		// 4xx with a transaction result code: malformed, bad auth,
		// insufficient balance, tx_too_late. Never retried.
		return &SubmitResult{Outcome: OutcomeRejectedPermanent, Code: txCode(body)}
	}
}

// txCode extracts extras.result_codes.transaction from an error envelope.
func txCode(body []byte) string {
	var e struct {
		Extras struct {
			ResultCodes struct {
				Transaction string `json:"transaction"`
			} `json:"result_codes"`
		} `json:"extras"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Extras.ResultCodes.Transaction != "" {
			return e.Extras.ResultCodes.Transaction
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	return "rejected"
}

// SubmitWithRetry submits an envelope, retrying transient rejections with
// exponential backoff and full jitter until acceptance, a permanent
// rejection, attempt exhaustion, or ctx expiry. Attempts made so far are
// reported on the result even when retries are exhausted.
func (c *Client) SubmitWithRetry(ctx context.Context, envelope string) (*SubmitResult, error) {
	var last *SubmitResult
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		res, err := c.Submit(ctx, envelope)
		if err != nil {
			return nil, err
		}
		res.Attempts = attempt
		last = res

		if res.Outcome != OutcomeRejectedTransient {
			return res, nil
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Warn("transient submission failure, backing off",
			"attempt", attempt, "code", res.Code)
		select {
		case <-ctx.Done():
			last.Code = "deadline: " + ctx.Err().Error()
			return last, fmt.Errorf("%w: %v", ErrNetworkUnavailable, ctx.Err())
		case <-time.After(c.backoff(attempt)):
		}
	}
	return last, fmt.Errorf("%w: %d attempts exhausted (%s)", ErrNetworkUnavailable, last.Attempts, last.Code)
}

// backoff returns a full-jitter delay for the given 1-based attempt.
func (c *Client) backoff(attempt int) time.Duration {
	max := c.backoffBase << (attempt - 1)
	if max > c.backoffCap || max <= 0 {
		max = c.backoffCap
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

// PollStatus checks a transaction's state once. Horizon answers 404 until
// the transaction is included.
func (c *Client) PollStatus(ctx context.Context, txID string) (TxStatus, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.horizonURL+"/transactions/"+url.PathEscape(txID), nil)
	if err != nil {
		return TxPending, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TxPending, "", fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return TxPending, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return TxPending, "", fmt.Errorf("%w: horizon returned %d", ErrNetworkUnavailable, resp.StatusCode)
	}

	var body struct {
		Status     string `json:"status"`
		Successful *bool  `json:"successful"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TxPending, "", fmt.Errorf("decoding transaction: %w", err)
	}
	switch {
	case body.Status == "completed" || (body.Successful != nil && *body.Successful):
		return TxCompleted, "", nil
	case body.Status == "failed" || (body.Successful != nil && !*body.Successful):
		return TxFailed, txCodeFromStatus(body.Status), nil
	default:
		return TxPending, "", nil
	}
}

func txCodeFromStatus(status string) string {
	if status == "" {
		return "tx_failed"
	}
	return status
}

// WaitConfirm polls until the transaction completes, fails, or ctx expires.
// On ctx expiry the status is still TxPending; the caller keeps the receipt
// SUBMITTED and reconciles later.
func (c *Client) WaitConfirm(ctx context.Context, txID string) (TxStatus, string, error) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		status, code, err := c.PollStatus(ctx, txID)
		if err == nil && status != TxPending {
			return status, code, nil
		}
		if err != nil {
			c.logger.Warn("status poll failed", "tx_id", txID, "err", err)
		}
		select {
		case <-ctx.Done():
			return TxPending, "", nil
		case <-ticker.C:
		}
	}
}

// rawInt64 parses a JSON value that may arrive as a number or a quoted
// decimal string (Horizon uses strings for 64-bit values).
func rawInt64(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseInt(s, 10, 64)
}
