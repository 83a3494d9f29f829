// Package billing gates expensive transcription work behind a prepaid
// balance check against the external payments service.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Client is an HTTP client for the payments/ledger service. The ledger is
// the single source of truth for balances; this client only issues
// read/create/withdraw requests against it.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger

	// Elapsed-time cap for retried reads.
	retryBudget time.Duration
}

// User is the ledger's record of an account.
type User struct {
	ID        int64  `json:"id"`
	UserID    string `json:"userId"`
	Address   string `json:"userAddress"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// balanceResponse carries decimal strings, matching the service's wire format.
type balanceResponse struct {
	One string `json:"one"`
	USD string `json:"usd"`
}

// LookupStatus tags the outcome of a user lookup so callers dispatch with a
// single switch instead of inspecting HTTP status codes.
type LookupStatus int

const (
	LookupFound LookupStatus = iota
	LookupNotFound
	LookupError
)

// LookupResult is the tagged result of Client.LookupUser.
type LookupResult struct {
	Status LookupStatus
	User   *User
	Err    error // set when Status == LookupError
}

// NewClient creates a payments service client.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 15 * time.Second},
		log:         log,
		retryBudget: 10 * time.Second,
	}
}

// LookupUser fetches the ledger entry for userID. A 404 is reported as
// LookupNotFound, not an error.
func (c *Client) LookupUser(ctx context.Context, userID string) LookupResult {
	var user User
	status, err := c.getJSON(ctx, "/users/id/"+userID, &user)
	switch {
	case err != nil:
		return LookupResult{Status: LookupError, Err: err}
	case status == http.StatusNotFound:
		return LookupResult{Status: LookupNotFound}
	case status == http.StatusOK:
		return LookupResult{Status: LookupFound, User: &user}
	default:
		return LookupResult{Status: LookupError, Err: fmt.Errorf("user lookup: unexpected status %d", status)}
	}
}

// CreateUser provisions a ledger entry for userID.
func (c *Client) CreateUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.postJSON(ctx, "/users/create", map[string]string{"userId": userID}, &user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Balance returns the user's USD balance.
func (c *Client) Balance(ctx context.Context, userID string) (float64, error) {
	var bal balanceResponse
	status, err := c.getJSON(ctx, "/users/balance/"+userID, &bal)
	if err != nil {
		return 0, fmt.Errorf("balance lookup: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("balance lookup: unexpected status %d", status)
	}
	usd, err := strconv.ParseFloat(bal.USD, 64)
	if err != nil {
		return 0, fmt.Errorf("balance lookup: parse usd %q: %w", bal.USD, err)
	}
	return usd, nil
}

// Withdraw debits amountUSD from the user's balance. Never retried: a repeat
// on an ambiguous failure could double-charge.
func (c *Client) Withdraw(ctx context.Context, userID string, amountUSD float64) error {
	body := map[string]string{
		"userId":    userID,
		"amountUsd": strconv.FormatFloat(amountUSD, 'f', -1, 64),
	}
	if err := c.postJSON(ctx, "/users/pay", body, nil); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

// TokenRate returns the native token price in USD per ONE.
func (c *Client) TokenRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/web3/tokenPrice/harmony", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("token rate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("token rate: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("token rate: status %d: %s", resp.StatusCode, raw)
	}
	// The endpoint returns a bare decimal, optionally JSON-quoted.
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("token rate: parse %q: %w", s, err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("token rate: non-positive rate %v", rate)
	}
	return rate, nil
}

// getJSON issues a GET with bounded exponential retry on network errors and
// 5xx responses. Returns the final HTTP status; 404 is returned to the
// caller rather than retried. Decoding is skipped on non-200.
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	var status int
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("server error (status %d): %s", status, body)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.retryBudget
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return status, err
	}

	if status == http.StatusOK && out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return status, fmt.Errorf("decode response: %w", err)
		}
	}
	return status, nil
}

// postJSON issues a single POST with the service API key. No retry.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("payments API error (status %d): %s", resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
