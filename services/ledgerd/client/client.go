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
	"strings"
	"time"

	"github.com/Agihtaws/arbminidefi/gateway/middleware"
	"github.com/Agihtaws/arbminidefi/services/ledgerd/api"
)

// Client provides a thin wrapper around the ledgerd HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	account string

	busyRetries int
	busyDelay   time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithAccount names the caller for servers running without authentication.
func WithAccount(account string) Option {
	return func(c *Client) { c.account = strings.TrimSpace(account) }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBusyRetries sets how often a request rejected because another operation
// for the same account was running is resent, and the base delay between
// attempts. Such requests never reached the ledger, so resending is safe.
func WithBusyRetries(retries int, delay time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.busyRetries = retries
		}
		if delay > 0 {
			c.busyDelay = delay
		}
	}
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ledgerd url %q", baseURL)
	}
	c := &Client{
		baseURL:     trimmed,
		http:        &http.Client{Timeout: 15 * time.Second},
		busyRetries: 3,
		busyDelay:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledgerd: %d %s (%s)", e.Status, e.ErrorResponse.Error, e.Reason)
	}
	return fmt.Sprintf("ledgerd: %d %s", e.Status, e.ErrorResponse.Error)
}

// do sends the request, resending it while the server reports the account
// busy.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = encoded
	}
	for attempt := 0; ; attempt++ {
		err := c.send(ctx, method, path, payload, out)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable || attempt >= c.busyRetries {
			return err
		}
		timer := time.NewTimer(c.busyDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.account != "" {
		req.Header.Set(middleware.AccountHeader, c.account)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr.ErrorResponse); err != nil {
			apiErr.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Deposit(ctx context.Context, asset, amount string) (*api.DepositResponse, error) {
	var out api.DepositResponse
	err := c.do(ctx, http.MethodPost, "/v1/deposit", api.AmountRequest{Asset: asset, Amount: amount}, &out)
	return &out, err
}

func (c *Client) Withdraw(ctx context.Context, asset, amount string) (*api.WithdrawResponse, error) {
	var out api.WithdrawResponse
	err := c.do(ctx, http.MethodPost, "/v1/withdraw", api.AmountRequest{Asset: asset, Amount: amount}, &out)
	return &out, err
}

func (c *Client) Borrow(ctx context.Context, req api.BorrowRequest) (*api.BorrowResponse, error) {
	var out api.BorrowResponse
	err := c.do(ctx, http.MethodPost, "/v1/borrow", req, &out)
	return &out, err
}

func (c *Client) Repay(ctx context.Context, asset, amount string) (*api.RepayResponse, error) {
	var out api.RepayResponse
	err := c.do(ctx, http.MethodPost, "/v1/repay", api.AmountRequest{Asset: asset, Amount: amount}, &out)
	return &out, err
}

func (c *Client) Lender(ctx context.Context, account string) (*api.LenderResponse, error) {
	var out api.LenderResponse
	err := c.do(ctx, http.MethodGet, accountPath(account, "lender"), nil, &out)
	return &out, err
}

func (c *Client) Borrower(ctx context.Context, account string) (*api.BorrowerResponse, error) {
	var out api.BorrowerResponse
	err := c.do(ctx, http.MethodGet, accountPath(account, "borrower"), nil, &out)
	return &out, err
}

func (c *Client) Limits(ctx context.Context, account string) (*api.LimitsResponse, error) {
	var out api.LimitsResponse
	err := c.do(ctx, http.MethodGet, accountPath(account, "limits"), nil, &out)
	return &out, err
}

// History lists the account's journal entries, newest first. A zero limit
// uses the server default.
func (c *Client) History(ctx context.Context, account string, limit int) (*api.HistoryResponse, error) {
	path := accountPath(account, "history")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out api.HistoryResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return &out, err
}

func (c *Client) CanBorrow(ctx context.Context, req api.CanBorrowRequest) (*api.CheckResponse, error) {
	var out api.CheckResponse
	err := c.do(ctx, http.MethodPost, "/v1/can-borrow", req, &out)
	return &out, err
}

func (c *Client) CanWithdraw(ctx context.Context, req api.CanWithdrawRequest) (*api.CheckResponse, error) {
	var out api.CheckResponse
	err := c.do(ctx, http.MethodPost, "/v1/can-withdraw", req, &out)
	return &out, err
}

func (c *Client) Pool(ctx context.Context) (*api.PoolResponse, error) {
	var out api.PoolResponse
	err := c.do(ctx, http.MethodGet, "/v1/pool", nil, &out)
	return &out, err
}

func (c *Client) Price(ctx context.Context) (*api.PriceResponse, error) {
	var out api.PriceResponse
	err := c.do(ctx, http.MethodGet, "/v1/price", nil, &out)
	return &out, err
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/pause", nil, nil)
}

func (c *Client) Unpause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/unpause", nil, nil)
}

// SetOracle rotates the price source and returns the canonical reference.
func (c *Client) SetOracle(ctx context.Context, reference string) (string, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/v1/admin/oracle", api.OracleRequest{Reference: reference}, &out); err != nil {
		return "", err
	}
	return out.Reference, nil
}

// PublishPrice sets the manual oracle price and returns the validated snapshot.
func (c *Client) PublishPrice(ctx context.Context, price string) (*api.PriceResponse, error) {
	var out api.PriceResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/price", api.PublishPriceRequest{Price: price}, &out)
	return &out, err
}

func (c *Client) Sweep(ctx context.Context, req api.SweepRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/sweep", req, nil)
}

func accountPath(account, view string) string {
	return "/v1/accounts/" + url.PathEscape(strings.TrimSpace(account)) + "/" + view
}
