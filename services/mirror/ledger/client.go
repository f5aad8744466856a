// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger implements the client for the ledger's public query
// gateway: cursor-paginated transaction listing filtered by tag and
// minimum block height, per-transaction content and tag fetch, and
// block-height-by-transaction lookup.
//
// The gateway is an untrusted, eventually-consistent collaborator.
// Every call is rate limited client-side and retried with exponential
// backoff plus jitter; what to do after retries are exhausted is the
// caller's decision (the syncer skips the page and accepts a gap).
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/LedgerMirror/services/mirror/datatypes"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrTransactionNotFound is returned when the gateway has no
	// transaction with the requested id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrGatewayUnavailable is returned after all retries failed.
	ErrGatewayUnavailable = errors.New("ledger gateway unavailable")
)

// -----------------------------------------------------------------------------
// Wire Types
// -----------------------------------------------------------------------------

// TransactionSummary is one row of the gateway's transaction index.
type TransactionSummary struct {
	ID          string `json:"id"`
	BlockHeight int64  `json:"block_height"`
}

// Page is one cursor page of the transaction index, oldest first.
type Page struct {
	Transactions []TransactionSummary `json:"transactions"`
	Cursor       string               `json:"cursor"`
	HasMore      bool                 `json:"has_more"`
}

// Transaction is a full transaction: content plus tags.
//
// Owner, Signature and Data are base64url (unpadded) on the wire.
type Transaction struct {
	ID          string          `json:"id"`
	BlockHeight int64           `json:"block_height"`
	Owner       string          `json:"owner"`
	Signature   string          `json:"signature"`
	Data        string          `json:"data"`
	Tags        []datatypes.Tag `json:"tags"`
}

// OwnerBytes decodes the publishing public key.
func (t *Transaction) OwnerBytes() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(t.Owner)
}

// SignatureBytes decodes the transaction signature.
func (t *Transaction) SignatureBytes() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(t.Signature)
}

// DataBytes decodes the transaction payload.
func (t *Transaction) DataBytes() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(t.Data)
}

// ListOptions filters a transaction index listing.
type ListOptions struct {
	// Tags the transaction must carry, name to value.
	Tags map[string]string `json:"tags,omitempty"`

	// MinBlock is the lowest block height (inclusive) to return.
	MinBlock int64 `json:"min_block"`

	// Cursor continues a previous listing; empty starts from MinBlock.
	Cursor string `json:"cursor,omitempty"`

	// Limit caps the page size. Zero lets the gateway choose.
	Limit int `json:"limit,omitempty"`
}

// -----------------------------------------------------------------------------
// Gateway Interface
// -----------------------------------------------------------------------------

// Gateway is the collaborator interface the syncer consumes.
type Gateway interface {
	// ListTransactions returns one page of the transaction index,
	// oldest first, filtered per opts.
	ListTransactions(ctx context.Context, opts ListOptions) (*Page, error)

	// GetTransaction fetches one transaction's content and tags.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// BlockHeight returns the block height a transaction landed in.
	BlockHeight(ctx context.Context, id string) (int64, error)
}

// Compile-time interface implementation check.
var _ Gateway = (*Client)(nil)

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// ClientConfig configures the gateway client.
type ClientConfig struct {
	// BaseURL is the gateway root, e.g. "https://gateway.example.net".
	BaseURL string

	// RetryAttempts is the number of attempts per call. Default: 3.
	RetryAttempts int

	// RetryBackoff is the initial backoff between attempts. Default: 500ms.
	RetryBackoff time.Duration

	// RequestTimeout bounds a single HTTP request. Default: 30s.
	RequestTimeout time.Duration

	// RequestsPerSecond is the client-side rate limit. Default: 5.
	RequestsPerSecond float64

	// Burst is the rate limiter burst. Default: 10.
	Burst int

	// Logger for client operations. Default: slog.Default().
	Logger *slog.Logger
}

func (c *ClientConfig) applyDefaults() {
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst == 0 {
		c.Burst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url must not be empty")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	return nil
}

// Client is the HTTP implementation of Gateway.
//
// # Thread Safety
//
// Safe for concurrent use; the rate limiter serializes bursts.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  cfg.Logger,
	}, nil
}

// ListTransactions implements Gateway.
func (c *Client) ListTransactions(ctx context.Context, opts ListOptions) (*Page, error) {
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode list options: %w", err)
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/tx/search", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetTransaction implements Gateway.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodGet, "/tx/"+url.PathEscape(id), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// BlockHeight implements Gateway.
func (c *Client) BlockHeight(ctx context.Context, id string) (int64, error) {
	var resp struct {
		Height int64 `json:"height"`
	}
	if err := c.do(ctx, http.MethodGet, "/tx/"+url.PathEscape(id)+"/height", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

// do performs one gateway call with rate limiting and retry.
//
// 404 is terminal (ErrTransactionNotFound); 4xx other than 429 is
// terminal; everything else retries with exponential backoff and
// +-25% jitter.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	backoff := c.cfg.RetryBackoff

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransactionNotFound) || ctx.Err() != nil {
			return err
		}
		var terminal *terminalStatusError
		if errors.As(err, &terminal) {
			return err
		}

		lastErr = err
		c.logger.Warn("gateway call failed, retrying",
			"method", method, "path", path,
			"attempt", attempt, "max_attempts", c.cfg.RetryAttempts,
			"error", err)

		if attempt < c.cfg.RetryAttempts {
			jitter := 1 + (rand.Float64()-0.5)/2 // 0.75..1.25
			select {
			case <-time.After(time.Duration(float64(backoff) * jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: %s %s: %v", ErrGatewayUnavailable, method, path, lastErr)
}

// terminalStatusError marks HTTP statuses retrying cannot fix.
type terminalStatusError struct {
	status int
}

func (e *terminalStatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d", e.status)
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("gateway throttled the request")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &terminalStatusError{status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
