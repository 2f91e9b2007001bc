// Package client provides a GraphQL client for the DataHub catalog. It answers
// the existence and ownership questions the upload gate asks before ingesting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/metrics"
)

// ErrStatus is wrapped by Execute when the catalog answers with a non-200
// status.
var ErrStatus = errors.New("unexpected status")

// TokenSource mints bearer tokens for the actor the client queries as.
type TokenSource interface {
	Mint(actorID string) (string, error)
}

// Client is a GraphQL client for the catalog's query service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     TokenSource
	actor      string
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for degraded lookups.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records query timings into collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) { c.metrics = collector }
}

// New creates a client for endpoint, the full GraphQL URL. Every request
// carries a token minted for actor.
func New(endpoint string, tokens TokenSource, actor string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		actor:      actor,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Execute sends a GraphQL query and decodes its data into result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		bearer, err := c.tokens.Mint(c.actor)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s - %s", ErrStatus, resp.Status, string(body))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// timed runs fn and records its duration under op.
func (c *Client) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if err != nil {
		c.metrics.RecordFailure(op, time.Since(start))
	} else {
		c.metrics.RecordTiming(op, time.Since(start))
	}
	return err
}
