// Package jsonbin reads and overwrites the device table stored in a JSONBin.io bin.
package jsonbin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/devicegate/devicegate/internal/device"
	"github.com/devicegate/devicegate/internal/provider/resilience"
)

const (
	// ProviderName identifies this store in logs, metrics and the registry.
	ProviderName = "jsonbin"

	// DefaultBaseURL is the JSONBin API base URL.
	DefaultBaseURL = "https://api.jsonbin.io"

	// DefaultTimeout is the default per-call timeout.
	DefaultTimeout = 10 * time.Second

	masterKeyHeader  = "X-Master-Key"
	versioningHeader = "X-Bin-Versioning"

	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 512
)

// Errors returned by the client.
var (
	ErrUnavailable     = errors.New("jsonbin unavailable")
	ErrInvalidResponse = errors.New("jsonbin returned an invalid response")
)

// StatusError is a non-2xx response from JSONBin.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jsonbin %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the JSONBin client.
type ClientConfig struct {
	// BinID is the bin holding the device table (required).
	BinID string

	// APIKey is the bin's master key, sent as X-Master-Key (required).
	APIKey string

	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// HTTPClient overrides the default resilient client.
	HTTPClient HTTPDoer

	// Timeout is the per-call timeout for the default client.
	Timeout time.Duration

	// MaxRetries is passed to the default client. Zero attempts each call once.
	MaxRetries uint64

	// Registry tracks the default client's health.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client implements devicestore.Document on top of one JSONBin bin.
type Client struct {
	binURL     string
	apiKey     string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a JSONBin client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		if cfg.Timeout > 0 {
			clientCfg.Timeout = cfg.Timeout
		}
		clientCfg.MaxRetries = cfg.MaxRetries
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		binURL:     fmt.Sprintf("%s/v3/b/%s", baseURL, cfg.BinID),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Read fetches the bin and returns the table held in its "record" field.
// A bin without a record reads as an empty table.
func (c *Client) Read(ctx context.Context) (*device.Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.binURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(masterKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, "read")
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not JSON", ErrInvalidResponse)
	}

	table := device.NewTable()
	record := gjson.GetBytes(body, "record")
	if !record.Exists() {
		c.logger.Warn().Msg("jsonbin response has no record field, treating as empty table")
		return table, nil
	}
	if err := json.Unmarshal([]byte(record.Raw), table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	c.logger.Debug().
		Int("devices", table.Len()).
		Msg("read device table from jsonbin")

	return table, nil
}

// Write overwrites the bin with table. Bin versioning is disabled so each
// write replaces the content in place.
func (c *Client) Write(ctx context.Context, table *device.Table) error {
	payload, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encoding device table: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.binURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(masterKeyHeader, c.apiKey)
	req.Header.Set(versioningHeader, "false")

	if _, err := c.do(req, "write"); err != nil {
		return err
	}

	c.logger.Debug().
		Int("devices", table.Len()).
		Int("bytes", len(payload)).
		Msg("wrote device table to jsonbin")

	return nil
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       errorMessage(body),
		}
	}
	return body, nil
}

// errorMessage extracts JSONBin's {"message": ...} or falls back to a body prefix.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String {
		return msg.Str
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
