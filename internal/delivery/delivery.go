// Package delivery pushes outbound documents to counterpart gateways over
// SOAP. Delivery is an at-least-once push: callers retry via the recovery
// sweep, and the remote deduplicates on the correlation header.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bdosoa/bdosoa/internal/spg"
	"github.com/bdosoa/bdosoa/internal/store"
)

// Config tunes the delivery client.
type Config struct {
	// Timeout bounds one delivery attempt end to end. It is mandatory: a
	// delivery must never hold a worker indefinitely.
	Timeout time.Duration
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Error reports a failed delivery attempt, carrying whatever the remote
// answered for diagnosis.
type Error struct {
	Reason   string
	Response string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("delivery failed: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Client delivers documents to counterpart SOAP endpoints.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a delivery client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Deliver pushes one document to the provider's gateway. It succeeds only on
// a single-element result equal to the protocol's success code; every other
// answer, including transport errors and faults, is a *Error.
func (c *Client) Deliver(ctx context.Context, provider *store.ServiceProvider, header spg.Header, document string) error {
	if !provider.Enabled {
		return &Error{Reason: fmt.Sprintf("provider %s is disabled", provider.SPID)}
	}
	if provider.SPGURL == "" {
		return &Error{Reason: fmt.Sprintf("provider %s has no gateway url", provider.SPID)}
	}

	envelope, err := spg.EncodeCall(
		spg.NamespaceSPG,
		spg.MethodProcessRequest,
		spg.CorrelationHeader(header),
		document,
	)
	if err != nil {
		return &Error{Reason: "encode call", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.SPGURL, bytes.NewReader(envelope))
	if err != nil {
		return &Error{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", spg.MethodProcessRequest)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Reason: "post", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Reason: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{
			Reason:   fmt.Sprintf("http status %d", resp.StatusCode),
			Response: string(body),
		}
	}

	results, err := spg.ParseResult(body, spg.MethodProcessRequest)
	if err != nil {
		return &Error{Reason: "parse response", Response: string(body), Err: err}
	}
	if len(results) != 1 || results[0] != spg.SuccessCode {
		return &Error{
			Reason:   fmt.Sprintf("remote refused delivery: %v", results),
			Response: string(body),
		}
	}

	c.logger.Debug("document delivered",
		"spid", provider.SPID,
		"invokeID", header.InvokeID,
		"url", provider.SPGURL)
	return nil
}
