package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Remote sends an encoded command document to a shard host and returns the
// raw response body. The call blocks until the shard answers, the context is
// done, or the transport gives up; it is the single suspension point of a
// command's execution.
type Remote interface {
	Send(ctx context.Context, host string, body []byte) ([]byte, error)
}

// TransportError is a network-level failure: the command may or may not have
// reached the shard. It is surfaced to the caller without retry.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error contacting %s: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPExecutor delivers command documents over HTTP with a pooled transport.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an executor with the given per-request timeout.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPExecutor{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Send implements Remote.
func (e *HTTPExecutor) Send(ctx context.Context, host string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("http://%s%s", host, CommandPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Host: host,
			Err:  fmt.Errorf("unexpected status %d: %s", resp.StatusCode, data),
		}
	}
	return data, nil
}
