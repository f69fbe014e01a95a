package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is a non-200 answer from a provider API. It matches
// ErrUpstream under errors.Is.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// transport posts JSON to one provider base URL with fixed headers.
type transport struct {
	provider string
	base     string
	header   http.Header
	client   *http.Client
}

func newTransport(cfg Config, defaultBase string, header http.Header) transport {
	base := cfg.Endpoint
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return transport{provider: cfg.ID, base: base, header: header, client: &http.Client{Timeout: timeout}}
}

// do sends in (when non-nil) to path and decodes a 200 answer into out
// (when non-nil). Every failure wraps ErrUpstream.
func (t transport) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range t.header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Provider: t.provider, Status: resp.StatusCode, Body: string(excerpt)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstream, path, err)
	}
	return nil
}
