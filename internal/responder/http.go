package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the voice-chat endpoint of a locally running responder.
const DefaultURL = "http://127.0.0.1:8000/api/voice-chat"

const maxErrorBody = 4 << 10

// HTTPConfig configures the JSON-over-HTTP transport.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPClient posts requests as JSON.
type HTTPClient struct {
	url   string
	token string
	http  *http.Client
}

// NewHTTPClient validates cfg and builds an HTTP transport.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, ErrNotConfigured
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{url: url, token: strings.TrimSpace(cfg.Token), http: client}, nil
}

func (c *HTTPClient) Ask(ctx context.Context, req Request) (Response, error) {
	if req.History == nil {
		req.History = []Message{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode responder request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build responder request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("call responder: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Response{}, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode responder reply: %w", err)
	}
	if err := out.validate(); err != nil {
		return Response{}, err
	}
	return out, nil
}

// Close is a no-op; idle connections belong to the shared transport.
func (c *HTTPClient) Close() error {
	return nil
}

// Probe issues a lightweight request to check that the endpoint answers at all.
func (c *HTTPClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("reach responder: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
