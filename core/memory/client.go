// Package memory talks to the memory service that keeps photos the player
// showed the character.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTimeout = 5 * time.Second

type Client struct {
	endpoint   string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if endpoint == "" {
		return nil, goerr.New("memory api base url not set")
	}

	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Body)
}

type listResponse struct {
	Items *[]game.MemoryItem `json:"items"`
}

type itemResponse struct {
	Item *game.MemoryItem `json:"item"`
}

func (c *Client) ListMemories(ctx context.Context) ([]game.MemoryItem, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/memories", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		return nil, goerr.New("invalid memories response: items missing")
	}
	for _, item := range *resp.Items {
		if err := ValidateItem(item); err != nil {
			return nil, goerr.Wrap(err, "invalid memories response")
		}
	}
	return *resp.Items, nil
}

// RandomMemory returns nil when there are no memories yet.
func (c *Client) RandomMemory(ctx context.Context) (*game.MemoryItem, error) {
	var resp itemResponse
	if err := c.do(ctx, http.MethodGet, "/memories/random", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Item != nil {
		if err := ValidateItem(*resp.Item); err != nil {
			return nil, goerr.Wrap(err, "invalid memory response")
		}
	}
	return resp.Item, nil
}

func (c *Client) SaveMemory(ctx context.Context, input game.SaveMemoryInput) (game.MemoryItem, error) {
	if err := ValidateInput(input); err != nil {
		return game.MemoryItem{}, err
	}

	var resp itemResponse
	if err := c.do(ctx, http.MethodPost, "/memories", input, &resp); err != nil {
		return game.MemoryItem{}, err
	}
	if resp.Item == nil {
		return game.MemoryItem{}, goerr.New("invalid memory save response: item missing")
	}
	if err := ValidateItem(*resp.Item); err != nil {
		return game.MemoryItem{}, goerr.Wrap(err, "invalid memory save response")
	}
	return *resp.Item, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (err error) {
	ctx, span := tracer.Start(ctx, "memory."+strings.ToLower(method))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("http.route", path))

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "memory api request failed", goerr.V("method", method), goerr.V("path", path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerr.Wrap(err, "failed to read response body", goerr.V("path", path))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return goerr.Wrap(&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))},
			"memory api request failed", goerr.V("method", method), goerr.V("path", path))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return goerr.Wrap(err, "memory api returned invalid json", goerr.V("path", path))
	}

	logger.Debug("memory api request", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}
