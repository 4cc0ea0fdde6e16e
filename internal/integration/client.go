// Package integration adapts external service calls behind the operator
// collaborator interfaces. Each configured service gets its own base URL
// and circuit breaker.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/civicflow/civicflow/internal/circuitbreaker"
)

// ErrUnknownService is wrapped when a task names a service with no
// configured endpoint.
var ErrUnknownService = fmt.Errorf("unknown integration service")

// ClientConfig configures the HTTP integration client.
type ClientConfig struct {
	// Services maps a service name to its base URL. An operation is
	// invoked as POST <base>/<operation>.
	Services map[string]string

	// Timeout bounds each request. Task-level timeouts shorter than this
	// apply through the request context.
	Timeout time.Duration

	// Breaker tunes the per-service circuit breakers. Nil uses the
	// breaker defaults.
	Breaker *circuitbreaker.Config
}

// DefaultClientConfig returns a config with no services and a 30 second
// timeout.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Services: make(map[string]string),
		Timeout:  30 * time.Second,
	}
}

// HTTPClient performs outbound integration calls as JSON POSTs, one
// circuit breaker per service.
type HTTPClient struct {
	cfg    *ClientConfig
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
}

// NewHTTPClient creates a client from cfg.
func NewHTTPClient(cfg *ClientConfig) *HTTPClient {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
}

// Call invokes operation on service with a JSON payload and decodes the
// JSON response. Non-2xx responses and open circuits are errors.
func (c *HTTPClient) Call(ctx context.Context, service, operation string, payload map[string]interface{}) (map[string]interface{}, error) {
	base, ok := c.cfg.Services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	br := c.breakerFor(service)
	return circuitbreaker.Call(br, func() (map[string]interface{}, error) {
		return c.post(ctx, joinURL(base, operation), payload)
	})
}

func (c *HTTPClient) post(ctx context.Context, url string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	out := make(map[string]interface{})
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, nil
}

func (c *HTTPClient) breakerFor(service string) *circuitbreaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	br, ok := c.breakers[service]
	if !ok {
		cfg := c.cfg.Breaker
		if cfg == nil {
			cfg = circuitbreaker.DefaultConfig()
		}
		bcfg := *cfg
		bcfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Printf("integration service %s circuit: %s -> %s", service, from, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from, to)
			}
		}
		br = circuitbreaker.New(&bcfg)
		c.breakers[service] = br
	}
	return br
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
