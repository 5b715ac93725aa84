package esplora

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// maxBodySize bounds every response read. Raw blocks are the largest
// payloads at up to 4 MB of weight, 8 MB as hex.
const maxBodySize = 16 << 20

// Client performs Esplora REST calls against a failover pool.
type Client struct {
	httpClient *http.Client
	pool       *Pool
	log        logrus.FieldLogger
}

// NewClient creates a client. A non-empty proxy (e.g. socks5://127.0.0.1:9050)
// routes every request through it.
func NewClient(pool *Pool, timeout time.Duration, proxy string, log logrus.FieldLogger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		pool: pool,
		log:  log,
	}, nil
}

// Get fetches path relative to a base URL.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, "")
}

// Post sends body as text/plain to path.
func (c *Client) Post(ctx context.Context, path, body string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// do tries each endpoint at most once. Transport errors and server-side
// failures move on to the next endpoint; any other answer is final.
func (c *Client) do(ctx context.Context, method, path, body string) ([]byte, error) {
	if c.pool.Len() == 0 {
		return nil, ErrNoEndpoints
	}

	var lastErr error
	for attempt := 0; attempt < c.pool.Len(); attempt++ {
		base, err := c.pool.Next()
		if err != nil {
			return nil, err
		}

		data, err := c.once(ctx, method, base, path, body)
		if err == nil {
			return data, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.log.WithFields(logrus.Fields{"endpoint": base, "path": path}).
			WithError(err).Debug("esplora endpoint failed")
	}
	return nil, backend.Unavailable(method+" "+path, lastErr)
}

func (c *Client) once(ctx context.Context, method, base, path, body string) ([]byte, error) {
	start := time.Now()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.pool.MarkUnhealthy(base, err)
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.pool.MarkUnhealthy(base, err)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(data)}
		if isEndpointFailure(resp.StatusCode) {
			c.pool.MarkUnhealthy(base, statusErr)
			return nil, fmt.Errorf("server failure: %s", statusErr.Error())
		}
		c.pool.MarkHealthy(base, time.Since(start))
		return nil, statusErr
	}

	c.pool.MarkHealthy(base, time.Since(start))
	return data, nil
}
