// Package transport dispatches signed HTTP requests to remote sites and
// maps responses into structured results and errors.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/checksum"
	"github.com/replicast/replicast/internal/metrics"
	"github.com/replicast/replicast/internal/models"
	"github.com/replicast/replicast/internal/signer"
)

// Options configures the transport.
type Options struct {
	Timeout   time.Duration // per-request; bounds how long a hung site can stall a save
	Algorithm string        // signature digest
	CacheTTL  time.Duration // per-site client cache lifetime

	// IncludeIP binds SourceIP into every signature. SourceIP must be the
	// address remote peers observe for this node, or verification fails
	// there. Leave off for local and development setups.
	IncludeIP bool
	SourceIP  string
}

// Client issues signed requests. Per-site HTTP clients and circuit breakers
// are cached with a bounded TTL and invalidated when a site is deleted or
// the registry reloads.
type Client struct {
	opts   Options
	signer signer.Signer
	logger *slog.Logger

	// Now is the timestamp source; replaceable in tests.
	Now func() time.Time

	mu    sync.Mutex
	sites map[int64]*siteClient
}

type siteClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	expires time.Time
}

// New creates a transport client.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 600 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		signer: signer.New(opts.Algorithm),
		logger: logger,
		Now:    time.Now,
		sites:  make(map[int64]*siteClient),
	}
}

// Invalidate drops one site's cached client and breaker.
func (c *Client) Invalidate(siteID int64) {
	c.mu.Lock()
	delete(c.sites, siteID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached client, used on registry reload.
func (c *Client) InvalidateAll() {
	c.mu.Lock()
	c.sites = make(map[int64]*siteClient)
	c.mu.Unlock()
}

func (c *Client) clientFor(siteID int64) *siteClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	if sc, ok := c.sites[siteID]; ok && now.Before(sc.expires) {
		return sc
	}

	label := strconv.FormatInt(siteID, 10)
	metrics.BreakerState.WithLabelValues(label).Set(0)

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:     "site-" + label,
		Interval: time.Minute,
		Timeout:  2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.logger.Info("transport: breaker state change",
				slog.Int64("site_id", siteID),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(label).Set(breakerStateValue(to))
		},
	})

	sc := &siteClient{
		http:    &http.Client{Timeout: c.opts.Timeout},
		breaker: breaker,
		expires: now.Add(c.opts.CacheTTL),
	}
	c.sites[siteID] = sc
	return sc
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Do issues one signed JSON request. PUT is translated to POST because the
// remote API does not accept PUT. A nil body sends no payload.
func (c *Client) Do(ctx context.Context, site *models.RemoteSite, method, path string, params []signer.Param, body any) (*models.RemoteResponse, error) {
	if method == http.MethodPut {
		method = http.MethodPost
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := c.newSignedRequest(ctx, site, method, path, params, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.execute(site, req)
}

// Upload issues a signed binary upload carrying the source mime type, an
// attachment disposition and a checksum of the raw bytes.
func (c *Client) Upload(ctx context.Context, site *models.RemoteSite, path, filename, contentType string, data []byte) (*models.RemoteResponse, error) {
	req, err := c.newSignedRequest(ctx, site, http.MethodPost, path, nil, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	req.Header.Set("Content-MD5", checksum.ContentMD5(data))
	return c.execute(site, req)
}

func (c *Client) newSignedRequest(ctx context.Context, site *models.RemoteSite, method, path string, params []signer.Param, body io.Reader) (*http.Request, error) {
	uri := strings.TrimSuffix(site.APIURL, "/") + "/" + strings.TrimPrefix(path, "/")
	uri = signer.BuildQuery(uri, params)

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}

	timestamp := c.Now().Unix()
	var sig string
	if c.opts.IncludeIP {
		sig = c.signer.SignWithIP(method, req.URL.RequestURI(), timestamp, c.opts.SourceIP, site.APIKey, site.APISecret)
	} else {
		sig = c.signer.Sign(method, req.URL.RequestURI(), timestamp, site.APIKey, site.APISecret)
	}
	req.Header.Set("X-API-KEY", site.APIKey)
	req.Header.Set("X-API-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-API-SIGNATURE", sig)
	return req, nil
}

func (c *Client) execute(site *models.RemoteSite, req *http.Request) (*models.RemoteResponse, error) {
	sc := c.clientFor(site.ID)

	resp, err := sc.breaker.Execute(func() (*http.Response, error) {
		return sc.http.Do(req)
	})
	if err != nil {
		return nil, &apperr.TransportError{SiteID: site.ID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.TransportError{SiteID: site.ID, Err: err}
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		var remoteErr models.RemoteError
		if err := json.Unmarshal(raw, &remoteErr); err != nil || remoteErr.Message == "" {
			remoteErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &apperr.RemoteRejected{
			Code:    remoteErr.Code,
			Message: remoteErr.Message,
			Status:  resp.StatusCode,
		}
	}

	out := &models.RemoteResponse{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("transport: decode response: %w", err)
		}
	}
	return out, nil
}
