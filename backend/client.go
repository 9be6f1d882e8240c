// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package backend is the HTTP client for the mining Backend: block-discovery
// notifications and work-completion reports flow through it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

var logger = log.New("pkg", "backend")

const (
	clientName     = "kale-pooler"
	defaultTimeout = 30 * time.Second

	eventBlockDiscovered = "new_block_discovered"
	sourceStartupCheck   = "startup_check"

	pathBlockDiscovered = "/pooler/block-discovered"
	pathWorkCompleted   = "/pooler/work-completed"
)

// Client posts pooler events to the Backend. Identity fields (poolerId, event,
// source) are stamped on every body so callers cannot forget them.
type Client struct {
	baseURL   string
	poolerID  string
	authToken string
	version   string
	hc        *http.Client
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	Timeout time.Duration // per-request timeout, default 30s
	Version string        // reported in User-Agent, default "dev"
	HTTP    *http.Client  // overrides Timeout when set
}

// New creates a Backend client. The auth token is sent only on work-completion
// reports, matching what the Backend verifies.
func New(baseURL, poolerID, authToken string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	hc := opts.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		poolerID:  poolerID,
		authToken: authToken,
		version:   opts.Version,
		hc:        hc,
	}
}

// PoolerID returns the identity stamped on outbound bodies.
func (c *Client) PoolerID() string { return c.poolerID }

// NotifyBlockDiscovered reports a newly observed block from the poll loop.
func (c *Client) NotifyBlockDiscovered(ctx context.Context, d *BlockDiscovery) error {
	d.Event = eventBlockDiscovered
	d.PoolerID = c.poolerID
	return c.post(ctx, pathBlockDiscovered, d, false)
}

// NotifyStartupBlock reports the block found during the startup check.
func (c *Client) NotifyStartupBlock(ctx context.Context, s *StartupBlock) error {
	s.Source = sourceStartupCheck
	s.PoolerID = c.poolerID
	return c.post(ctx, pathBlockDiscovered, s, false)
}

// ReportWorkCompleted delivers one batch's results. This is the only call that
// carries the bearer token.
func (c *Client) ReportWorkCompleted(ctx context.Context, r *WorkReport) error {
	r.PoolerID = c.poolerID
	return c.post(ctx, pathWorkCompleted, r, true)
}

func (c *Client) post(ctx context.Context, path string, body any, withAuth bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pooler-ID", c.poolerID)
	req.Header.Set("User-Agent", clientName+"/"+c.version)
	if withAuth {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	started := mclock.Now()
	res, err := c.hc.Do(req)
	metricRoundtripMs().Observe(time.Duration(mclock.Now()-started).Milliseconds())
	if err != nil {
		metricPosts().AddWithLabel(1, map[string]string{"path": path, "result": "transport"})
		return errors.WithMessagef(err, "backend %s", path)
	}
	defer res.Body.Close()

	resBody, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode/100 != 2 {
		metricPosts().AddWithLabel(1, map[string]string{"path": path, "result": "rejected"})
		return errors.Errorf("backend %s: http %d: %s", path, res.StatusCode, bytes.TrimSpace(resBody))
	}

	metricPosts().AddWithLabel(1, map[string]string{"path": path, "result": "ok"})
	logger.Trace("backend accepted", "path", path, "status", res.StatusCode)
	return nil
}
