// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ghapi is a paced client for the GitHub REST API.
//
// All requests go through a shared Pacer. List endpoints are fetched page by
// page until an empty page, a repeated page or a single-object response.
// Three conditions are reported separately from generic failures:
//
//   - ErrNotFound: the resource does not exist; callers skip its owner
//   - ErrRateLimited: the quota stayed exhausted through every cooldown
//   - ErrMalformed: a response did not have the expected JSON shape
//   - ErrUnavailable: the resource exists but cannot be served, such as a
//     blocked, disabled or empty repository
//
// Any other 4xx response is a *StatusError.
package ghapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrNotFound    = errors.New("ghapi: not found")
	ErrRateLimited = errors.New("ghapi: rate limit exceeded")
	ErrMalformed   = errors.New("ghapi: malformed response")
	ErrUnavailable = errors.New("ghapi: unavailable")
)

// StatusError is a 4xx response other than 404 or an exhausted quota.
// It matches ErrUnavailable for 403, 409, 410, 422 and 451.
type StatusError struct {
	URL     string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("get %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("get %s: status %d: %s", e.URL, e.Status, e.Message)
}

func (e *StatusError) Is(target error) bool {
	if target != ErrUnavailable {
		return false
	}
	switch e.Status {
	case http.StatusForbidden, http.StatusConflict, http.StatusGone,
		http.StatusUnprocessableEntity, http.StatusUnavailableForLegalReasons:
		return true
	}
	return false
}

// quotaMessage is the body message GitHub sends once the hourly quota is spent.
const quotaMessage = "API rate limit exceeded"

// Options configures a Client. Zero values take the defaults noted per field.
type Options struct {
	// BaseURL defaults to https://api.github.com.
	BaseURL string
	Token   string
	// Timeout per HTTP request. Defaults to 30s.
	Timeout time.Duration
	// Cooldown after a quota-exceeded response. Defaults to 10m.
	Cooldown time.Duration
	// MaxCooldowns bounds consecutive cooldowns for one page. Defaults to 6.
	MaxCooldowns int
	// RetryBackoff is slept before the single retry of a transport error.
	// Defaults to 5s.
	RetryBackoff time.Duration
	// HeadCacheSize bounds the head-commit cache. Defaults to 4096.
	HeadCacheSize int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client issues paced GET requests against the GitHub REST API.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	pacer        *Pacer
	cooldown     time.Duration
	maxCooldowns int
	retryBackoff time.Duration
	logger       *slog.Logger
	heads        *lru.Cache[string, string]

	// sleep is used for cooldowns and backoff; tests replace it.
	sleep func(context.Context, time.Duration) error
}

// New returns a Client that waits on pacer before every request.
func New(pacer *Pacer, opts Options) (*Client, error) {
	if pacer == nil {
		return nil, errors.New("ghapi: nil pacer")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 10 * time.Minute
	}
	if opts.MaxCooldowns <= 0 {
		opts.MaxCooldowns = 6
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.HeadCacheSize <= 0 {
		opts.HeadCacheSize = 4096
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	heads, err := lru.New[string, string](opts.HeadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ghapi: head cache: %w", err)
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		token:        opts.Token,
		http:         opts.HTTPClient,
		pacer:        pacer,
		cooldown:     opts.Cooldown,
		maxCooldowns: opts.MaxCooldowns,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger,
		heads:        heads,
		sleep:        Sleep,
	}, nil
}

// Pacer returns the pacer shared by this client.
func (c *Client) Pacer() *Pacer {
	return c.pacer
}

// Response is the result of a paged GET.
type Response struct {
	// Items holds every element of every list page, in request order.
	Items []json.RawMessage
	// Single is set when the endpoint answered with one JSON object.
	Single json.RawMessage
	// Pages is the number of requests that returned data.
	Pages int
}

// GetPaged fetches path (relative to the base URL, or absolute) page by page.
//
// Pagination stops at an empty page, at a page identical to the one before
// it, or at a single-object response. A body that is not JSON ends the
// pagination and is logged; whatever was collected so far is returned.
func (c *Client) GetPaged(ctx context.Context, path string) (*Response, error) {
	base := c.url(path)
	res := &Response{}
	var prev []byte

	for page := 1; ; page++ {
		url := addPage(base, page)
		body, err := c.fetch(ctx, url)
		if err != nil {
			return nil, err
		}

		var compact bytes.Buffer
		if err := json.Compact(&compact, body); err != nil {
			recordRequest("malformed")
			c.logger.Warn("ghapi.response.malformed", "url", url, "err", err)
			return res, nil
		}
		data := compact.Bytes()

		switch firstByte(data) {
		case '{':
			res.Single = json.RawMessage(data)
			res.Pages++
			return res, nil
		case '[':
		default:
			recordRequest("malformed")
			c.logger.Warn("ghapi.response.unexpected", "url", url, "body", truncate(string(data), 200))
			return res, nil
		}

		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			recordRequest("malformed")
			c.logger.Warn("ghapi.response.malformed", "url", url, "err", err)
			return res, nil
		}
		if len(items) == 0 {
			return res, nil
		}
		if prev != nil && bytes.Equal(prev, data) {
			c.logger.Warn("ghapi.page.repeated", "url", url, "page", page)
			return res, nil
		}
		res.Items = append(res.Items, items...)
		res.Pages++
		prev = append(prev[:0], data...)
	}
}

// GetObject fetches a single-object endpoint and decodes it into v.
func (c *Client) GetObject(ctx context.Context, path string, v any) error {
	res, err := c.GetPaged(ctx, path)
	if err != nil {
		return err
	}
	if res.Single == nil {
		return fmt.Errorf("%w: %s: expected an object", ErrMalformed, path)
	}
	if err := json.Unmarshal(res.Single, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return nil
}

// GetList fetches every page of a list endpoint and decodes the items.
func GetList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	res, err := c.GetPaged(ctx, path)
	if err != nil {
		return nil, err
	}
	if res.Single != nil && len(res.Items) == 0 {
		return nil, fmt.Errorf("%w: %s: expected a list", ErrMalformed, path)
	}
	out := make([]T, 0, len(res.Items))
	for i, raw := range res.Items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s item %d: %v", ErrMalformed, path, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// fetch performs one paced GET. It retries a transport failure once after
// the backoff and retries the same URL after each quota cooldown.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	cooldowns := 0
	transportRetried := false

	for {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		status, header, body, err := c.do(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if transportRetried {
				recordRequest("transport_error")
				return nil, fmt.Errorf("get %s: %w", url, err)
			}
			transportRetried = true
			c.logger.Warn("ghapi.transport.retry", "url", url, "err", err, "backoff", c.retryBackoff)
			if err := c.sleep(ctx, c.retryBackoff); err != nil {
				return nil, err
			}
			continue
		}

		msg := bodyMessage(body)
		switch {
		case isQuotaExceeded(status, header, msg):
			cooldowns++
			recordCooldown()
			if cooldowns > c.maxCooldowns {
				recordRequest("rate_limited")
				return nil, fmt.Errorf("get %s: %w after %d cooldowns", url, ErrRateLimited, c.maxCooldowns)
			}
			c.logger.Warn("ghapi.cooldown", "url", url, "duration", c.cooldown, "attempt", cooldowns)
			if err := c.sleep(ctx, c.cooldown); err != nil {
				return nil, err
			}
			continue
		case status == http.StatusNotFound || msg == "Not Found":
			recordRequest("not_found")
			return nil, fmt.Errorf("get %s: %w", url, ErrNotFound)
		case status >= 500:
			if transportRetried {
				recordRequest("server_error")
				return nil, fmt.Errorf("get %s: server returned %d", url, status)
			}
			transportRetried = true
			c.logger.Warn("ghapi.server.retry", "url", url, "status", status, "backoff", c.retryBackoff)
			if err := c.sleep(ctx, c.retryBackoff); err != nil {
				return nil, err
			}
			continue
		case status >= 400:
			serr := &StatusError{URL: url, Status: status, Message: msg}
			if errors.Is(serr, ErrUnavailable) {
				recordRequest("unavailable")
			} else {
				recordRequest("client_error")
			}
			return nil, serr
		}

		recordRequest("ok")
		return body, nil
	}
}

func (c *Client) do(ctx context.Context, url string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// addPage appends the page parameter with '?' or '&' as appropriate.
func addPage(url string, page int) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "page=" + strconv.Itoa(page)
}

// bodyMessage returns the "message" field of an object body, if any.
func bodyMessage(body []byte) string {
	if firstByte(bytes.TrimSpace(body)) != '{' {
		return ""
	}
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	return m.Message
}

func isQuotaExceeded(status int, header http.Header, msg string) bool {
	if strings.Contains(msg, quotaMessage) {
		return true
	}
	return (status == http.StatusForbidden || status == http.StatusTooManyRequests) &&
		header.Get("X-RateLimit-Remaining") == "0"
}

func firstByte(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
