// Package worldbank fetches indicator time series from the World Bank v2
// API: one (country, indicator) pair at a time, following pagination and
// retrying transient failures with bounded backoff.
package worldbank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"
)

const (
	DefaultPerPage  = 20000
	DefaultMaxPages = 50
)

// Observer receives one call per outbound request.
type Observer interface {
	ObserveAttempt(outcome string, d time.Duration)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	perPage    int
	maxPages   int
	policy     Policy
	limiter    *rate.Limiter
	observer   Observer
	logger     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }
func WithPerPage(n int) Option               { return func(c *Client) { c.perPage = n } }
func WithMaxPages(n int) Option              { return func(c *Client) { c.maxPages = n } }
func WithPolicy(p Policy) Option             { return func(c *Client) { c.policy = p } }
func WithObserver(o Observer) Option         { return func(c *Client) { c.observer = o } }
func WithLogger(l *log.Logger) Option        { return func(c *Client) { c.logger = l } }

// WithRateLimit caps outbound requests per second across all callers of the
// client. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		perPage:    DefaultPerPage,
		maxPages:   DefaultMaxPages,
		policy:     DefaultPolicy(),
		limiter:    rate.NewLimiter(rate.Inf, 0),
		logger:     log.New("worldbank"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns every page of the indicator series for one country, in page
// order. Paging stops at the reported page count, at the first empty page,
// or at the configured page cap. An empty slice with a nil error means the
// API has no data for the pair.
func (c *Client) Fetch(ctx context.Context, country, indicator string) ([]Page, error) {
	var pages []Page
	for n := 1; n <= c.maxPages; n++ {
		p, err := c.fetchPage(ctx, country, indicator, n)
		if err != nil {
			return nil, err
		}
		if len(p.Records) == 0 {
			break
		}
		pages = append(pages, p)
		if n >= int(p.Meta.Pages) {
			break
		}
		if n == c.maxPages {
			c.logger.Warnf("%s/%s: stopped at page cap %d of %d", country, indicator, n, int(p.Meta.Pages))
		}
	}
	return pages, nil
}

func (c *Client) pageURL(country, indicator string, page int) string {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))
	return fmt.Sprintf("%s/country/%s/indicator/%s?%s",
		c.baseURL, url.PathEscape(country), url.PathEscape(indicator), q.Encode())
}

func (c *Client) fetchPage(ctx context.Context, country, indicator string, page int) (Page, error) {
	u := c.pageURL(country, indicator, page)
	var out Page

	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		start := time.Now()
		body, err := c.get(ctx, u)
		if err != nil {
			outcome := "network_error"
			var se *StatusError
			if errors.As(err, &se) {
				outcome = "http_error"
			}
			c.observe(outcome, time.Since(start))
			c.logger.Warnf("%s/%s page %d attempt %d: %v", country, indicator, page, attempt, err)
			return err
		}
		meta, records, err := decodePage(body)
		if err != nil {
			c.observe("shape_error", time.Since(start))
			return Permanent(&DataShapeError{Country: country, Indicator: indicator, Page: page, Reason: err.Error()})
		}
		c.observe("ok", time.Since(start))
		out = Page{Country: country, Indicator: indicator, Number: page, Meta: meta, Records: records}
		return nil
	})
	if err != nil {
		var shape *DataShapeError
		if errors.As(err, &shape) {
			return Page{}, shape
		}
		return Page{}, &FetchError{Country: country, Indicator: indicator, Attempts: attempts, Err: err}
	}
	c.logger.Debugf("%s/%s page %d: %d records", country, indicator, page, len(out.Records))
	return out, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: u}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (c *Client) observe(outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAttempt(outcome, d)
	}
}
