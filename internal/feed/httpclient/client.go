// Package httpclient implements feed.Client against the feed's JSON HTTP API.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/metrics"
)

const maxBodyBytes = 16 << 20

// Config controls the feed HTTP client.
type Config struct {
	BaseURL      string
	LocaleHeader string
	Locale       string
	UserAgent    string
	Timeout      time.Duration
	RPS          float64
	Burst        int
	MaxAttempts  int
}

// Client fetches feed pages over HTTP with rate limiting and retries.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	retry   *RetryPolicy
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient uses a client with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("feed base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse feed base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		retry:   NewRetryPolicy(cfg.MaxAttempts, 0, 0),
		logger:  logger,
	}, nil
}

type wireEntity struct {
	EMID                string `json:"emid"`
	Name                string `json:"name"`
	Desc                string `json:"desc"`
	ProfileImageObsHash string `json:"profileImageObsHash"`
	MemberCount         int    `json:"memberCount"`
	Badges              []int  `json:"badges"`
	JoinMethodType      int    `json:"joinMethodType"`
	Category            int    `json:"category"`
	InvitationURL       string `json:"invitationUrl"`
	CreatedAt           int64  `json:"createdAt"`
}

func (w wireEntity) toEntity() feed.Entity {
	e := feed.Entity{
		EMID:          w.EMID,
		Name:          w.Name,
		Description:   w.Desc,
		ImageHash:     w.ProfileImageObsHash,
		MemberCount:   w.MemberCount,
		Badges:        w.Badges,
		JoinMethod:    w.JoinMethodType,
		Category:      w.Category,
		InvitationURL: w.InvitationURL,
	}
	if w.CreatedAt > 0 {
		e.CreatedAt = time.UnixMilli(w.CreatedAt).UTC()
	}
	return e
}

type listResponse struct {
	Squares           []wireEntity `json:"squares"`
	ContinuationToken string       `json:"continuationToken"`
}

type detailResponse struct {
	Square wireEntity `json:"square"`
}

// FetchPage fetches one page of a partition listing.
func (c *Client) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page, error) {
	q := url.Values{}
	q.Set("sort", req.Partition.Sort.QueryValue())
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Token != "" {
		q.Set("ct", req.Token)
	}
	endpoint := c.base.JoinPath("category", strconv.Itoa(req.Partition.Category))
	endpoint.RawQuery = q.Encode()

	var body listResponse
	if err := c.getJSON(ctx, endpoint.String(), string(req.Partition.Sort), &body); err != nil {
		return feed.Page{}, fmt.Errorf("fetch %s page: %w", req.Partition, err)
	}
	page := feed.Page{
		Entities: make([]feed.Entity, 0, len(body.Squares)),
		Next:     body.ContinuationToken,
	}
	for _, sq := range body.Squares {
		e := sq.toEntity()
		if e.Category == 0 {
			e.Category = req.Partition.Category
		}
		page.Entities = append(page.Entities, e)
	}
	return page, nil
}

// FetchDetail fetches a single entity by its external id.
func (c *Client) FetchDetail(ctx context.Context, emid string) (feed.Entity, error) {
	endpoint := c.base.JoinPath("square", emid)
	var body detailResponse
	if err := c.getJSON(ctx, endpoint.String(), "detail", &body); err != nil {
		return feed.Entity{}, fmt.Errorf("fetch detail %s: %w", emid, err)
	}
	return body.Square.toEntity(), nil
}

func (c *Client) getJSON(ctx context.Context, rawURL, label string, out any) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		start := time.Now()
		status, err := c.doOnce(ctx, rawURL, out)
		metrics.ObserveFeedRequest(label, status, time.Since(start))
		if err == nil {
			return nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			return lastErr
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("feed request failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) doOnce(ctx context.Context, rawURL string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.LocaleHeader != "" && c.cfg.Locale != "" {
		req.Header.Set(c.cfg.LocaleHeader, c.cfg.Locale)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, feed.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, &retryableStatusError{status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	return resp.StatusCode, nil
}
