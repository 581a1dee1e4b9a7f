package source

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

	"github.com/failsafe-go/failsafe-go"

	"shortssync/internal/domain"
	"shortssync/internal/httpx"
	"shortssync/internal/logging"
)

// Client fetches a channel's recent items from the scraping gateway.
type Client struct {
	baseURL  string
	token    string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

func WithRetry(cfg httpx.RetryConfig) Option {
	return func(cl *Client) {
		cl.executor = httpx.NewRetryExecutor(cfg)
	}
}

func NewClient(baseURL, token string, logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		client:   httpx.ExternalHTTPClient(),
		executor: httpx.NewRetryExecutor(httpx.DefaultRetryConfig()),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type itemsResponse struct {
	Items []rawItem `json:"items"`
}

type rawItem struct {
	ID         string `json:"id"`
	Desc       string `json:"desc"`
	CreateTime int64  `json:"createTime"`
	Video      struct {
		Duration float64 `json:"duration"`
	} `json:"video"`
	Stats struct {
		PlayCount    int64 `json:"playCount"`
		DiggCount    int64 `json:"diggCount"`
		CommentCount int64 `json:"commentCount"`
		ShareCount   int64 `json:"shareCount"`
	} `json:"stats"`
}

// GetCandidates returns up to limit recent items. Any failure is wrapped in
// domain.ErrSourceUnavailable.
func (c *Client) GetCandidates(ctx context.Context, channel string, limit int) ([]domain.CandidateItem, error) {
	channel = domain.NormalizeChannel(channel)
	endpoint := fmt.Sprintf("%s/channels/%s/items?limit=%s", c.baseURL, url.PathEscape(channel), strconv.Itoa(limit))

	start := time.Now()
	resp, err := httpx.Do(ctx, c.client, c.executor, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrSourceUnavailable, channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: fetch %s: status %d: %s", domain.ErrSourceUnavailable, channel, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrSourceUnavailable, channel, err)
	}

	items := make([]domain.CandidateItem, 0, len(decoded.Items))
	for _, raw := range decoded.Items {
		if raw.ID == "" {
			continue
		}
		items = append(items, raw.candidate(channel))
		if limit > 0 && len(items) == limit {
			break
		}
	}
	c.logger.WithFields(logging.Fields{
		"channel":  channel,
		"items":    len(items),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("fetched candidates")
	return items, nil
}

func (r rawItem) candidate(channel string) domain.CandidateItem {
	item := domain.CandidateItem{
		ID:              r.ID,
		SourceChannel:   channel,
		DurationSeconds: r.Video.Duration,
		Views:           r.Stats.PlayCount,
		Likes:           r.Stats.DiggCount,
		Comments:        r.Stats.CommentCount,
		Shares:          r.Stats.ShareCount,
		CaptionText:     r.Desc,
	}
	if r.CreateTime > 0 {
		item.CreatedAt = time.Unix(r.CreateTime, 0).UTC()
	}
	return item
}
