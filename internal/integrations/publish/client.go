package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/failsafe-go/failsafe-go"

	"shortssync/internal/domain"
	"shortssync/internal/httpx"
	"shortssync/internal/logging"
)

// Client talks to the destination upload gateway. Publish is never retried
// in-process; Exists is.
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

type publishRequest struct {
	SourceChannel string  `json:"source_channel"`
	SourceItemID  string  `json:"source_item_id"`
	Caption       string  `json:"caption"`
	Score         float64 `json:"score"`
}

type publishResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Publish uploads item and returns the destination id.
func (c *Client) Publish(ctx context.Context, item domain.ScoredItem) (string, error) {
	body, err := json.Marshal(publishRequest{
		SourceChannel: domain.NormalizeChannel(item.SourceChannel),
		SourceItemID:  item.ID,
		Caption:       item.CaptionText,
		Score:         item.Score,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: publish %s: %v", domain.ErrTransient, item.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var decoded publishResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return "", fmt.Errorf("%w: decode publish response for %s: %v", domain.ErrUnconfirmed, item.ID, err)
		}
		if decoded.ID == "" {
			return "", fmt.Errorf("%w: publish response for %s has no id", domain.ErrUnconfirmed, item.ID)
		}
		return decoded.ID, nil
	}
	return "", classify(item.ID, resp)
}

// Exists reports whether destinationID is still live at the destination.
func (c *Client) Exists(ctx context.Context, destinationID string) (bool, error) {
	endpoint := c.baseURL + "/videos/" + url.PathEscape(destinationID)
	resp, err := httpx.Do(ctx, c.client, c.executor, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return req, nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: check %s: %v", domain.ErrTransient, destinationID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		return false, nil
	default:
		return false, classify(destinationID, resp)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func classify(id string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))

	var decoded errorResponse
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error.Message != "" {
		msg = decoded.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusForbidden && isQuotaError(decoded, raw):
		return fmt.Errorf("%w: %s: %s", domain.ErrQuotaExceeded, id, msg)
	case httpx.ShouldRetry(resp, nil):
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrTransient, id, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%s: status %d: %s", id, resp.StatusCode, msg)
	}
}

func isQuotaError(decoded errorResponse, raw []byte) bool {
	for _, e := range decoded.Error.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return bytes.Contains(raw, []byte("quotaExceeded"))
}
