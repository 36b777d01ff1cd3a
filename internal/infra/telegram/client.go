// Package telegram implements the chat transport over the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/bling0390/vivbliss-watch/errs"
	"github.com/bling0390/vivbliss-watch/internal/notify"
	"github.com/bling0390/vivbliss-watch/internal/observability"
)

const (
	defaultBaseURL     = "https://api.telegram.org"
	defaultHTTPTimeout = 30 * time.Second

	// Bot API allows roughly one message per second per chat.
	defaultRateLimit = rate.Limit(1)
	defaultBurst     = 3

	retryMaxInterval = 10 * time.Second
	retryMaxElapsed  = 45 * time.Second
)

// Options configures the Bot API client.
type Options struct {
	BaseURL    string
	BotToken   string
	HTTPClient *http.Client
	RateLimit  rate.Limit
	Burst      int
}

// Client is a rate-limited Telegram Bot API client implementing the notify
// transport contract.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient validates the options and constructs a Client.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.BotToken)
	if token == "" {
		return nil, errs.New("telegram", errs.CodeConfig, errs.WithMessage("bot token required"))
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type messageResult struct {
	MessageID int64 `json:"message_id"`
}

type inlineKeyboardButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type inputMedia struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

// SendMessage posts one text message, optionally with an inline action button.
func (c *Client) SendMessage(ctx context.Context, chat string, text string, action *notify.Action) (int64, error) {
	body := map[string]any{
		"chat_id": chat,
		"text":    text,
	}
	if action != nil {
		body["reply_markup"] = inlineKeyboardMarkup{
			InlineKeyboard: [][]inlineKeyboardButton{{{Text: action.Label, URL: action.URL}}},
		}
	}
	raw, err := c.call(ctx, "sendMessage", body)
	if err != nil {
		return 0, err
	}
	var msg messageResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("telegram: decode sendMessage result: %w", err)
	}
	return msg.MessageID, nil
}

// SendMediaGroup posts a media group and returns the message ids in order.
func (c *Client) SendMediaGroup(ctx context.Context, chat string, items []notify.MediaItem) ([]int64, error) {
	if len(items) == 0 {
		return nil, errs.New("telegram", errs.CodeInvalid, errs.WithMessage("empty media group"))
	}
	media := make([]inputMedia, 0, len(items))
	for _, item := range items {
		media = append(media, inputMedia{Type: "photo", Media: item.Source, Caption: item.Caption})
	}
	raw, err := c.call(ctx, "sendMediaGroup", map[string]any{
		"chat_id": chat,
		"media":   media,
	})
	if err != nil {
		return nil, err
	}
	var msgs []messageResult
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("telegram: decode sendMediaGroup result: %w", err)
	}
	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.MessageID)
	}
	return ids, nil
}

// call posts one Bot API method, retrying transient failures with exponential
// backoff. 429 and 5xx responses retry; other API errors fail immediately.
func (c *Client) call(ctx context.Context, method string, body map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("telegram: encode %s: %w", method, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = retryMaxInterval
	deadline := time.Now().Add(retryMaxElapsed)

	var lastErr error
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("telegram: rate wait: %w", err)
		}
		result, retryable, err := c.post(ctx, method, payload)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err

		wait := policy.NextBackOff()
		if wait == backoff.Stop || time.Now().Add(wait).After(deadline) {
			return nil, fmt.Errorf("telegram: %s retries exhausted: %w", method, lastErr)
		}
		observability.Log().Debug("telegram retrying",
			observability.F("method", method),
			observability.F("wait", wait.String()),
			observability.F("error", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) post(ctx context.Context, method string, payload []byte) (json.RawMessage, bool, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("telegram: request %s: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("telegram: %s status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !envelope.OK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, errs.New("telegram", errs.CodeTransport,
			errs.WithMessage(fmt.Sprintf("%s failed: %d %s", method, envelope.ErrorCode, envelope.Description)))
	}
	return envelope.Result, false, nil
}

var _ notify.Transport = (*Client)(nil)
