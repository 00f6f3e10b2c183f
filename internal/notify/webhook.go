package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/tekaba/pkg/ratelimit"
)

// WebhookSink POSTs each alert as JSON to a URL (chat bots, pagers).
type WebhookSink struct {
	url     string
	client  *resty.Client
	limiter ratelimit.Limiter
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	Headers    map[string]string
	// RatePerMinute caps deliveries; a burst of that many is allowed. Zero
	// means no limit.
	RatePerMinute int
}

// NewWebhookSink returns a sink posting to cfg.URL.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook url is empty")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, errors.Errorf("webhook url must be http(s): %s", url)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && (resp.StatusCode() == 429 || resp.StatusCode() >= 500)
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "tekaba-dashboard/1.0")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	sink := &WebhookSink{url: url, client: client}
	if cfg.RatePerMinute > 0 {
		sink.limiter = ratelimit.PerMinute(cfg.RatePerMinute)
	}
	return sink, nil
}

func (s *WebhookSink) Name() string           { return "webhook" }
func (s *WebhookSink) Permission() Permission { return PermissionGranted }

func (s *WebhookSink) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

type webhookPayload struct {
	Text  string `json:"text"`
	Alert Alert  `json:"alert"`
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "webhook rate limit")
		}
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: a.Title + "\n" + a.Body, Alert: a}).
		Post(s.url)
	if err != nil {
		return errors.Wrap(err, "webhook post")
	}
	if resp.IsSuccess() {
		return nil
	}
	var body any
	_ = json.Unmarshal(resp.Body(), &body)
	if body == nil {
		body = string(resp.Body())
	}
	return errors.Errorf("webhook non-2xx: %s: %v", resp.Status(), body)
}
