package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/shift-scheduler/internal/errors"
)

// WebhookConfig configures delivery to a Discord-compatible webhook.
type WebhookConfig struct {
	URL      string
	Username string
	// Mention prefixes urgent messages, e.g. "@here".
	Mention string
	// RetryMax is the number of retries after the first attempt.
	RetryMax      int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
	RatePerMinute float64
}

// Webhook posts events as chat embeds.
type Webhook struct {
	cfg     WebhookConfig
	client  *retryablehttp.Client
	limiter *rate.Limiter
}

func NewWebhook(cfg WebhookConfig, log *zap.SugaredLogger) *Webhook {
	if cfg.Username == "" {
		cfg.Username = "shiftsched"
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = time.Second
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = cfg.RetryWaitMin
	c.RetryWaitMax = cfg.RetryWaitMax
	c.Backoff = retryablehttp.DefaultBackoff
	c.CheckRetry = retryablehttp.DefaultRetryPolicy
	c.Logger = leveled{log}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60.0)
	}
	return &Webhook{cfg: cfg, client: c, limiter: rate.NewLimiter(limit, 1)}
}

// Send delivers e, retrying within ctx. 429 responses honour Retry-After.
func (w *Webhook) Send(ctx context.Context, e Event) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "webhook rate limit")
	}

	body, err := json.Marshal(w.payload(e))
	if err != nil {
		return errors.Wrap(err, "encode webhook payload")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "post webhook"), errors.ErrUnavailable)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Mark(errors.Newf("webhook responded %d", resp.StatusCode), errors.ErrUnavailable)
	}
	return nil
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Username string  `json:"username"`
	Content  string  `json:"content,omitempty"`
	Embeds   []embed `json:"embeds"`
}

var kindColors = map[Kind]int{
	KindStartup:      0x3498db,
	KindBooked:       0x2ecc71,
	KindLimitReached: 0xf1c40f,
	KindRecovery:     0xe67e22,
	KindCritical:     0xe74c3c,
	KindLedgerError:  0xe74c3c,
	KindSummary:      0x95a5a6,
	KindShutdown:     0x7f8c8d,
}

func (w *Webhook) payload(e Event) webhookPayload {
	em := embed{
		Title:       e.Title,
		Description: e.Message,
		Color:       kindColors[e.Kind],
	}
	if !e.At.IsZero() {
		em.Timestamp = e.At.UTC().Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		if f.Value == "" {
			continue
		}
		em.Fields = append(em.Fields, embedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	if e.CorrelationID != "" {
		em.Footer = &embedFooter{Text: "correlation " + e.CorrelationID}
	}

	p := webhookPayload{Username: w.cfg.Username, Embeds: []embed{em}}
	if e.Urgent {
		p.Content = "🚨 " + e.Title
		if w.cfg.Mention != "" {
			p.Content = w.cfg.Mention + " " + p.Content
		}
	}
	return p
}

// leveled adapts zap to retryablehttp's LeveledLogger.
type leveled struct {
	log *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.log.Warnw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.log.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.log.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.log.Warnw(msg, kv...) }
