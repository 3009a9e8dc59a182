// Package telegram delivers posting notifications through the Telegram
// Bot API's sendMessage endpoint.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

const defaultBaseURL = "https://api.telegram.org"

// Config controls delivery and retry behavior.
type Config struct {
	BotToken string
	ChatID   string
	// BaseURL overrides the Telegram API host, used by tests.
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Notifier implements monitor.Notifier against the Telegram Bot API.
type Notifier struct {
	cfg     Config
	client  *http.Client
	backoff *backoff
	logger  *zap.Logger
}

// New builds a Notifier. Token and chat ID are required.
func New(cfg Config, logger *zap.Logger) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		backoff: &backoff{base: cfg.BackoffInitial, max: cfg.BackoffMax},
		logger:  logger,
	}, nil
}

// Notify delivers each posting as its own message. Per-posting failures
// never abort the batch; the report records the fate of every posting.
func (n *Notifier) Notify(ctx context.Context, postings []monitor.Posting) monitor.DeliveryReport {
	report := monitor.DeliveryReport{Results: make([]monitor.DeliveryResult, 0, len(postings))}
	for _, p := range postings {
		attempts, err := n.sendWithRetry(ctx, formatPosting(p))
		result := monitor.DeliveryResult{Posting: p, Delivered: err == nil, Attempts: attempts}
		if err != nil {
			result.Err = err
			n.logger.Warn("notification delivery failed",
				zap.String("category", string(p.Category)),
				zap.String("title", p.Title),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		report.Results = append(report.Results, result)
	}
	return report
}

// Alert sends an operational message through the same chat, best effort.
func (n *Notifier) Alert(ctx context.Context, message string) error {
	_, err := n.sendWithRetry(ctx, "⚠️ "+html.EscapeString(message))
	return err
}

// Close is a no-op; the HTTP client holds no long-lived resources.
func (n *Notifier) Close() error { return nil }

func (n *Notifier) sendWithRetry(ctx context.Context, text string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(n.backoff.delay(attempt - 1)):
			}
		}
		err := n.sendMessage(ctx, text)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		var dErr *monitor.DeliveryError
		if errors.As(err, &dErr) && !dErr.Transient {
			return attempt + 1, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempt + 1, err
		}
	}
	return n.cfg.MaxRetries, lastErr
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.cfg.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return &monitor.DeliveryError{Transient: false, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.BaseURL, n.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &monitor.DeliveryError{Transient: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return &monitor.DeliveryError{Transient: isTransportTransient(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiResp apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &apiResp)
	desc := apiResp.Description
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}
	return &monitor.DeliveryError{
		StatusCode: resp.StatusCode,
		Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		Err:        fmt.Errorf("telegram api: %s", desc),
	}
}

// isTransportTransient treats timeouts and connection-level failures as
// retryable. Context cancellation is handled by the caller.
func isTransportTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// formatPosting renders one posting as a Telegram HTML message.
func formatPosting(p monitor.Posting) string {
	switch p.Category {
	case monitor.CategoryJob:
		msg := fmt.Sprintf("💼 <b>New Job Posting</b>\n\n<b>%s</b>", html.EscapeString(p.Title))
		if !p.PublishedAt.IsZero() {
			msg += fmt.Sprintf("\nPosted: %s", p.PublishedAt.Format("02 Jan 2006"))
		}
		if p.SourceURL != "" {
			msg += fmt.Sprintf("\n<a href=\"%s\">Apply here</a>", html.EscapeString(p.SourceURL))
		}
		return msg
	default:
		msg := fmt.Sprintf("📢 <b>New Notice</b>\n\n<b>%s</b>", html.EscapeString(p.Title))
		if !p.PublishedAt.IsZero() {
			msg += fmt.Sprintf("\nPosted: %s", p.PublishedAt.Format("02 Jan 2006 15:04"))
		}
		if p.Summary != "" {
			msg += "\n" + html.EscapeString(p.Summary)
		}
		if p.SourceURL != "" {
			msg += fmt.Sprintf("\n<a href=\"%s\">Open notice</a>", html.EscapeString(p.SourceURL))
		}
		return msg
	}
}
