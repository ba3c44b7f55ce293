// Package notify delivers operator alerts.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/logging"
)

// DefaultTimeout bounds one delivery attempt.
const DefaultTimeout = 10 * time.Second

const defaultTelegramURL = "https://api.telegram.org"

// TelegramOptions configures a Telegram notifier.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	BaseURL  string // default https://api.telegram.org
	Timeout  time.Duration
	Logger   logrus.FieldLogger
}

// Telegram sends alerts through the Telegram Bot API.
// Delivery failures are logged and never returned.
type Telegram struct {
	http   *resty.Client
	token  string
	chatID string
	log    logrus.FieldLogger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(opts TelegramOptions) *Telegram {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultTelegramURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Telegram{
		http:   resty.New().SetBaseURL(opts.BaseURL).SetTimeout(opts.Timeout),
		token:  opts.BotToken,
		chatID: opts.ChatID,
		log:    logging.Component(opts.Logger, "notify"),
	}
}

// Notify sends text to the configured chat.
func (t *Telegram) Notify(ctx context.Context, text string) {
	if err := t.send(ctx, text); err != nil {
		t.log.WithError(err).WithField("text", text).Warn("alert not delivered")
	}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	resp, err := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"chat_id":                  t.chatID,
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send message: http %d", resp.StatusCode())
	}
	return nil
}

// Log writes alerts to the logger. Used when no chat is configured.
type Log struct {
	log logrus.FieldLogger
}

// NewLog creates a logging notifier.
func NewLog(logger logrus.FieldLogger) *Log {
	return &Log{log: logging.Component(logger, "notify")}
}

// Notify logs text at info level.
func (l *Log) Notify(_ context.Context, text string) {
	l.log.WithField("alert", text).Info("alert")
}
