// Package telegram delivers reminders as Telegram messages. A delivery token is
// the chat id the bot writes to.
package telegram

import (
	"context"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notepush/logger"
	"notepush/model"
	"notepush/push"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ProviderName          = "telegram"
	defaultRequestTimeout = 8 * time.Second
)

type sender interface {
	Send(c tg.Chattable) (tg.Message, error)
}

type Client struct {
	bot    sender
	logger *zap.SugaredLogger
}

func New(ctx context.Context, cfg push.Config, l *zap.SugaredLogger) (push.Client, error) {
	l = logger.Named(l, ProviderName)
	if cfg.TgToken == "" {
		return nil, errors.New("telegram token isn't set")
	}

	b, err := tg.NewBotAPIWithClient(cfg.TgToken, tg.APIEndpoint, httpClient(cfg))
	if err != nil {
		l.Errorw("failed to initialize Telegram Bot", "err", err)
		return nil, errors.Wrap(err, "failed to initialize Telegram Bot")
	}
	b.Debug = false

	l.Infof("authorized on account %q", b.Self.UserName)
	return newClient(b, l), nil
}

// httpClient bounds each Bot API request so a send abandoned by its caller
// also stops on the wire before the caller retries.
func httpClient(cfg push.Config) *http.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

func newClient(b sender, l *zap.SugaredLogger) *Client {
	return &Client{bot: b, logger: l}
}

type sendResult struct {
	msg tg.Message
	err error
}

func (c *Client) Send(ctx context.Context, token string, n model.Notification) (string, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		return "", push.Permanent("malformed chat id", err)
	}

	m := tg.NewMessage(chatID, format(n))
	m.ParseMode = tg.ModeHTML
	m.DisableWebPagePreview = true

	// BotAPI doesn't take a context, the result of an abandoned call is dropped.
	// If Telegram accepted the message before the context ended, a retry sends
	// it again.
	ch := make(chan sendResult, 1)
	go func() {
		msg, err := c.bot.Send(m)
		ch <- sendResult{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", push.Transient("request timed out", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return "", classify(r.err)
		}
		return strconv.Itoa(r.msg.MessageID), nil
	}
}

func format(n model.Notification) string {
	var sb strings.Builder
	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(n.Title))
	sb.WriteString("</b>\n")
	sb.WriteString(html.EscapeString(n.Body))
	if u := n.Data["url"]; strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		sb.WriteString("\n")
		sb.WriteString(html.EscapeString(u))
	}
	return sb.String()
}

func classify(err error) error {
	var apiErr *tg.Error
	if !errors.As(err, &apiErr) {
		return push.Transient("request failed", err)
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == http.StatusForbidden:
		// blocked by the user or kicked from the chat
		return push.Permanent("bot can't write to the chat", err)
	case apiErr.Code == http.StatusBadRequest && strings.Contains(msg, "chat not found"):
		return push.Permanent("chat not found", err)
	case apiErr.Code == http.StatusTooManyRequests:
		return push.Throttled("rate limited", err)
	default:
		return push.Transient("telegram api error", err)
	}
}

func init() {
	push.Register(ProviderName, New)
}
