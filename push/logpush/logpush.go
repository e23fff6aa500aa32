// Package logpush is a provider which only logs notifications. It's used in
// development and with the memory profile.
package logpush

import (
	"context"
	"sync"

	"notepush/logger"
	"notepush/model"
	"notepush/push"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ProviderName = "log"

// Sent is a notification accepted by the client.
type Sent struct {
	ID           string
	Token        string
	Notification model.Notification
}

type Client struct {
	logger *zap.SugaredLogger

	mu   sync.Mutex
	sent []Sent
}

func New(_ context.Context, _ push.Config, l *zap.SugaredLogger) (push.Client, error) {
	return NewClient(l), nil
}

func NewClient(l *zap.SugaredLogger) *Client {
	return &Client{logger: logger.Named(l, ProviderName)}
}

func (c *Client) Send(ctx context.Context, token string, n model.Notification) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", push.Transient("context done", err)
	}
	if token == "" {
		return "", push.Permanent("empty token", nil)
	}

	id := uuid.NewString()
	c.logger.Infow("push notification", "id", id, "token", token, "title", n.Title, "body", n.Body, "data", n.Data)

	c.mu.Lock()
	c.sent = append(c.sent, Sent{ID: id, Token: token, Notification: n})
	c.mu.Unlock()
	return id, nil
}

// Sent returns the notifications accepted so far.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func init() {
	push.Register(ProviderName, New)
}
