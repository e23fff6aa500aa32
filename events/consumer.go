package events

import (
	"context"
	"time"

	"notepush/logger"
	"notepush/metrics"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	handleAttempts = 3
	handleDelay    = 2 * time.Second
	fetchDelay     = time.Second
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads note events from a kafka topic. Every message is committed
// after it's handled or given up.
type Consumer struct {
	reader  reader
	handler *Handler
	logger  *zap.SugaredLogger
	delay   time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, h *Handler, l *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, h, l)
}

func newConsumer(r reader, h *Handler, l *zap.SugaredLogger) *Consumer {
	return &Consumer{reader: r, handler: h, logger: logger.Named(l, "consumer"), delay: handleDelay}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Errorw("failed reading kafka message", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchDelay):
			}
			continue
		}

		c.handle(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Errorw("failed committing kafka message", "offset", m.Offset, "err", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	ev, err := Decode(m.Value)
	if err != nil {
		metrics.NoteEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		c.logger.Warnw("skipping invalid note event", "offset", m.Offset, "err", err)
		return
	}

	for attempt := 1; ; attempt++ {
		err = c.handler.Apply(ctx, ev)
		if err == nil {
			metrics.NoteEventsTotal.WithLabelValues(ev.Type, "applied").Inc()
			return
		}
		if Permanent(err) {
			metrics.NoteEventsTotal.WithLabelValues(ev.Type, "invalid").Inc()
			c.logger.Warnw("skipping note event", "note", ev.NoteID, "type", ev.Type, "err", err)
			return
		}
		if attempt == handleAttempts {
			metrics.NoteEventsTotal.WithLabelValues(ev.Type, "failed").Inc()
			c.logger.Errorw("failed applying note event; giving up", "note", ev.NoteID, "type", ev.Type, "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}
