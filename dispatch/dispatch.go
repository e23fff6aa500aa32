package dispatch

import (
	"context"
	"time"

	"notepush/logger"
	"notepush/metrics"
	"notepush/model"
	"notepush/push"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultParallelism    = 8
)

var errThrottled = errors.New("push provider is throttling")

// Tokens is the view of the token registry the dispatcher needs.
type Tokens interface {
	TokensFor(ctx context.Context, owner model.UserID) ([]model.DeliveryToken, error)
	Invalidate(ctx context.Context, token string)
}

type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Parallelism    int
	// Provider labels metrics.
	Provider string
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.Provider == "" {
		o.Provider = "unknown"
	}
	return o
}

// Dispatcher delivers a fired job to every active token of its owner.
type Dispatcher struct {
	tokens   Tokens
	client   push.Client
	renderer *Renderer
	audit    Audit
	clk      clock.Clock
	logger   *zap.SugaredLogger
	opts     Options
	wait     waitFunc
}

func New(tokens Tokens, client push.Client, renderer *Renderer, audit Audit, clk clock.Clock, l *zap.SugaredLogger, opts Options) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	l = logger.Named(l, "dispatch")
	if renderer == nil {
		renderer = NewRenderer(nil, l)
	}
	return &Dispatcher{
		tokens:   tokens,
		client:   client,
		renderer: renderer,
		audit:    audit,
		clk:      clk,
		logger:   l,
		opts:     opts.withDefaults(),
		wait:     sleep,
	}
}

// Deliver sends the job's notification to all active tokens of job.Owner, one
// outcome per token. Tokens failing permanently are invalidated. A job whose
// owner has no tokens yields a single NoRecipient outcome. Only a failure to
// list the tokens is returned as an error.
func (d *Dispatcher) Deliver(ctx context.Context, job model.ScheduledJob) ([]model.DeliveryOutcome, error) {
	l := logger.ForNote(logger.ForUser(d.logger, job.Owner), job.NoteID)

	tokens, err := d.tokens.TokensFor(ctx, job.Owner)
	if err != nil {
		l.Errorw("failed fetching delivery tokens", "err", err)
		return nil, err
	}

	if len(tokens) == 0 {
		l.Infow("user has no active delivery tokens", "fire_at", job.FireAt)
		metrics.DeliveryAttemptsTotal.WithLabelValues(d.opts.Provider, model.NoRecipient.String()).Inc()
		outcomes := []model.DeliveryOutcome{{Job: job, Result: model.NoRecipient, At: d.clk.Now().UTC()}}
		d.record(ctx, outcomes)
		return outcomes, nil
	}

	n := d.renderer.Render(ctx, job)

	// a throttled provider stops the whole fan-out; tokens not tried yet are
	// dropped like any other transient failure
	outcomes := make([]model.DeliveryOutcome, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Parallelism)
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			if gctx.Err() != nil {
				outcomes[i] = d.skipped(job, tok.Token, context.Cause(gctx))
				return nil
			}
			o, throttled := d.deliverOne(gctx, job, tok.Token, n)
			outcomes[i] = o
			if throttled {
				return errThrottled
			}
			return nil
		})
	}
	if err := g.Wait(); errors.Is(err, errThrottled) {
		l.Warnw("push provider is throttling; stopped delivering to remaining tokens", "tokens", len(tokens))
	}

	for _, o := range outcomes {
		switch o.Result {
		case model.PermanentFailure:
			l.Warnw("delivery token failed permanently; invalidating it", "device", deviceOf(tokens, o.Token), "err", o.Err)
			d.tokens.Invalidate(ctx, o.Token)
			metrics.TokensInvalidatedTotal.Inc()
		case model.TransientFailure:
			l.Warnw("giving up delivery after retries", "attempts", o.Attempts, "device", deviceOf(tokens, o.Token), "err", o.Err)
			metrics.DeliveryDroppedTotal.WithLabelValues(d.opts.Provider).Inc()
		}
	}

	d.record(ctx, outcomes)
	return outcomes, nil
}

// deliverOne retries a single token. throttled is true when the provider
// rejected the request for the whole account; no further attempts are made.
func (d *Dispatcher) deliverOne(ctx context.Context, job model.ScheduledJob, token string, n model.Notification) (out model.DeliveryOutcome, throttled bool) {
	out = model.DeliveryOutcome{Job: job, Token: token, Result: model.TransientFailure}

	delay := func(attempt int) time.Duration {
		return backoff(d.opts.BaseDelay, d.opts.MaxDelay, attempt)
	}
	robustExecute(ctx, d.opts.MaxAttempts, delay, d.wait, func(attempt int) bool {
		out.Attempts = attempt
		out.Job.Attempt = attempt

		id, err := d.send(ctx, token, n)
		if err == nil {
			out.Result = model.Sent
			out.ProviderMessageID = id
			out.Err = ""
			return true
		}

		out.Err = err.Error()
		if push.IsPermanent(err) {
			out.Result = model.PermanentFailure
			return true
		}
		if push.IsThrottled(err) {
			throttled = true
			return true
		}
		if attempt < d.opts.MaxAttempts {
			metrics.DeliveryRetriesTotal.WithLabelValues(d.opts.Provider).Inc()
		}
		return false
	})

	out.At = d.clk.Now().UTC()
	return out, throttled
}

func (d *Dispatcher) skipped(job model.ScheduledJob, token string, cause error) model.DeliveryOutcome {
	return model.DeliveryOutcome{
		Job:    job,
		Token:  token,
		Result: model.TransientFailure,
		Err:    cause.Error(),
		At:     d.clk.Now().UTC(),
	}
}

func (d *Dispatcher) send(ctx context.Context, token string, n model.Notification) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
	defer cancel()

	start := time.Now()
	id, err := d.client.Send(ctx, token, n)
	metrics.DeliveryDuration.WithLabelValues(d.opts.Provider).Observe(time.Since(start).Seconds())

	result := model.Sent
	switch {
	case err == nil:
	case push.IsPermanent(err):
		result = model.PermanentFailure
	default:
		result = model.TransientFailure
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues(d.opts.Provider, result.String()).Inc()
	return id, err
}

func (d *Dispatcher) record(ctx context.Context, outcomes []model.DeliveryOutcome) {
	if d.audit == nil {
		return
	}
	if err := d.audit.RecordOutcomes(ctx, outcomes); err != nil {
		d.logger.Warnw("failed recording delivery outcomes", "err", err)
	}
}

func deviceOf(tokens []model.DeliveryToken, token string) string {
	for _, t := range tokens {
		if t.Token == token {
			return t.Device
		}
	}
	return ""
}
