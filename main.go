package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notepush/api"
	"notepush/auth"
	"notepush/config"
	"notepush/db"
	"notepush/dispatch"
	"notepush/events"
	"notepush/logger"
	"notepush/metrics"
	"notepush/policy"
	"notepush/push"
	"notepush/registry"
	"notepush/reminder"
	"notepush/timezone"

	_ "notepush/push/logpush"
	_ "notepush/push/sns"
	_ "notepush/push/telegram"

	"github.com/gin-gonic/gin"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// stores are the storage backends picked by the configuration.
type stores struct {
	tokens   registry.Store
	policies policy.Backend
	ledger   reminder.SlotLedger
	audit    dispatch.Audit
	notes    dispatch.NoteSource
	close    func()
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		l, syncLogs := logger.New("Global", false)
		l.Errorw("couldn't load configuration", "err", err)
		_ = syncLogs()
		os.Exit(1)
	}

	l, syncLogs := logger.New("Global", cfg.Production)
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Errorw("notepush stopped with an error", "err", err)
		_ = syncLogs()
		os.Exit(1)
	}
	l.Info("notepush stopped")
}

func run(ctx context.Context, cfg config.Config, l *zap.SugaredLogger) error {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Register()
	clk := clock.New()

	zones, err := timezone.NewCache(cfg.DefaultTimeZone)
	if err != nil {
		return errors.Wrap(err, "failed to initialize time zones")
	}

	st, err := openStores(ctx, cfg, clk, l)
	if err != nil {
		return err
	}
	defer st.close()

	client, err := push.New(ctx, cfg.Provider, push.Config{
		RequestTimeout:            requestTimeout(cfg.Delivery.AttemptTimeout.Std()),
		TgToken:                   cfg.TgToken,
		SNSRegion:                 cfg.SNSRegion,
		SNSPlatformApplicationARN: cfg.SNSPlatformApplicationARN,
	}, l)
	if err != nil {
		return errors.Wrapf(err, "failed to initialize push provider %q", cfg.Provider)
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, clk)
	if err != nil {
		return err
	}

	tokens := registry.New(st.tokens, clk, l)
	policies := policy.NewStore(st.policies, zones, clk, l)
	dispatcher := dispatch.New(tokens, client, dispatch.NewRenderer(st.notes, l), st.audit, clk, l, dispatch.Options{
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		BaseDelay:      cfg.Delivery.BaseDelay.Std(),
		MaxDelay:       cfg.Delivery.MaxDelay.Std(),
		AttemptTimeout: cfg.Delivery.AttemptTimeout.Std(),
		Parallelism:    cfg.Delivery.Parallelism,
		Provider:       cfg.Provider,
	})
	manager := reminder.NewManager(policies, dispatcher, st.ledger, zones, clk, l, reminder.Options{
		Tick:              cfg.Scheduler.Tick.Std(),
		ReconcileInterval: cfg.Scheduler.ReconcileInterval.Std(),
		DispatchTimeout:   cfg.Scheduler.DispatchTimeout.Std(),
		SlotRetention:     cfg.Scheduler.SlotRetention.Std(),
		LateFireGrace:     cfg.Scheduler.LateFireGrace.Std(),
	})

	var limiter *api.RateLimiter
	if cfg.RateLimit.PerSecond > 0 {
		limiter = api.NewRateLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)
	}
	router := api.NewRouter(api.NewHandler(tokens, policies, manager, l), verifier, limiter, l)
	server := api.NewServer(cfg.HTTPAddr, router, l)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if len(cfg.KafkaBrokers) > 0 {
		consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, events.NewHandler(policies, manager, l), l)
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		l.Info("kafka brokers aren't configured; note events are disabled")
	}

	l.Infow("notepush started", "storage", cfg.Storage, "ledger", cfg.LedgerKind(), "provider", cfg.Provider)
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, clk clock.Clock, l *zap.SugaredLogger) (stores, error) {
	st := stores{close: func() {}}

	var d *db.Database
	switch cfg.Storage {
	case config.StoragePostgres:
		var err error
		d, err = connectDB(ctx, cfg, clk, l)
		if err != nil {
			return st, err
		}
		st.tokens, st.policies, st.audit, st.notes = d, d, d, d
		st.close = d.Close
	default:
		l.Warn("using in-memory storage; state is lost on restart")
		st.tokens = registry.NewMemoryStore()
		st.policies = policy.NewMemoryBackend()
		st.audit = dispatch.NewMemoryAudit()
	}

	switch cfg.LedgerKind() {
	case config.StoragePostgres:
		st.ledger = d
	case config.LedgerRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			st.close()
			return st, errors.Wrap(err, "failed connecting to redis")
		}
		st.ledger = reminder.NewRedisLedger(rdb, cfg.RedisPrefix, cfg.Scheduler.SlotRetention.Std())
		closeStores := st.close
		st.close = func() {
			_ = rdb.Close()
			closeStores()
		}
	default:
		st.ledger = reminder.NewMemoryLedger()
	}
	return st, nil
}

// connectDB retries until the database is reachable or attempts run out.
func connectDB(ctx context.Context, cfg config.Config, clk clock.Clock, l *zap.SugaredLogger) (*db.Database, error) {
	attempts := cfg.DBRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		d, err := db.NewDatabase(ctx, cfg.DBConnStr, clk)
		if err == nil {
			if cfg.DBTimeout > 0 {
				d.Timeout = cfg.DBTimeout.Std()
			}
			if err := d.Migrate(ctx); err != nil {
				d.Close()
				return nil, err
			}
			return d, nil
		}
		lastErr = err
		l.Warnw("failed to initialize database", "attempt", i, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.DBRetryDelay.Std()):
		}
	}
	return nil, errors.Wrap(lastErr, "failed to initialize database")
}

// requestTimeout keeps a provider request shorter than the dispatcher's
// attempt timeout.
func requestTimeout(attempt time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = dispatch.DefaultAttemptTimeout
	}
	return attempt * 4 / 5
}
