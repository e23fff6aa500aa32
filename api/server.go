package api

import (
	"context"
	"net/http"
	"time"

	"notepush/auth"
	"notepush/logger"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// NewRouter wires the routes. Everything under /v1 requires a bearer token.
func NewRouter(h *Handler, v auth.Verifier, rl *RateLimiter, l *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), Logger(logger.Named(l, "http")), Metrics())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", Auth(v))
	if rl != nil {
		v1.Use(rl.Middleware())
	}

	notifications := v1.Group("/notifications")
	notifications.POST("/subscribe", h.Subscribe)
	notifications.POST("/unsubscribe", h.Unsubscribe)

	notes := v1.Group("/notes")
	notes.PUT("/:id/reminder", h.PutReminder)
	notes.GET("/:id/reminder", h.GetReminder)
	notes.DELETE("/:id/reminder", h.DeleteReminder)

	return router
}

type Server struct {
	srv    *http.Server
	logger *zap.SugaredLogger
}

func NewServer(addr string, router http.Handler, l *zap.SugaredLogger) *Server {
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		logger: logger.Named(l, "http"),
	}
}

// Run serves until ctx is done and then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed shutting down http server")
	}
	s.logger.Info("http server stopped")
	return nil
}
