package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/api"
	"github.com/lloydcotten/common-mq/internal/config"
	"github.com/lloydcotten/common-mq/internal/middleware"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.SugaredLogger
}

// New builds the HTTP surface of the bridge. svc may be nil, in which case
// the message routes answer 503. gatherer may be nil to omit /metrics.
func New(cfg config.Config, svc api.MessageService, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log), middleware.CORS(), middleware.Timeout(requestTimeout))

	r.GET("/health", func(c *gin.Context) {
		if svc == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		status := svc.Health()
		if !status.OK {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "details": status.Details})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "details": status.Details})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	api.RegisterRoutes(r, svc)

	return &Server{
		engine: r,
		cfg:    cfg,
		log:    log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Engine returns the underlying Gin engine (for testing)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
