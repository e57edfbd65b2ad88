package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tidecraft/exchangeset/internal/cache"
	"github.com/tidecraft/exchangeset/internal/jobs"
)

// Server is the intake API: it accepts job triggers, reports job status and
// receives publish-notification events. It is a thin shell over the runner;
// all fulfilment logic lives in the pipeline packages.
type Server struct {
	echo   *echo.Echo
	runner *jobs.Runner
	jobs   *jobs.Store
	cache  *cache.ProductCache // nil when caching is disabled
	logger *slog.Logger

	addr            string
	shutdownTimeout time.Duration

	running sync.WaitGroup // in-flight fulfilment jobs
}

// Options configures the intake server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Auth              Authenticator
}

// NewServer wires the intake API.
func NewServer(opts Options, runner *jobs.Runner, store *jobs.Store, productCache *cache.ProductCache, logger *slog.Logger) *Server {
	s := &Server{
		runner:          runner,
		jobs:            store,
		cache:           productCache,
		logger:          logger,
		addr:            opts.Addr,
		shutdownTimeout: opts.ShutdownTimeout,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = opts.ReadHeaderTimeout
	e.Use(middleware.Recover())

	auth := opts.Auth
	if auth == nil {
		auth = NoAuth{}
	}
	if auth.Required() {
		e.Use(middleware.BasicAuth(func(username, password string, c echo.Context) (bool, error) {
			return auth.Authenticate(username, password), nil
		}))
	}

	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/jobs", s.handleCreateJob)
	e.GET("/v1/jobs/:batchId", s.handleGetJob)
	e.GET("/v1/jobs/:batchId/details", s.handleGetJob)
	e.POST("/v1/events/product-published", s.handleProductPublished)

	s.echo = e
	return s
}

// Start serves until the context is cancelled, then drains in-flight jobs.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("intake server shutdown failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown deadline reached with fulfilment jobs in flight")
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(c echo.Context) error {
	var trigger jobs.Trigger
	if err := c.Bind(&trigger); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed trigger")
	}
	if err := trigger.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Claim the batch id before accepting: the existence check and the
	// pending-record write are one store transaction, so two concurrent
	// triggers for the same batch cannot both be accepted and race into the
	// same staging path.
	err := s.jobs.Claim(jobs.Record{
		BatchID:       trigger.BatchID,
		CorrelationID: trigger.CorrelationID,
		Standard:      jobs.Standard(trigger.Standard),
		Status:        jobs.StatusPending,
	})
	if errors.Is(err, jobs.ErrJobActive) {
		return echo.NewHTTPError(http.StatusConflict, "batch already in progress")
	}
	if err != nil {
		return err
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		// The job outlives the HTTP request; the runner applies its own
		// deadline.
		if err := s.runner.Run(context.Background(), trigger); err != nil {
			s.logger.Error("fulfilment job failed", "batch_id", trigger.BatchID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"batchId": trigger.BatchID,
		"status":  string(jobs.StatusPending),
	})
}

func (s *Server) handleGetJob(c echo.Context) error {
	rec, err := s.jobs.Get(c.Param("batchId"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown batch")
		}
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type publishEvent struct {
	ProductName string `json:"productName"`
}

func (s *Server) handleProductPublished(c echo.Context) error {
	var ev publishEvent
	if err := c.Bind(&ev); err != nil || ev.ProductName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "productName is required")
	}

	if err := s.jobs.RecordPublishEvent(ev.ProductName); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(c.Request().Context(), ev.ProductName); err != nil {
			s.logger.Warn("cache invalidation failed", "product", ev.ProductName, "error", err)
		}
	}
	return c.NoContent(http.StatusOK)
}
