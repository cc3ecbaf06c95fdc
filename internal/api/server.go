package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"trade-signal-sim/config"
	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/database"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/logging"
	"trade-signal-sim/internal/metrics"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// RunRepository is the persistent store behind the run endpoints.
// *database.Repository satisfies it.
type RunRepository interface {
	events.Sink
	SaveRun(ctx context.Context, res *backtest.RunResult, cfg json.RawMessage) error
	ListRuns(ctx context.Context, limit int) ([]database.RunRecord, error)
	GetSummaries(ctx context.Context, runID string) ([]backtest.Summary, error)
	GetEvents(ctx context.Context, runID, instrument string, kind events.Kind) ([]events.TradeEvent, error)
	HealthCheck(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         *config.Config
	store       *RunStore
	repo        RunRepository // nil without a database
	eventBus    *events.EventBus
	recorder    *metrics.Recorder
	hub         *WSHub
	rateLimiter *RateLimiter
	logger      zerolog.Logger

	runs     sync.WaitGroup
	runCtx   context.Context
	runStop  context.CancelFunc
	hubClose context.CancelFunc
}

// NewServer creates a new API server. repo and recorder may be nil.
func NewServer(
	cfg *config.Config,
	repo RunRepository,
	eventBus *events.EventBus,
	recorder *metrics.Recorder,
	logger zerolog.Logger,
) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	origins := cfg.Server.Origins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Trace-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	runCtx, runStop := context.WithCancel(context.Background())
	hubCtx, hubClose := context.WithCancel(context.Background())

	s := &Server{
		router:      router,
		cfg:         cfg,
		store:       NewRunStore(),
		repo:        repo,
		eventBus:    eventBus,
		recorder:    recorder,
		rateLimiter: NewRateLimiter(30, time.Minute), // replays are CPU bound
		logger:      logger.With().Str("component", "api").Logger(),
		runCtx:      runCtx,
		runStop:     runStop,
		hubClose:    hubClose,
	}

	s.hub = InitWebSocket(hubCtx, eventBus, logger)
	s.setupRoutes()
	return s
}

// requestLogger logs each request through zerolog with a trace id
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = logging.GenerateTraceID()
		}
		l := logging.APIContext(logger, c.Request.Method, c.Request.URL.Path).
			With().Str("trace_id", traceID).Logger()
		c.Request = c.Request.WithContext(logging.NewContext(c.Request.Context(), l))
		c.Header("X-Trace-ID", traceID)

		c.Next()

		evt := l.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = l.Error()
		}
		evt.Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// rateLimitMiddleware limits how often a path may be hit
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "Too many replay requests, slow down",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)
	if s.recorder != nil {
		s.router.GET("/metrics", gin.WrapH(s.recorder.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/config", s.handleGetConfig)

		runs := api.Group("/runs")
		runs.POST("", s.rateLimitMiddleware(), s.handleStartRun)
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
		runs.GET("/:id/summary", s.handleGetRunSummary)
		runs.GET("/:id/events", s.handleGetRunEvents)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight replays
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached with replays still running")
	}
	s.runStop()
	s.hubClose()
	return err
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":     "healthy",
		"runs":       s.store.Len(),
		"ws_clients": s.hub.GetClientCount(),
	}

	if s.repo == nil {
		body["database"] = "disabled"
		c.JSON(http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.repo.HealthCheck(ctx); err != nil {
		body["status"] = "unhealthy"
		body["database"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["database"] = "healthy"
	c.JSON(http.StatusOK, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
