package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"kucoin-futures-api/internal/auth"
	"kucoin-futures-api/internal/kucoin"
	"kucoin-futures-api/internal/logging"
	"kucoin-futures-api/internal/vault"
)

// ClockSource exposes the time sync state reported by /healthz
type ClockSource interface {
	TimeOffset() int64
	LastTimeSync() time.Time
}

// Server is the serve mode HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	logger     zerolog.Logger

	clock    ClockSource
	factory  *kucoin.ClientFactory
	vault    *vault.Client
	auth     *auth.JWTManager
	gatherer prometheus.Gatherer
	started  time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ProductionMode  bool
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// DefaultAccount is used by routes that take no account parameter
	DefaultAccount string
}

// Deps are the collaborators the routes read from. Vault, Gatherer and
// Logger may be nil. A nil Auth rejects every /api/v1 request.
type Deps struct {
	Clock    ClockSource
	Factory  *kucoin.ClientFactory
	Vault    *vault.Client
	Auth     *auth.JWTManager
	Gatherer prometheus.Gatherer
	Logger   *zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	logger := logging.WithComponent("api")
	if deps.Logger != nil {
		logger = deps.Logger.With().Str("component", "api").Logger()
	}

	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.NewRegistry()
	}

	s := &Server{
		router:   router,
		config:   config,
		logger:   logger,
		clock:    deps.Clock,
		factory:  deps.Factory,
		vault:    deps.Vault,
		auth:     deps.Auth,
		gatherer: gatherer,
		started:  time.Now(),
	}

	s.setupRoutes()

	return s
}

// Router returns the gin engine, for tests
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	v1.Use(auth.Middleware(s.auth))
	{
		v1.GET("/time", s.handleServerTime)
		v1.GET("/factory/stats", s.handleFactoryStats)
		v1.GET("/accounts/:account/overview", auth.RequireAccount("account"), s.handleAccountOverview)
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth reports clock sync state and vault reachability
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}

	if s.clock != nil {
		body["time_offset_ms"] = s.clock.TimeOffset()
		if last := s.clock.LastTimeSync(); !last.IsZero() {
			body["last_time_sync"] = last.UTC().Format(time.RFC3339Nano)
		} else {
			body["last_time_sync"] = nil
		}
	}

	if s.vault != nil && s.vault.IsEnabled() {
		if err := s.vault.Health(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Vault health check failed")
			body["status"] = "unhealthy"
			body["vault"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["vault"] = "healthy"
	}

	c.JSON(http.StatusOK, body)
}

// handleServerTime returns exchange time alongside the local clock offset
func (s *Server) handleServerTime(c *gin.Context) {
	client, ok := s.client(c, s.config.DefaultAccount)
	if !ok {
		return
	}

	serverTime, err := client.GetServerTime(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server_time":    serverTime,
		"time_offset_ms": client.TimeOffset(),
		"local_time":     time.Now().UnixMilli(),
	})
}

func (s *Server) handleFactoryStats(c *gin.Context) {
	if s.factory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "client factory not configured"})
		return
	}
	c.JSON(http.StatusOK, s.factory.Stats())
}

func (s *Server) handleAccountOverview(c *gin.Context) {
	client, ok := s.client(c, c.Param("account"))
	if !ok {
		return
	}

	resp, err := client.GetAccountOverview(c.Request.Context(), c.Query("currency"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Data)
}

func (s *Server) client(c *gin.Context, account string) (*kucoin.FuturesClient, bool) {
	if s.factory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "client factory not configured"})
		return nil, false
	}
	client, err := s.factory.GetClient(c.Request.Context(), account)
	if err != nil {
		logging.FromContext(c.Request.Context()).Warn().Err(err).Str("account", account).Msg("No client for account")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return client, true
}

// writeError maps a dispatcher error onto an HTTP response
func (s *Server) writeError(c *gin.Context, err error) {
	logging.FromContext(c.Request.Context()).Error().Err(err).Msg("Upstream request failed")

	reqErr, ok := kucoin.AsRequestError(err)
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadGateway
	switch reqErr.Kind {
	case kucoin.KindPreflight:
		status = http.StatusBadRequest
	case kucoin.KindSetup:
		status = http.StatusInternalServerError
	case kucoin.KindNetwork:
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, gin.H{
		"error":       reqErr.Error(),
		"kind":        reqErr.Kind.String(),
		"code":        reqErr.Code,
		"message":     reqErr.Message,
		"status_code": reqErr.StatusCode,
	})
}

// requestLogger logs one line per request and attaches a trace-tagged
// logger to the request context
func requestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, l := logging.WithTraceContext(c.Request.Context(), base, c.GetHeader("X-Request-ID"))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", logging.TraceID(ctx))

		c.Next()

		l.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
