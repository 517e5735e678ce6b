package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/model"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures optional server behaviour.
type Options struct {
	// Token, when set, is required as a bearer token on refresh endpoints.
	Token string
	// Pinger backs the health endpoint. Nil skips the database check.
	Pinger Pinger
	// Gatherer is exposed on /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

// Server provides the HTTP admin API for the site statistics.
type Server struct {
	addr      string
	svc       model.StatsService
	opts      Options
	log       logger.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, svc model.StatsService, opts Options) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		svc:       svc,
		opts:      opts,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/stats", s.handleCheck)

	refresh := r.Group("/api/stats/refresh", s.requireToken)
	refresh.POST("", s.handleRefresh)
	refresh.POST("/:metric", s.handleRefreshMetric)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Full-table counts on a large wiki are slow.
		WriteTimeout: 5 * time.Minute,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logger.Error(err))
		}
	}()
	return nil
}

// Addr returns the listen address, resolved after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) requireToken(c *gin.Context) {
	if s.opts.Token == "" {
		c.Next()
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.Pinger != nil {
		if err := s.opts.Pinger.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleCheck(c *gin.Context) {
	rep, err := s.svc.Check(c.Request.Context())
	if err != nil {
		s.log.Warn("check request failed", logger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleRefresh(c *gin.Context) {
	rep, err := s.svc.ReconcileAll(c.Request.Context())
	s.writeReport(c, rep, err)
}

func (s *Server) handleRefreshMetric(c *gin.Context) {
	rep, err := s.svc.ReconcileMetric(c.Request.Context(), c.Param("metric"))
	if errors.Is(err, model.ErrUnknownMetric) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.writeReport(c, rep, err)
}

// writeReport answers 200 when every counter is consistent or corrected and
// 409 when the caller should run the refresh again.
func (s *Server) writeReport(c *gin.Context, rep model.Report, err error) {
	if err != nil {
		s.log.Warn("refresh request failed", logger.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "report": rep})
		return
	}
	if !rep.OK {
		c.JSON(http.StatusConflict, rep)
		return
	}
	c.JSON(http.StatusOK, rep)
}
