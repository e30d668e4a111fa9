// Package server exposes the relay over HTTP: an SSE stream endpoint,
// a health probe, and prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/market"
	"github.com/pricewire/leadlag/internal/relay"
	"github.com/pricewire/leadlag/internal/version"
)

// heartbeatInterval spaces SSE comment lines that keep idle proxies from
// dropping the connection.
const heartbeatInterval = 15 * time.Second

// Server is the relay HTTP front end.
type Server struct {
	cfg      *config.Config
	resolver market.Resolver
	logger   *slog.Logger

	router *gin.Engine
	http   *http.Server
}

// New builds the server and its routes.
func New(cfg *config.Config, resolver market.Resolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
		router:   router,
	}

	router.GET("/healthz", s.health)
	router.GET(cfg.Server.MetricsPath, gin.WrapH(promhttp.Handler()))
	router.GET("/api/stream", s.stream)

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Version,
	})
}

// stream relays one session over server-sent events. The session lives
// exactly as long as the request: client disconnect tears down every venue
// connection.
func (s *Server) stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	session := relay.NewSession(s.cfg, s.resolver, s.logger)
	defer session.Close()

	ctx := c.Request.Context()
	session.Start(ctx)

	s.logger.Info("stream opened", "session", session.ID(), "remote", c.ClientIP())

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			snap := session.Signal()
			s.logger.Info("stream closed by client",
				"session", session.ID(),
				"signal", snap.Signal.Action,
				"movements", len(snap.Movements),
			)
			return

		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()

		case data, ok := <-session.Events():
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
