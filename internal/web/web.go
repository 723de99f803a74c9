// Package web serves the chat, action and availability API on gin.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"tradein/internal/a2ui"
	"tradein/internal/assistant"
	"tradein/internal/auth"
	"tradein/internal/booking"
	appLog "tradein/internal/log"
	"tradein/internal/session"
)

// Options configures the middleware stack.
type Options struct {
	CORSOrigins []string
	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit rate.Limit
	Burst     int
	// Credentials enables basic auth on everything except /health.
	Credentials auth.Credentials
}

// Server provides the HTTP API over one assistant and its sessions.
type Server struct {
	assistant *assistant.Assistant
	sessions  *session.Store
	opts      Options
	engine    *gin.Engine
}

func NewServer(a *assistant.Assistant, sessions *session.Store, opts Options) *Server {
	s := &Server{
		assistant: a,
		sessions:  sessions,
		opts:      opts,
		engine:    gin.New(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.Use(recovery(), requestLogger())
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if s.opts.RateLimit > 0 {
		r.Use(newRateLimiter(s.opts.RateLimit, s.opts.Burst).middleware())
	}

	// /health is always exposed without auth.
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	if s.opts.Credentials.Enabled() {
		appLog.Info("HTTP basic auth enabled", "username", s.opts.Credentials.Username)
		api.Use(basicAuth(s.opts.Credentials))
	}
	api.POST("/chat", s.handleChat)
	api.POST("/action", s.handleAction)
	api.POST("/a2a", s.handleA2A)
	api.GET("/availability", s.handleAvailability)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	appLog.Info("shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// writeTurnError maps a failed turn to a status. protocolStatus is 400
// when the client supplied the offending payload and 500 when the
// server produced it.
func writeTurnError(c *gin.Context, err error, protocolStatus int) {
	var we *booking.WriteError
	switch {
	case errors.As(err, &we):
		appLog.Error("booking write failed", err, "calendar_id", we.CalendarID)
		writeError(c, http.StatusBadGateway, "the booking could not be saved, please try again")
	case errors.Is(err, assistant.ErrCalendarRead):
		appLog.Error("calendar read failed", err)
		writeError(c, http.StatusBadGateway, "the calendar is unavailable, please try again")
	case errors.Is(err, a2ui.ErrProtocol):
		appLog.Error("protocol validation failed", err, "status", protocolStatus)
		writeError(c, protocolStatus, err.Error())
	default:
		appLog.Error("turn failed", err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
