// Package server exposes the HTTP API: the Gupshup webhook, lead import,
// window lookups, gated sends and area selection with CSV export.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"scouter/internal/storage"
	"scouter/internal/whatsapp"
	"scouter/internal/window"
)

// DefaultOwner owns areas created through the API without an explicit owner.
const DefaultOwner = "api"

const maxBodyBytes = 10 << 20

// Options configures a Server.
type Options struct {
	Region    string
	LiveLimit int
	// APIKey protects every route except /health and the webhook. Empty
	// disables the check.
	APIKey string
}

// Server is the HTTP API.
type Server struct {
	store     storage.Storage
	messenger *whatsapp.Messenger
	engine    window.Engine
	opts      Options
	now       func() time.Time
	log       *slog.Logger
	router    *gin.Engine
}

// New builds the server and its routes.
func New(store storage.Storage, messenger *whatsapp.Messenger, opts Options, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:     store,
		messenger: messenger,
		engine:    messenger.Engine(),
		opts:      opts,
		now:       time.Now,
		log:       log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", s.health)
	r.POST("/webhooks/gupshup", s.gupshupWebhook)

	api := r.Group("/", apiKeyAuth(opts.APIKey))
	api.POST("/leads/import", s.importLeads)
	api.GET("/leads/:id", s.getLead)
	api.GET("/leads/:id/window", s.getWindow)
	api.POST("/leads/:id/messages", s.sendMessage)

	api.POST("/areas", s.createArea)
	api.GET("/areas", s.listAreas)
	api.GET("/areas/:id", s.getArea)
	api.DELETE("/areas/:id", s.deleteArea)
	api.GET("/areas/:id/leads.csv", s.areaLeadsCSV)
	api.GET("/areas/:id/summary.csv", s.areaSummaryCSV)
	api.POST("/preview", s.preview)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// apiKeyAuth accepts the key in X-API-Key or as a bearer token.
func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-API-Key")
		if got == "" {
			if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				got = token
			}
		}
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if got != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// lookupStatus maps storage errors to HTTP statuses.
func lookupStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
