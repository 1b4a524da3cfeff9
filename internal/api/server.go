// Package api serves the dashboard's HTTP surface: read-only snapshots of the
// synchronized state plus the operation triggers the UI invokes.
package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/reviewdeck/internal/syncer"
)

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	addr   string
	syncer *syncer.Syncer
}

// Options configures the server.
type Options struct {
	Addr      string
	JWTSecret string // empty disables request authentication
	Syncer    *syncer.Syncer
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:   e,
		addr:   opts.Addr,
		syncer: opts.Syncer,
	}

	server.setupRoutes(opts.JWTSecret)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(jwtSecret string) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")
	v1.Use(RequireAuth(jwtSecret))

	// Synchronized state
	v1.GET("/state", s.getState)
	v1.GET("/status", s.getStatus)

	// Analyses
	v1.GET("/analyses", s.getAnalyses)
	v1.GET("/analyses/:id", s.getAnalysisByID)
	v1.POST("/analyses", s.startAnalysis)
	v1.DELETE("/analyses/:id", s.cancelAnalysis)
	v1.POST("/analyses/:id/suggestions/:sid", s.setSuggestionStatus)

	// Notifications
	v1.GET("/notifications", s.getNotifications)
	v1.POST("/notifications/:id/read", s.markNotificationRead)
	v1.POST("/notifications/read-all", s.markAllNotificationsRead)

	// Presence
	v1.GET("/presence", s.getPresence)
	v1.POST("/presence", s.updatePresence)
	v1.POST("/typing", s.setTyping)

	// Engine passthroughs
	v1.GET("/suggestions", s.getSuggestions)
	v1.POST("/history/query", s.queryHistory)
	v1.GET("/stats", s.getStats)
}

// Start begins the API server and blocks until an interrupt, then shuts
// down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be driven directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
