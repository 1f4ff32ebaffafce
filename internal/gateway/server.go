// Package gateway implements the REST command gateway: it exposes the
// tracked game connections over HTTP so callers can fire protocol commands
// at a zone and receive the correlated reply as JSON.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/config"
	"github.com/gge-tracker/gge-tracker-sub003/internal/directory"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
)

// Server is the REST gateway in front of the connection directory.
type Server struct {
	cfg *config.Config
	bus *events.Bus
	dir *directory.Directory

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, bus *events.Bus, dir *directory.Directory) *Server {
	if cfg.ApplicationData.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg: cfg,
		bus: bus,
		dir: dir,
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.ApplicationData.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("REST gateway starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.ApplicationData.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.ApplicationData.Security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleStatus)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/system", s.handleSystem)
	}

	router.POST("/api/command/:server/:command", s.handleCommand)

	return router
}
