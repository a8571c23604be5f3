// Package health exposes the liveness endpoint container orchestrators probe.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server is a minimal HTTP server with a single /healthz route.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

func NewServer(addr string, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: r},
		logger: logger,
	}
}

// Start serves in the background until Shutdown is called.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("health server failed")
		}
	}()
}

// Shutdown stops the server, waiting briefly for in-flight probes.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("health server shutdown")
	}
}
