// Package server exposes the workspace over HTTP with gin.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OpenTraceLab/OpenTraceEDB/internal/config"
	"github.com/OpenTraceLab/OpenTraceEDB/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/workspace"
)

const shutdownTimeout = 10 * time.Second

// Server wires the HTTP routes to a workspace manager.
type Server struct {
	cfg     config.ServerConfig
	ws      *workspace.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *gin.Engine
}

// New builds the router. A nil metrics set gets a private one.
func New(cfg config.ServerConfig, ws *workspace.Manager, m *metrics.Metrics, logger *slog.Logger) *Server {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, ws: ws, metrics: m, logger: logger}
	r := gin.New()
	r.Use(s.requestID(), s.recovery(), s.cors(), s.observe())
	s.routes(r)
	s.router = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.POST("/upload", s.handleUpload)
	r.POST("/download", s.handleDownload)

	api := r.Group("/api")
	api.POST("/common_components", s.handleCommonComponents)
	api.GET("/sessions", s.handleSessions)
	api.GET("/sessions/:id/index", s.handleIndex)
	api.DELETE("/sessions/:id", s.handleRemove)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("server listening", "addr", s.cfg.Addr, "workspace", s.ws.Root())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
