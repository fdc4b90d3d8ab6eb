// Package server exposes the orchestrator over a small local HTTP API
// for operators and scripts. It never runs two backups concurrently;
// the manager's run lock rejects overlap.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"coldstore/internal/logger"
	"coldstore/internal/manager"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Server struct {
	echo    *echo.Echo
	manager *manager.Manager
	port    int
}

func New(m *manager.Manager, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, manager: m, port: port}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/destinations")
	g.GET("", s.handleList)
	g.GET("/:name/status", s.handleStatus)
	g.POST("/:name/reset", s.handleReset)
	g.POST("/:name/backup", s.handleBackup)
}

func (s *Server) Start() error {
	addr := ":" + strconv.Itoa(s.port)
	logger.Log.Info("status server started", zap.String("addr", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleList(c echo.Context) error {
	dests, err := s.manager.Destinations()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"destinations": dests})
}

func (s *Server) handleStatus(c echo.Context) error {
	dest, jobs, err := s.manager.Status(c.Param("name"))
	if err != nil {
		return statusError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"destination": dest,
		"jobs":        jobs,
	})
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.manager.Reset(c.Param("name")); err != nil {
		return statusError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleBackup(c echo.Context) error {
	name := c.Param("name")
	dryRun := c.QueryParam("dry_run") == "true"
	force := c.QueryParam("force") == "true"

	// Runs can last hours; kick off in the background. Overlapping
	// requests bounce off the run lock.
	go func() {
		summary, err := s.manager.RunBackup(context.Background(), name, dryRun, force)
		if err != nil {
			logger.Log.Error("background run failed",
				zap.String("destination", name),
				zap.Error(err))
			return
		}
		logger.Log.Info("background run finished",
			zap.String("destination", name),
			zap.String("run", summary.RunID))
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":      "started",
		"destination": name,
	})
}

func statusError(c echo.Context, err error) error {
	var cfgErr *manager.ConfigurationError
	if errors.As(err, &cfgErr) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
