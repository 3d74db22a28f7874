// Package httpapi exposes the query engine over HTTP: one endpoint to
// ask a question, one to answer a clarification, plus session history,
// health and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/queryd/internal/memory"
	"github.com/fyrsmithlabs/queryd/internal/orchestrator"
	"github.com/fyrsmithlabs/queryd/internal/session"
	"github.com/fyrsmithlabs/queryd/internal/vectorstore"
)

// MemoryStats reports long-term memory collection statistics.
type MemoryStats interface {
	Stats(ctx context.Context) (*vectorstore.CollectionInfo, error)
}

// TurnHandler is the session layer surface the API needs.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, question string, hints session.EntityHints) (string, *orchestrator.Result, error)
	HandleClarification(ctx context.Context, sessionID, answer string) (string, *orchestrator.Result, error)
	History(ctx context.Context, sessionID string) ([]memory.Message, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server serves the query API.
type Server struct {
	echo     *echo.Echo
	turns    TurnHandler
	metrics  *Metrics
	logger   *zap.Logger
	config   Config
	registry *prometheus.Registry
}

// NewServer creates the server and registers its routes.
func NewServer(turns TurnHandler, cfg Config, logger *zap.Logger) (*Server, error) {
	if turns == nil {
		return nil, fmt.Errorf("turn handler is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	registry := prometheus.NewRegistry()
	s := &Server{
		echo:     e,
		turns:    turns,
		metrics:  NewMetrics(registry),
		logger:   logger,
		config:   cfg,
		registry: registry,
	}
	s.registerRoutes()
	return s, nil
}

// RegisterMemoryStats exposes GET /api/v1/memory/stats backed by the
// long-term memory archiver.
func (s *Server) RegisterMemoryStats(stats MemoryStats) {
	s.echo.GET("/api/v1/memory/stats", func(c echo.Context) error {
		info, err := stats.Stats(c.Request().Context())
		if err != nil {
			s.logger.Error("memory stats lookup failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "stats lookup failed")
		}
		return c.JSON(http.StatusOK, info)
	})
}

// Metrics returns the server's instruments so other components (the
// archiver's failure hook, for one) can feed them.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/clarify", s.handleClarify)
	v1.GET("/sessions/:id/history", s.handleHistory)
}

// QueryRequest is the body for POST /api/v1/query.
type QueryRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	Serial    string `json:"serial"`
	ClientID  string `json:"client_id"`
}

// ClarifyRequest is the body for POST /api/v1/clarify. It resumes the
// session's clarification-paused turn.
type ClarifyRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// StepSummary describes one executed step without its rows.
type StepSummary struct {
	Step     int    `json:"step"`
	Database string `json:"database"`
	Purpose  string `json:"purpose"`
	Query    string `json:"query"`
	Retries  int    `json:"retries"`
}

// QueryResponse is the body for query and clarify responses.
type QueryResponse struct {
	SessionID              string             `json:"session_id"`
	Status                 string             `json:"status"`
	Rows                   []map[string]any   `json:"rows"`
	Steps                  []StepSummary      `json:"steps,omitempty"`
	Error                  string             `json:"error,omitempty"`
	Warning                string             `json:"warning,omitempty"`
	Confidence             float64            `json:"confidence"`
	Assumptions            []string           `json:"assumptions,omitempty"`
	ClarificationQuestions []string           `json:"clarification_questions,omitempty"`
	Timing                 map[string]float64 `json:"timing,omitempty"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	start := time.Now()
	sessionID, result, err := s.turns.HandleTurn(c.Request().Context(), req.SessionID, req.Question,
		session.EntityHints{Serial: req.Serial, ClientID: req.ClientID})
	if err != nil {
		s.logger.Error("turn failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	s.observe(result, time.Since(start))

	return c.JSON(http.StatusOK, toResponse(sessionID, result))
}

func (s *Server) handleClarify(c echo.Context) error {
	var req ClarifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}
	if req.Answer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "answer field is required")
	}

	start := time.Now()
	sessionID, result, err := s.turns.HandleClarification(c.Request().Context(), req.SessionID, req.Answer)
	if err != nil {
		if errors.Is(err, session.ErrNoPendingClarification) {
			return echo.NewHTTPError(http.StatusConflict, "session has no pending clarification")
		}
		s.logger.Error("clarification turn failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	s.observe(result, time.Since(start))

	return c.JSON(http.StatusOK, toResponse(sessionID, result))
}

func (s *Server) handleHistory(c echo.Context) error {
	sessionID := c.Param("id")
	messages, err := s.turns.History(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		s.logger.Error("history lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (s *Server) observe(result *orchestrator.Result, elapsed time.Duration) {
	retries := 0
	for _, step := range result.Steps {
		retries += step.Retries
	}
	s.metrics.ObserveTurn(string(result.Status), elapsed, retries)
}

func toResponse(sessionID string, result *orchestrator.Result) QueryResponse {
	steps := make([]StepSummary, 0, len(result.Steps))
	for _, step := range result.Steps {
		steps = append(steps, StepSummary{
			Step:     step.Index,
			Database: string(step.Backend),
			Purpose:  step.Purpose,
			Query:    step.Query,
			Retries:  step.Retries,
		})
	}

	rows := result.FinalRows
	if rows == nil {
		rows = []map[string]any{}
	}

	return QueryResponse{
		SessionID:              sessionID,
		Status:                 string(result.Status),
		Rows:                   rows,
		Steps:                  steps,
		Error:                  result.Error,
		Warning:                result.Warning,
		Confidence:             result.Confidence,
		Assumptions:            result.Assumptions,
		ClarificationQuestions: result.ClarificationQuestions,
		Timing:                 result.Timing,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
