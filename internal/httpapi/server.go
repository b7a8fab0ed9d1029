// Package httpapi exposes the trust kernel over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trustd/internal/governance"
	"github.com/fyrsmithlabs/trustd/internal/kernel"
	"github.com/fyrsmithlabs/trustd/internal/trust"
)

// Server provides HTTP endpoints for trustd.
type Server struct {
	echo   *echo.Echo
	kernel *kernel.Kernel
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server over an assembled kernel.
func NewServer(k *kernel.Kernel, logger *zap.Logger, cfg *Config) (*Server, error) {
	if k == nil {
		return nil, fmt.Errorf("kernel cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9180,
		}
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
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		kernel: k,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sanitize", s.handleSanitize)
	v1.GET("/audit/verify", s.handleAuditVerify)
	v1.GET("/audit/security-events", s.handleSecurityEvents)
	v1.GET("/memory/stats", s.handleMemoryStats)
	v1.POST("/plans/review", s.handleReviewPlan)
	v1.GET("/plans/review/:id", s.handleGetPipeline)
	v1.GET("/heartbeat", s.handleHeartbeat)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// handleHealth reports aggregate and per-component health. An unhealthy
// component degrades the HTTP status to 503.
func (s *Server) handleHealth(c echo.Context) error {
	monitor := s.kernel.Heartbeat()

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}
	for _, h := range monitor.Report() {
		resp.Components[h.Name] = string(h.Status)
	}

	code := http.StatusOK
	if monitor.HasUnhealthy() {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if !monitor.Healthy() {
		resp.Status = "degraded"
	}
	return c.JSON(code, resp)
}

// SanitizeRequest is the request body for POST /api/v1/sanitize.
type SanitizeRequest struct {
	Content    string `json:"content"`
	TrustLevel string `json:"trust_level"`
}

// SanitizeResponse is the response body for POST /api/v1/sanitize.
type SanitizeResponse struct {
	Safe             bool     `json:"safe"`
	RiskScore        float64  `json:"risk_score"`
	ThreatCount      int      `json:"threat_count"`
	Categories       []string `json:"categories,omitempty"`
	SanitizedContent string   `json:"sanitized_content"`
}

func (s *Server) handleSanitize(c echo.Context) error {
	var req SanitizeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid sanitize request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	level := trust.ParseLevel(req.TrustLevel)
	assessment := s.kernel.Sanitizer().Sanitize(req.Content, level)
	s.kernel.Metrics().RecordSanitize(c.Request().Context(),
		string(level), assessment.Safe, float64(assessment.RiskScore))

	var categories []string
	for _, cat := range assessment.Categories() {
		categories = append(categories, string(cat))
	}
	return c.JSON(http.StatusOK, SanitizeResponse{
		Safe:             assessment.Safe,
		RiskScore:        float64(assessment.RiskScore),
		ThreatCount:      len(assessment.Threats),
		Categories:       categories,
		SanitizedContent: assessment.SanitizedContent,
	})
}

// VerifyResponse is the response body for GET /api/v1/audit/verify.
type VerifyResponse struct {
	Valid       bool   `json:"valid"`
	Checked     int    `json:"checked"`
	FailedIndex int    `json:"failed_index"`
	Details     string `json:"details,omitempty"`
}

func (s *Server) handleAuditVerify(c echo.Context) error {
	result := s.kernel.Audit().Verify()
	if !result.Valid {
		s.kernel.Metrics().RecordAuditVerifyFailure(c.Request().Context())
	}
	return c.JSON(http.StatusOK, VerifyResponse{
		Valid:       result.Valid,
		Checked:     result.Checked,
		FailedIndex: result.FailedIndex,
		Details:     result.Details,
	})
}

func (s *Server) handleSecurityEvents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.kernel.Audit().SecurityEvents())
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.kernel.Memory().Stats())
}

// ReviewPlanRequest is the request body for POST /api/v1/plans/review.
type ReviewPlanRequest struct {
	Plan        governance.Plan `json:"plan"`
	SkipQuality bool            `json:"skip_quality"`
	Expert      bool            `json:"expert"`
}

func (s *Server) handleReviewPlan(c echo.Context) error {
	var req ReviewPlanRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid review request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	pipeline, err := s.kernel.Reviews().ReviewPlan(&req.Plan, governance.ReviewOptions{
		SkipQuality: req.SkipQuality,
		Expert:      req.Expert,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pipeline)
}

func (s *Server) handleGetPipeline(c echo.Context) error {
	pipeline, err := s.kernel.Reviews().Pipeline(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pipeline not found")
	}
	return c.JSON(http.StatusOK, pipeline)
}

func (s *Server) handleHeartbeat(c echo.Context) error {
	return c.JSON(http.StatusOK, s.kernel.Heartbeat().Report())
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
