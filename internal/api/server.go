// Package api exposes the thin operations surface: health, run triggers,
// alert processing, and tenant-scoped alert inspection. Detection itself is
// scheduler-driven; this API exists for operators and automation.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payrixa/driftwatch/internal/alerts"
	"github.com/payrixa/driftwatch/internal/domain"
	"github.com/payrixa/driftwatch/internal/middleware"
	"github.com/payrixa/driftwatch/internal/service"
)

// Server is the ops HTTP server.
type Server struct {
	pipeline    *service.Pipeline
	events      domain.AlertEventStore
	judgments   domain.JudgmentStore
	suppression *alerts.SuppressionEngine
	config      domain.ServerConfig
	log         *logrus.Logger
	router      *gin.Engine
	server      *http.Server
}

// NewServer creates the ops API server.
func NewServer(pipeline *service.Pipeline, events domain.AlertEventStore, judgments domain.JudgmentStore, suppression *alerts.SuppressionEngine, config domain.ServerConfig, logLevel string, logger *logrus.Logger) *Server {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		pipeline:    pipeline,
		events:      events,
		judgments:   judgments,
		suppression: suppression,
		config:      config,
		log:         logger,
		router:      router,
	}
	s.setupRoutes()
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("Ops API listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("serving ops API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/alerts/process", s.handleProcessAlerts)

		customers := v1.Group("/customers/:customer_id")
		{
			customers.POST("/runs", s.handleTriggerRun)
			customers.GET("/alerts", s.handleListAlerts)
			customers.GET("/alerts/:event_id", s.handleGetAlert)
			customers.POST("/alerts/:event_id/reset", s.handleResetAlert)
			customers.POST("/alerts/:event_id/judgments", s.handleCreateJudgment)
			customers.GET("/alerts/:event_id/judgments", s.handleListJudgments)
			customers.GET("/suppression", s.handleSuppressionContext)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"products":  s.pipeline.Products(),
		"timestamp": time.Now().UTC(),
	})
}

type triggerRunRequest struct {
	Product   string `json:"product"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (s *Server) handleTriggerRun(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}

	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	startDate, err := parseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, want YYYY-MM-DD"})
		return
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date, want YYYY-MM-DD"})
		return
	}

	if req.Product == "" {
		summaries, err := s.pipeline.RunAll(c.Request.Context(), customerID, startDate, endDate)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": summaries})
		return
	}

	summary, err := s.pipeline.Run(c.Request.Context(), customerID, req.Product, startDate, endDate)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleProcessAlerts(c *gin.Context) {
	result, err := s.pipeline.ProcessAlerts(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}

	status := domain.AlertStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	events, err := s.events.ListAlertEvents(c.Request.Context(), customerID, status, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alert_events": events,
		"limit":        limit,
		"offset":       offset,
	})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}
	eventID, ok := s.pathUUID(c, "event_id")
	if !ok {
		return
	}

	event, err := s.events.GetAlertEvent(c.Request.Context(), customerID, eventID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) handleResetAlert(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}
	eventID, ok := s.pathUUID(c, "event_id")
	if !ok {
		return
	}

	if err := s.pipeline.ResetFailedAlert(c.Request.Context(), customerID, eventID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

type createJudgmentRequest struct {
	Verdict string `json:"verdict"`
	Notes   string `json:"notes"`
}

func (s *Server) handleCreateJudgment(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}
	eventID, ok := s.pathUUID(c, "event_id")
	if !ok {
		return
	}

	var req createJudgmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	judgment := &domain.OperatorJudgment{
		ID:           uuid.New(),
		CustomerID:   customerID,
		AlertEventID: eventID,
		Verdict:      domain.Verdict(req.Verdict),
		Notes:        req.Notes,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.judgments.CreateJudgment(c.Request.Context(), judgment); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, judgment)
}

func (s *Server) handleListJudgments(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}
	eventID, ok := s.pathUUID(c, "event_id")
	if !ok {
		return
	}

	judgments, err := s.judgments.ListJudgments(c.Request.Context(), customerID, eventID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"judgments": judgments})
}

func (s *Server) handleSuppressionContext(c *gin.Context) {
	customerID, ok := s.customerID(c)
	if !ok {
		return
	}

	evidence := &domain.SuppressionEvidence{
		ProductName: c.Query("product_name"),
		SignalType:  c.Query("signal_type"),
		EntityLabel: c.Query("entity_label"),
	}

	suppressionCtx, err := s.suppression.GetSuppressionContext(c.Request.Context(), customerID, evidence)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if suppressionCtx == nil {
		c.JSON(http.StatusOK, gin.H{"suppressed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"suppressed": true,
		"context":    suppressionCtx,
	})
}

func (s *Server) customerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("customer_id"))
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrTenantRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
