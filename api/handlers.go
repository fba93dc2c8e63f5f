package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"strobe/targets"
)

// Server bundles dependencies for HTTP handlers.
type Server struct {
	store TaskStore
	log   *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(store TaskStore, log *slog.Logger) *Server {
	return &Server{store: store, log: log}
}

// RegisterRoutes attaches handlers to the provided Gin router group.
func (s *Server) RegisterRoutes(routes gin.IRoutes) {
	routes.POST("/scans", s.createScanHandler)
	routes.GET("/scans/:id", s.getScanHandler)
}

// @Summary      Create a new scan task
// @Description  Validates the scan definition, persists it and queues it for the workers. Answers 202 with the task ID straight away; poll GET /scans/{id} to follow pending → running → completed/failed.
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        scanRequest  body      CreateScanRequest     true  "Scan request parameters"
// @Success      202          {object}  ScanAcceptedResponse  "Scan accepted"
// @Failure      400          {object}  ErrorResponse         "Malformed JSON body or failed validation"
// @Failure      401          {object}  ErrorResponse         "Missing or incorrect API key"
// @Failure      429          {object}  ErrorResponse         "Rate limit exceeded"
// @Failure      500          {object}  ErrorResponse         "Task could not be persisted"
// @Failure      503          {object}  ErrorResponse         "Queue full"
// @Security     ApiKeyAuth
// @Router       /scans [post]
func (s *Server) createScanHandler(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request payload: %v", err)})
		return
	}
	// Reject bad port expressions now rather than as a failed task.
	if _, err := targets.ParsePorts(req.Ports); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid ports: %v", err)})
		return
	}

	ctx := c.Request.Context()
	task := &ScanTask{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Hosts:     req.Hosts,
		Ports:     req.Ports,
		Technique: req.Technique,
		Options:   req.Options,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		s.log.Error("Failed to persist task", "task_id", task.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to persist task"})
		return
	}

	if err := s.store.PushToQueue(ctx, task.ID); err != nil {
		s.log.Error("Failed to queue task", "task_id", task.ID, "error", err)
		task.Status = StatusFailed
		task.Error = "failed to queue task"
		now := time.Now().UTC()
		task.CompletedAt = &now
		_ = s.store.UpdateTask(ctx, task)

		status := http.StatusInternalServerError
		if errors.Is(err, ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, ErrorResponse{Error: "failed to queue task"})
		return
	}

	c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: task.ID, Status: task.Status})
}

// @Summary      Get scan status and results
// @Description  Returns the task with its current status. The scan result is attached once the task is completed or failed.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string         true  "Scan Task ID (UUID)"
// @Success      200  {object}  ScanTask       "Full scan task object"
// @Failure      400  {object}  ErrorResponse  "Malformed task ID"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404  {object}  ErrorResponse  "Task not found"
// @Failure      429  {object}  ErrorResponse  "Rate limit exceeded"
// @Failure      500  {object}  ErrorResponse  "Task could not be loaded"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [get]
func (s *Server) getScanHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task id"})
		return
	}

	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		s.log.Error("Failed to load task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load task"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// healthHandler reports whether the task store answers.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Store: "ok"})
}
