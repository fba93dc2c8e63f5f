package api

import (
	"time"

	"strobe/scanner"
)

// TaskStatus is the lifecycle state of a queued scan.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// ScanOptions are the per-request overrides of the server's scan defaults.
// Zero values keep the default.
type ScanOptions struct {
	Threads    int    `json:"threads,omitempty" binding:"omitempty,min=1,max=65535" example:"500" description:"Upper bound on probes in flight."`
	TimeoutMS  int    `json:"timeout_ms,omitempty" binding:"omitempty,min=1,max=60000" example:"1000" description:"Initial per-probe timeout in milliseconds. The engine adapts it during the scan."`
	RateLimit  uint64 `json:"rate_limit,omitempty" example:"2000" description:"Packets per second. Omit to use the server default."`
	MaxRetries *int   `json:"max_retries,omitempty" binding:"omitempty,min=0,max=10" example:"2" description:"Retries per probe on recoverable errors."`
	Fallback   *bool  `json:"fallback,omitempty" example:"true" description:"Fall back to other techniques when the requested one cannot run."`
	Timing     string `json:"timing,omitempty" binding:"omitempty,oneof=paranoid sneaky polite normal aggressive insane T0 T1 T2 T3 T4 T5" example:"T4" description:"Timing profile applied before the other options."`
}

// ScanTask represents a scanning job managed by the API service.
type ScanTask struct {
	// ID is the immutable identifier of the scan task (UUID v4).
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678" description:"Identifier assigned when the task is accepted. Reuse it when polling."`
	// Status reflects the asynchronous lifecycle state of the task.
	Status TaskStatus `json:"status" enums:"pending,running,completed,failed" example:"pending" description:"pending while queued, running while probing, completed with a result attached, failed with an error message."`
	// Hosts captures every target expression submitted for the scan.
	Hosts []string `json:"hosts" example:"[\"scanme.nmap.org\",\"192.0.2.0/28\"]" description:"IPv4/IPv6 literals, CIDR prefixes, IPv4 start-end ranges or resolvable host names."`
	// Ports is the port expression as submitted.
	Ports string `json:"ports" example:"22,80,443,1000-1100" description:"Single ports and inclusive ranges separated by commas, or top:N for the N most common ports."`
	// Technique is the probing technique workers run.
	Technique string       `json:"technique" enums:"syn,connect,fin,null,xmas,ack,window,udp" example:"syn"`
	Options   *ScanOptions `json:"options,omitempty"`
	// Result is attached once the task reaches a terminal state. A failed
	// task may carry the partial result gathered before the failure.
	Result      *scanner.ScanResult `json:"result,omitempty"`
	CreatedAt   time.Time           `json:"created_at" format:"date-time" example:"2024-01-02T15:04:05Z"`
	StartedAt   *time.Time          `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *time.Time          `json:"completed_at,omitempty" format:"date-time"`
	Error       string              `json:"error,omitempty" example:"target expands to too many addresses"`
}

// CreateScanRequest is the payload for creating new scan tasks.
type CreateScanRequest struct {
	Hosts []string `json:"hosts" binding:"required,min=1,max=256,dive,required" example:"[\"scanme.nmap.org\",\"203.0.113.50\"]" description:"Targets to scan. At least one entry."`
	Ports string   `json:"ports" binding:"required" example:"443,8443,10000-10100" description:"Port expression, for example 80,443,1000-1050 or top:100."`
	// Technique defaults to the server's configured technique.
	Technique string       `json:"technique,omitempty" binding:"omitempty,oneof=syn connect fin null xmas ack window udp" enums:"syn,connect,fin,null,xmas,ack,window,udp" example:"connect"`
	Options   *ScanOptions `json:"options,omitempty"`
}

// ScanAcceptedResponse captures the asynchronous acknowledgement returned after job submission.
type ScanAcceptedResponse struct {
	ID     string     `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	Status TaskStatus `json:"status" enums:"pending" example:"pending"`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	Error string `json:"error" example:"task not found"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Store  string `json:"store" example:"ok"`
}
