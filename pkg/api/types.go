package api

import (
	"context"

	"github.com/harun/swarm/pkg/agent"
	"github.com/harun/swarm/pkg/buffer"
)

// RunController starts and aborts runs
type RunController interface {
	Start(ctx context.Context, sessionID, query string) (agent.StartResult, error)
	Abort(sessionID string) bool
}

// BufferReader reads session buffers
type BufferReader interface {
	Get(sessionID string) (buffer.Buffer, bool)
}

// StartRequest is the body of POST /api/swarm/start
type StartRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
}

// AbortResponse is returned by POST /api/swarm/:id/abort
type AbortResponse struct {
	SessionID string `json:"session_id"`
	Aborted   bool   `json:"aborted"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

const (
	CodeInvalidRequest = "invalid_request"
	CodeRunInProgress  = "run_in_progress"
	CodeRateLimited    = "rate_limited"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal_error"
)
