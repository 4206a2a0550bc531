package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/harun/swarm/internal/tracing"
	"github.com/harun/swarm/pkg/agent"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/harun/swarm/pkg/capability"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID, _ = gonanoid.New()
	}
	ctx := tracing.WithRequestID(tracing.NewRequestContext(c.Request.Context()), requestID)
	c.Header(requestIDHeader, requestID)

	res, err := s.runs.Start(ctx, req.SessionID, req.Query)
	if err != nil {
		status, code := startErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("Start failed")
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusAccepted, res)
}

func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, buffer.ErrInvalidSessionID):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, agent.ErrRunInProgress):
		return http.StatusConflict, CodeRunInProgress
	case errors.Is(err, agent.ErrRunnerClosed):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) handleDebug(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot(c.Query("session_id")))
}

// snapshot returns the buffer for sessionID, or the idle shape
func (s *Server) snapshot(sessionID string) buffer.Buffer {
	if sessionID == "" {
		return buffer.Idle()
	}
	buf, ok := s.buffers.Get(sessionID)
	if !ok {
		return buffer.Idle()
	}
	return buf
}

func (s *Server) handleAbort(c *gin.Context) {
	sessionID := c.Param("id")
	if err := buffer.ValidateSessionID(sessionID); err != nil {
		badRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, AbortResponse{
		SessionID: sessionID,
		Aborted:   s.runs.Abort(sessionID),
	})
}

func (s *Server) handleTools(c *gin.Context) {
	descs := []capability.Descriptor{}
	if s.registry != nil {
		descs = s.registry.Descriptors()
	}
	c.JSON(http.StatusOK, gin.H{"tools": descs})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: msg,
		Code:  CodeInvalidRequest,
	})
}
