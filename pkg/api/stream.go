package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/swarm/pkg/buffer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const streamWriteTimeout = 5 * time.Second

type streamClient struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type streamRegistry struct {
	mu      sync.Mutex
	clients map[string]*streamClient
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{clients: make(map[string]*streamClient)}
}

func (r *streamRegistry) Add(c *streamClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.id] = c
}

func (r *streamRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

func (r *streamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *streamRegistry) CloseAll() {
	r.mu.Lock()
	clients := make([]*streamClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		c.close()
	}
}

// handleStream upgrades to a WebSocket and pushes the session buffer every
// time its version changes. The idle shape is sent first for unknown sessions.
func (s *Server) handleStream(c *gin.Context) {
	if s.shuttingDown() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "server is shutting down", Code: CodeUnavailable})
		return
	}

	sessionID := c.Param("id")
	if err := buffer.ValidateSessionID(sessionID); err != nil {
		badRequest(c, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &streamClient{
		id:        clientID,
		sessionID: sessionID,
		conn:      conn,
		done:      make(chan struct{}),
	}
	s.streams.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("session_id", sessionID).
		Str("ip", c.Request.RemoteAddr).
		Msg("Stream client connected")

	go s.readPump(client)
	s.writePump(client)
}

// readPump drains client frames so close messages are noticed
func (s *Server) readPump(client *streamClient) {
	defer client.close()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.id).Msg("WebSocket error")
			}
			return
		}
	}
}

func (s *Server) writePump(client *streamClient) {
	defer func() {
		client.close()
		s.streams.Remove(client.id)
		s.logger.Info().Str("client_id", client.id).Msg("Stream client disconnected")
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var (
		sent       bool
		generation uint64
		version    uint64
	)
	for {
		buf := s.snapshot(client.sessionID)
		if !sent || buf.Generation != generation || buf.Version != version {
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := client.conn.WriteJSON(buf); err != nil {
				return
			}
			sent = true
			generation, version = buf.Generation, buf.Version
		}

		select {
		case <-client.done:
			return
		case <-ticker.C:
		}
	}
}
