package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	replayCount    = 50
	minContentLen  = 1
	maxContentLen  = 10000
	clientSendSize = 32
)

// inboundFrame is the shape a chat client sends on the socket (spec §6.2).
type inboundFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// client owns one chat socket connection: a read loop that validates
// and enqueues prompts, and a write loop that forwards every fabric
// event for the session, grounded on the register/unregister-by-map
// shape a WebSocket gateway typically uses to fan events out to
// connections.
type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan types.MessageEvent
	g         *Gateway
}

func newClient(conn *websocket.Conn, sessionID string, g *Gateway) *client {
	return &client{conn: conn, sessionID: sessionID, send: make(chan types.MessageEvent, clientSendSize), g: g}
}

// handleChat handles GET /session/:id/chat, the long-lived chat socket
// protocol from spec §6.2.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()
	logger := g.logger

	session, err := g.registry.Get(ctx, id)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if session.Status.Terminal() {
		http.Error(w, "session is terminated", http.StatusGone)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, id, g)
	metrics.ActiveChatConnections.Inc()
	defer metrics.ActiveChatConnections.Dec()

	unsubscribe := g.fabric.Subscribe(context.Background(), id, func(evt types.MessageEvent) {
		select {
		case c.send <- evt:
		default:
			logger.Warn().Str("session_id", id).Msg("chat client send buffer full, dropping event")
		}
	})

	c.sendEvent(types.MessageEvent{
		Type:      types.EventSystemUpdate,
		Content:   "Connected to session",
		Timestamp: time.Now().Unix(),
		Metadata:  &types.EventMetadata{SessionStatus: string(session.Status)},
	})

	history, err := g.registry.ReadMessages(ctx, id, replayCount)
	if err == nil {
		for _, evt := range history {
			c.sendEvent(evt)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop(logger)
	unsubscribe()
	close(c.send)
	wg.Wait()
	_ = conn.Close()
}

func (c *client) sendEvent(evt types.MessageEvent) {
	select {
	case c.send <- evt:
	default:
	}
}

func (c *client) writeLoop() {
	for evt := range c.send {
		if err := c.conn.WriteJSON(evt); err != nil {
			return
		}
	}
}

// readLoop validates each inbound frame against spec §6.2's
// user_prompt shape, appends and enqueues it on success, and sends a
// SystemUpdate acknowledgement; malformed frames get an Error event
// without the connection being closed.
func (c *client) readLoop(logger zerolog.Logger) {
	ctx := context.Background()
	for {
		var frame inboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		if frame.Type != "user_prompt" {
			c.sendEvent(errorEvent("unsupported frame type"))
			continue
		}
		if len(frame.Content) < minContentLen || len(frame.Content) > maxContentLen {
			c.sendEvent(errorEvent("content must be 1-10000 characters"))
			continue
		}

		session, err := c.g.registry.Get(ctx, c.sessionID)
		if err != nil || session == nil {
			c.sendEvent(errorEvent("session no longer exists"))
			return
		}
		if session.Status.Terminal() {
			c.sendEvent(errorEvent("session is terminated"))
			return
		}

		userEvt := types.MessageEvent{
			Type:      types.EventUserPrompt,
			Content:   frame.Content,
			Timestamp: time.Now().Unix(),
		}
		if err := c.g.registry.AppendMessage(ctx, c.sessionID, userEvt); err != nil {
			logger.Error().Err(err).Str("session_id", c.sessionID).Msg("append user prompt failed")
			c.sendEvent(errorEvent("failed to record prompt"))
			continue
		}

		if session.Status == types.SessionReady {
			if _, err := c.g.registry.SetStatus(ctx, c.sessionID, types.SessionRunning, ""); err != nil {
				logger.Error().Err(err).Str("session_id", c.sessionID).Msg("transition to running failed")
			}
		}

		if _, err := c.g.queue.Enqueue(ctx, types.JobProcessMessage, c.sessionID, map[string]any{"content": frame.Content}); err != nil {
			logger.Error().Err(err).Str("session_id", c.sessionID).Msg("enqueue process message failed")
			c.sendEvent(errorEvent("failed to queue prompt"))
			continue
		}

		c.sendEvent(types.MessageEvent{
			Type:      types.EventSystemUpdate,
			Content:   "prompt received",
			Timestamp: time.Now().Unix(),
		})
	}
}

func errorEvent(message string) types.MessageEvent {
	return types.MessageEvent{
		Type:      types.EventError,
		Content:   message,
		Timestamp: time.Now().Unix(),
		Metadata:  &types.EventMetadata{Error: message},
	}
}
