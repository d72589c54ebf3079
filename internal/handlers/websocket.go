package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/services/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every push-stream frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient is one connected websocket. jobIDs is the subscription filter; an
// empty set means every job the stream carries.
type wsClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	jobIDs map[string]bool
}

func (c *wsClient) wants(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.jobIDs) == 0 {
		return true
	}
	return jobID != "" && c.jobIDs[jobID]
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketHandler streams task, job, artifact, and dead-letter events to
// connected clients.
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient

	taskEventThrottler *rate.Limiter   // Rate limiter for task_event frames
	allowedEvents      map[string]bool // Whitelist of events to broadcast (empty = allow all)
	serverInstanceID   string          // Unique ID generated on startup - clients use to detect server restart
}

// NewWebSocketHandler creates the push-stream handler and subscribes it to
// the event service.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]*wsClient),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	// Empty whitelist means allow all events.
	h.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	// Throttler only when explicitly configured; nil means no throttling.
	if config != nil {
		if intervalStr, ok := config.ThrottleIntervals["task_event"]; ok {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				h.taskEventThrottler = rate.NewLimiter(rate.Every(duration), 1)
				logger.Debug().
					Str("event_type", "task_event").
					Str("interval", intervalStr).
					Msg("Throttler initialized for task_event frames")
			} else {
				logger.Warn().
					Err(err).
					Str("interval", intervalStr).
					Msg("Failed to parse task_event throttle interval, throttler disabled")
			}
		}
	}

	if eventService != nil {
		h.subscribeToEvents()
	}

	return h
}

// wsCommand is the only message clients send: subscription management.
type wsCommand struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	JobID  string `json:"job_id"`
}

// HandleWebSocket handles WebSocket connections.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{conn: conn, jobIDs: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(client)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.JobID == "" {
			continue
		}
		client.mu.Lock()
		switch cmd.Action {
		case "subscribe":
			client.jobIDs[cmd.JobID] = true
		case "unsubscribe":
			delete(client.jobIDs, cmd.JobID)
		}
		client.mu.Unlock()
	}
}

// sendHello tells a fresh client which server instance it reached so it can
// reset cached state after a restart.
func (h *WebSocketHandler) sendHello(client *wsClient) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]string{
			"serverInstanceId": h.serverInstanceID,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}
	if err := client.send(data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello to client")
	}
}

// broadcast fans one frame out to every client subscribed to its job.
func (h *WebSocketHandler) broadcast(eventType, jobID string, payload interface{}) {
	msg := WSMessage{Type: eventType, Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to marshal push frame")
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.wants(jobID) {
			continue
		}
		if err := client.send(data); err != nil {
			h.logger.Warn().Err(err).Str("event_type", eventType).Msg("Failed to send frame to client")
		}
	}
}

// allowed checks the event whitelist (empty = allow all).
func (h *WebSocketHandler) allowed(eventType string) bool {
	return len(h.allowedEvents) == 0 || h.allowedEvents[eventType]
}

// subscribeToEvents wires the push stream to the event service.
func (h *WebSocketHandler) subscribeToEvents() {
	h.eventService.Subscribe(interfaces.EventTaskUpdated, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(events.TaskEventPayload)
		if !ok {
			h.logger.Warn().Msg("Invalid task event payload type")
			return nil
		}
		if !h.allowed(string(interfaces.EventTaskUpdated)) {
			return nil
		}
		// Terminal transitions always go out; intermediate ones are throttled
		// so a hot job cannot flood the stream.
		if h.taskEventThrottler != nil && !terminalTaskStatus(payload.Status) && !h.taskEventThrottler.Allow() {
			return nil
		}
		h.broadcast(string(interfaces.EventTaskUpdated), payload.JobID, payload)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(events.JobEventPayload)
		if !ok {
			h.logger.Warn().Msg("Invalid job event payload type")
			return nil
		}
		if !h.allowed(string(interfaces.EventJobUpdated)) {
			return nil
		}
		h.broadcast(string(interfaces.EventJobUpdated), payload.JobID, payload)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventArtifactPromoted, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(events.ArtifactEventPayload)
		if !ok {
			h.logger.Warn().Msg("Invalid artifact event payload type")
			return nil
		}
		if !h.allowed(string(interfaces.EventArtifactPromoted)) {
			return nil
		}
		h.broadcast(string(interfaces.EventArtifactPromoted), payload.JobID, payload)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventMessageDeadLetter, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(events.DeadLetterEventPayload)
		if !ok {
			h.logger.Warn().Msg("Invalid dead-letter event payload type")
			return nil
		}
		if !h.allowed(string(interfaces.EventMessageDeadLetter)) {
			return nil
		}
		h.broadcast(string(interfaces.EventMessageDeadLetter), payload.JobID, payload)
		return nil
	})
}

func terminalTaskStatus(status string) bool {
	switch status {
	case "SUCCESS", "FAILED", "SKIPPED", "CANCELLED":
		return true
	}
	return false
}
