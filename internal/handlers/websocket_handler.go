package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sitephoto/server/internal/observability"
	"github.com/sitephoto/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler streams report counter updates to dashboards
type WebSocketHandler struct {
	hub *services.WebSocketHub
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection upgrades HTTP to WebSocket. A projectId query parameter
// subscribes the client to that project right away; further topics can be
// added with subscribe messages.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	h.hub.Register(client)

	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		h.hub.Subscribe(client, services.ProjectTopic(projectID))
	}

	go client.WritePump()
	client.ReadPump(h.handleMessage)
}

func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(client, services.WSTypeError, "invalid message")
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic := topicFromPayload(msg.Payload); topic != "" {
			h.hub.Subscribe(client, topic)
		}
	case services.WSTypeUnsubscribe:
		if topic := topicFromPayload(msg.Payload); topic != "" {
			h.hub.Unsubscribe(client, topic)
		}
	case services.WSTypePing:
		h.reply(client, services.WSTypePong, nil)
	default:
		h.reply(client, services.WSTypeError, "unknown message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) reply(client *services.WSClient, msgType string, payload interface{}) {
	data, err := json.Marshal(services.WSMessage{Type: msgType, Payload: payload})
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// topicFromPayload accepts "project:P1", {"topic": "project:P1"} or
// {"projectId": "P1"}
func topicFromPayload(payload interface{}) string {
	switch p := payload.(type) {
	case string:
		return p
	case map[string]interface{}:
		if topic, ok := p["topic"].(string); ok {
			return topic
		}
		if projectID, ok := p["projectId"].(string); ok && projectID != "" {
			return services.ProjectTopic(projectID)
		}
	}
	return ""
}
