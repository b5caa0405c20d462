package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"taskroom/api/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong to the deployment proxy; connections are
	// authenticated per project at join time.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades websocket connections and dispatches their frames
// into the chat service.
type Handler struct {
	hub     *Hub
	service *Service
}

func NewHandler(hub *Hub, service *Service) *Handler {
	return &Handler{hub: hub, service: service}
}

// ServeHTTP upgrades the connection and starts its pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.dispatch, h.service.HandleDisconnect)
}

// dispatch routes one inbound frame by its type tag. Frames that do
// not decode, and types nothing handles, come back to the sender as
// validation errors.
func (h *Handler) dispatch(c *Client, data []byte) {
	ctx := context.Background()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.sendError(c, ErrCodeValidation, "invalid event payload")
		return
	}

	switch env.Type {
	case EventJoinProjectChat:
		var p JoinPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, ErrCodeValidation, "invalid join-project-chat payload")
			return
		}
		h.service.HandleJoin(ctx, c, p)
	case EventSendMessage:
		var p SendPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, ErrCodeValidation, "invalid send-message payload")
			return
		}
		h.service.HandleSend(ctx, c, p)
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, ErrCodeValidation, "invalid typing payload")
			return
		}
		h.service.HandleTyping(ctx, c, p)
	case EventStopTyping:
		var p StopTypingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, ErrCodeValidation, "invalid stop-typing payload")
			return
		}
		h.service.HandleStopTyping(ctx, c, p)
	case EventEditMessage:
		var p EditPayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, ErrCodeValidation, "invalid edit-message payload")
			return
		}
		h.service.HandleEdit(ctx, c, p)
	case EventDeleteMessage:
		var p DeletePayload
		if err := json.Unmarshal(data, &p); err != nil {
			h.sendError(c, ErrCodeValidation, "invalid delete-message payload")
			return
		}
		h.service.HandleDelete(ctx, c, p)
	default:
		h.sendError(c, ErrCodeValidation, "unknown event type: "+env.Type)
	}
}

func (h *Handler) sendError(c *Client, code, message string) {
	if err := c.SendEvent(NewErrorEvent(code, message)); err != nil {
		logging.L().Error().Err(err).Str("clientId", c.ID).Msg("send error event failed")
	}
}
