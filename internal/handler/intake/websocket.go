package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ucsal/oraculo-anonimo/internal/logger"
	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

const (
	readTimeout  = 10 * time.Minute
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler runs one conversation per connection.
type WebSocketHandler struct {
	conversations Conversations
	log           logger.Logger
	upgrader      websocket.Upgrader
}

// NewWebSocketHandler creates the WebSocket intake handler.
func NewWebSocketHandler(conversations Conversations, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		conversations: conversations,
		log:           log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type inboundFrame struct {
	Type   string       `json:"type"`
	Text   string       `json:"text"`
	Sender model.Sender `json:"sender"`
}

type outgoingFrame struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, "conversationID is required", http.StatusBadRequest)
		return
	}
	if !ValidConversationID(conversationID) {
		http.Error(w, errForeignConversation.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(module, "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	h.log.Info(module, "websocket connected", map[string]any{"conversation": conversationID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	writes := make(chan outgoingFrame, 4)
	go h.writeLoop(ctx, cancel, conn, writes)

	h.enqueue(ctx, writes, outgoingFrame{Type: "connected", ConversationID: conversationID})

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn(module, "websocket read error", map[string]any{"conversation": conversationID, "error": err.Error()})
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if frame.Type != "" && frame.Type != "message" {
			h.enqueue(ctx, writes, outgoingFrame{Type: "error", ConversationID: conversationID, Data: map[string]string{"error": "unsupported frame type"}})
			continue
		}

		// The read loop waits for each turn, so one connection never interleaves turns.
		reply, err := h.conversations.Handle(ctx, model.Inbound{
			ConversationID: conversationID,
			Sender:         frame.Sender,
			Text:           frame.Text,
		})
		if err != nil {
			h.log.Error(module, "websocket turn failed", map[string]any{"conversation": conversationID, "error": err})
			h.enqueue(ctx, writes, outgoingFrame{Type: "error", ConversationID: conversationID, Data: map[string]string{"error": err.Error()}})
			continue
		}

		h.enqueue(ctx, writes, outgoingFrame{Type: "reply", ConversationID: conversationID, Data: reply})
	}
}

func (h *WebSocketHandler) enqueue(ctx context.Context, writes chan<- outgoingFrame, frame outgoingFrame) {
	frame.Timestamp = time.Now().UnixMilli()
	select {
	case writes <- frame:
	case <-ctx.Done():
	}
}

// writeLoop owns all writes on conn: replies and keepalive pings.
func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, writes <-chan outgoingFrame) {
	// Closing the connection also unblocks the read loop.
	defer func() {
		cancel()
		conn.Close()
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-writes:
			payload, err := json.Marshal(frame)
			if err != nil {
				h.log.Error(module, "failed to encode websocket frame", map[string]any{"error": err})
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Warn(module, "websocket write failed", map[string]any{"error": err.Error()})
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
