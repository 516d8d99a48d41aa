package intake

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ucsal/oraculo-anonimo/internal/logger"
	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
	intakeService "github.com/ucsal/oraculo-anonimo/internal/service/intake"
	"github.com/ucsal/oraculo-anonimo/pkg/utils"
)

const (
	module = "http"

	// ConversationPrefix marks the conversation ids this surface issues. Ids from other
	// transports ("tg:", "cli:") are never accepted here.
	ConversationPrefix = "web:"
)

var errForeignConversation = errors.New("conversationId must be one issued by POST /intake/conversations")

// ValidConversationID reports whether id belongs to the web intake.
func ValidConversationID(id string) bool {
	return strings.HasPrefix(id, ConversationPrefix) && strings.TrimSpace(id[len(ConversationPrefix):]) != ""
}

// Conversations processes inbound messages; implemented by the intake service.
type Conversations interface {
	Handle(ctx context.Context, in model.Inbound) (model.Reply, error)
}

// Handler exposes the intake state machine to web clients.
type Handler struct {
	conversations Conversations
	log           logger.Logger
	ws            *WebSocketHandler
}

// New creates the web intake handler.
func New(conversations Conversations, log logger.Logger) *Handler {
	return &Handler{
		conversations: conversations,
		log:           log,
		ws:            NewWebSocketHandler(conversations, log),
	}
}

// RegisterRoutes mounts the intake routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/intake", func(r chi.Router) {
		r.Post("/conversations", h.handleCreateConversation)
		r.Post("/messages", h.handleMessage)
		r.Get("/ws/{conversationID}", h.ws.handleWebSocket)
	})
}

// handleCreateConversation hands out a fresh web conversation id.
func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"conversationId": ConversationPrefix + uuid.NewString()})
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload model.Inbound
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if payload.ConversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if !ValidConversationID(payload.ConversationID) {
		utils.RespondError(w, http.StatusBadRequest, errForeignConversation.Error())
		return
	}

	reply, err := h.conversations.Handle(r.Context(), payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, intakeService.ErrConversationRequired) {
			status = http.StatusBadRequest
		}
		h.log.Error(module, "intake message failed", map[string]any{"conversation": payload.ConversationID, "error": err})
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}
