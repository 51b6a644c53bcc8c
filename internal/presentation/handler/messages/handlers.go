package messages

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/stockchat/internal/application/chat"
	"github.com/hilthontt/stockchat/internal/infrastructure/json"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/presentation/utils"
)

type Handler struct {
	chat   chat.Service
	logger logging.Logger
}

func NewHandler(chat chat.Service, logger logging.Logger) *Handler {
	return &Handler{
		chat:   chat,
		logger: logger,
	}
}

// GetHistoryHandler godoc
// @Summary      Room history
// @Description  Returns the last count messages of the room, oldest first. Bot quotes have isQuote set.
// @Tags         messages
// @Produce      json
// @Param        roomId path string true "Room ID"
// @Param        count query int false "Number of messages (default 50, max 200)"
// @Success      200 {array} messageResponse "Messages, oldest first"
// @Failure      400 {object} map[string]interface{} "Invalid room id or count"
// @Failure      404 {object} map[string]interface{} "Room not found"
// @Router       /rooms/{roomId}/messages [get]
func (h *Handler) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			json.WriteBadRequestError(w, "count must be a positive integer")
			return
		}
		count = n
	}

	msgs, err := h.chat.History(r.Context(), chi.URLParam(r, "roomId"), count)
	if err != nil {
		utils.WriteServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{
			ID:        m.ID,
			RoomID:    m.RoomID,
			Username:  m.Username,
			Content:   m.Content,
			IsQuote:   m.IsQuote,
			CreatedAt: m.CreatedAt,
		})
	}

	_ = json.Write(w, http.StatusOK, resp)
}

// SendMessageHandler godoc
// @Summary      Send a message
// @Description  Posts a chat message to the room. Text starting with /stock= requests a quote instead; the reply notice is returned to the caller only and the quote arrives over the room's WebSocket.
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        roomId path string true "Room ID"
// @Param        request body sendMessageRequest true "Message"
// @Success      202 {object} sendMessageResponse "Message accepted"
// @Failure      400 {object} map[string]interface{} "Validation error"
// @Failure      404 {object} map[string]interface{} "Room not found"
// @Failure      429 {object} map[string]interface{} "Too many stock commands"
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /rooms/{roomId}/messages [post]
func (h *Handler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = utils.UsernameFromRequest(r)
	}
	if username == "" {
		json.WriteValidationError(w, errors.New("username is required"))
		return
	}

	notice, err := h.chat.SendMessage(r.Context(), username, chi.URLParam(r, "roomId"), req.Content)
	if err != nil {
		utils.WriteServiceError(w, r, h.logger, err)
		return
	}

	utils.SetUsernameCookie(w, username)
	_ = json.Write(w, http.StatusAccepted, sendMessageResponse{Notice: notice})
}
