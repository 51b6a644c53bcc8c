package rooms

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/stockchat/internal/application/chat"
	"github.com/hilthontt/stockchat/internal/infrastructure/json"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/ws"
	"github.com/hilthontt/stockchat/internal/presentation/utils"
)

type Handler struct {
	chat   chat.Service
	core   *ws.Core
	logger logging.Logger
}

func NewHandler(chat chat.Service, core *ws.Core, logger logging.Logger) *Handler {
	return &Handler{
		chat:   chat,
		core:   core,
		logger: logger,
	}
}

// ListRoomsHandler godoc
// @Summary      List chat rooms
// @Description  Returns the active rooms ordered by name
// @Tags         rooms
// @Produce      json
// @Success      200 {array} roomResponse "Active rooms"
// @Failure      500 {object} map[string]interface{} "Internal server error"
// @Router       /rooms [get]
func (h *Handler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.chat.Rooms(r.Context())
	if err != nil {
		utils.WriteServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, roomResponse{
			ID:          room.ID,
			Name:        room.Name,
			Description: room.Description,
			CreatedAt:   room.CreatedAt,
		})
	}

	_ = json.Write(w, http.StatusOK, resp)
}

// GetRoomHandler godoc
// @Summary      Get a chat room
// @Description  Returns one room with the users currently connected to it
// @Tags         rooms
// @Produce      json
// @Param        roomId path string true "Room ID"
// @Success      200 {object} roomResponse "Room details"
// @Failure      400 {object} map[string]interface{} "Invalid room id"
// @Failure      404 {object} map[string]interface{} "Room not found"
// @Router       /rooms/{roomId} [get]
func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := h.chat.Room(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		utils.WriteServiceError(w, r, h.logger, err)
		return
	}

	_ = json.Write(w, http.StatusOK, roomResponse{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		CreatedAt:   room.CreatedAt,
		Online:      h.core.Online(room.ID),
	})
}

// JoinRoomHandler godoc
// @Summary      Join a chat room via WebSocket
// @Description  Upgrades to a WebSocket bound to the room. The client first receives recent history, then live messages, presence updates and private notices. Text frames are sent as chat messages; /stock=CODE requests a quote.
// @Tags         rooms
// @Param        roomId path string true "Room ID"
// @Param        username query string false "Display name (falls back to the username cookie)"
// @Success      101 {object} map[string]interface{} "Switching Protocols - WebSocket connection established"
// @Failure      400 {object} map[string]interface{} "Bad request - missing username"
// @Failure      404 {object} map[string]interface{} "Room not found"
// @Router       /rooms/{roomId}/ws [get]
func (h *Handler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := h.chat.Room(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		utils.WriteServiceError(w, r, h.logger, err)
		return
	}

	username := utils.UsernameFromRequest(r)
	if username == "" {
		json.WriteValidationError(w, errors.New("username is required"))
		return
	}

	if err := h.core.ServeClient(w, r, room.ID, username, h.chat); err != nil {
		h.logger.Warn(logging.Websocket, logging.Connection, "websocket join failed", map[logging.ExtraKey]any{
			logging.RoomID:       room.ID,
			logging.Username:     username,
			logging.ErrorMessage: err.Error(),
		})
	}
}
