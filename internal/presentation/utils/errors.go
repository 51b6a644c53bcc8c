package utils

import (
	"context"
	"errors"
	"net/http"

	"github.com/hilthontt/stockchat/internal/application/chat"
	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/json"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
)

// WriteServiceError maps chat service errors onto HTTP responses.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		json.WriteNotFoundError(w, "Room not found")
	case errors.Is(err, domain.ErrInvalidInput):
		json.WriteValidationError(w, err)
	case errors.Is(err, chat.ErrThrottled):
		json.WriteRateLimitError(w, 0)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		logger.Error(logging.RequestResponse, logging.ExternalService, "request failed", map[logging.ExtraKey]any{
			logging.Method:       r.Method,
			logging.Path:         r.URL.Path,
			logging.ErrorMessage: err.Error(),
		})
		json.WriteInternalError(w)
	}
}
