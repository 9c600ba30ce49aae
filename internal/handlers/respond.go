package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"CampusConnect/server/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the service error taxonomy onto status codes. Not-found
// and not-a-participant are indistinguishable on the wire so conversation
// existence is never leaked to non-participants.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err))
	case errors.Is(err, models.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorBody(err))
	case errors.Is(err, models.ErrConversationNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrNotParticipant),
		errors.Is(err, models.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err))
	default:
		log.Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
