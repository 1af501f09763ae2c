package handlers

import (
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// NotificationsResponse lists events for the caller, newest first.
type NotificationsResponse struct {
	Events []models.Event `json:"events"`
	Total  int            `json:"total"`
}

// Notifications returns the caller's event inbox. ?after=<ulid> returns
// only newer events.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.redis == nil {
		h.Error(w, http.StatusServiceUnavailable, "notifications not configured")
		return
	}

	after := r.URL.Query().Get("after")
	if after != "" {
		if _, err := ulid.Parse(after); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid 'after' cursor")
			return
		}
	}
	limit := queryInt(r, "limit", 100, 1000)

	events, err := h.redis.GetNotifications(r.Context(), caller, limit, after)
	if err != nil {
		h.log.Error().Err(err).Str("agent", caller.Hex()).Msg("Failed to read notifications")
		h.Error(w, http.StatusInternalServerError, "failed to read notifications")
		return
	}
	h.JSON(w, http.StatusOK, NotificationsResponse{Events: events, Total: len(events)})
}
