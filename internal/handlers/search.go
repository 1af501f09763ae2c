package handlers

import (
	"net/http"

	"github.com/OfficialDeepSwap/A2A/internal/metrics"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// SearchResponse represents the capability search response.
type SearchResponse struct {
	Capability string           `json:"capability"`
	Agents     []models.Address `json:"agents"`
	Total      int              `json:"total"`
}

// Search lists active agents advertising a capability. Matching is exact.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		h.Error(w, http.StatusBadRequest, "query parameter 'capability' is required")
		return
	}
	if len(capability) > 100 {
		h.Error(w, http.StatusBadRequest, "capability too long (max 100 chars)")
		return
	}

	metrics.SearchQueries.Inc()
	list := agentList(h.ledger.SearchByCapability(capability))
	h.JSON(w, http.StatusOK, SearchResponse{
		Capability: capability,
		Agents:     list.Agents,
		Total:      list.Total,
	})
}
