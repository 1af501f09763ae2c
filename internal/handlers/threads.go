package handlers

import (
	"net/http"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// ThreadResponse is a thread with its messages in send order.
type ThreadResponse struct {
	Thread   models.Thread `json:"thread"`
	Messages []models.Hash `json:"messages"`
}

// GetThread returns the thread between two agents. The order of the two
// addresses does not matter.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	a, ok := h.addressParam(w, r, "a")
	if !ok {
		return
	}
	b, ok := h.addressParam(w, r, "b")
	if !ok {
		return
	}

	thread, err := h.ledger.Thread(a, b)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	ids, err := h.ledger.ThreadMessages(a, b)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	if ids == nil {
		ids = []models.Hash{}
	}
	h.JSON(w, http.StatusOK, ThreadResponse{Thread: thread, Messages: ids})
}
