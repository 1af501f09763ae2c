package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// AgentListResponse lists agent ids in registration order.
type AgentListResponse struct {
	Agents []models.Address `json:"agents"`
	Total  int              `json:"total"`
}

func agentList(ids []models.Address) AgentListResponse {
	if ids == nil {
		ids = []models.Address{}
	}
	return AgentListResponse{Agents: ids, Total: len(ids)}
}

// GetAgent returns an agent record.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.addressParam(w, r, "id")
	if !ok {
		return
	}
	agent, err := h.ledger.Agent(id)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agent)
}

// AgentByName resolves a name to an agent id.
func (h *Handler) AgentByName(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ledger.AgentByName(sanitizeName(chi.URLParam(r, "name")))
	if !ok {
		h.ledgerError(w, ledger.ErrAgentNotFound)
		return
	}
	h.JSON(w, http.StatusOK, map[string]models.Address{"id": id})
}

// ListAgents returns the active agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, agentList(h.ledger.ActiveAgents()))
}

// UpdateAgentRequest replaces the caller's capabilities. An empty public key
// keeps the current one.
type UpdateAgentRequest struct {
	PublicKey    string   `json:"public_key"`
	Capabilities []string `json:"capabilities"`
}

// UpdateMe updates the caller's agent.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.ledger.UpdateAgent(r.Context(), caller, req.PublicKey, req.Capabilities); err != nil {
		h.ledgerError(w, err)
		return
	}
	h.writeAgent(w, caller)
}

// Deactivate hides the caller from listings and stops delivery to it.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Deactivate(r.Context(), caller); err != nil {
		h.ledgerError(w, err)
		return
	}
	h.writeAgent(w, caller)
}

// Reactivate undoes Deactivate.
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Reactivate(r.Context(), caller); err != nil {
		h.ledgerError(w, err)
		return
	}
	h.writeAgent(w, caller)
}

// ReputationRequest is a signed reputation change.
type ReputationRequest struct {
	Delta int64 `json:"delta"`
}

// AdjustReputation applies a reputation delta to the agent in the path.
func (h *Handler) AdjustReputation(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.addressParam(w, r, "id")
	if !ok {
		return
	}
	var req ReputationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rep, err := h.ledger.AdjustReputation(r.Context(), caller, id, req.Delta)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]uint64{"reputation": rep})
}

// IncrementMessageCount bumps the message counter of the agent in the path.
func (h *Handler) IncrementMessageCount(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.addressParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.ledger.IncrementMessageCount(r.Context(), caller, id); err != nil {
		h.ledgerError(w, err)
		return
	}
	h.writeAgent(w, id)
}

func (h *Handler) writeAgent(w http.ResponseWriter, id models.Address) {
	agent, err := h.ledger.Agent(id)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, agent)
}
