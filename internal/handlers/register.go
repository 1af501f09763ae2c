package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/OfficialDeepSwap/A2A/internal/ledger"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name         string   `json:"name"`
	PublicKey    string   `json:"public_key"`
	Capabilities []string `json:"capabilities"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	ID         string `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register creates the caller's directory entry. The agent id is the
// address of the signing key.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := sanitizeName(req.Name)
	if utf8.RuneCountInString(name) > maxNameLength {
		h.JSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("name exceeds %d characters", maxNameLength),
			Kind:  ledger.KindValidation.String(),
		})
		return
	}

	id, err := h.ledger.Register(r.Context(), caller, name, req.PublicKey, req.Capabilities)
	if err != nil {
		h.ledgerError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, RegisterResponse{
		ID:         id.Hex(),
		ProfileURL: fmt.Sprintf("/agents/%s", id.Hex()),
	})
}
