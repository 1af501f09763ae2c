package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

const maxCleanupBatch = 1000

// SendMessageRequest represents a message submission. EncryptedContent is
// base64 in JSON; Type is a type name and defaults to direct.
type SendMessageRequest struct {
	Recipient        models.Address     `json:"recipient"`
	EncryptedContent []byte             `json:"encrypted_content"`
	ContentHash      models.Hash        `json:"content_hash"`
	TTLSeconds       uint64             `json:"ttl_seconds"`
	Type             models.MessageType `json:"type"`
}

// SendMessageResponse identifies the stored message.
type SendMessageResponse struct {
	ID       models.Hash `json:"id"`
	ThreadID models.Hash `json:"thread_id"`
}

// MessageListResponse lists message ids, optionally with the records.
type MessageListResponse struct {
	Messages []models.Hash    `json:"messages"`
	Records  []models.Message `json:"records,omitempty"`
	Total    int              `json:"total"`
}

// SendMessage routes a message from the caller.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.EncryptedContent) > h.maxContent {
		h.Error(w, http.StatusBadRequest, fmt.Sprintf("encrypted_content too large (max %d bytes)", h.maxContent))
		return
	}

	id, err := h.ledger.SendMessage(r.Context(), caller, ledger.SendRequest{
		Recipient:        req.Recipient,
		EncryptedContent: req.EncryptedContent,
		ContentHash:      req.ContentHash,
		TTLSeconds:       req.TTLSeconds,
		Type:             req.Type,
	})
	if err != nil {
		h.ledgerError(w, err)
		return
	}

	msg, err := h.ledger.Message(id)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, SendMessageResponse{ID: id, ThreadID: msg.ThreadID})
}

// GetMessage returns a message record. Content stays encrypted for the
// recipient.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.hashParam(w, r, "id")
	if !ok {
		return
	}
	msg, err := h.ledger.Message(id)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

// SentMessages lists the caller's sent messages in send order.
func (h *Handler) SentMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.messageList(w, r, h.ledger.SentMessages(caller))
}

// ReceivedMessages lists the caller's received messages in send order.
func (h *Handler) ReceivedMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.messageList(w, r, h.ledger.ReceivedMessages(caller))
}

// UnreadMessages lists the caller's delivered, unread messages.
func (h *Handler) UnreadMessages(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.messageList(w, r, h.ledger.UnreadMessages(caller))
}

// RecentMessages lists the most recent messages, newest first.
func (h *Handler) RecentMessages(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 20, 100)
	h.JSON(w, http.StatusOK, newMessageList(h.ledger.RecentMessages(n)))
}

// messageList writes ids, adding the records when ?full=true.
func (h *Handler) messageList(w http.ResponseWriter, r *http.Request, ids []models.Hash) {
	resp := newMessageList(ids)
	if r.URL.Query().Get("full") == "true" {
		resp.Records = make([]models.Message, 0, len(ids))
		for _, id := range ids {
			msg, err := h.ledger.Message(id)
			if err != nil {
				h.ledgerError(w, err)
				return
			}
			resp.Records = append(resp.Records, msg)
		}
	}
	h.JSON(w, http.StatusOK, resp)
}

func newMessageList(ids []models.Hash) MessageListResponse {
	if ids == nil {
		ids = []models.Hash{}
	}
	return MessageListResponse{Messages: ids, Total: len(ids)}
}

// MarkAsRead marks a message read on behalf of its recipient.
func (h *Handler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.hashParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.ledger.MarkAsRead(r.Context(), caller, id); err != nil {
		h.ledgerError(w, err)
		return
	}
	msg, err := h.ledger.Message(id)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

// CleanupRequest names the messages to check for expiry.
type CleanupRequest struct {
	IDs []models.Hash `json:"ids"`
}

// CleanupResponse lists the messages that moved to expired.
type CleanupResponse struct {
	Expired []models.Hash `json:"expired"`
	Total   int           `json:"total"`
}

// CleanupExpired expires delivered messages past their expiry. Unknown ids
// and messages in other states are skipped.
func (h *Handler) CleanupExpired(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		h.Error(w, http.StatusBadRequest, "ids is required")
		return
	}
	if len(req.IDs) > maxCleanupBatch {
		h.Error(w, http.StatusBadRequest, fmt.Sprintf("too many ids (max %d)", maxCleanupBatch))
		return
	}

	expired, err := h.ledger.CleanupExpiredMessages(r.Context(), req.IDs)
	if err != nil {
		h.ledgerError(w, err)
		return
	}
	if expired == nil {
		expired = []models.Hash{}
	}
	h.JSON(w, http.StatusOK, CleanupResponse{Expired: expired, Total: len(expired)})
}
