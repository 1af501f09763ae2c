package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/OfficialDeepSwap/A2A/internal/ledger"
)

// MessagePreview summarizes a recent message without its content.
type MessagePreview struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Recipient  string `json:"recipient"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	ledger.Stats
	LastActivity   string           `json:"last_activity"`
	RecentMessages []MessagePreview `json:"recent_messages"`
}

// Stats returns ledger totals and the latest traffic.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.ledger.Stats()

	ids := h.ledger.RecentMessages(5)
	recent := make([]MessagePreview, 0, len(ids))
	for _, id := range ids {
		msg, err := h.ledger.Message(id)
		if err != nil {
			continue
		}
		senderName := "Unknown Agent"
		if agent, err := h.ledger.Agent(msg.Sender); err == nil {
			senderName = agent.Name
		}
		recent = append(recent, MessagePreview{
			ID:         msg.ID.Hex(),
			Sender:     msg.Sender.Hex(),
			SenderName: senderName,
			Recipient:  msg.Recipient.Hex(),
			Type:       msg.Type.String(),
			Status:     msg.Status.String(),
			Timestamp:  msg.CreatedAt,
		})
	}

	lastActivity := "no activity yet"
	if len(recent) > 0 {
		lastActivity = formatTimeAgo(time.Unix(recent[0].Timestamp, 0))
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		Stats:          stats,
		LastActivity:   lastActivity,
		RecentMessages: recent,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
