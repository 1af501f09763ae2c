package models

// Thread is the conversation context between exactly two agents.
// ParticipantA is always the lower of the two addresses.
type Thread struct {
	ID           Hash    `json:"id"`
	ParticipantA Address `json:"participant_a"`
	ParticipantB Address `json:"participant_b"`
	MessageCount uint64  `json:"message_count"`
	CreatedAt    int64   `json:"created_at"`
	IsActive     bool    `json:"is_active"`
}

