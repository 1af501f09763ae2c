package models

// EventType names a ledger notification.
type EventType string

const (
	EventAgentRegistered  EventType = "agent.registered"
	EventAgentUpdated     EventType = "agent.updated"
	EventAgentDeactivated EventType = "agent.deactivated"
	EventAgentReactivated EventType = "agent.reactivated"
	EventReputation       EventType = "agent.reputation"
	EventMessageDelivered EventType = "message.delivered"
	EventMessageRead      EventType = "message.read"
	EventMessageExpired   EventType = "message.expired"
	EventThreadCreated    EventType = "thread.created"
)

// Event is emitted after a ledger operation commits.
type Event struct {
	ID           string    `json:"id"` // ULID
	Type         EventType `json:"type"`
	Agent        Address   `json:"agent"`
	Counterparty Address   `json:"counterparty"`
	MessageID    Hash      `json:"message_id"`
	ThreadID     Hash      `json:"thread_id"`
	Reputation   uint64    `json:"reputation,omitempty"`
	Timestamp    int64     `json:"ts"`
}

// Audience returns the agents that should receive the event.
func (e Event) Audience() []Address {
	switch e.Type {
	case EventMessageDelivered, EventThreadCreated:
		if e.Counterparty.IsZero() {
			return []Address{e.Agent}
		}
		return []Address{e.Counterparty, e.Agent}
	default:
		return []Address{e.Agent}
	}
}
