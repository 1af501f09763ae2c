package models

import (
	"fmt"
	"strings"
)

// MessageStatus is the delivery state of a routed message.
type MessageStatus uint8

// Pending and Failed are part of the status set but no ledger operation
// produces them.
const (
	StatusPending MessageStatus = iota
	StatusDelivered
	StatusRead
	StatusExpired
	StatusFailed
)

var statusNames = [...]string{"pending", "delivered", "read", "expired", "failed"}

func (s MessageStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s MessageStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MessageStatus) UnmarshalText(input []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(input)) {
			*s = MessageStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown message status %q", input)
}

// MessageType is informational only; routing treats every type the same.
type MessageType uint8

const (
	TypeDirect MessageType = iota
	TypeRequest
	TypeResponse
	TypeBroadcast
)

var typeNames = [...]string{"direct", "request", "response", "broadcast"}

func (t MessageType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is one of the declared message types.
func (t MessageType) Valid() bool { return int(t) < len(typeNames) }

func (t MessageType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MessageType) UnmarshalText(input []byte) error {
	parsed, err := ParseMessageType(string(input))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseMessageType parses a type name. The empty string means direct.
func ParseMessageType(s string) (MessageType, error) {
	if s == "" {
		return TypeDirect, nil
	}
	for i, name := range typeNames {
		if strings.EqualFold(name, s) {
			return MessageType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

// Message is a routed message. Everything except Status is immutable once
// created.
type Message struct {
	ID               Hash          `json:"id"`
	Sender           Address       `json:"sender"`
	Recipient        Address       `json:"recipient"`
	EncryptedContent []byte        `json:"encrypted_content"`
	ContentHash      Hash          `json:"content_hash"`
	CreatedAt        int64         `json:"created_at"`
	ExpiresAt        int64         `json:"expires_at"` // 0 means no expiry
	Status           MessageStatus `json:"status"`
	Type             MessageType   `json:"type"`
	ThreadID         Hash          `json:"thread_id"`
	Seq              uint64        `json:"seq"` // global send order
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() Message {
	c := *m
	c.EncryptedContent = append([]byte(nil), m.EncryptedContent...)
	return c
}

// PastExpiry reports whether the message has an expiry and now is beyond it.
func (m *Message) PastExpiry(now int64) bool {
	return m.ExpiresAt != 0 && now > m.ExpiresAt
}
