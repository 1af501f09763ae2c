package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// DataStore defines the interface for durable storage of the ledger.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Load reads the full ledger state, records ordered by seq.
	Load(ctx context.Context) (*models.Snapshot, error)

	// Apply upserts every record of cs in one transaction.
	Apply(ctx context.Context, cs *models.ChangeSet) error
}

const messageCounterKey = "message_counter"

// encodeCapabilities stores a capability list as a JSON array.
func encodeCapabilities(caps []string) (string, error) {
	if caps == nil {
		caps = []string{}
	}
	data, err := json.Marshal(caps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCapabilities(data string) ([]string, error) {
	var caps []string
	if data == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(data), &caps); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if len(caps) == 0 {
		return nil, nil
	}
	return caps, nil
}

// agentRow holds the text columns of an agent row before decoding.
type agentRow struct {
	id, owner string
	agent     models.Agent
}

func (r *agentRow) decode() (models.Agent, error) {
	var err error
	if r.agent.ID, err = models.ParseAddress(r.id); err != nil {
		return models.Agent{}, fmt.Errorf("agent id %q: %w", r.id, err)
	}
	if r.agent.Owner, err = models.ParseAddress(r.owner); err != nil {
		return models.Agent{}, fmt.Errorf("agent owner %q: %w", r.owner, err)
	}
	return r.agent, nil
}

type messageRow struct {
	id, sender, recipient, contentHash, threadID string
	msg                                          models.Message
}

func (r *messageRow) decode() (models.Message, error) {
	var err error
	if r.msg.ID, err = models.ParseHash(r.id); err != nil {
		return models.Message{}, fmt.Errorf("message id %q: %w", r.id, err)
	}
	if r.msg.Sender, err = models.ParseAddress(r.sender); err != nil {
		return models.Message{}, fmt.Errorf("message sender %q: %w", r.sender, err)
	}
	if r.msg.Recipient, err = models.ParseAddress(r.recipient); err != nil {
		return models.Message{}, fmt.Errorf("message recipient %q: %w", r.recipient, err)
	}
	if r.msg.ContentHash, err = models.ParseHash(r.contentHash); err != nil {
		return models.Message{}, fmt.Errorf("content hash %q: %w", r.contentHash, err)
	}
	if r.msg.ThreadID, err = models.ParseHash(r.threadID); err != nil {
		return models.Message{}, fmt.Errorf("thread id %q: %w", r.threadID, err)
	}
	return r.msg, nil
}

type threadRow struct {
	id, a, b string
	thread   models.Thread
}

func (r *threadRow) decode() (models.Thread, error) {
	var err error
	if r.thread.ID, err = models.ParseHash(r.id); err != nil {
		return models.Thread{}, fmt.Errorf("thread id %q: %w", r.id, err)
	}
	if r.thread.ParticipantA, err = models.ParseAddress(r.a); err != nil {
		return models.Thread{}, fmt.Errorf("participant %q: %w", r.a, err)
	}
	if r.thread.ParticipantB, err = models.ParseAddress(r.b); err != nil {
		return models.Thread{}, fmt.Errorf("participant %q: %w", r.b, err)
	}
	return r.thread, nil
}
