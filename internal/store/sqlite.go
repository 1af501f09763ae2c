package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/OfficialDeepSwap/A2A/internal/metrics"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/a2a.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/a2a.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// Single connection; writers are serialized by the ledger.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT UNIQUE NOT NULL,
		public_key TEXT NOT NULL,
		capabilities TEXT NOT NULL DEFAULT '[]',
		reputation INTEGER NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		registered_at INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		UNIQUE (participant_a, participant_b)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		encrypted_content BLOB NOT NULL,
		content_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL,
		type INTEGER NOT NULL,
		thread_id TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_seq ON agents(seq);
	CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Apply upserts the change set in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, cs *models.ChangeSet) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range cs.Agents {
		a := &cs.Agents[i]
		caps, err := encodeCapabilities(a.Capabilities)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agents (id, owner, name, public_key, capabilities, reputation, total_messages, registered_at, is_active, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				public_key = excluded.public_key,
				capabilities = excluded.capabilities,
				reputation = excluded.reputation,
				total_messages = excluded.total_messages,
				is_active = excluded.is_active
		`, a.ID.Hex(), a.Owner.Hex(), a.Name, a.PublicKey, caps,
			int64(a.Reputation), int64(a.TotalMessages), a.RegisteredAt, boolInt(a.IsActive), int64(a.Seq))
		if err != nil {
			return fmt.Errorf("upsert agent %s: %w", a.ID, err)
		}
	}

	for i := range cs.Threads {
		t := &cs.Threads[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO threads (id, participant_a, participant_b, message_count, created_at, is_active)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				message_count = excluded.message_count,
				is_active = excluded.is_active
		`, t.ID.Hex(), t.ParticipantA.Hex(), t.ParticipantB.Hex(), int64(t.MessageCount), t.CreatedAt, boolInt(t.IsActive))
		if err != nil {
			return fmt.Errorf("upsert thread %s: %w", t.ID, err)
		}
	}

	for i := range cs.Messages {
		m := &cs.Messages[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, sender, recipient, encrypted_content, content_hash, created_at, expires_at, status, type, thread_id, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET status = excluded.status
		`, m.ID.Hex(), m.Sender.Hex(), m.Recipient.Hex(), m.EncryptedContent, m.ContentHash.Hex(),
			m.CreatedAt, m.ExpiresAt, int(m.Status), int(m.Type), m.ThreadID.Hex(), int64(m.Seq))
		if err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, messageCounterKey, int64(cs.MessageCounter))
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}

	return tx.Commit()
}

// Load reads every record of the ledger.
func (s *SQLiteStore) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	var err error

	// Queries run one after another on the single connection.
	if snap.Agents, err = s.loadAgents(ctx); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	if snap.Threads, err = s.loadThreads(ctx); err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}
	if snap.Messages, err = s.loadMessages(ctx); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	var counter int64
	err = s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, messageCounterKey).Scan(&counter)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	snap.MessageCounter = uint64(counter)

	return snap, nil
}

func (s *SQLiteStore) loadAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, public_key, capabilities, reputation, total_messages, registered_at, is_active, seq
		FROM agents ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var row agentRow
		var caps string
		var active int
		err := rows.Scan(
			&row.id,
			&row.owner,
			&row.agent.Name,
			&row.agent.PublicKey,
			&caps,
			&row.agent.Reputation,
			&row.agent.TotalMessages,
			&row.agent.RegisteredAt,
			&active,
			&row.agent.Seq,
		)
		if err != nil {
			return nil, err
		}
		if row.agent.Capabilities, err = decodeCapabilities(caps); err != nil {
			return nil, err
		}
		row.agent.IsActive = active == 1
		agent, err := row.decode()
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) loadThreads(ctx context.Context) ([]models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_a, participant_b, message_count, created_at, is_active
		FROM threads ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		var row threadRow
		var active int
		if err := rows.Scan(&row.id, &row.a, &row.b, &row.thread.MessageCount, &row.thread.CreatedAt, &active); err != nil {
			return nil, err
		}
		row.thread.IsActive = active == 1
		thread, err := row.decode()
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *SQLiteStore) loadMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, recipient, encrypted_content, content_hash, created_at, expires_at, status, type, thread_id, seq
		FROM messages ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var row messageRow
		var status, typ int
		err := rows.Scan(
			&row.id,
			&row.sender,
			&row.recipient,
			&row.msg.EncryptedContent,
			&row.contentHash,
			&row.msg.CreatedAt,
			&row.msg.ExpiresAt,
			&status,
			&typ,
			&row.threadID,
			&row.msg.Seq,
		)
		if err != nil {
			return nil, err
		}
		row.msg.Status = models.MessageStatus(status)
		row.msg.Type = models.MessageType(typ)
		msg, err := row.decode()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
