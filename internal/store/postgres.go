package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OfficialDeepSwap/A2A/internal/metrics"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT UNIQUE NOT NULL,
		public_key TEXT NOT NULL,
		capabilities TEXT[] NOT NULL DEFAULT '{}',
		reputation BIGINT NOT NULL,
		total_messages BIGINT NOT NULL DEFAULT 0,
		registered_at BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		seq BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		message_count BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (participant_a, participant_b)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		encrypted_content BYTEA NOT NULL,
		content_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0,
		status SMALLINT NOT NULL,
		type SMALLINT NOT NULL,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		seq BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_seq ON agents(seq);
	CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Apply upserts the change set in one transaction, sent as a single batch.
func (s *PostgresStore) Apply(ctx context.Context, cs *models.ChangeSet) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	batch := &pgx.Batch{}
	for i := range cs.Agents {
		a := &cs.Agents[i]
		caps := a.Capabilities
		if caps == nil {
			caps = []string{}
		}
		batch.Queue(`
			INSERT INTO agents (id, owner, name, public_key, capabilities, reputation, total_messages, registered_at, is_active, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				public_key = EXCLUDED.public_key,
				capabilities = EXCLUDED.capabilities,
				reputation = EXCLUDED.reputation,
				total_messages = EXCLUDED.total_messages,
				is_active = EXCLUDED.is_active
		`, a.ID.Hex(), a.Owner.Hex(), a.Name, a.PublicKey, caps,
			int64(a.Reputation), int64(a.TotalMessages), a.RegisteredAt, a.IsActive, int64(a.Seq))
	}
	for i := range cs.Threads {
		t := &cs.Threads[i]
		batch.Queue(`
			INSERT INTO threads (id, participant_a, participant_b, message_count, created_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				message_count = EXCLUDED.message_count,
				is_active = EXCLUDED.is_active
		`, t.ID.Hex(), t.ParticipantA.Hex(), t.ParticipantB.Hex(), int64(t.MessageCount), t.CreatedAt, t.IsActive)
	}
	for i := range cs.Messages {
		m := &cs.Messages[i]
		batch.Queue(`
			INSERT INTO messages (id, sender, recipient, encrypted_content, content_hash, created_at, expires_at, status, type, thread_id, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
		`, m.ID.Hex(), m.Sender.Hex(), m.Recipient.Hex(), m.EncryptedContent, m.ContentHash.Hex(),
			m.CreatedAt, m.ExpiresAt, int16(m.Status), int16(m.Type), m.ThreadID.Hex(), int64(m.Seq))
	}
	batch.Queue(`
		INSERT INTO counters (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`, messageCounterKey, int64(cs.MessageCounter))

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Load reads every record of the ledger.
func (s *PostgresStore) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, name, public_key, capabilities, reputation, total_messages, registered_at, is_active, seq
		FROM agents ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var row agentRow
		var rep, total, seq int64
		err := rows.Scan(
			&row.id,
			&row.owner,
			&row.agent.Name,
			&row.agent.PublicKey,
			&row.agent.Capabilities,
			&rep,
			&total,
			&row.agent.RegisteredAt,
			&row.agent.IsActive,
			&seq,
		)
		if err != nil {
			rows.Close()
			return nil, err
		}
		row.agent.Reputation, row.agent.TotalMessages, row.agent.Seq = uint64(rep), uint64(total), uint64(seq)
		if len(row.agent.Capabilities) == 0 {
			row.agent.Capabilities = nil
		}
		agent, err := row.decode()
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Agents = append(snap.Agents, agent)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, participant_a, participant_b, message_count, created_at, is_active
		FROM threads ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var row threadRow
		var count int64
		if err := rows.Scan(&row.id, &row.a, &row.b, &count, &row.thread.CreatedAt, &row.thread.IsActive); err != nil {
			rows.Close()
			return nil, err
		}
		row.thread.MessageCount = uint64(count)
		thread, err := row.decode()
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Threads = append(snap.Threads, thread)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, sender, recipient, encrypted_content, content_hash, created_at, expires_at, status, type, thread_id, seq
		FROM messages ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var row messageRow
		var status, typ int16
		var seq int64
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
			&seq,
		)
		if err != nil {
			rows.Close()
			return nil, err
		}
		row.msg.Status, row.msg.Type, row.msg.Seq = models.MessageStatus(status), models.MessageType(typ), uint64(seq)
		msg, err := row.decode()
		if err != nil {
			rows.Close()
			return nil, err
		}
		snap.Messages = append(snap.Messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	var counter int64
	err = s.pool.QueryRow(ctx, `SELECT value FROM counters WHERE name = $1`, messageCounterKey).Scan(&counter)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	snap.MessageCounter = uint64(counter)

	return snap, nil
}
