package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/OfficialDeepSwap/A2A/internal/metrics"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// Persister durably stores the records touched by a committed operation.
// An Apply error aborts the operation and rolls the ledger back.
type Persister interface {
	Apply(ctx context.Context, cs *models.ChangeSet) error
}

// Notifier receives events after their operation has committed. Failures
// are logged and never undo the operation.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used to timestamp operations.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithPersister sets the store written on every commit.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persister = p }
}

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger serializes every operation on the agent directory and the message
// router. Mutations hold the write lock from validation to persistence and
// are rolled back as a whole on any error. Reads return copies.
type Ledger struct {
	mu      sync.RWMutex
	journal *journal
	dir     *directory
	router  *router

	clock     Clock
	persister Persister
	notifier  Notifier
	log       zerolog.Logger
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		clock: systemClock{},
		log:   zerolog.Nop(),
	}
	l.reset()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) reset() {
	l.journal = newJournal()
	l.dir = newDirectory(l.journal)
	l.router = newRouter(l.journal, l.dir)
}

// update runs fn as one atomic step. Events returned by fn are published
// only once the step has been persisted.
func (l *Ledger) update(ctx context.Context, op string, fn func(now int64) ([]models.Event, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := l.clock.Now().Unix()
	events, err := fn(now)
	if err == nil {
		err = l.persist(ctx, op)
	}
	if err != nil {
		l.journal.revert(l, 0)
		l.mu.Unlock()

		kind := KindOf(err)
		metrics.LedgerOperations.WithLabelValues(op, kind.String()).Inc()
		if kind == KindInternal {
			l.log.Error().Err(err).Str("op", op).Msg("Ledger operation failed")
		} else {
			l.log.Debug().Err(err).Str("op", op).Msg("Ledger operation rejected")
		}
		return err
	}
	l.journal.reset()
	l.mu.Unlock()

	metrics.LedgerOperations.WithLabelValues(op, "ok").Inc()
	l.publish(ctx, events, now)
	return nil
}

// persist hands the dirty records of the current step to the persister.
func (l *Ledger) persist(ctx context.Context, op string) error {
	if l.persister == nil || len(l.journal.dirties) == 0 {
		return nil
	}
	cs := &models.ChangeSet{MessageCounter: l.router.counter}
	for ref := range l.journal.dirties {
		switch ref.kind {
		case agentRecord:
			if a, ok := l.dir.agents[models.BytesToAddress(ref.key[12:])]; ok {
				cs.Agents = append(cs.Agents, a.Clone())
			}
		case messageRecord:
			if m, ok := l.router.messages[ref.key]; ok {
				cs.Messages = append(cs.Messages, m.Clone())
			}
		case threadRecord:
			if t, ok := l.router.threads[ref.key]; ok {
				cs.Threads = append(cs.Threads, *t)
			}
		}
	}
	sort.Slice(cs.Agents, func(i, j int) bool { return cs.Agents[i].Seq < cs.Agents[j].Seq })
	sort.Slice(cs.Messages, func(i, j int) bool { return cs.Messages[i].Seq < cs.Messages[j].Seq })
	sort.Slice(cs.Threads, func(i, j int) bool {
		return cs.Threads[i].ID.Hex() < cs.Threads[j].ID.Hex()
	})

	if err := l.persister.Apply(ctx, cs); err != nil {
		return fmt.Errorf("persist %s: %w", op, err)
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, events []models.Event, now int64) {
	if l.notifier == nil || len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		ev.ID = ulid.Make().String()
		ev.Timestamp = now
		if err := l.notifier.Notify(ctx, ev); err != nil {
			l.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to publish event")
		}
	}
}

// Register creates the caller's agent record and returns its id.
func (l *Ledger) Register(ctx context.Context, caller models.Address, name, publicKey string, capabilities []string) (models.Address, error) {
	err := l.update(ctx, "register", func(now int64) ([]models.Event, error) {
		agent, err := l.dir.register(caller, name, publicKey, capabilities, now)
		if err != nil {
			return nil, err
		}
		return []models.Event{{Type: models.EventAgentRegistered, Agent: agent.ID}}, nil
	})
	if err != nil {
		return models.Address{}, err
	}
	metrics.AgentsRegistered.Inc()
	l.log.Debug().Str("agent", caller.Hex()).Str("name", name).Msg("Agent registered")
	return caller, nil
}

// UpdateAgent replaces the caller's capabilities and, when publicKey is not
// empty, its public key.
func (l *Ledger) UpdateAgent(ctx context.Context, caller models.Address, publicKey string, capabilities []string) error {
	return l.update(ctx, "update_agent", func(int64) ([]models.Event, error) {
		if _, err := l.dir.update(caller, publicKey, capabilities); err != nil {
			return nil, err
		}
		return []models.Event{{Type: models.EventAgentUpdated, Agent: caller}}, nil
	})
}

// Deactivate clears the caller's active flag. Messages and threads are
// untouched.
func (l *Ledger) Deactivate(ctx context.Context, caller models.Address) error {
	return l.setActive(ctx, caller, false)
}

// Reactivate sets the caller's active flag again.
func (l *Ledger) Reactivate(ctx context.Context, caller models.Address) error {
	return l.setActive(ctx, caller, true)
}

func (l *Ledger) setActive(ctx context.Context, caller models.Address, active bool) error {
	op, typ := "deactivate", models.EventAgentDeactivated
	if active {
		op, typ = "reactivate", models.EventAgentReactivated
	}
	return l.update(ctx, op, func(int64) ([]models.Event, error) {
		changed, err := l.dir.setActive(caller, active)
		if err != nil || !changed {
			return nil, err
		}
		return []models.Event{{Type: typ, Agent: caller}}, nil
	})
}

// AdjustReputation applies delta to the agent's reputation and returns the
// new value. Any registered or unregistered caller may do this.
func (l *Ledger) AdjustReputation(ctx context.Context, caller, agent models.Address, delta int64) (uint64, error) {
	var rep uint64
	err := l.update(ctx, "adjust_reputation", func(int64) ([]models.Event, error) {
		a, err := l.dir.adjustReputation(agent, delta)
		if err != nil {
			return nil, err
		}
		rep = a.Reputation
		return []models.Event{{Type: models.EventReputation, Agent: agent, Reputation: rep}}, nil
	})
	if err != nil {
		return 0, err
	}
	if caller != agent {
		l.log.Warn().
			Str("caller", caller.Hex()).
			Str("agent", agent.Hex()).
			Int64("delta", delta).
			Msg("Reputation adjusted by a third party")
	}
	direction := "up"
	if delta < 0 {
		direction = "down"
	}
	metrics.ReputationAdjustments.WithLabelValues(direction).Inc()
	return rep, nil
}

// IncrementMessageCount bumps the agent's message counter. Like
// AdjustReputation it is open to any caller.
func (l *Ledger) IncrementMessageCount(ctx context.Context, caller, agent models.Address) error {
	err := l.update(ctx, "increment_message_count", func(int64) ([]models.Event, error) {
		_, err := l.dir.incrementMessageCount(agent)
		return nil, err
	})
	if err == nil && caller != agent {
		l.log.Warn().
			Str("caller", caller.Hex()).
			Str("agent", agent.Hex()).
			Msg("Message count incremented by a third party")
	}
	return err
}

// Agent returns a copy of the agent record.
func (l *Ledger) Agent(id models.Address) (models.Agent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	agent, ok := l.dir.get(id)
	if !ok {
		return models.Agent{}, ErrAgentNotFound
	}
	return agent, nil
}

// AgentByName resolves a registered name to its agent id.
func (l *Ledger) AgentByName(name string) (models.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dir.byName(name)
}

// AgentCount returns the number of registered agents, active or not.
func (l *Ledger) AgentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.dir.order)
}

// ActiveAgents lists active agents in registration order.
func (l *Ledger) ActiveAgents() []models.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dir.listActive()
}

// SearchByCapability lists active agents holding tag, in registration order.
// Matching is exact and case-sensitive.
func (l *Ledger) SearchByCapability(tag string) []models.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dir.searchByCapability(tag)
}

// SendMessage routes a message from caller and returns its id.
func (l *Ledger) SendMessage(ctx context.Context, caller models.Address, req SendRequest) (models.Hash, error) {
	var msg *models.Message
	var newThread bool
	err := l.update(ctx, "send_message", func(now int64) ([]models.Event, error) {
		m, thread, err := l.router.sendMessage(caller, req, now)
		if err != nil {
			return nil, err
		}
		msg, newThread = m, thread != nil
		var events []models.Event
		if thread != nil {
			events = append(events, models.Event{
				Type:         models.EventThreadCreated,
				Agent:        m.Recipient,
				Counterparty: m.Sender,
				ThreadID:     thread.ID,
			})
		}
		return append(events, models.Event{
			Type:         models.EventMessageDelivered,
			Agent:        m.Recipient,
			Counterparty: m.Sender,
			MessageID:    m.ID,
			ThreadID:     m.ThreadID,
		}), nil
	})
	if err != nil {
		return models.Hash{}, err
	}
	metrics.MessagesSent.WithLabelValues(req.Type.String()).Inc()
	if newThread {
		metrics.ThreadsCreated.Inc()
	}
	l.log.Debug().
		Str("id", msg.ID.Hex()).
		Str("sender", msg.Sender.Hex()).
		Str("recipient", msg.Recipient.Hex()).
		Msg("Message delivered")
	return msg.ID, nil
}

// MarkAsRead moves a delivered message to read and rewards its sender. A
// repeat call by the recipient succeeds without a second reward.
func (l *Ledger) MarkAsRead(ctx context.Context, caller models.Address, id models.Hash) error {
	var changed bool
	err := l.update(ctx, "mark_as_read", func(int64) ([]models.Event, error) {
		m, ok, err := l.router.markAsRead(caller, id)
		if err != nil || !ok {
			return nil, err
		}
		changed = true
		return []models.Event{{
			Type:         models.EventMessageRead,
			Agent:        m.Sender,
			Counterparty: m.Recipient,
			MessageID:    m.ID,
			ThreadID:     m.ThreadID,
		}}, nil
	})
	if err == nil && changed {
		metrics.MessagesRead.Inc()
	}
	return err
}

// CleanupExpiredMessages sweeps the listed messages and returns the ids that
// moved to expired.
func (l *Ledger) CleanupExpiredMessages(ctx context.Context, ids []models.Hash) ([]models.Hash, error) {
	var expired []models.Hash
	err := l.update(ctx, "cleanup_expired", func(now int64) ([]models.Event, error) {
		expired = l.router.cleanupExpired(ids, now)
		events := make([]models.Event, 0, len(expired))
		for _, id := range expired {
			m := l.router.messages[id]
			events = append(events, models.Event{
				Type:         models.EventMessageExpired,
				Agent:        m.Recipient,
				Counterparty: m.Sender,
				MessageID:    id,
			})
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesExpired.Add(float64(len(expired)))
	return expired, nil
}

// Message returns a copy of the message.
func (l *Ledger) Message(id models.Hash) (models.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msg, ok := l.router.get(id)
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

// SentMessages lists the agent's sent message ids in send order.
func (l *Ledger) SentMessages(agent models.Address) []models.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Hash{}, l.router.sent[agent]...)
}

// ReceivedMessages lists the agent's received message ids in send order.
func (l *Ledger) ReceivedMessages(agent models.Address) []models.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Hash{}, l.router.received[agent]...)
}

// UnreadMessages lists received messages still in the delivered state.
func (l *Ledger) UnreadMessages(agent models.Address) []models.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.router.unread(agent)
}

// Thread returns the thread between a and b in either order.
func (l *Ledger) Thread(a, b models.Address) (models.Thread, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.router.thread(a, b)
	if !ok {
		return models.Thread{}, ErrThreadNotFound
	}
	return *t, nil
}

// ThreadByID returns a copy of the thread with the given id.
func (l *Ledger) ThreadByID(id models.Hash) (models.Thread, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.router.threads[id]
	if !ok {
		return models.Thread{}, ErrThreadNotFound
	}
	return *t, nil
}

// ThreadMessages lists the messages exchanged by a and b in send order.
func (l *Ledger) ThreadMessages(a, b models.Address) ([]models.Hash, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.router.thread(a, b); !ok {
		return nil, ErrThreadNotFound
	}
	return l.router.threadMessages(a, b), nil
}

// RecentMessages returns up to n message ids, newest first.
func (l *Ledger) RecentMessages(n int) []models.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.router.recent(n)
}

// TotalMessageCount returns the number of messages ever sent.
func (l *Ledger) TotalMessageCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.router.counter
}

// Stats is a point-in-time summary of the ledger.
type Stats struct {
	Agents       int    `json:"agents"`
	ActiveAgents int    `json:"active_agents"`
	Messages     uint64 `json:"messages"`
	Threads      int    `json:"threads"`
	Unread       int    `json:"unread"`
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{
		Agents:       len(l.dir.order),
		ActiveAgents: len(l.dir.listActive()),
		Messages:     l.router.counter,
		Threads:      len(l.router.threads),
	}
	for _, m := range l.router.messages {
		if m.Status == models.StatusDelivered {
			s.Unread++
		}
	}
	return s
}

// Snapshot copies the full ledger state.
func (l *Ledger) Snapshot() *models.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &models.Snapshot{MessageCounter: l.router.counter}
	for _, id := range l.dir.order {
		snap.Agents = append(snap.Agents, l.dir.agents[id].Clone())
	}
	for _, id := range l.router.all {
		snap.Messages = append(snap.Messages, l.router.messages[id].Clone())
	}
	for _, t := range l.router.threads {
		snap.Threads = append(snap.Threads, *t)
	}
	sort.Slice(snap.Threads, func(i, j int) bool {
		return snap.Threads[i].CreatedAt < snap.Threads[j].CreatedAt ||
			(snap.Threads[i].CreatedAt == snap.Threads[j].CreatedAt &&
				snap.Threads[i].ID.Hex() < snap.Threads[j].ID.Hex())
	})
	return snap
}

var errCorruptSnapshot = errors.New("corrupt snapshot")

// Restore replaces the ledger state with snap and rebuilds every index.
// On error the ledger is left empty.
func (l *Ledger) Restore(snap *models.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
	if err := l.restore(snap); err != nil {
		l.reset()
		return err
	}
	l.log.Info().
		Int("agents", len(snap.Agents)).
		Int("messages", len(snap.Messages)).
		Int("threads", len(snap.Threads)).
		Msg("Ledger restored")
	return nil
}

func (l *Ledger) restore(snap *models.Snapshot) error {
	agents := append([]models.Agent(nil), snap.Agents...)
	sort.Slice(agents, func(i, j int) bool { return agents[i].Seq < agents[j].Seq })
	for i := range agents {
		a := agents[i].Clone()
		if _, ok := l.dir.agents[a.ID]; ok {
			return fmt.Errorf("%w: duplicate agent %s", errCorruptSnapshot, a.ID)
		}
		if _, ok := l.dir.byName(a.Name); ok {
			return fmt.Errorf("%w: duplicate name %q", errCorruptSnapshot, a.Name)
		}
		a.Seq = uint64(i)
		l.dir.insert(&a)
	}

	for _, t := range snap.Threads {
		t := t
		if _, ok := l.router.thread(t.ParticipantA, t.ParticipantB); ok {
			return fmt.Errorf("%w: duplicate thread for %s and %s", errCorruptSnapshot, t.ParticipantA, t.ParticipantB)
		}
		l.router.insertThread(&t)
	}

	msgs := append([]models.Message(nil), snap.Messages...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	for i := range msgs {
		m := msgs[i].Clone()
		if _, ok := l.router.messages[m.ID]; ok {
			return fmt.Errorf("%w: duplicate message %s", errCorruptSnapshot, m.ID)
		}
		l.router.insert(&m)
	}
	if snap.MessageCounter > l.router.counter {
		l.router.counter = snap.MessageCounter
	}
	return nil
}
