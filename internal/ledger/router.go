package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// pairKey is one orientation of a thread's participant pair.
type pairKey struct {
	a, b models.Address
}

// SendRequest carries the caller supplied fields of a new message.
type SendRequest struct {
	Recipient        models.Address
	EncryptedContent []byte
	ContentHash      models.Hash
	TTLSeconds       uint64 // 0 means the message never expires
	Type             models.MessageType
}

// router owns messages, threads and their indices. Agent checks and side
// effects go through dir.
type router struct {
	journal *journal
	dir     *directory

	messages map[models.Hash]*models.Message
	sent     map[models.Address][]models.Hash
	received map[models.Address][]models.Hash
	threads  map[models.Hash]*models.Thread
	pairs    map[pairKey]models.Hash
	all      []models.Hash
	counter  uint64
}

func newRouter(j *journal, dir *directory) *router {
	return &router{
		journal:  j,
		dir:      dir,
		messages: make(map[models.Hash]*models.Message),
		sent:     make(map[models.Address][]models.Hash),
		received: make(map[models.Address][]models.Hash),
		threads:  make(map[models.Hash]*models.Thread),
		pairs:    make(map[pairKey]models.Hash),
	}
}

// sendMessage stores a Delivered message and applies its side effects. The
// returned thread is non-nil only when the send opened a new thread.
func (r *router) sendMessage(caller models.Address, req SendRequest, now int64) (*models.Message, *models.Thread, error) {
	if _, ok := r.dir.agents[caller]; !ok {
		return nil, nil, ErrNotRegistered
	}
	if req.Recipient.IsZero() || req.Recipient == caller {
		return nil, nil, ErrInvalidRecipient
	}
	if len(req.EncryptedContent) == 0 {
		return nil, nil, ErrEmptyContent
	}
	if !req.Type.Valid() {
		return nil, nil, ErrInvalidMessageType
	}
	recipient, ok := r.dir.agents[req.Recipient]
	if !ok {
		return nil, nil, ErrRecipientNotRegistered
	}
	if !recipient.IsActive {
		return nil, nil, ErrRecipientInactive
	}

	id := messageID(caller, req.Recipient, req.EncryptedContent, now, r.counter)
	if _, ok := r.messages[id]; ok {
		return nil, nil, fmt.Errorf("message id collision %s", id)
	}
	msg := &models.Message{
		ID:               id,
		Sender:           caller,
		Recipient:        req.Recipient,
		EncryptedContent: append([]byte(nil), req.EncryptedContent...),
		ContentHash:      req.ContentHash,
		CreatedAt:        now,
		ExpiresAt:        expiry(now, req.TTLSeconds),
		Status:           models.StatusDelivered,
		Type:             req.Type,
		Seq:              r.counter,
	}
	r.insert(msg)
	r.journal.append(messageCreated{id: id, sender: caller, recipient: req.Recipient})

	for _, agent := range []models.Address{caller, req.Recipient} {
		if _, err := r.dir.incrementMessageCount(agent); err != nil {
			return nil, nil, err
		}
	}

	thread, created := r.getOrCreateThread(caller, req.Recipient, now)
	msg.ThreadID = thread.ID
	if !created {
		thread = nil
	}
	return msg, thread, nil
}

func (r *router) insert(msg *models.Message) {
	r.messages[msg.ID] = msg
	r.sent[msg.Sender] = append(r.sent[msg.Sender], msg.ID)
	r.received[msg.Recipient] = append(r.received[msg.Recipient], msg.ID)
	r.all = append(r.all, msg.ID)
	r.counter++
}

func expiry(now int64, ttl uint64) int64 {
	if ttl == 0 {
		return 0
	}
	if now >= 0 && ttl > uint64(math.MaxInt64-now) {
		return math.MaxInt64
	}
	return now + int64(ttl)
}

// getOrCreateThread resolves the pair's thread in either orientation and
// counts one more message on it, or opens a new thread with a count of one.
func (r *router) getOrCreateThread(a, b models.Address, now int64) (*models.Thread, bool) {
	id, ok := r.pairs[pairKey{a, b}]
	if !ok {
		id, ok = r.pairs[pairKey{b, a}]
	}
	if ok {
		thread := r.threads[id]
		r.journal.append(threadCountChange{id: id, prev: thread.MessageCount})
		thread.MessageCount++
		return thread, false
	}

	lo, hi := sortPair(a, b)
	thread := &models.Thread{
		ID:           threadID(a, b, now),
		ParticipantA: lo,
		ParticipantB: hi,
		MessageCount: 1,
		CreatedAt:    now,
		IsActive:     true,
	}
	r.insertThread(thread)
	r.journal.append(threadCreated{id: thread.ID, a: a, b: b})
	return thread, true
}

func (r *router) insertThread(thread *models.Thread) {
	r.threads[thread.ID] = thread
	r.pairs[pairKey{thread.ParticipantA, thread.ParticipantB}] = thread.ID
	r.pairs[pairKey{thread.ParticipantB, thread.ParticipantA}] = thread.ID
}

// markAsRead moves a Delivered message to Read and rewards the sender. A
// message that is already Read is left alone and reported as unchanged.
func (r *router) markAsRead(caller models.Address, id models.Hash) (*models.Message, bool, error) {
	msg, ok := r.messages[id]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	if caller != msg.Sender && caller != msg.Recipient {
		return nil, false, ErrNotParticipant
	}
	if caller != msg.Recipient {
		return nil, false, ErrNotRecipient
	}
	if msg.Status == models.StatusExpired {
		return nil, false, ErrAlreadyExpired
	}
	if msg.Status != models.StatusDelivered {
		return msg, false, nil
	}

	r.journal.append(messageStatusChange{id: id, prev: msg.Status})
	msg.Status = models.StatusRead
	if _, err := r.dir.adjustReputation(msg.Sender, 1); err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// cleanupExpired flips every listed Delivered message that is past its
// expiry to Expired. Unknown ids are skipped.
func (r *router) cleanupExpired(ids []models.Hash, now int64) []models.Hash {
	var expired []models.Hash
	for _, id := range ids {
		msg, ok := r.messages[id]
		if !ok || msg.Status != models.StatusDelivered || !msg.PastExpiry(now) {
			continue
		}
		r.journal.append(messageStatusChange{id: id, prev: msg.Status})
		msg.Status = models.StatusExpired
		expired = append(expired, id)
	}
	return expired
}

func (r *router) get(id models.Hash) (models.Message, bool) {
	msg, ok := r.messages[id]
	if !ok {
		return models.Message{}, false
	}
	return msg.Clone(), true
}

func (r *router) unread(agent models.Address) []models.Hash {
	var out []models.Hash
	for _, id := range r.received[agent] {
		if r.messages[id].Status == models.StatusDelivered {
			out = append(out, id)
		}
	}
	return out
}

// recent returns the last n message ids, newest first.
func (r *router) recent(n int) []models.Hash {
	if n < 0 {
		n = 0
	}
	if n > len(r.all) {
		n = len(r.all)
	}
	out := make([]models.Hash, n)
	for i := 0; i < n; i++ {
		out[i] = r.all[len(r.all)-1-i]
	}
	return out
}

func (r *router) thread(a, b models.Address) (*models.Thread, bool) {
	id, ok := r.pairs[pairKey{a, b}]
	if !ok {
		id, ok = r.pairs[pairKey{b, a}]
	}
	if !ok {
		return nil, false
	}
	return r.threads[id], true
}

// threadMessages returns the pair's messages in send order.
func (r *router) threadMessages(a, b models.Address) []models.Hash {
	var msgs []*models.Message
	for _, id := range r.sent[a] {
		if m := r.messages[id]; m.Recipient == b {
			msgs = append(msgs, m)
		}
	}
	for _, id := range r.sent[b] {
		if m := r.messages[id]; m.Recipient == a {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })

	out := make([]models.Hash, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
