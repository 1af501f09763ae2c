package ledger

import "github.com/OfficialDeepSwap/A2A/internal/models"

type recordKind uint8

const (
	agentRecord recordKind = iota
	messageRecord
	threadRecord
)

// recordRef names one persisted record touched by a journal entry.
type recordRef struct {
	kind recordKind
	key  models.Hash // agent addresses are left padded
}

func agentRef(a models.Address) recordRef {
	return recordRef{kind: agentRecord, key: models.BytesToHash(a[:])}
}

func messageRef(id models.Hash) recordRef { return recordRef{kind: messageRecord, key: id} }

func threadRef(id models.Hash) recordRef { return recordRef{kind: threadRecord, key: id} }

// journalEntry is a modification entry in the change journal that can be
// reverted on demand.
type journalEntry interface {
	// revert undoes the changes introduced by this journal entry.
	revert(*Ledger)

	// dirtied returns the record modified by this journal entry.
	dirtied() recordRef
}

// journal contains the list of state modifications applied by the operation
// in progress. They are reverted if the operation fails at any point,
// including persistence.
type journal struct {
	entries []journalEntry
	dirties map[recordRef]int
}

func newJournal() *journal {
	return &journal{dirties: make(map[recordRef]int)}
}

// append inserts a new modification entry to the end of the change journal.
func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
	j.dirties[entry.dirtied()]++
}

// revert undoes a batch of journalled modifications along with the dirty
// tracking they induced.
func (j *journal) revert(l *Ledger, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(l)

		ref := j.entries[i].dirtied()
		if j.dirties[ref]--; j.dirties[ref] == 0 {
			delete(j.dirties, ref)
		}
	}
	j.entries = j.entries[:snapshot]
}

// reset forgets every entry once the operation has committed.
func (j *journal) reset() {
	j.entries = j.entries[:0]
	clear(j.dirties)
}

type (
	agentCreated struct {
		id   models.Address
		name models.Hash
	}
	agentChange struct {
		prev models.Agent
	}
	messageCreated struct {
		id        models.Hash
		sender    models.Address
		recipient models.Address
	}
	messageStatusChange struct {
		id   models.Hash
		prev models.MessageStatus
	}
	threadCreated struct {
		id   models.Hash
		a, b models.Address
	}
	threadCountChange struct {
		id   models.Hash
		prev uint64
	}
)

func (ch agentCreated) revert(l *Ledger) {
	d := l.dir
	agent := d.agents[ch.id]
	d.unindexCapabilities(agent)
	delete(d.agents, ch.id)
	delete(d.names, ch.name)
	d.order = d.order[:len(d.order)-1]
}

func (ch agentCreated) dirtied() recordRef { return agentRef(ch.id) }

func (ch agentChange) revert(l *Ledger) {
	d := l.dir
	agent := d.agents[ch.prev.ID]
	d.unindexCapabilities(agent)
	*agent = ch.prev
	d.indexCapabilities(agent)
}

func (ch agentChange) dirtied() recordRef { return agentRef(ch.prev.ID) }

func (ch messageCreated) revert(l *Ledger) {
	r := l.router
	delete(r.messages, ch.id)
	r.sent[ch.sender] = r.sent[ch.sender][:len(r.sent[ch.sender])-1]
	r.received[ch.recipient] = r.received[ch.recipient][:len(r.received[ch.recipient])-1]
	r.all = r.all[:len(r.all)-1]
	r.counter--
}

func (ch messageCreated) dirtied() recordRef { return messageRef(ch.id) }

func (ch messageStatusChange) revert(l *Ledger) {
	l.router.messages[ch.id].Status = ch.prev
}

func (ch messageStatusChange) dirtied() recordRef { return messageRef(ch.id) }

func (ch threadCreated) revert(l *Ledger) {
	r := l.router
	delete(r.threads, ch.id)
	delete(r.pairs, pairKey{ch.a, ch.b})
	delete(r.pairs, pairKey{ch.b, ch.a})
}

func (ch threadCreated) dirtied() recordRef { return threadRef(ch.id) }

func (ch threadCountChange) revert(l *Ledger) {
	l.router.threads[ch.id].MessageCount = ch.prev
}

func (ch threadCountChange) dirtied() recordRef { return threadRef(ch.id) }
