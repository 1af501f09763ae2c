package models

// ChangeSet holds the records touched by one committed ledger operation.
type ChangeSet struct {
	Agents         []Agent
	Messages       []Message
	Threads        []Thread
	MessageCounter uint64
}

// Snapshot is the full persisted ledger state. Agents and Messages are
// ordered by Seq.
type Snapshot struct {
	Agents         []Agent
	Messages       []Message
	Threads        []Thread
	MessageCounter uint64
}
