package models

// InitialReputation is the score every agent starts with.
const InitialReputation uint64 = 100

// Agent represents a registered agent in the directory.
type Agent struct {
	ID            Address  `json:"id"`
	Owner         Address  `json:"owner"`
	Name          string   `json:"name"`
	PublicKey     string   `json:"public_key"`
	Capabilities  []string `json:"capabilities"`
	Reputation    uint64   `json:"reputation"`
	TotalMessages uint64   `json:"total_messages"`
	RegisteredAt  int64    `json:"registered_at"`
	IsActive      bool     `json:"is_active"`
	Seq           uint64   `json:"-"` // registration order
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	return c
}

// HasCapability reports whether tag is in the capability list (exact match).
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}
