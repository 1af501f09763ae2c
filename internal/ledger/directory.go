package ledger

import (
	"math"
	"sort"

	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// directory owns agent records, the name index and the capability index.
// It never touches router state.
type directory struct {
	journal *journal

	agents map[models.Address]*models.Agent
	names  map[models.Hash]models.Address
	order  []models.Address            // registration order
	byCap  map[string][]models.Address // tag -> agents holding it, by Seq
}

func newDirectory(j *journal) *directory {
	return &directory{
		journal: j,
		agents:  make(map[models.Address]*models.Agent),
		names:   make(map[models.Hash]models.Address),
		byCap:   make(map[string][]models.Address),
	}
}

func (d *directory) register(caller models.Address, name, publicKey string, capabilities []string, now int64) (*models.Agent, error) {
	if _, ok := d.agents[caller]; ok {
		return nil, ErrAlreadyRegistered
	}
	if name == "" || publicKey == "" {
		return nil, ErrInvalidInput
	}
	key := nameHash(name)
	if _, ok := d.names[key]; ok {
		return nil, ErrNameTaken
	}

	agent := &models.Agent{
		ID:           caller,
		Owner:        caller,
		Name:         name,
		PublicKey:    publicKey,
		Capabilities: append([]string(nil), capabilities...),
		Reputation:   models.InitialReputation,
		RegisteredAt: now,
		IsActive:     true,
		Seq:          uint64(len(d.order)),
	}
	d.insert(agent)
	d.journal.append(agentCreated{id: caller, name: key})
	return agent, nil
}

// insert adds a record to every index. Callers must have checked uniqueness.
func (d *directory) insert(agent *models.Agent) {
	d.agents[agent.ID] = agent
	d.names[nameHash(agent.Name)] = agent.ID
	d.order = append(d.order, agent.ID)
	d.indexCapabilities(agent)
}

// owned returns the caller's record, checking existence then ownership.
func (d *directory) owned(caller models.Address) (*models.Agent, error) {
	agent, ok := d.agents[caller]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if agent.Owner != caller {
		return nil, ErrNotOwner
	}
	return agent, nil
}

func (d *directory) update(caller models.Address, publicKey string, capabilities []string) (*models.Agent, error) {
	agent, err := d.owned(caller)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive {
		return nil, ErrAgentInactive
	}

	d.journal.append(agentChange{prev: agent.Clone()})
	d.unindexCapabilities(agent)
	if publicKey != "" {
		agent.PublicKey = publicKey
	}
	agent.Capabilities = append([]string(nil), capabilities...)
	d.indexCapabilities(agent)
	return agent, nil
}

// setActive flips the active flag and reports whether it changed.
func (d *directory) setActive(caller models.Address, active bool) (bool, error) {
	agent, err := d.owned(caller)
	if err != nil {
		return false, err
	}
	if agent.IsActive == active {
		return false, nil
	}
	d.journal.append(agentChange{prev: agent.Clone()})
	agent.IsActive = active
	return true, nil
}

// adjustReputation applies delta, clamping at zero and saturating at the
// largest signed 64-bit value.
func (d *directory) adjustReputation(id models.Address, delta int64) (*models.Agent, error) {
	agent, ok := d.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	d.journal.append(agentChange{prev: agent.Clone()})
	agent.Reputation = applyDelta(agent.Reputation, delta)
	return agent, nil
}

func applyDelta(rep uint64, delta int64) uint64 {
	const ceiling = uint64(math.MaxInt64)
	if delta < 0 {
		// -MinInt64 overflows int64 but not uint64.
		dec := uint64(-(delta + 1)) + 1
		if dec >= rep {
			return 0
		}
		return rep - dec
	}
	inc := uint64(delta)
	if rep >= ceiling || inc > ceiling-rep {
		return ceiling
	}
	return rep + inc
}

func (d *directory) incrementMessageCount(id models.Address) (*models.Agent, error) {
	agent, ok := d.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	d.journal.append(agentChange{prev: agent.Clone()})
	agent.TotalMessages++
	return agent, nil
}

// indexCapabilities adds agent under each distinct tag, keeping every tag
// list sorted by registration order.
func (d *directory) indexCapabilities(agent *models.Agent) {
	for _, tag := range distinct(agent.Capabilities) {
		list := d.byCap[tag]
		i := sort.Search(len(list), func(i int) bool {
			return d.agents[list[i]].Seq >= agent.Seq
		})
		list = append(list, models.Address{})
		copy(list[i+1:], list[i:])
		list[i] = agent.ID
		d.byCap[tag] = list
	}
}

func (d *directory) unindexCapabilities(agent *models.Agent) {
	for _, tag := range distinct(agent.Capabilities) {
		list := d.byCap[tag]
		for i, id := range list {
			if id == agent.ID {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(d.byCap, tag)
		} else {
			d.byCap[tag] = list
		}
	}
}

func distinct(tags []string) []string {
	if len(tags) < 2 {
		return tags
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func (d *directory) get(id models.Address) (models.Agent, bool) {
	agent, ok := d.agents[id]
	if !ok {
		return models.Agent{}, false
	}
	return agent.Clone(), true
}

func (d *directory) byName(name string) (models.Address, bool) {
	id, ok := d.names[nameHash(name)]
	return id, ok
}

func (d *directory) listActive() []models.Address {
	out := make([]models.Address, 0, len(d.order))
	for _, id := range d.order {
		if d.agents[id].IsActive {
			out = append(out, id)
		}
	}
	return out
}

func (d *directory) searchByCapability(tag string) []models.Address {
	list := d.byCap[tag]
	out := make([]models.Address, 0, len(list))
	for _, id := range list {
		if d.agents[id].IsActive {
			out = append(out, id)
		}
	}
	return out
}
