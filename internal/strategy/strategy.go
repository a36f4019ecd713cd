// Package strategy holds the per-agent standing orders produced by the
// planner and the engine that executes them between planning passes.
// Strategies live in process memory only: a restart clears them and
// the next planning pass rebuilds the set.
package strategy

import (
	"slices"
	"sync"
)

// Strategy kinds.
const (
	KindKeepWorking      = "keep_working"
	KindOpportunisticBuy = "opportunistic_buy"
)

// Strategy statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Strategy is one standing order for one agent. KeepWorking fields:
// BuildingID plus the stop condition. OpportunisticBuy fields:
// Resource, PriceBelow, plus the stop condition.
type Strategy struct {
	Kind             string  `json:"kind"`
	AgentID          int64   `json:"agent_id"`
	BuildingID       int64   `json:"building_id,omitempty"`
	Resource         string  `json:"resource,omitempty"`
	PriceBelow       float64 `json:"price_below,omitempty"`
	StopWhenResource string  `json:"stop_when_resource"`
	StopWhenAmount   float64 `json:"stop_when_amount"`
	Status           string  `json:"status"`
}

// stopResource is the resource the stop condition watches. For
// opportunistic buys it defaults to the bought resource.
func (s *Strategy) stopResource() string {
	if s.StopWhenResource != "" {
		return s.StopWhenResource
	}
	return s.Resource
}

// Store keeps each agent's active strategies.
type Store struct {
	mu      sync.Mutex
	byAgent map[int64][]*Strategy
}

// NewStore creates an empty strategy store.
func NewStore() *Store {
	return &Store{byAgent: make(map[int64][]*Strategy)}
}

// Replace swaps the agent's whole strategy set. Entries whose AgentID
// does not match agentID are dropped: the planner plans one agent at a
// time and must not be able to steer another agent's hands.
func (st *Store) Replace(agentID int64, strategies []Strategy) int {
	kept := make([]*Strategy, 0, len(strategies))
	for i := range strategies {
		s := strategies[i]
		if s.AgentID != agentID {
			continue
		}
		if s.Status == "" {
			s.Status = StatusActive
		}
		kept = append(kept, &s)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byAgent[agentID] = kept
	return len(kept)
}

// ForAgent returns copies of the agent's strategies.
func (st *Store) ForAgent(agentID int64) []Strategy {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Strategy, 0, len(st.byAgent[agentID]))
	for _, s := range st.byAgent[agentID] {
		out = append(out, *s)
	}
	return out
}

// All returns copies of every agent's strategies keyed by agent.
func (st *Store) All() map[int64][]Strategy {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[int64][]Strategy, len(st.byAgent))
	for id, list := range st.byAgent {
		copies := make([]Strategy, 0, len(list))
		for _, s := range list {
			copies = append(copies, *s)
		}
		out[id] = copies
	}
	return out
}

// Clear drops all strategies for all agents.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byAgent = make(map[int64][]*Strategy)
}

// active returns the agent's live strategy pointers; the engine
// mutates Status through them under the store lock.
func (st *Store) active(agentID int64) []*Strategy {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*Strategy
	for _, s := range st.byAgent[agentID] {
		if s.Status == StatusActive {
			out = append(out, s)
		}
	}
	return out
}

// agents returns the ids that currently hold any strategy, in
// ascending order so passes visit agents deterministically.
func (st *Store) agents() []int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]int64, 0, len(st.byAgent))
	for id := range st.byAgent {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (st *Store) complete(s *Strategy) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s.Status = StatusCompleted
}
