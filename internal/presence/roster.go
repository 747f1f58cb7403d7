// Package presence tracks ephemeral per-connection awareness state. Nothing
// here is replicated into the shared document or persisted; a client's entry
// exists only while its connection does.
package presence

import "sync"

// Cursor is the position a client is editing at.
type Cursor struct {
	FileID string `json:"fileId"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// State is the awareness payload broadcast for one connected client.
type State struct {
	Name      string  `json:"name"`
	Color     string  `json:"color"`
	AvatarURL string  `json:"avatarUrl,omitempty"`
	Cursor    *Cursor `json:"cursor,omitempty"`
}

// Roster holds the awareness states of all clients connected to one room.
type Roster struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewRoster constructs an empty roster.
func NewRoster() *Roster {
	return &Roster{states: make(map[string]State)}
}

// Set records or replaces the state for a client.
func (r *Roster) Set(clientID string, state State) {
	if clientID == "" {
		return
	}
	r.mu.Lock()
	r.states[clientID] = state
	r.mu.Unlock()
}

// Remove drops a client's state, typically on disconnect.
func (r *Roster) Remove(clientID string) {
	r.mu.Lock()
	delete(r.states, clientID)
	r.mu.Unlock()
}

// States returns a copy of the current roster.
func (r *Roster) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.states))
	for id, state := range r.states {
		out[id] = state
	}
	return out
}
