package quest

import "sync"

// SessionTable routes private-message replies back to the guild of the
// user's currently open attempt. Private messages carry no guild context,
// so the engine records the active guild when a quest starts and clears it
// on terminal outcomes.
type SessionTable struct {
	mu     sync.RWMutex
	active map[string]string // userID → guildID
}

// NewSessionTable creates an empty routing table.
func NewSessionTable() *SessionTable {
	return &SessionTable{active: make(map[string]string)}
}

// Set records the user's active guild.
func (t *SessionTable) Set(userID, guildID string) {
	t.mu.Lock()
	t.active[userID] = guildID
	t.mu.Unlock()
}

// Get returns the user's active guild, if any.
func (t *SessionTable) Get(userID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	guildID, ok := t.active[userID]
	return guildID, ok
}

// Delete clears the user's routing entry.
func (t *SessionTable) Delete(userID string) {
	t.mu.Lock()
	delete(t.active, userID)
	t.mu.Unlock()
}

// Len returns the number of routed users, i.e. open quest sessions.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
