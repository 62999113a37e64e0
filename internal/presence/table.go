package presence

import (
	"sort"
	"sync"
)

// Table is the process-wide mapping of user id to active connection. It holds
// at most one connection per user; a newer connection replaces the older one.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Conn)}
}

// Set maps userID to conn, replacing any previous entry. It returns the
// replaced connection, or nil.
func (t *Table) Set(userID string, conn Conn) Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.entries[userID]
	t.entries[userID] = conn
	return prev
}

// Remove deletes the entry for userID only while it still points at conn.
// A connection that was superseded by a newer one for the same user leaves
// the newer entry in place. It reports whether an entry was deleted.
func (t *Table) Remove(userID string, conn Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.entries[userID]
	if !ok || conn == nil || cur.ID() != conn.ID() {
		return false
	}
	delete(t.entries, userID)
	return true
}

// Snapshot returns the online user ids, sorted.
func (t *Table) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the connection registered for userID.
func (t *Table) Lookup(userID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conn, ok := t.entries[userID]
	return conn, ok
}

// Len returns the number of online users.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
