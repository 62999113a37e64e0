package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/events"
	"github.com/Tyrowin/echoes/internal/metrics"
	"github.com/Tyrowin/echoes/internal/models"
)

// State is the lifecycle state of a tracked connection.
type State int

const (
	StateConnecting State = iota
	StateRegistered
	StateAnonymous
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateAnonymous:
		return "anonymous"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the manager's record of one connection.
type Session struct {
	conn   Conn
	userID string
	state  State
}

// Conn returns the connection handle.
func (s *Session) Conn() Conn { return s.conn }

// UserID returns the resolved user id, empty for anonymous connections.
func (s *Session) UserID() string { return s.userID }

// State returns the current lifecycle state. Callers outside the manager
// should treat it as advisory.
func (s *Session) State() State { return s.state }

// Options configures a Manager.
type Options struct {
	Table     *Table
	Metrics   *metrics.Collector
	Publisher events.Publisher
}

// Manager tracks every live connection, keeps the presence table in step
// with connects and disconnects, and announces each change to all
// connections. Table mutation and the resulting fan-out happen under one
// lock so every client sees broadcasts in mutation order.
type Manager struct {
	mu          sync.Mutex
	table       *Table
	sessions    map[string]*Session
	broadcaster *Broadcaster
	router      *Router
	publisher   events.Publisher
	metrics     *metrics.Collector
}

// NewManager builds a Manager. A nil Table gets a fresh one.
func NewManager(opts Options) *Manager {
	if opts.Table == nil {
		opts.Table = NewTable()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}

	return &Manager{
		table:       opts.Table,
		sessions:    make(map[string]*Session),
		broadcaster: NewBroadcaster(opts.Metrics),
		router:      NewRouter(opts.Table, opts.Metrics),
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
	}
}

// Table returns the presence table.
func (m *Manager) Table() *Table { return m.table }

// Router returns the message delivery router.
func (m *Manager) Router() *Router { return m.router }

// Metrics returns the collector the manager reports to, possibly nil.
func (m *Manager) Metrics() *metrics.Collector { return m.metrics }

// Connect starts tracking conn. With a user id the connection is registered
// in the table and the new online set is announced to everyone; without one
// it stays anonymous and only receives the current set itself.
func (m *Manager) Connect(conn Conn, userID string) *Session {
	s := &Session{conn: conn, state: StateConnecting}

	m.mu.Lock()
	m.sessions[conn.ID()] = s

	var (
		online []string
		failed []Conn
	)
	if userID == "" {
		s.state = StateAnonymous
		online = m.table.Snapshot()
		failed = m.broadcaster.Announce(online, []Conn{conn})
	} else {
		s.userID = userID
		s.state = StateRegistered
		if prev := m.table.Set(userID, conn); prev != nil && prev.ID() != conn.ID() {
			zap.S().Infow("presence entry superseded",
				"user_id", userID,
				"previous_conn_id", prev.ID(),
				"conn_id", conn.ID(),
			)
		}
		online = m.table.Snapshot()
		failed = m.broadcaster.Announce(online, m.audienceLocked())
	}
	// gauges and the mirror follow the same order as the broadcasts
	m.record(online, len(m.sessions))
	if userID != "" {
		m.mirror(online)
	}
	m.mu.Unlock()

	zap.S().Infow("connection opened",
		"conn_id", conn.ID(),
		"user_id", userID,
		"state", s.state.String(),
		"online", len(online),
	)

	m.drop(failed)
	return s
}

// Disconnect stops tracking s. If s was registered and still owns its table
// entry, the entry is removed and the new online set is announced. A
// connection that was superseded by a newer one for the same user leaves the
// table untouched and triggers no broadcast.
func (m *Manager) Disconnect(s *Session) {
	if s == nil {
		return
	}

	m.mu.Lock()
	if s.state == StateClosed {
		m.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateClosed
	delete(m.sessions, s.conn.ID())

	var (
		online  []string
		failed  []Conn
		removed bool
	)
	if prev == StateRegistered && m.table.Remove(s.userID, s.conn) {
		removed = true
		online = m.table.Snapshot()
		failed = m.broadcaster.Announce(online, m.audienceLocked())
	}
	if removed {
		m.record(online, len(m.sessions))
		m.mirror(online)
	} else {
		m.metrics.SetConnections(len(m.sessions))
	}
	m.mu.Unlock()

	zap.S().Infow("connection closed",
		"conn_id", s.conn.ID(),
		"user_id", s.userID,
		"presence_removed", removed,
	)

	m.drop(failed)
}

// Deliver routes a persisted message to its recipient. See Router.Deliver.
func (m *Manager) Deliver(ctx context.Context, msg *models.Message) bool {
	return m.router.Deliver(ctx, msg)
}

// Relay forwards a typing indicator from a registered session to receiverID.
// Anonymous or closed sessions cannot relay.
func (m *Manager) Relay(from *Session, receiverID, name string) bool {
	m.mu.Lock()
	registered := from != nil && from.state == StateRegistered
	m.mu.Unlock()

	if !registered || receiverID == "" || receiverID == from.userID {
		return false
	}
	return m.router.Relay(receiverID, Event{
		Name: name,
		Data: map[string]string{"senderId": from.userID},
	})
}

// Online returns the current online user ids.
func (m *Manager) Online() []string {
	return m.table.Snapshot()
}

// Connections returns every tracked connection.
func (m *Manager) Connections() []Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audienceLocked()
}

// Len returns the number of tracked connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) audienceLocked() []Conn {
	conns := make([]Conn, 0, len(m.sessions))
	for _, s := range m.sessions {
		conns = append(conns, s.conn)
	}
	return conns
}

func (m *Manager) record(online []string, connections int) {
	m.metrics.SetOnline(len(online))
	m.metrics.SetConnections(connections)
}

// mirror publishes online to the event mirror. Called with m.mu held; the
// NATS client buffers publishes, so this does not wait on the network.
func (m *Manager) mirror(online []string) {
	if err := m.publisher.Publish(events.SubjectPresenceOnline, online); err != nil {
		zap.S().Warnw("presence mirror publish failed", "error", err)
	}
}

// drop closes connections whose push failed. Their transport then reports
// the disconnect, which cleans up the table through Disconnect.
func (m *Manager) drop(failed []Conn) {
	for _, conn := range failed {
		if err := conn.Close(); err != nil {
			zap.S().Debugw("closing failed connection",
				"conn_id", conn.ID(),
				"error", err,
			)
		}
	}
}
