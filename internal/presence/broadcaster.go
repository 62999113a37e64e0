package presence

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/metrics"
)

// Broadcaster pushes the full online-user set to a list of connections.
type Broadcaster struct {
	metrics *metrics.Collector
}

// NewBroadcaster returns a Broadcaster that records push outcomes in m.
// m may be nil.
func NewBroadcaster(m *metrics.Collector) *Broadcaster {
	return &Broadcaster{metrics: m}
}

// Announce pushes online to every connection in audience. A failed push is
// logged and skipped; the remaining connections still receive the event.
// The connections that failed are returned so the caller can drop them.
func (b *Broadcaster) Announce(online []string, audience []Conn) []Conn {
	ev := Event{Name: EventOnlineUsers, Data: online}

	var failed []Conn
	for _, conn := range audience {
		if err := safePush(b.metrics, conn, ev); err != nil {
			zap.S().Warnw("presence broadcast push failed",
				"conn_id", conn.ID(),
				"error", err,
			)
			failed = append(failed, conn)
		}
	}
	return failed
}

// safePush pushes ev to conn, turning a panicking transport into
// ErrConnClosed, and records the outcome.
func safePush(m *metrics.Collector, conn Conn, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("recovered from panic in presence push",
				"conn_id", conn.ID(),
				"panic", r,
			)
			err = ErrConnClosed
		}
		m.Push(ev.Name, err)
	}()

	return conn.Push(ev)
}
