package presence

import (
	"context"

	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/metrics"
	"github.com/Tyrowin/echoes/internal/models"
)

// Delivery outcomes recorded by the router.
const (
	DeliveryPushed  = "pushed"
	DeliveryOffline = "offline"
	DeliveryFailed  = "failed"
)

// Router pushes persisted messages to the recipient's registered connection.
// It never returns an error: a recipient that is offline, or whose push
// fails, reads the message later from history.
type Router struct {
	table   *Table
	metrics *metrics.Collector
}

// NewRouter returns a Router that looks recipients up in table.
func NewRouter(table *Table, m *metrics.Collector) *Router {
	return &Router{table: table, metrics: m}
}

// Deliver pushes msg to msg.ReceiverID if that user is online. It must only
// be called after the message has been durably stored. It reports whether
// the push was enqueued.
func (r *Router) Deliver(_ context.Context, msg *models.Message) bool {
	if msg == nil {
		return false
	}

	outcome := r.send(msg.ReceiverID, Event{Name: EventMessageReceived, Data: msg})
	r.metrics.Delivery(outcome)

	if outcome == DeliveryFailed {
		zap.S().Warnw("message push failed, left for history",
			"message_id", msg.ID.Hex(),
			"receiver_id", msg.ReceiverID,
		)
	}
	return outcome == DeliveryPushed
}

// Relay pushes an arbitrary event to userID's connection, if any.
func (r *Router) Relay(userID string, ev Event) bool {
	return r.send(userID, ev) == DeliveryPushed
}

func (r *Router) send(userID string, ev Event) string {
	conn, ok := r.table.Lookup(userID)
	if !ok {
		return DeliveryOffline
	}

	if err := safePush(r.metrics, conn, ev); err != nil {
		zap.S().Debugw("push to recipient failed",
			"user_id", userID,
			"conn_id", conn.ID(),
			"event", ev.Name,
			"error", err,
		)
		return DeliveryFailed
	}
	return DeliveryPushed
}
