// Package events mirrors presence snapshots and created messages onto a NATS
// subject space for consumers outside this process. The mirror is
// informational; it is not part of the delivery path.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects, relative to the configured prefix.
const (
	SubjectPresenceOnline = "presence.online"
	SubjectMessageCreated = "message.created"
)

// Publisher sends a JSON encoded value to a subject.
type Publisher interface {
	Publish(subject string, v any) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

// Publish drops v.
func (Nop) Publish(string, any) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// NATSPublisher publishes to a NATS server.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// Options configures a NATSPublisher.
type Options struct {
	URL    string
	Prefix string
	Name   string
}

// Connect dials NATS and returns a publisher.
func Connect(opts Options) (*NATSPublisher, error) {
	if opts.Name == "" {
		opts.Name = "echoes"
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.S().Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			zap.S().Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", opts.URL, err)
	}

	return &NATSPublisher{conn: conn, prefix: opts.Prefix}, nil
}

// Subject returns the fully qualified subject for name.
func (p *NATSPublisher) Subject(name string) string {
	return Qualify(p.prefix, name)
}

// Publish encodes v as JSON and publishes it.
func (p *NATSPublisher) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	return p.conn.Publish(p.Subject(subject), data)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Qualify joins prefix and name with a dot. An empty prefix returns name.
func Qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
