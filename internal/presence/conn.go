// Package presence maps authenticated users to their live connections,
// announces the online-user set, and routes persisted messages to the
// recipient's connection when one is registered.
package presence

import "errors"

// Event names pushed to clients.
const (
	EventOnlineUsers       = "getOnlineUsers"
	EventMessageReceived   = "messageReceived"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
)

var (
	// ErrConnClosed is returned by Push once a connection has been closed.
	ErrConnClosed = errors.New("presence: connection closed")
	// ErrSlowConsumer is returned by Push when the outbound queue is full.
	ErrSlowConsumer = errors.New("presence: outbound queue full")
)

// Event is one server to client push.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Conn is a live bidirectional channel to one client process. The transport
// owns it; the presence layer only keeps references.
//
// Push must not block: implementations enqueue and return.
type Conn interface {
	ID() string
	Push(ev Event) error
	Close() error
}
