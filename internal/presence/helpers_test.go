package presence

import (
	"sync"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	fail   error
	panics bool
	closed int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Push(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.panics {
		panic("send on closed channel")
	}
	if c.fail != nil {
		return c.fail
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) named(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// snapshots returns the payloads of every getOnlineUsers push, in order.
func (c *fakeConn) snapshots() [][]string {
	var out [][]string
	for _, ev := range c.named(EventOnlineUsers) {
		out = append(out, ev.Data.([]string))
	}
	return out
}

func (c *fakeConn) lastSnapshot() []string {
	snaps := c.snapshots()
	if len(snaps) == 0 {
		return nil
	}
	return snaps[len(snaps)-1]
}
