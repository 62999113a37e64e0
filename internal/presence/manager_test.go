package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/echoes/internal/metrics"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, v)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestConnectRegisteredBroadcastsToAll(t *testing.T) {
	m := NewManager(Options{})
	anon := newFakeConn("anon")
	alice := newFakeConn("alice-conn")

	s := m.Connect(anon, "")
	assert.Equal(t, StateAnonymous, s.State())
	assert.Equal(t, [][]string{{}}, anon.snapshots(), "anonymous gets the current set only")

	s = m.Connect(alice, "alice")
	assert.Equal(t, StateRegistered, s.State())
	assert.Equal(t, "alice", s.UserID())

	assert.Equal(t, [][]string{{"alice"}}, alice.snapshots())
	assert.Equal(t, [][]string{{}, {"alice"}}, anon.snapshots())
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"alice"}, m.Online())
}

func TestAnonymousConnectDoesNotBroadcast(t *testing.T) {
	m := NewManager(Options{})
	alice := newFakeConn("alice-conn")
	m.Connect(alice, "alice")

	m.Connect(newFakeConn("anon"), "")

	assert.Len(t, alice.snapshots(), 1)
}

func TestDisconnectBroadcastsOnce(t *testing.T) {
	m := NewManager(Options{})
	alice := newFakeConn("alice-conn")
	bob := newFakeConn("bob-conn")

	m.Connect(alice, "alice")
	sb := m.Connect(bob, "bob")

	m.Disconnect(sb)
	m.Disconnect(sb)

	assert.Equal(t, [][]string{{"alice"}, {"alice", "bob"}, {"alice"}}, alice.snapshots())
	assert.Equal(t, StateClosed, sb.State())
	assert.Equal(t, 1, m.Len())
}

func TestDisconnectAnonymousIsSilent(t *testing.T) {
	m := NewManager(Options{})
	alice := newFakeConn("alice-conn")
	m.Connect(alice, "alice")

	s := m.Connect(newFakeConn("anon"), "")
	m.Disconnect(s)
	m.Disconnect(nil)

	assert.Len(t, alice.snapshots(), 1)
	assert.Equal(t, 1, m.Len())
}

func TestSupersededDisconnectKeepsNewerEntry(t *testing.T) {
	m := NewManager(Options{})
	observer := newFakeConn("observer")
	m.Connect(observer, "")

	first := newFakeConn("tab-1")
	second := newFakeConn("tab-2")
	s1 := m.Connect(first, "u1")
	m.Connect(second, "u1")

	before := len(observer.snapshots())
	m.Disconnect(s1)

	conn, ok := m.Table().Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "tab-2", conn.ID())
	assert.Len(t, observer.snapshots(), before, "no broadcast for a guarded no-op remove")
	assert.Equal(t, []string{"u1"}, m.Online())
}

func TestFailedPushClosesConnection(t *testing.T) {
	m := NewManager(Options{})
	slow := newFakeConn("slow")
	m.Connect(slow, "slow")
	slow.setFail(ErrSlowConsumer)

	m.Connect(newFakeConn("alice-conn"), "alice")

	assert.Equal(t, 1, slow.closeCount())
}

func TestRelayTyping(t *testing.T) {
	m := NewManager(Options{})
	alice := newFakeConn("alice-conn")
	bob := newFakeConn("bob-conn")
	sa := m.Connect(alice, "alice")
	m.Connect(bob, "bob")
	anon := m.Connect(newFakeConn("anon"), "")

	assert.True(t, m.Relay(sa, "bob", EventUserTyping))
	assert.False(t, m.Relay(sa, "alice", EventUserTyping), "no relay to self")
	assert.False(t, m.Relay(sa, "", EventUserTyping))
	assert.False(t, m.Relay(anon, "bob", EventUserTyping))
	assert.False(t, m.Relay(nil, "bob", EventUserTyping))

	got := bob.named(EventUserTyping)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"senderId": "alice"}, got[0].Data)

	m.Disconnect(sa)
	assert.False(t, m.Relay(sa, "bob", EventUserStoppedTyping))
}

func TestPresenceMirror(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(Options{Publisher: pub})

	s := m.Connect(newFakeConn("alice-conn"), "alice")
	m.Connect(newFakeConn("anon"), "")
	m.Disconnect(s)

	assert.Equal(t, []string{"presence.online", "presence.online"}, pub.subjects)
	assert.Equal(t, []any{[]string{"alice"}, []string{}}, pub.payloads)
}

// Two clients, alice then bob; alice messages bob; bob leaves.
func TestAliceBobScenario(t *testing.T) {
	m := NewManager(Options{})
	alice := newFakeConn("alice-conn")
	bob := newFakeConn("bob-conn")

	m.Connect(alice, "alice")
	assert.ElementsMatch(t, []string{"alice"}, alice.lastSnapshot())

	sb := m.Connect(bob, "bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, alice.lastSnapshot())
	assert.ElementsMatch(t, []string{"alice", "bob"}, bob.lastSnapshot())

	msg := testMessage("alice", "bob")
	assert.True(t, m.Deliver(context.Background(), msg))

	received := bob.named(EventMessageReceived)
	require.Len(t, received, 1)
	assert.Same(t, msg, received[0].Data)
	assert.Empty(t, alice.named(EventMessageReceived))

	m.Disconnect(sb)
	assert.ElementsMatch(t, []string{"alice"}, alice.lastSnapshot())
}

// Every client observes the same sequence of snapshots, so the last one it
// sees matches the final table.
func TestConcurrentConnectsConverge(t *testing.T) {
	m := NewManager(Options{})
	observer := newFakeConn("observer")
	m.Connect(observer, "")

	var wg sync.WaitGroup
	sessions := make([]*Session, 20)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = m.Connect(newFakeConn(fmt.Sprintf("c%d", i)), fmt.Sprintf("u%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < len(sessions); i += 2 {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			m.Disconnect(s)
		}(sessions[i])
	}
	wg.Wait()

	assert.Equal(t, m.Online(), observer.lastSnapshot())
	assert.Len(t, observer.snapshots(), 1+20+10)

	for i := 1; i < len(sessions); i += 2 {
		c := sessions[i].Conn().(*fakeConn)
		assert.Equal(t, m.Online(), c.lastSnapshot())
	}
}

func (p *recordingPublisher) last() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		return nil
	}
	return p.payloads[len(p.payloads)-1]
}

// The online gauge and the mirrored snapshot are updated in mutation order,
// so after concurrent churn they agree with the table.
func TestConcurrentChurnKeepsGaugeAndMirrorCurrent(t *testing.T) {
	for round := 0; round < 50; round++ {
		pub := &recordingPublisher{}
		collector := metrics.New(nil)
		m := NewManager(Options{Publisher: pub, Metrics: collector})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user := fmt.Sprintf("u%d", i)
				s := m.Connect(newFakeConn(fmt.Sprintf("r%d-c%d-a", round, i)), user)
				if i%2 == 0 {
					m.Disconnect(s)
				}
				m.Connect(newFakeConn(fmt.Sprintf("r%d-c%d-b", round, i)), user)
			}(i)
		}
		wg.Wait()

		online := m.Online()
		require.Len(t, online, 8)
		assert.Equal(t, online, pub.last())

		expected := fmt.Sprintf(`
# HELP echoes_online_users Number of users with a registered connection.
# TYPE echoes_online_users gauge
echoes_online_users %d
`, len(online))
		require.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected),
			"echoes_online_users"))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "registered", StateRegistered.String())
	assert.Equal(t, "anonymous", StateAnonymous.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
