package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Tyrowin/echoes/internal/auth"
	"github.com/Tyrowin/echoes/internal/metrics"
	"github.com/Tyrowin/echoes/internal/models"
	"github.com/Tyrowin/echoes/internal/presence"
)

func TestPresenceAndDeliveryEndToEnd(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	alice := env.dial(t, "userId=alice")
	assert.ElementsMatch(t, []string{"alice"}, readOnline(t, alice))

	bob := env.dial(t, "userId=bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, readOnline(t, bob))
	assert.ElementsMatch(t, []string{"alice", "bob"}, readOnline(t, alice))

	msg := &models.Message{
		ID:         primitive.NewObjectID(),
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "hello bob",
		CreatedAt:  time.Now().UTC(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.True(t, env.manager.Deliver(ctx, msg))

	ev := readEvent(t, bob)
	require.Equal(t, presence.EventMessageReceived, ev.Event)
	var got models.Message
	require.NoError(t, json.Unmarshal(ev.Data, &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hello bob", got.Text)
	assert.Equal(t, "alice", got.SenderID)

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = bob.Close()

	// alice sees the departure next; a stray message push would come first
	assert.ElementsMatch(t, []string{"alice"}, readOnline(t, alice))
}

func TestAnonymousConnection(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	alice := env.dial(t, "userId=alice")
	readOnline(t, alice)

	anon := env.dial(t, "userId=undefined")
	assert.Equal(t, []string{"alice"}, readOnline(t, anon))

	require.Eventually(t, func() bool { return env.manager.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, env.manager.Online())

	carol := env.dial(t, "userId=carol")
	readOnline(t, carol)
	assert.ElementsMatch(t, []string{"alice", "carol"}, readOnline(t, anon), "anonymous connections still receive broadcasts")
}

func TestTokenHandshake(t *testing.T) {
	tokens := auth.NewManager("secret", time.Hour)
	env := newTestEnv(t, envOptions{verifier: tokens, untrusted: true})

	token, _, err := tokens.Issue("alice")
	require.NoError(t, err)

	alice := env.dial(t, "token="+token)
	assert.Equal(t, []string{"alice"}, readOnline(t, alice))

	forged := env.dial(t, "token=forged&userId=mallory")
	assert.Equal(t, []string{"alice"}, readOnline(t, forged))

	spoof := env.dial(t, "userId=mallory")
	assert.Equal(t, []string{"alice"}, readOnline(t, spoof))

	require.Eventually(t, func() bool { return env.manager.Len() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, env.manager.Online())
}

func TestTypingRelay(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	alice := env.dial(t, "userId=alice")
	readOnline(t, alice)
	bob := env.dial(t, "userId=bob")
	readOnline(t, bob)
	readOnline(t, alice)

	sendFrame(t, alice, "typing", "bob")
	ev := readEvent(t, bob)
	require.Equal(t, presence.EventUserTyping, ev.Event)
	assert.JSONEq(t, `{"senderId":"alice"}`, string(ev.Data))

	sendFrame(t, alice, "stopTyping", "bob")
	ev = readEvent(t, bob)
	assert.Equal(t, presence.EventUserStoppedTyping, ev.Event)
}

func TestSupersededConnection(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	observer := env.dial(t, "")
	readOnline(t, observer)

	first := env.dial(t, "userId=alice")
	readOnline(t, first)
	readOnline(t, observer)

	second := env.dial(t, "userId=alice")
	readOnline(t, second)
	readOnline(t, observer)

	_ = first.Close()
	require.Eventually(t, func() bool { return env.manager.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, env.manager.Online())

	bob := env.dial(t, "userId=bob")
	readOnline(t, bob)

	// the next event for the observer is bob's arrival, not alice leaving
	assert.Equal(t, []string{"alice", "bob"}, readOnline(t, observer))
}

func TestOriginRejected(t *testing.T) {
	env := newTestEnv(t, envOptions{strictOrigin: true})

	for _, origin := range []string{"", "http://evil.example.com", "not-a-url"} {
		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}

		conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"?userId=alice", header)
		if conn != nil {
			_ = conn.Close()
		}
		require.Error(t, err, "origin %q", origin)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	}

	assert.Empty(t, env.manager.Online())
}

func TestNativeClientWithoutOrigin(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	alice := env.dial(t, "userId=alice")
	readOnline(t, alice)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	bob, resp, err := dialer.Dial(env.wsURL+"?userId=bob", http.Header{})
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close() })

	assert.ElementsMatch(t, []string{"alice", "bob"}, readOnline(t, bob))
	assert.ElementsMatch(t, []string{"alice", "bob"}, readOnline(t, alice))

	// a browser origin outside the list is still refused
	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	conn, resp, err := dialer.Dial(env.wsURL+"?userId=mallory", header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMessageSizeLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{settings: Settings{MaxMessageSize: 64}})

	alice := env.dial(t, "userId=alice")
	readOnline(t, alice)

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, big))

	require.Eventually(t, func() bool { return len(env.manager.Online()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimitedFramesAreDropped(t *testing.T) {
	collector := metrics.New(nil)
	env := newTestEnv(t, envOptions{
		settings: Settings{RateLimit: rateLimitConfig(2, time.Hour)},
		metrics:  collector,
	})

	alice := env.dial(t, "userId=alice")
	readOnline(t, alice)
	bob := env.dial(t, "userId=bob")
	readOnline(t, bob)
	readOnline(t, alice)

	for i := 0; i < 5; i++ {
		sendFrame(t, alice, "typing", "bob")
	}

	assert.Equal(t, presence.EventUserTyping, readEvent(t, bob).Event)
	assert.Equal(t, presence.EventUserTyping, readEvent(t, bob).Event)

	// stopTyping has its own budget and still clears the indicator
	sendFrame(t, alice, "stopTyping", "bob")
	assert.Equal(t, presence.EventUserStoppedTyping, readEvent(t, bob).Event)

	expected := `
# HELP echoes_throttled_frames_total Inbound websocket frames discarded by the rate limiter, by event.
# TYPE echoes_throttled_frames_total counter
echoes_throttled_frames_total{event="typing"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected),
		"echoes_throttled_frames_total"))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "frames beyond the burst are discarded")
}
