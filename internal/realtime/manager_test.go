package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doerhub-agent/internal/bus"
	"doerhub-agent/internal/common/errors"
	"doerhub-agent/internal/common/logger"
)

var upgrader = websocket.Upgrader{}

// newWSServer starts a websocket echo endpoint and returns its ws:// URL.
func newWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) (string, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv
}

func newTestManager(t *testing.T, baseURL string) (*Manager, *bus.Bus) {
	t.Helper()
	b := bus.New(logger.NewNoOpLogger())
	m := NewManager(Options{
		BaseURL:        baseURL,
		Token:          func() string { return "test-token" },
		ReconnectDelay: 20 * time.Millisecond,
	}, b, logger.NewTestLogger(t))
	t.Cleanup(m.CloseAll)
	return m, b
}

// ==========================
// Open
// ==========================

func TestOpenIsIdempotent(t *testing.T) {
	var dials int32
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, _ := newTestManager(t, baseURL)

	ch := ChatRoom("7")
	require.NoError(t, m.Open(ch))
	require.NoError(t, m.Open(ch))
	require.NoError(t, m.Open(ch))

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	assert.Equal(t, StateOpen, m.State(ch))
}

func TestOpenAppendsTokenQueryParam(t *testing.T) {
	gotToken := make(chan string, 1)
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
		ws.Close()
	})
	m, _ := newTestManager(t, baseURL)

	require.NoError(t, m.Open(UserFeed("3")))

	select {
	case tok := <-gotToken:
		assert.Equal(t, "test-token", tok)
	case <-time.After(time.Second):
		t.Fatal("server never saw the connection")
	}
}

func TestOpenRetriesFailedFirstDial(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			// First dial lands before the backend is ready.
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	m, b := newTestManager(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	ch := UserFeed("6")
	states := make(chan State, 16)
	b.Subscribe(bus.TopicChannelState(ch.Key()), func(_ string, payload interface{}) {
		states <- payload.(StateChange).State
	})
	got := make(chan Envelope, 1)
	m.SubscribeMessages(ch, func(env Envelope) {
		got <- env
	})

	require.NoError(t, m.Open(ch), "a refused first dial is not fatal")

	select {
	case env := <-got:
		assert.Equal(t, MsgConnected, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("channel never connected")
	}
	assert.Equal(t, StateOpen, m.State(ch))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(2))

	sawReconnecting := false
	for done := false; !done; {
		select {
		case s := <-states:
			if s == StateReconnecting {
				sawReconnecting = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawReconnecting, "failed dial must surface as reconnecting")
}

func TestCloseStopsRetryOfFailedDial(t *testing.T) {
	m, _ := newTestManager(t, "ws://127.0.0.1:1")

	ch := ChatRoom("1")
	require.NoError(t, m.Open(ch))
	assert.Equal(t, StateReconnecting, m.State(ch))

	m.Close(ch)
	assert.Equal(t, StateClosed, m.State(ch))
}

// ==========================
// Send
// ==========================

func TestSendWhileNotOpenFailsNotConnected(t *testing.T) {
	m, _ := newTestManager(t, "ws://127.0.0.1:1")

	err := m.Send(ChatRoom("1"), map[string]string{"message": "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotConnected))
}

func TestSendWritesJSONFrame(t *testing.T) {
	received := make(chan map[string]string, 1)
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		var msg map[string]string
		if err := ws.ReadJSON(&msg); err == nil {
			received <- msg
		}
	})
	m, _ := newTestManager(t, baseURL)

	ch := ChatRoom("9")
	require.NoError(t, m.Open(ch))
	require.NoError(t, m.Send(ch, map[string]string{"type": "chat_message", "message": "hello"}))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg["message"])
	case <-time.After(time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestSendAfterCloseFailsNotConnected(t *testing.T) {
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, _ := newTestManager(t, baseURL)

	ch := ChatRoom("4")
	require.NoError(t, m.Open(ch))
	m.Close(ch)

	err := m.Send(ch, map[string]string{"message": "late"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotConnected))
}

// ==========================
// Inbound envelopes
// ==========================

func TestInboundEnvelopePublishedOnBus(t *testing.T) {
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		_ = ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"new_request","request_id":12,"description":"fix sink"}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, _ := newTestManager(t, baseURL)

	ch := ProviderFeed("5")
	got := make(chan Envelope, 1)
	m.SubscribeMessages(ch, func(env Envelope) {
		got <- env
	})
	require.NoError(t, m.Open(ch))

	select {
	case env := <-got:
		assert.Equal(t, MsgNewRequest, env.Type)
		var body struct {
			RequestID   int    `json:"request_id"`
			Description string `json:"description"`
		}
		require.NoError(t, env.Decode(&body))
		assert.Equal(t, 12, body.RequestID)
		assert.Equal(t, "fix sink", body.Description)
	case <-time.After(time.Second):
		t.Fatal("envelope never arrived")
	}
}

func TestMalformedFrameIsDroppedAndChannelSurvives(t *testing.T) {
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, _ := newTestManager(t, baseURL)

	ch := UserFeed("2")
	got := make(chan Envelope, 2)
	m.SubscribeMessages(ch, func(env Envelope) {
		got <- env
	})
	require.NoError(t, m.Open(ch))

	select {
	case env := <-got:
		assert.Equal(t, MsgConnected, env.Type)
	case <-time.After(time.Second):
		t.Fatal("valid envelope never arrived")
	}
}

// ==========================
// Reconnect
// ==========================

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	var dials int32
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		n := atomic.AddInt32(&dials, 1)
		if n == 1 {
			// Drop the first connection without a close handshake.
			ws.Close()
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, b := newTestManager(t, baseURL)

	ch := UserFeed("8")
	states := make(chan State, 16)
	b.Subscribe(bus.TopicChannelState(ch.Key()), func(_ string, payload interface{}) {
		states <- payload.(StateChange).State
	})
	reconnected := make(chan Envelope, 1)
	m.SubscribeMessages(ch, func(env Envelope) {
		reconnected <- env
	})

	require.NoError(t, m.Open(ch))

	select {
	case env := <-reconnected:
		assert.Equal(t, MsgConnected, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("channel never reconnected")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&dials), int32(2))

	sawReconnecting := false
	deadline := time.After(time.Second)
	for !sawReconnecting {
		select {
		case s := <-states:
			if s == StateReconnecting {
				sawReconnecting = true
			}
		case <-deadline:
			t.Fatal("reconnecting state never published")
		}
	}
}

func TestCloseStopsReconnectLoop(t *testing.T) {
	var dials int32
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		ws.Close()
	})
	m, _ := newTestManager(t, baseURL)

	ch := ChatRoom("3")
	require.NoError(t, m.Open(ch))

	// Let the drop be noticed, then close before the redial timer fires.
	time.Sleep(5 * time.Millisecond)
	m.Close(ch)

	settled := atomic.LoadInt32(&dials)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt32(&dials))
	assert.Equal(t, StateClosed, m.State(ch))
}

// ==========================
// Close
// ==========================

func TestCloseIsIdempotent(t *testing.T) {
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, _ := newTestManager(t, baseURL)

	ch := ChatRoom("6")
	require.NoError(t, m.Open(ch))

	assert.NotPanics(t, func() {
		m.Close(ch)
		m.Close(ch)
	})
	assert.Equal(t, StateClosed, m.State(ch))
}

func TestCloseAllShutsEveryChannel(t *testing.T) {
	baseURL, _ := newWSServer(t, func(ws *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	m, _ := newTestManager(t, baseURL)

	chans := []Channel{UserFeed("1"), ChatRoom("2"), Negotiation("3")}
	for _, ch := range chans {
		require.NoError(t, m.Open(ch))
	}

	m.CloseAll()

	for _, ch := range chans {
		assert.Equal(t, StateClosed, m.State(ch))
	}
}

// ==========================
// Channel paths
// ==========================

func TestChannelPaths(t *testing.T) {
	tests := []struct {
		name     string
		channel  Channel
		expected string
	}{
		{"provider feed", ProviderFeed("11"), "/ws/requests/provider/11/"},
		{"user feed", UserFeed("4"), "/ws/requests/user/4/"},
		{"chat room", ChatRoom("88"), "/ws/chat/88/"},
		{"negotiation", Negotiation("23"), "/ws/service-request/23/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.channel.Path())
		})
	}
}
