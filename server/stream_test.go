package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/notify"
)

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNotificationStreamDelivers(t *testing.T) {
	core := newFakeCore()
	s := newTestServer(t, core, am.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, wsURL(ts.URL, "/ws/notifications"), http.Header{UserHeader: {"user-1"}})
	require.Eventually(t, func() bool { return core.broker.ActiveCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	core.broker.Publish("user-2", notify.Notification{ID: "n-other", UserID: "user-2", Type: notify.TypeDocumentsReady})
	core.broker.Publish("user-1", notify.Notification{
		ID:      "n-1",
		UserID:  "user-1",
		Type:    notify.TypeFollowUpReminder,
		Title:   "Follow-up Reminder",
		Message: "Time to follow up on your application (Follow-up 1/3)",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got notify.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "n-1", got.ID)
	assert.Equal(t, notify.TypeFollowUpReminder, got.Type)
	assert.Equal(t, 1, s.ClientCount())
}

func TestNotificationStreamUserFromQuery(t *testing.T) {
	core := newFakeCore()
	s := newTestServer(t, core, am.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	dial(t, wsURL(ts.URL, "/ws/notifications?user_id=user-9"), nil)

	require.Eventually(t, func() bool { return core.broker.UserCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, core.broker.Publish("user-9", notify.Notification{ID: "n-9"}))
}

func TestNotificationStreamUnsubscribesOnClose(t *testing.T) {
	core := newFakeCore()
	s := newTestServer(t, core, am.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	const streams = 5
	conns := make([]*websocket.Conn, 0, streams)
	for i := 0; i < streams; i++ {
		conns = append(conns, dial(t, wsURL(ts.URL, "/ws/notifications"), http.Header{UserHeader: {"user-1"}}))
	}
	require.Eventually(t, func() bool { return core.broker.ActiveCount() == streams }, 2*time.Second, 10*time.Millisecond)

	for _, c := range conns {
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.Close()
	}

	require.Eventually(t, func() bool {
		return core.broker.ActiveCount() == 0 && s.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, core.broker.Publish("user-1", notify.Notification{ID: "n-late"}))
}

func TestNotificationStreamRejections(t *testing.T) {
	t.Run("no user", func(t *testing.T) {
		s := newTestServer(t, newFakeCore(), am.ServerConfig{})
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/notifications"), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("foreign origin", func(t *testing.T) {
		core := newFakeCore()
		s := newTestServer(t, core, am.ServerConfig{AllowedOrigins: []string{"https://app.jobpulse.dev"}})
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		header := http.Header{UserHeader: {"user-1"}, "Origin": {"https://evil.example"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/notifications"), header)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, 0, core.broker.ActiveCount())
	})
}

func TestNotificationStreamCapacity(t *testing.T) {
	t.Run("unlimited by default", func(t *testing.T) {
		core := newFakeCore()
		s := newTestServer(t, core, am.ServerConfig{})
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		const streams = 120
		for i := 0; i < streams; i++ {
			dial(t, wsURL(ts.URL, "/ws/notifications"), http.Header{UserHeader: {"user-1"}})
		}
		require.Eventually(t, func() bool { return s.ClientCount() == streams }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("configured limit", func(t *testing.T) {
		core := newFakeCore()
		s := newTestServer(t, core, am.ServerConfig{MaxClients: 1})
		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		dial(t, wsURL(ts.URL, "/ws/notifications"), http.Header{UserHeader: {"user-1"}})
		require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/notifications"), http.Header{UserHeader: {"user-2"}})
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, 1, s.ClientCount())
	})
}

func TestSlowClientDoesNotBlockPublisher(t *testing.T) {
	core := newFakeCore()
	s := New(core, am.ServerConfig{}, zap.NewNop().Sugar())
	c := &Client{server: s, send: make(chan notify.Notification, 1), userID: "user-1", id: "c-1"}

	done := make(chan struct{})
	go func() {
		c.deliver(notify.Notification{ID: "n-1"})
		c.deliver(notify.Notification{ID: "n-2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on a full queue")
	}
	assert.Equal(t, "n-1", (<-c.send).ID)
}

func TestStartStop(t *testing.T) {
	core := newFakeCore()
	s := New(core, am.ServerConfig{}, zap.NewNop().Sugar())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, s.Serve(ln))

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dial(t, wsURL(base, "/ws/notifications"), http.Header{UserHeader: {"user-1"}})
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())

	// The stream is closed from the server side
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return core.broker.ActiveCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, s.Serve(ln), "a stopped server does not serve again")
}
