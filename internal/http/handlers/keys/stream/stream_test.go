package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-keys/internal/feed"
	"github.com/magabrotheeeer/license-keys/internal/http/middlewarectx"
	"github.com/magabrotheeeer/license-keys/internal/models"
)

func newServer(t *testing.T, hub *feed.Hub, acc models.Account) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(logger, hub)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(middlewarectx.WithAccount(r.Context(), acc)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, hub *feed.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_OwnerReceivesOwnEvents(t *testing.T) {
	hub := feed.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 8)
	conn := dial(t, newServer(t, hub, models.Account{UID: "u1", Role: models.RoleStandard}))
	waitSubscribers(t, hub, 1)

	hub.Publish(context.Background(), models.KeyEvent{Type: models.EventKeyCreated, Key: models.LicenseKey{ID: "other", OwnerUID: "u2"}})
	hub.Publish(context.Background(), models.KeyEvent{Type: models.EventKeyUpdated, Key: models.LicenseKey{ID: "mine", OwnerUID: "u1", Revision: 2}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.KeyEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventKeyUpdated, ev.Type)
	assert.Equal(t, "mine", ev.Key.ID)
	assert.Equal(t, int64(2), ev.Key.Revision)
}

func TestStream_AdminReceivesAll(t *testing.T) {
	hub := feed.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 8)
	conn := dial(t, newServer(t, hub, models.Account{UID: "a1", Role: models.RoleAdmin}))
	waitSubscribers(t, hub, 1)

	hub.Publish(context.Background(), models.KeyEvent{Type: models.EventKeyDeleted, Key: models.LicenseKey{ID: "k9", OwnerUID: "u7"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.KeyEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "k9", ev.Key.ID)
}

func TestStream_ClientCloseUnsubscribes(t *testing.T) {
	hub := feed.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 8)
	conn := dial(t, newServer(t, hub, models.Account{UID: "u1"}))
	waitSubscribers(t, hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	waitSubscribers(t, hub, 0)
}

func TestStream_HubCloseEndsConnection(t *testing.T) {
	hub := feed.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 8)
	conn := dial(t, newServer(t, hub, models.Account{UID: "u1"}))
	waitSubscribers(t, hub, 1)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestStream_RequiresSession(t *testing.T) {
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), feed.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 1))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/keys/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
