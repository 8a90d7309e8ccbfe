package watchtransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

func newTestServer(t *testing.T) (*httptest.Server, chan *Connection) {
	connCh := make(chan *Connection, 1)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, log)
		require.NoError(t, err)
		connCh <- c
		go c.Run()
	}))
	t.Cleanup(srv.Close)
	return srv, connCh
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnectionDeliversNotifyUpdateAsJSONFrame(t *testing.T) {
	srv, connCh := newTestServer(t)
	client := dial(t, srv)

	conn := <-connCh
	mc := &core.MergedConfig{Document: "db.yaml", OverridesKey: "key", Version: 3}
	conn.NotifyUpdate(mc)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, "db.yaml", frame.Document)
	require.Equal(t, "key", frame.OverridesKey)
	require.Equal(t, uint32(3), frame.Version)
	require.False(t, frame.Closed)
}

func TestConnectionSendsClosingFrameOnNilNotify(t *testing.T) {
	srv, connCh := newTestServer(t)
	client := dial(t, srv)

	conn := <-connCh
	conn.NotifyUpdate(nil)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.True(t, frame.Closed)
}

func TestNotifyUpdateDropsOldestFrameWhenOutboxFull(t *testing.T) {
	srv, connCh := newTestServer(t)
	_ = dial(t, srv)

	conn := <-connCh
	for i := 0; i < outboxCapacity+4; i++ {
		conn.NotifyUpdate(&core.MergedConfig{Document: "db.yaml", Version: uint32(i)})
	}
	require.LessOrEqual(t, len(conn.outbox), outboxCapacity)
}

func TestConnectionIDIsStable(t *testing.T) {
	srv, connCh := newTestServer(t)
	_ = dial(t, srv)

	conn := <-connCh
	require.NotEmpty(t, conn.ID())
	require.Equal(t, conn.ID(), conn.ID())
}
