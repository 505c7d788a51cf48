package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/filebroker/broker/internal/broker"
	"github.com/filebroker/broker/internal/catalog"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Broker) {
	t.Helper()
	dir := t.TempDir()

	cfg := broker.Config{
		StagingDir:   filepath.Join(dir, "staging"),
		DownloadsDir: filepath.Join(dir, "downloads"),
	}
	require.NoError(t, os.MkdirAll(cfg.StagingDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.DownloadsDir, 0o755))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.New(cfg, catalog.NewNoopStore(), logger)

	srv := NewServer(b, 8*1024*1024, logger)
	return httptest.NewServer(srv), b
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := ws.Read(ctx)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func send(t *testing.T, ws *websocket.Conn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

func TestServerStartAck(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	ws := dial(t, srv.URL)
	defer ws.Close(websocket.StatusNormalClosure, "")

	send(t, ws, map[string]any{"action": "start", "fileId": "F1", "fileName": "a.bin", "fileSize": 3})

	ev := readEvent(t, ws)
	require.Equal(t, "start-ack", ev["event"])
	require.Equal(t, float64(0), ev["offset"])
}

func TestServerInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	ws := dial(t, srv.URL)
	defer ws.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("not json")))

	ev := readEvent(t, ws)
	require.Equal(t, "error", ev["event"])
	require.Equal(t, "Invalid JSON", ev["error"])

	// Connection survives: a well-formed message still gets a response.
	send(t, ws, map[string]any{"action": "start", "fileId": "F2", "fileName": "b.bin", "fileSize": 1})
	ev2 := readEvent(t, ws)
	require.Equal(t, "start-ack", ev2["event"])
}

func TestServerUnknownAction(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	ws := dial(t, srv.URL)
	defer ws.Close(websocket.StatusNormalClosure, "")

	send(t, ws, map[string]any{"action": "levitate", "fileId": "F1"})

	ev := readEvent(t, ws)
	require.Equal(t, "error", ev["event"])
}
