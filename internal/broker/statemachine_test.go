package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/filebroker/broker/internal/catalog"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Connection that records every event sent to it,
// standing in for a real transport connection in tests.
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}
	}
	return c.events[len(c.events)-1]
}

func (c *fakeConn) allEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.Name
	}
	return names
}

func fieldsOf(t *testing.T, ev Event) map[string]any {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func newTestBroker(t *testing.T, downstreamURL string) *Broker {
	t.Helper()
	dir := t.TempDir()

	cfg := Config{
		StagingDir:      filepath.Join(dir, "staging"),
		DownloadsDir:    filepath.Join(dir, "downloads"),
		DownstreamURL:   downstreamURL,
		DownstreamToken: "test-token",
	}
	require.NoError(t, os.MkdirAll(cfg.StagingDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.DownloadsDir, 0o755))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, catalog.NewNoopStore(), logger)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Scenario 1: happy path.
func TestHappyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		require.Equal(t, "a.bin", r.Header.Get("X-File-Name"))
		require.Equal(t, "3", r.Header.Get("X-File-Size"))
		require.Equal(t, "F1", r.Header.Get("X-File-ID"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "ABC", string(body))

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"file_id": "R1"})
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	conn := newFakeConn("c1")
	ctx := context.Background()

	b.HandleStart(ctx, conn, "F1", "a.bin", 3, "")
	require.Equal(t, "start-ack", conn.last().Name)
	require.Equal(t, float64(0), fieldsOf(t, conn.last())["offset"])

	b.HandleChunk(ctx, "F1", 0, b64("AB"))
	last := fieldsOf(t, conn.last())
	require.Equal(t, "chunk-ack", conn.last().Name)
	require.Equal(t, float64(2), last["offset"])

	b.HandleChunk(ctx, "F1", 2, b64("C"))
	require.Contains(t, conn.names(), "local-complete")

	b.HandleComplete(ctx, "F1")
	require.Equal(t, "complete-ack", conn.last().Name)
	require.Equal(t, "R1", fieldsOf(t, conn.last())["remoteFileId"])

	_, exists := b.registry.Get("F1")
	require.False(t, exists)
}

// Scenario 2: disconnect/resume.
func TestDisconnectResume(t *testing.T) {
	b := newTestBroker(t, "")
	conn1 := newFakeConn("c1")
	ctx := context.Background()

	b.HandleStart(ctx, conn1, "F1", "a.bin", 3, "")
	b.HandleChunk(ctx, "F1", 0, b64("AB"))

	b.HandleConnectionClose(conn1)

	session, ok := b.registry.Get("F1")
	require.True(t, ok)
	require.Equal(t, StatusPaused, session.Status)

	conn2 := newFakeConn("c2")
	b.HandleStart(ctx, conn2, "F1", "a.bin", 3, "")
	require.Equal(t, "start-ack", conn2.last().Name)
	require.Equal(t, float64(2), fieldsOf(t, conn2.last())["offset"])

	b.HandleChunk(ctx, "F1", 2, b64("C"))
	require.Contains(t, conn2.names(), "local-complete")
}

// Scenario 3: offset recovery.
func TestOffsetMismatchRecovery(t *testing.T) {
	b := newTestBroker(t, "")
	conn := newFakeConn("c1")
	ctx := context.Background()

	b.HandleStart(ctx, conn, "F1", "a.bin", 10, "")
	b.HandleChunk(ctx, "F1", 0, b64("XY"))
	require.Equal(t, "chunk-ack", conn.last().Name)

	b.HandleChunk(ctx, "F1", 5, b64("ZZ"))
	require.Equal(t, "offset-mismatch", conn.last().Name)
	require.Equal(t, float64(2), fieldsOf(t, conn.last())["expected"])

	session, _ := b.registry.Get("F1")
	require.EqualValues(t, 2, session.BytesReceived)

	b.HandleChunk(ctx, "F1", 2, b64("ZZ"))
	require.Equal(t, "chunk-ack", conn.last().Name)
}

// Scenario 4: stop with delete.
func TestStopWithDelete(t *testing.T) {
	b := newTestBroker(t, "")
	conn := newFakeConn("c1")
	ctx := context.Background()

	b.HandleStart(ctx, conn, "F1", "a.bin", 10, "")
	b.HandleChunk(ctx, "F1", 0, b64("AB"))

	session, _ := b.registry.Get("F1")
	partPath := session.PartPath
	_, err := os.Stat(partPath)
	require.NoError(t, err)

	b.HandleStop(ctx, "F1", true)
	require.Equal(t, "stop-ack", conn.last().Name)

	_, err = os.Stat(partPath)
	require.True(t, os.IsNotExist(err))

	b.HandleChunk(ctx, "F1", 0, b64("X"))
	require.Equal(t, "error", conn.last().Name)
}

// Scenario 5: size mismatch.
func TestSizeMismatch(t *testing.T) {
	b := newTestBroker(t, "")
	conn := newFakeConn("c1")
	ctx := context.Background()

	b.HandleStart(ctx, conn, "F1", "a.bin", 10, "")
	b.HandleChunk(ctx, "F1", 0, b64("12345678"))
	require.EqualValues(t, 8, mustSession(t, b, "F1").BytesReceived)

	b.HandleComplete(ctx, "F1")
	require.Equal(t, "error", conn.last().Name)
	require.Contains(t, fieldsOf(t, conn.last())["error"], "Size mismatch")

	session := mustSession(t, b, "F1")
	require.Empty(t, session.FinalLocalPath)
}

// Scenario 6: downstream failure.
func TestDownstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	conn := newFakeConn("c1")
	ctx := context.Background()

	b.HandleStart(ctx, conn, "F1", "a.bin", 3, "")
	b.HandleChunk(ctx, "F1", 0, b64("ABC"))
	require.Contains(t, conn.names(), "local-complete")

	b.HandleComplete(ctx, "F1")
	require.Equal(t, "error", conn.last().Name)

	session := mustSession(t, b, "F1")
	require.Equal(t, StatusError, session.Status)
	_, err := os.Stat(session.FinalLocalPath)
	require.NoError(t, err, "final-local file must be retained on downstream failure")
}

func mustSession(t *testing.T, b *Broker, fileID string) *UploadSession {
	t.Helper()
	s, ok := b.registry.Get(fileID)
	require.True(t, ok)
	return s
}
