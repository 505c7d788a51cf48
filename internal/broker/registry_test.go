package broker

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreateReconcilesFromDisk(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := NewRegistry(dir, logger)

	s, err := r.GetOrCreate("F1", "a.bin", 10, "")
	require.NoError(t, err)
	require.EqualValues(t, 0, s.BytesReceived)

	require.NoError(t, appendChunk(s.PartPath, []byte("12345")))

	s2, err := r.GetOrCreate("F1", "a.bin", 10, "")
	require.NoError(t, err)
	require.Same(t, s, s2)
	require.EqualValues(t, 5, s2.BytesReceived)
}

func TestBroadcastSnapshotSurvivesChurn(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := NewRegistry(dir, logger)

	conn1 := newFakeConn("c1")
	conn2 := newFakeConn("c2")

	r.Attach(conn1, "F1")
	r.Attach(conn2, "F1")

	r.Detach(conn1) // simulate churn before broadcast delivery completes elsewhere

	r.Broadcast("F1", Event{Name: "chunk-ack"})

	require.Empty(t, conn1.names())
	require.Equal(t, []string{"chunk-ack"}, conn2.names())
}

func TestFreeNameCollisionAvoidance(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(final, []byte("x"), 0o644))

	name, err := freeName(final)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "a (1).bin"), name)

	require.NoError(t, os.WriteFile(name, []byte("y"), 0o644))

	name2, err := freeName(final)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "a (2).bin"), name2)
}
