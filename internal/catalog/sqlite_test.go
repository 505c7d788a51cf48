package catalog

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, nil))

	store, err := NewSQLiteStore(context.Background(), ":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestSQLiteStore_RegisterUpdateDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Register(ctx, Entry{Name: "report.pdf", Size: 1024, Owner: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	err = store.Update(ctx, id, "completed", "/store/alice/report.pdf")
	require.NoError(t, err)

	err = store.Delete(ctx, id)
	require.NoError(t, err)
}

func TestSQLiteStore_RegisterAssignsDistinctIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.Register(ctx, Entry{Name: "a.bin", Size: 1, Owner: "bob"})
	require.NoError(t, err)

	id2, err := store.Register(ctx, Entry{Name: "b.bin", Size: 2, Owner: "bob"})
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
}

func TestNoopStore(t *testing.T) {
	store := NewNoopStore()
	ctx := context.Background()

	id, err := store.Register(ctx, Entry{Name: "x", Size: 0, Owner: "y"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, store.Update(ctx, id, "completed", ""))
	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Close())
}
