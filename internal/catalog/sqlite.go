package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure Go driver, registers as "sqlite"
)

const walJournalSizeLimit = 67108864 // 64 MiB

// SQLiteStore persists catalog entries to an embedded SQLite database in WAL
// mode, grounded on the same pragma/prepared-statement shape as the sync
// state store it was adapted from.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	stmtRegister *sql.Stmt
	stmtUpdate   *sql.Stmt
	stmtDelete   *sql.Stmt
}

// NewSQLiteStore opens dbPath, applies migrations, and prepares statements.
// Use ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening catalog database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: prepare statements: %w", err)
	}

	logger.Info("catalog database ready", "path", dbPath)

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("catalog: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

func (s *SQLiteStore) prepareStatements(ctx context.Context) error {
	var err error

	s.stmtRegister, err = s.db.PrepareContext(ctx,
		`INSERT INTO entries (id, name, size, owner, folder_id) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare register: %w", err)
	}

	s.stmtUpdate, err = s.db.PrepareContext(ctx,
		`UPDATE entries SET status = ?, final_path = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}

	s.stmtDelete, err = s.db.PrepareContext(ctx, `DELETE FROM entries WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Register(ctx context.Context, e Entry) (string, error) {
	id := uuid.NewString()

	if _, err := s.stmtRegister.ExecContext(ctx, id, e.Name, e.Size, e.Owner, e.FolderID); err != nil {
		return "", fmt.Errorf("catalog: register %s: %w", e.Name, err)
	}

	return id, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, status string, finalPath string) error {
	if _, err := s.stmtUpdate.ExecContext(ctx, status, finalPath, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("catalog: update %s: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.stmtDelete.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
