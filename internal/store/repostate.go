package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// SQLiteRepositoryStateStore implements RepositoryStateStore (§4.9) over
// SQLite in WAL mode, with a process-wide gofrs/flock lock so that even the
// CLI's daemon and one-shot subcommands running against the same state file
// serialize correctly.
type SQLiteRepositoryStateStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	lock   *flock.Flock
	closed bool
}

func validateRepoStateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='repository_state'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("repository_state table missing")
	}

	return nil
}

// NewSQLiteRepositoryStateStore opens (or creates) the state store at path.
// An empty path opens an in-memory store for testing; in that case no
// gofrs/flock lock is taken since there is no shared file to protect.
func NewSQLiteRepositoryStateStore(path string) (*SQLiteRepositoryStateStore, error) {
	var dsn string
	var fileLock *flock.Flock

	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateRepoStateIntegrity(path); validErr != nil {
			slog.Warn("repo_state_store_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("repository state store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("repo_state_store_cleared", slog.String("path", path), slog.String("reason", "corruption detected"))
		}

		fileLock = flock.New(path + ".lock")
		if err := fileLock.Lock(); err != nil {
			return nil, fmt.Errorf("failed to acquire repository state store lock: %w", err)
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL mode lets readers proceed concurrently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			if fileLock != nil {
				_ = fileLock.Unlock()
			}
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteRepositoryStateStore{db: db, path: path, lock: fileLock}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		if fileLock != nil {
			_ = fileLock.Unlock()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteRepositoryStateStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS repository_state (
		repository_url     TEXT PRIMARY KEY,
		last_indexed_commit TEXT NOT NULL,
		last_indexed_at     TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the recorded state for url, or (nil, false, nil) if absent.
func (s *SQLiteRepositoryStateStore) Get(ctx context.Context, url string) (*RepositoryIndexState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, fmt.Errorf("repository state store is closed")
	}

	var commit, indexedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_indexed_commit, last_indexed_at FROM repository_state WHERE repository_url = ?`,
		url).Scan(&commit, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query repository state: %w", err)
	}

	parsedAt, err := time.Parse(time.RFC3339Nano, indexedAt)
	if err != nil {
		return nil, false, fmt.Errorf("parse last_indexed_at: %w", err)
	}

	return &RepositoryIndexState{
		RepositoryURL:     url,
		LastIndexedCommit: commit,
		LastIndexedAt:     parsedAt,
	}, true, nil
}

// Put atomically inserts or replaces the state for state.RepositoryURL.
func (s *SQLiteRepositoryStateStore) Put(ctx context.Context, state *RepositoryIndexState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("repository state store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repository_state (repository_url, last_indexed_commit, last_indexed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(repository_url) DO UPDATE SET
		   last_indexed_commit = excluded.last_indexed_commit,
		   last_indexed_at = excluded.last_indexed_at`,
		state.RepositoryURL, state.LastIndexedCommit, state.LastIndexedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put repository state: %w", err)
	}

	return nil
}

// Exists reports whether url has a recorded state.
func (s *SQLiteRepositoryStateStore) Exists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("repository state store is closed")
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repository_state WHERE repository_url = ?`, url).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check repository state existence: %w", err)
	}
	return count > 0, nil
}

// Delete removes url's recorded state, reporting whether a row was removed.
func (s *SQLiteRepositoryStateStore) Delete(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("repository state store is closed")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM repository_state WHERE repository_url = ?`, url)
	if err != nil {
		return false, fmt.Errorf("delete repository state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Close releases the database handle and the process-wide file lock.
func (s *SQLiteRepositoryStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

var _ RepositoryStateStore = (*SQLiteRepositoryStateStore)(nil)
