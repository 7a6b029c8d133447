package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	Path    string
	AppName string
	Logger  *zerolog.Logger
}

// SQLiteStore persists sessions in a SQLite database so identities survive
// gateway restarts.
type SQLiteStore struct {
	db      *sql.DB
	appName string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSQLiteStore opens (or creates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		appName: cfg.AppName,
		logger:  logger.With().Str("component", "session").Str("store", "sqlite").Logger(),
		now:     time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Session store initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tutoring_sessions (
			id TEXT PRIMARY KEY,
			app_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			UNIQUE(app_name, user_id, session_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tutoring_sessions_last_seen ON tutoring_sessions(last_seen_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Resolve returns the session for (userID, sessionID), creating it on first use.
func (s *SQLiteStore) Resolve(ctx context.Context, userID, sessionID string) (Handle, error) {
	return traceResolve(ctx, s.logger, "sqlite", userID, sessionID, func(ctx context.Context) (Handle, error) {
		return s.resolve(ctx, userID, sessionID)
	})
}

func (s *SQLiteStore) resolve(ctx context.Context, userID, sessionID string) (Handle, error) {
	now := s.now().UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tutoring_sessions (id, app_name, user_id, session_id, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_name, user_id, session_id) DO NOTHING
	`, uuid.New().String(), s.appName, userID, sessionID, now, now)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create session: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return Handle{}, fmt.Errorf("failed to read insert result: %w", err)
	}

	if inserted == 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tutoring_sessions SET last_seen_at = ?
			WHERE app_name = ? AND user_id = ? AND session_id = ?
		`, now, s.appName, userID, sessionID); err != nil {
			return Handle{}, fmt.Errorf("failed to touch session: %w", err)
		}
	}

	var (
		h                 Handle
		createdMs, seenMs int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at, last_seen_at FROM tutoring_sessions
		WHERE app_name = ? AND user_id = ? AND session_id = ?
	`, s.appName, userID, sessionID).Scan(&h.ID, &createdMs, &seenMs)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to load session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Handle{}, fmt.Errorf("failed to commit session: %w", err)
	}

	h.AppName = s.appName
	h.UserID = userID
	h.SessionID = sessionID
	h.CreatedAt = time.UnixMilli(createdMs).UTC()
	h.LastSeenAt = time.UnixMilli(seenMs).UTC()
	h.Resumed = inserted == 0
	return h, nil
}

// Sweep deletes sessions last seen before cutoff.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tutoring_sessions WHERE app_name = ? AND last_seen_at < ?
	`, s.appName, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	return int(n), nil
}

// Count returns the number of stored sessions for this app.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tutoring_sessions WHERE app_name = ?`, s.appName).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
