package sessionreg

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaykit/agentbroker/log"
)

// SQLiteStore is the durable Store implementation, grounded on
// db/connection.go's Open (directory creation, WAL pragmas, migration
// run) and db/claude_sessions.go's upsert-with-MAX/ON CONFLICT idiom,
// adapted from the teacher's package-global *sql.DB onto an instance
// field since this package answers to no other domain.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a sqlite database at path
// and runs the session/launcher_state migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sessionreg: create db directory: %w", err)
		}
	}

	dsn := path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionreg: open: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sessionreg: ping: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sessionreg: migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("sessionreg: database opened")
	return &SQLiteStore{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id   TEXT PRIMARY KEY,
			cwd          TEXT NOT NULL DEFAULT '',
			adapter_name TEXT NOT NULL DEFAULT '',
			archived     INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS launcher_states (
			session_id         TEXT PRIMARY KEY,
			pid                INTEGER NOT NULL DEFAULT 0,
			adapter_name       TEXT NOT NULL DEFAULT '',
			cwd                TEXT NOT NULL DEFAULT '',
			state              TEXT NOT NULL DEFAULT 'starting',
			archived           INTEGER NOT NULL DEFAULT 0,
			backend_session_id TEXT NOT NULL DEFAULT ''
		);
	`)
	return err
}

func (s *SQLiteStore) Close() error { return s.conn.Close() }

func (s *SQLiteStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sessions (session_id, cwd, adapter_name, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			cwd = excluded.cwd,
			adapter_name = excluded.adapter_name,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		rec.SessionID, rec.Cwd, rec.AdapterName, boolToInt(rec.Archived), rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT session_id, cwd, adapter_name, archived, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)

	var rec SessionRecord
	var archived int
	if err := row.Scan(&rec.SessionID, &rec.Cwd, &rec.AdapterName, &archived, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.Archived = archived != 0
	return &rec, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT session_id, cwd, adapter_name, archived, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var archived int
		if err := rows.Scan(&rec.SessionID, &rec.Cwd, &rec.AdapterName, &archived, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Archived = archived != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) SaveLauncherState(ctx context.Context, state LauncherState) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO launcher_states (session_id, pid, adapter_name, cwd, state, archived, backend_session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			pid = excluded.pid,
			adapter_name = excluded.adapter_name,
			cwd = excluded.cwd,
			state = excluded.state,
			archived = excluded.archived,
			backend_session_id = excluded.backend_session_id`,
		state.SessionID, state.Pid, state.AdapterName, state.Cwd, state.State, boolToInt(state.Archived), state.BackendSessionID,
	)
	return err
}

func (s *SQLiteStore) LoadLauncherState(ctx context.Context, sessionID string) (*LauncherState, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT session_id, pid, adapter_name, cwd, state, archived, backend_session_id
		FROM launcher_states WHERE session_id = ?`, sessionID)

	var st LauncherState
	var archived int
	if err := row.Scan(&st.SessionID, &st.Pid, &st.AdapterName, &st.Cwd, &st.State, &archived, &st.BackendSessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	st.Archived = archived != 0
	return &st, nil
}

func (s *SQLiteStore) ListLauncherStates(ctx context.Context) ([]LauncherState, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT session_id, pid, adapter_name, cwd, state, archived, backend_session_id FROM launcher_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LauncherState
	for rows.Next() {
		var st LauncherState
		var archived int
		if err := rows.Scan(&st.SessionID, &st.Pid, &st.AdapterName, &st.Cwd, &st.State, &archived, &st.BackendSessionID); err != nil {
			return nil, err
		}
		st.Archived = archived != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteLauncherState(ctx context.Context, sessionID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM launcher_states WHERE session_id = ?`, sessionID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
