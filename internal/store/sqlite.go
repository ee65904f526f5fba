// Package store provides SQLite-backed persistence for gesture records,
// per-user session counters, trained flags, model artifacts and
// re-authentication history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gestureguard/internal/artifact"
	"gestureguard/internal/gesture"
)

// Store represents the SQLite gesture store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenDB opens the database without touching its schema, for migration
// tooling.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendGesture stores r and returns its row ID. Records are never updated.
func (s *Store) AppendGesture(ctx context.Context, r *gesture.Record) (int64, error) {
	if r == nil || r.UserID == "" {
		return 0, errors.New("append gesture: record has no user")
	}
	body, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encode gesture: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO gestures (user_id, session_id, session_number, gesture_type, screen, timestamp_ms, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.SessionID, r.SessionNumber, string(r.Kind), r.Screen, r.Timestamp, string(body),
	)
	if err != nil {
		return 0, fmt.Errorf("insert gesture: %w", err)
	}
	return result.LastInsertId()
}

// GesturesForUser returns every record of userID across all sessions, in
// session, time and insertion order.
func (s *Store) GesturesForUser(ctx context.Context, userID string) ([]gesture.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM gestures
		WHERE user_id = ?
		ORDER BY session_number, timestamp_ms, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query gestures: %w", err)
	}
	defer rows.Close()

	var records []gesture.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan gesture: %w", err)
		}
		var r gesture.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode gesture: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountGestures returns how many records userID has.
func (s *Store) CountGestures(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gestures WHERE user_id = ?", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count gestures: %w", err)
	}
	return n, nil
}

// CompletedSessions returns the number of sessions userID has finished.
func (s *Store) CompletedSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT completed_sessions FROM session_counters WHERE user_id = ?", userID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get session counter: %w", err)
	}
	return n, nil
}

// CompleteSession increments userID's completed session count and returns it.
func (s *Store) CompleteSession(ctx context.Context, userID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_counters (user_id, completed_sessions, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			completed_sessions = completed_sessions + 1,
			updated_at = excluded.updated_at`,
		userID, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("increment session counter: %w", err)
	}
	return s.CompletedSessions(ctx, userID)
}

// IsTrained reports the trained flag for userID.
func (s *Store) IsTrained(ctx context.Context, userID string) (bool, error) {
	var trained bool
	err := s.db.QueryRowContext(ctx,
		"SELECT trained FROM profile_flags WHERE user_id = ?", userID).Scan(&trained)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get trained flag: %w", err)
	}
	return trained, nil
}

// SetTrained writes the trained flag for userID.
func (s *Store) SetTrained(ctx context.Context, userID string, trained bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_flags (user_id, trained, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET trained = excluded.trained, updated_at = excluded.updated_at`,
		userID, trained, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set trained flag: %w", err)
	}
	return nil
}

// Save implements artifact.Store.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_artifacts (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// Load implements artifact.Store.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM model_artifacts WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	return data, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM model_artifacts WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// InsertReauthEvent records a prompt and returns its ID.
func (s *Store) InsertReauthEvent(ctx context.Context, e *ReauthEvent) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reauth_events (user_id, session_id, action_type, risk_percentage, reconstruction_error, prompted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.SessionID, e.ActionType, e.RiskPercentage, e.ReconstructionError, e.PromptedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reauth event: %w", err)
	}
	return result.LastInsertId()
}

// CompleteReauthEvent stores the outcome of a prompt.
func (s *Store) CompleteReauthEvent(ctx context.Context, id int64, success bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reauth_events SET completed_at = ?, success = ? WHERE id = ?",
		at.UnixNano(), success, id)
	if err != nil {
		return fmt.Errorf("complete reauth event: %w", err)
	}
	return nil
}

// ReauthEvents returns the most recent prompts for userID, newest first.
func (s *Store) ReauthEvents(ctx context.Context, userID string, limit int) ([]ReauthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, action_type, risk_percentage, reconstruction_error, prompted_at, completed_at, success
		FROM reauth_events WHERE user_id = ?
		ORDER BY prompted_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reauth events: %w", err)
	}
	defer rows.Close()

	var events []ReauthEvent
	for rows.Next() {
		var e ReauthEvent
		var sessionID sql.NullString
		var promptedAt int64
		var completedAt sql.NullInt64
		var success sql.NullBool
		if err := rows.Scan(&e.ID, &e.UserID, &sessionID, &e.ActionType, &e.RiskPercentage,
			&e.ReconstructionError, &promptedAt, &completedAt, &success); err != nil {
			return nil, fmt.Errorf("scan reauth event: %w", err)
		}
		e.SessionID = sessionID.String
		e.PromptedAt = time.Unix(0, promptedAt)
		if completedAt.Valid {
			t := time.Unix(0, completedAt.Int64)
			e.CompletedAt = &t
		}
		if success.Valid {
			b := success.Bool
			e.Success = &b
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Users summarises every user with any stored state.
func (s *Store) Users(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id,
		       (SELECT COUNT(*) FROM gestures g WHERE g.user_id = u.user_id),
		       COALESCE((SELECT completed_sessions FROM session_counters c WHERE c.user_id = u.user_id), 0),
		       COALESCE((SELECT trained FROM profile_flags f WHERE f.user_id = u.user_id), 0)
		FROM (
			SELECT user_id FROM gestures
			UNION SELECT user_id FROM session_counters
			UNION SELECT user_id FROM profile_flags
		) u
		ORDER BY u.user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.UserID, &u.Gestures, &u.CompletedSessions, &u.Trained); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ClearUser removes every record, counter, flag, artifact and prompt of userID.
func (s *Store) ClearUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmts := []struct {
		query string
		arg   string
	}{
		{"DELETE FROM gestures WHERE user_id = ?", userID},
		{"DELETE FROM session_counters WHERE user_id = ?", userID},
		{"DELETE FROM profile_flags WHERE user_id = ?", userID},
		{"DELETE FROM reauth_events WHERE user_id = ?", userID},
		{"DELETE FROM model_artifacts WHERE key = ?", artifact.ModelKey(userID)},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.arg); err != nil {
			tx.Rollback()
			return fmt.Errorf("clear user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear user: %w", err)
	}
	return nil
}

var _ artifact.Store = (*Store)(nil)
