// Package store persists users and completed flow results in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type Store struct {
	DB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT,
			notifications_enabled INTEGER DEFAULT 1,
			onboarded INTEGER DEFAULT 0,
			blocked INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS flow_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT,
			flow_id TEXT,
			answers TEXT,
			completed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS abandoned_flows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT,
			flow_id TEXT,
			answers TEXT,
			reason TEXT,
			abandoned_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS reminders_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT,
			job_id TEXT,
			sent_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_flow_results_user ON flow_results(user_id, flow_id, completed_at);`,
	}
	for _, q := range queries {
		if _, err = db.Exec(q); err != nil {
			return nil, err
		}
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// UpsertUser records a user on first contact and refreshes last_seen_at
// on every subsequent one.
func (s *Store) UpsertUser(userID, username string) error {
	query := `INSERT INTO users (id, username) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, last_seen_at = CURRENT_TIMESTAMP`
	_, err := s.DB.Exec(query, userID, username)
	return err
}

func (s *Store) SetNotifications(userID string, enabled bool) error {
	_, err := s.DB.Exec(`UPDATE users SET notifications_enabled = ? WHERE id = ?`, boolToInt(enabled), userID)
	return err
}

func (s *Store) SetOnboarded(userID string, onboarded bool) error {
	_, err := s.DB.Exec(`UPDATE users SET onboarded = ? WHERE id = ?`, boolToInt(onboarded), userID)
	return err
}

func (s *Store) SetBlocked(userID string, blocked bool) error {
	_, err := s.DB.Exec(`UPDATE users SET blocked = ? WHERE id = ?`, boolToInt(blocked), userID)
	return err
}

func (s *Store) IsOnboarded(userID string) (bool, error) {
	var onboarded int
	err := s.DB.QueryRow(`SELECT onboarded FROM users WHERE id = ?`, userID).Scan(&onboarded)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return onboarded != 0, nil
}

func (s *Store) IsBlocked(userID string) (bool, error) {
	var blocked int
	err := s.DB.QueryRow(`SELECT blocked FROM users WHERE id = ?`, userID).Scan(&blocked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return blocked != 0, nil
}

// DeleteUser removes the user and every record about them.
func (s *Store) DeleteUser(userID string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM flow_results WHERE user_id = ?`,
		`DELETE FROM abandoned_flows WHERE user_id = ?`,
		`DELETE FROM reminders_log WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PersistCompletedFlow stores the full answer set of a finished flow.
func (s *Store) PersistCompletedFlow(ctx context.Context, userID, flowID string, answers map[string]any) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO flow_results (user_id, flow_id, answers) VALUES (?, ?, ?)`,
		userID, flowID, string(data))
	return err
}

// PersistAbandonedFlow stores the partial answer set of an expired,
// replaced or shutdown-flushed session.
func (s *Store) PersistAbandonedFlow(ctx context.Context, userID, flowID string, answers map[string]any, reason string) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO abandoned_flows (user_id, flow_id, answers, reason) VALUES (?, ?, ?, ?)`,
		userID, flowID, string(data), reason)
	return err
}

func (s *Store) LogReminder(ctx context.Context, userID, jobID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO reminders_log (user_id, job_id) VALUES (?, ?)`, userID, jobID)
	return err
}

// CompletedSince reports whether the user finished the flow after the
// given instant.
func (s *Store) CompletedSince(ctx context.Context, userID, flowID string, since time.Time) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flow_results WHERE user_id = ? AND flow_id = ? AND completed_at >= ?`,
		userID, flowID, since.UTC()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PopulationFilter narrows UserPopulation. The zero value matches every
// known user.
type PopulationFilter struct {
	NotificationsEnabled bool
	Onboarded            bool
	// WithoutFlowSince excludes users who completed WithoutFlowID
	// after Since, e.g. "no daily check-in today".
	WithoutFlowID string
	Since         time.Time
}

// UserPopulation enumerates user ids matching the filter. The result is
// a fresh snapshot each call, so scheduler ticks are restartable.
func (s *Store) UserPopulation(ctx context.Context, f PopulationFilter) ([]string, error) {
	query := `SELECT id FROM users WHERE blocked = 0`
	args := []any{}
	if f.NotificationsEnabled {
		query += ` AND notifications_enabled = 1`
	}
	if f.Onboarded {
		query += ` AND onboarded = 1`
	}
	if f.WithoutFlowID != "" {
		query += ` AND id NOT IN (SELECT user_id FROM flow_results WHERE flow_id = ? AND completed_at >= ?)`
		args = append(args, f.WithoutFlowID, f.Since.UTC())
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CountUsers returns total and onboarded user counts for admin stats.
func (s *Store) CountUsers() (total, onboarded int, err error) {
	err = s.DB.QueryRow(`SELECT COUNT(*), COALESCE(SUM(onboarded), 0) FROM users`).Scan(&total, &onboarded)
	return total, onboarded, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
