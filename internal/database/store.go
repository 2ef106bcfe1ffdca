package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"drivepaddy/internal/models"
)

// Store persists sessions and their detection events.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(
		`INSERT INTO sessions (id, name, strategy, token_hash, status, start_time) VALUES (?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.Name, sess.Strategy, tokenHash, sess.Status, sess.StartTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, name, strategy, status, start_time, end_time`

func scanSession(row interface{ Scan(...any) error }) (models.Session, error) {
	var (
		sess models.Session
		end  sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.Name, &sess.Strategy, &sess.Status, &sess.StartTime, &end); err != nil {
		return models.Session{}, err
	}
	if end.Valid {
		t := end.Time
		sess.EndTime = &t
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrNotFound
	}
	return sess, err
}

// TokenHash returns the stored bcrypt hash of the session token.
func (s *Store) TokenHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, s.db.rebind(`SELECT token_hash FROM sessions WHERE id = ?`), id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

// ListSessions returns sessions newest first, optionally filtered by status.
func (s *Store) ListSessions(ctx context.Context, status string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.rebind(
		`UPDATE sessions SET status = ?, end_time = ? WHERE id = ? AND status = ?`),
		models.SessionEnded, at.UTC(), id, models.SessionActive,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.rebind(`DELETE FROM events WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.db.rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// InsertEvent stores ev and sets its ID.
func (s *Store) InsertEvent(ctx context.Context, ev *models.Event) error {
	contrib := string(ev.Contributions)
	if contrib == "" {
		contrib = "{}"
	}
	err := s.db.QueryRowContext(ctx, s.db.rebind(
		`INSERT INTO events (session_id, kind, drowsiness_score, is_drowsy, contributions, timestamp)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		ev.SessionID, ev.Kind, ev.DrowsinessScore, ev.IsDrowsy, contrib, ev.Timestamp.UTC(),
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns a session's events oldest first. limit <= 0 means all.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.Event, error) {
	query := `SELECT id, session_id, kind, drowsiness_score, is_drowsy, contributions, timestamp
		FROM events WHERE session_id = ? ORDER BY timestamp, id`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []models.Event{}
	for rows.Next() {
		var (
			ev      models.Event
			contrib string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.DrowsinessScore, &ev.IsDrowsy, &contrib, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Contributions = []byte(contrib)
		out = append(out, ev)
	}
	return out, rows.Err()
}
