package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Trigger is a registered background-sync tag awaiting a successful run.
type Trigger struct {
	Tag          string
	RegisteredAt int64
	// Generation increases every time the tag is registered again.
	Generation    int64
	Attempts      int
	LastAttemptAt *int64
}

// RegisterTrigger records tag. Registering a tag that is already pending
// keeps its attempt count and bumps its generation.
func (s *Store) RegisterTrigger(ctx context.Context, tag string) error {
	if s == nil {
		return ErrStorageUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rr_sync_triggers (tag, registered_at, generation, attempts)
		VALUES (?, ?, 0, 0)
		ON CONFLICT(tag) DO UPDATE SET generation = generation + 1
	`, tag, time.Now().UnixMilli())
	return err
}

// ListTriggers returns pending triggers, oldest registration first.
func (s *Store) ListTriggers(ctx context.Context) ([]Trigger, error) {
	if s == nil {
		return nil, ErrStorageUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, registered_at, generation, attempts, last_attempt_at
		FROM rr_sync_triggers
		ORDER BY registered_at, tag
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var (
			t    Trigger
			last sql.NullInt64
		)
		if err := rows.Scan(&t.Tag, &t.RegisteredAt, &t.Generation, &t.Attempts, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			value := last.Int64
			t.LastAttemptAt = &value
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return triggers, nil
}

// RecordTriggerAttempt increments the attempt counter for tag and returns it.
func (s *Store) RecordTriggerAttempt(ctx context.Context, tag string) (int, error) {
	if s == nil {
		return 0, ErrStorageUnavailable
	}
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE rr_sync_triggers
		SET attempts = attempts + 1, last_attempt_at = ?
		WHERE tag = ?
		RETURNING attempts
	`, time.Now().UnixMilli(), tag).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return attempts, err
}

// CompleteTrigger removes tag if it has not been registered again since
// generation was read. A newer registration is kept with its attempts reset
// and CompleteTrigger reports false.
func (s *Store) CompleteTrigger(ctx context.Context, tag string, generation int64) (bool, error) {
	if s == nil {
		return false, ErrStorageUnavailable
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM rr_sync_triggers WHERE tag = ? AND generation = ?", tag, generation)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return n > 0, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE rr_sync_triggers SET attempts = 0, last_attempt_at = NULL WHERE tag = ?
	`, tag)
	return false, err
}

// RemoveTrigger forgets tag. Removing an unknown tag is not an error.
func (s *Store) RemoveTrigger(ctx context.Context, tag string) error {
	if s == nil {
		return ErrStorageUnavailable
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM rr_sync_triggers WHERE tag = ?", tag)
	return err
}
