package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/modlog"
)

// ModLogStore implements modlog.Store on mod_log_entries and audit_failures.
type ModLogStore struct{ DB *sql.DB }

func (s *ModLogStore) Insert(ctx context.Context, e modlog.Entry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO mod_log_entries(id, channel, broadcaster_id, kind, target_id, target_login, moderator_id, moderator_name, reason, duration_seconds, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.Channel, e.BroadcasterID, string(e.Kind), e.TargetID, e.TargetLogin,
		e.ModeratorID, e.ModeratorName, e.Reason, int64(e.Duration/time.Second), e.CreatedAt)
	return err
}

// Recent returns up to limit entries, newest first. An empty channel matches
// all channels.
func (s *ModLogStore) Recent(ctx context.Context, channel string, limit int) ([]modlog.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, channel, COALESCE(broadcaster_id, ''), kind, COALESCE(target_id, ''), COALESCE(target_login, ''),
		        COALESCE(moderator_id, ''), COALESCE(moderator_name, ''), COALESCE(reason, ''), COALESCE(duration_seconds, 0), created_at
		 FROM mod_log_entries
		 WHERE ($1 = '' OR channel = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []modlog.Entry{}
	for rows.Next() {
		var (
			e    modlog.Entry
			kind string
			secs int64
		)
		if err := rows.Scan(&e.ID, &e.Channel, &e.BroadcasterID, &kind, &e.TargetID, &e.TargetLogin,
			&e.ModeratorID, &e.ModeratorName, &e.Reason, &secs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = modlog.Kind(kind)
		e.Duration = time.Duration(secs) * time.Second
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ModLogStore) InsertFailure(ctx context.Context, f audit.Failure) error {
	actions := make([]string, len(f.Actions))
	for i, a := range f.Actions {
		actions[i] = string(a)
	}
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO audit_failures(scope, actions, error, occurred_at) VALUES($1,$2,$3,$4)`,
		f.Scope, strings.Join(actions, ","), msg, at)
	return err
}

// FailureCount returns how many audit failures happened since.
func (s *ModLogStore) FailureCount(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_failures WHERE occurred_at >= $1`, since).Scan(&n)
	return n, err
}

// CountBefore counts the mod-log entries and audit failures older than before.
func (s *ModLogStore) CountBefore(ctx context.Context, before time.Time) (entries, failures int64, err error) {
	if err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM mod_log_entries WHERE created_at < $1`, before).Scan(&entries); err != nil {
		return 0, 0, err
	}
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_failures WHERE occurred_at < $1`, before).Scan(&failures)
	return entries, failures, err
}

// DeleteBefore removes mod-log entries and audit failures older than before.
func (s *ModLogStore) DeleteBefore(ctx context.Context, before time.Time) (entries, failures int64, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM mod_log_entries WHERE created_at < $1`, before)
	if err != nil {
		return 0, 0, fmt.Errorf("delete mod-log entries: %w", err)
	}
	entries, _ = res.RowsAffected()
	if res, err = tx.ExecContext(ctx, `DELETE FROM audit_failures WHERE occurred_at < $1`, before); err != nil {
		return 0, 0, fmt.Errorf("delete audit failures: %w", err)
	}
	failures, _ = res.RowsAffected()
	return entries, failures, tx.Commit()
}
