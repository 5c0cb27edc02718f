package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/onnwee/mod-tender/audit"
)

// AuditCache implements audit.Cache on the kv table so dedup state survives
// restarts of a single instance.
type AuditCache struct{ DB *sql.DB }

func auditCacheKey(k audit.CacheKey) string {
	return "audit:" + k.Path()
}

func (c *AuditCache) Last(ctx context.Context, key audit.CacheKey) (time.Time, bool, error) {
	var v string
	err := c.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, auditCacheKey(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("audit cache value %q: %w", v, err)
	}
	return time.Unix(0, n).UTC(), true, nil
}

func (c *AuditCache) Store(ctx context.Context, key audit.CacheKey, createdAt time.Time) error {
	_, err := c.DB.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		auditCacheKey(key), strconv.FormatInt(createdAt.UnixNano(), 10))
	return err
}

// Prune deletes entries not written since before.
func (c *AuditCache) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.DB.ExecContext(ctx, `DELETE FROM kv WHERE key LIKE 'audit:%' AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
