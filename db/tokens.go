package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/mod-tender/crypto"
)

// TokenStore persists OAuth tokens in oauth_tokens. With an Encryptor set,
// tokens are encrypted before storage (encryption_version=1); rows written
// without one stay readable (encryption_version=0).
type TokenStore struct {
	DB        *sql.DB
	Encryptor crypto.Encryptor
}

// NewTokenStore returns a TokenStore. A nil enc stores tokens in plaintext.
func NewTokenStore(db *sql.DB, enc crypto.Encryptor) *TokenStore {
	if enc == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
	}
	return &TokenStore{DB: db, Encryptor: enc}
}

func (s *TokenStore) keyID() string {
	if k, ok := s.Encryptor.(interface{ KeyID() string }); ok {
		return k.KeyID()
	}
	return "default"
}

// UpsertOAuthToken stores or replaces the token for provider.
func (s *TokenStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	encVersion, encKeyID := 0, ""
	if s.Encryptor != nil {
		var err error
		if access, err = crypto.EncryptString(s.Encryptor, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(s.Encryptor, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		encVersion, encKeyID = 1, s.keyID()
	}

	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err := s.DB.ExecContext(ctx, q, provider, access, refresh, expiry, scope, encVersion, encKeyID)
	return err
}

// GetOAuthToken returns the stored token for provider, or zero values when
// there is none.
func (s *TokenStore) GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var (
		encVersion int
		encKeyID   sql.NullString
		exp        sql.NullTime
		sc         sql.NullString
	)
	row := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(access_token, ''), COALESCE(refresh_token, ''), expires_at, scope, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err = row.Scan(&access, &refresh, &exp, &sc, &encVersion, &encKeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}

	if encVersion == 1 {
		if s.Encryptor == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if encKeyID.Valid && encKeyID.String != s.keyID() {
			slog.Warn("stored token was encrypted with a different key", slog.String("provider", provider), slog.String("component", "db_encryption"))
		}
		if access, err = crypto.DecryptString(s.Encryptor, access); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if refresh, err = crypto.DecryptString(s.Encryptor, refresh); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return access, refresh, exp.Time, sc.String, nil
}

// EncryptPlaintext encrypts the rows written without an Encryptor and
// returns their providers. With dryRun set nothing is written. An empty
// provider selects every row.
func (s *TokenStore) EncryptPlaintext(ctx context.Context, provider string, dryRun bool) ([]string, error) {
	if s.Encryptor == nil {
		return nil, errors.New("encrypt plaintext tokens: no encryptor configured")
	}
	q := `SELECT provider, COALESCE(access_token, ''), COALESCE(refresh_token, '')
		  FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0`
	var args []any
	if provider != "" {
		q += " AND provider = $1"
		args = append(args, provider)
	}
	rows, err := s.DB.QueryContext(ctx, q+" ORDER BY provider", args...)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	type plain struct{ provider, access, refresh string }
	var pending []plain
	for rows.Next() {
		var p plain
		if err := rows.Scan(&p.provider, &p.access, &p.refresh); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	done := make([]string, 0, len(pending))
	for _, p := range pending {
		if dryRun {
			done = append(done, p.provider)
			continue
		}
		access, err := crypto.EncryptString(s.Encryptor, p.access)
		if err != nil {
			return done, fmt.Errorf("encrypt access token of %s: %w", p.provider, err)
		}
		refresh, err := crypto.EncryptString(s.Encryptor, p.refresh)
		if err != nil {
			return done, fmt.Errorf("encrypt refresh token of %s: %w", p.provider, err)
		}
		res, err := s.DB.ExecContext(ctx,
			`UPDATE oauth_tokens SET access_token=$1, refresh_token=$2, encryption_version=1, encryption_key_id=$3, updated_at=NOW()
			 WHERE provider=$4 AND COALESCE(encryption_version, 0) = 0`,
			access, refresh, s.keyID(), p.provider)
		if err != nil {
			return done, fmt.Errorf("update token of %s: %w", p.provider, err)
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return done, fmt.Errorf("update token of %s: %d rows changed (modified concurrently?)", p.provider, n)
		}
		done = append(done, p.provider)
	}
	return done, nil
}

// EncryptionStatus counts token rows per encryption_version.
func (s *TokenStore) EncryptionStatus(ctx context.Context) (map[int]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT COALESCE(encryption_version, 0), COUNT(*) FROM oauth_tokens GROUP BY 1 ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	out := make(map[int]int)
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return nil, err
		}
		out[version] = count
	}
	return out, rows.Err()
}
