package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brizzai/fluo/internal/tokens/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect selects the driver and placeholder style of SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const upsertQuery = `
INSERT INTO oauth_tokens (user_id, id, access_token, refresh_token, expires_in, expires_at, scope, created_at, provider)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    id = excluded.id,
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    expires_in = excluded.expires_in,
    expires_at = excluded.expires_at,
    scope = excluded.scope,
    created_at = excluded.created_at,
    provider = excluded.provider`

const selectQuery = `
SELECT id, user_id, access_token, refresh_token, expires_in, expires_at, scope, created_at, provider
FROM oauth_tokens WHERE user_id = ?`

const deleteQuery = `DELETE FROM oauth_tokens WHERE user_id = ?`

// SQLStore keeps records in the oauth_tokens table of Postgres or SQLite.
// Writes are a single INSERT ... ON CONFLICT (user_id) DO UPDATE.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLStore opens the database, applies migrations and returns the store.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	var driver, gooseDialect string
	switch dialect {
	case DialectPostgres:
		driver, gooseDialect = "pgx", "postgres"
	case DialectSQLite:
		driver, gooseDialect = "sqlite", "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind turns ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Write(ctx context.Context, userID string, in Input) (*Record, error) {
	rec, err := NewRecord(userID, in, s.now())
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(upsertQuery),
		rec.UserID,
		rec.ID,
		rec.AccessToken,
		nullString(rec.RefreshToken),
		nullInt(rec.ExpiresIn),
		nullString(rec.ExpiresAt),
		nullString(rec.Scope),
		rec.CreatedAt,
		rec.Provider,
	)
	if err != nil {
		return nil, unavailable("upsert token", err)
	}
	return rec, nil
}

func (s *SQLStore) Read(ctx context.Context, userID string) (*Record, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}

	var (
		rec                            Record
		refreshToken, expiresAt, scope sql.NullString
		expiresIn                      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectQuery), userID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.AccessToken,
		&refreshToken,
		&expiresIn,
		&expiresAt,
		&scope,
		&rec.CreatedAt,
		&rec.Provider,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("select token", err)
	}

	rec.RefreshToken = refreshToken.String
	rec.ExpiresIn = expiresIn.Int64
	rec.ExpiresAt = expiresAt.String
	rec.Scope = scope.String
	return &rec, nil
}

func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	if err := checkUser(userID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(deleteQuery), userID)
	if err != nil {
		return unavailable("delete token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete token", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}
