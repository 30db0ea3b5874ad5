package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/mealdeck/mealdeck/migrations/postgres"
)

// Postgres implements Store on a pgx pool. Schema lives in migrations/.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and pings.
func NewPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded schema files in ascending name order. The
// files are written with IF NOT EXISTS guards, so reapplying is safe.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("store: list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("store: read %s: %w", name, err)
		}
		if _, err := p.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("store: apply %s: %w", name, err)
		}
	}
	return nil
}

const userColumns = `id, email, first_name, last_name, avatar_url, is_admin,
	primary_provider, primary_provider_id, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.AvatarURL, &u.IsAdmin,
		&u.PrimaryProvider, &u.PrimaryProviderID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM app_user WHERE id = $1`
	return scanUser(p.pool.QueryRow(ctx, query, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM app_user WHERE email = $1`
	return scanUser(p.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	const query = `
		INSERT INTO app_user (id, email, first_name, last_name, avatar_url, is_admin,
			primary_provider, primary_provider_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := p.pool.QueryRow(ctx, query,
		u.ID, u.Email, u.FirstName, u.LastName, u.AvatarURL, u.IsAdmin,
		u.PrimaryProvider, u.PrimaryProviderID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapPgErr(err)
}

func (p *Postgres) UpdateUser(ctx context.Context, u *User) error {
	const query = `
		UPDATE app_user
		SET email = $2, first_name = $3, last_name = $4, avatar_url = $5,
			is_admin = $6, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := p.pool.Exec(ctx, query,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)),
		u.FirstName, u.LastName, u.AvatarURL, u.IsAdmin,
	)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteUser(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM app_user WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const linkColumns = `id, user_id, provider, provider_user_id, email,
	access_token, refresh_token, is_primary, metadata, created_at, updated_at`

func scanLink(row pgx.Row) (*ProviderLink, error) {
	var l ProviderLink
	var meta []byte
	err := row.Scan(
		&l.ID, &l.UserID, &l.Provider, &l.ProviderUserID, &l.Email,
		&l.AccessToken, &l.RefreshToken, &l.IsPrimary, &meta, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &l.Metadata)
	}
	return &l, nil
}

func (p *Postgres) GetLinkByProvider(ctx context.Context, provider, providerUserID string) (*ProviderLink, error) {
	query := `SELECT ` + linkColumns + ` FROM provider_link WHERE provider = $1 AND provider_user_id = $2`
	return scanLink(p.pool.QueryRow(ctx, query, provider, providerUserID))
}

func (p *Postgres) GetLinkByUserProvider(ctx context.Context, userID, provider string) (*ProviderLink, error) {
	query := `SELECT ` + linkColumns + ` FROM provider_link WHERE user_id = $1 AND provider = $2`
	return scanLink(p.pool.QueryRow(ctx, query, userID, provider))
}

func (p *Postgres) CreateLink(ctx context.Context, l *ProviderLink) error {
	const query = `
		INSERT INTO provider_link (id, user_id, provider, provider_user_id, email,
			access_token, refresh_token, is_primary, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		meta = []byte(`{}`)
	}
	err = p.pool.QueryRow(ctx, query,
		l.ID, l.UserID, l.Provider, l.ProviderUserID, l.Email,
		l.AccessToken, l.RefreshToken, l.IsPrimary, meta,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	return mapPgErr(err)
}

func (p *Postgres) UpdateLinkTokens(ctx context.Context, linkID, accessToken, refreshToken string) error {
	const query = `
		UPDATE provider_link
		SET access_token = $2,
			refresh_token = CASE WHEN $3 <> '' THEN $3 ELSE refresh_token END,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := p.pool.Exec(ctx, query, linkID, accessToken, refreshToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateLinkMetadata(ctx context.Context, linkID string, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	const query = `UPDATE provider_link SET metadata = $2, updated_at = NOW() WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, linkID, meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
func (p *Postgres) Close()                         { p.pool.Close() }

// mapPgErr converts unique_violation into ErrConflict so callers never see
// driver-level error codes.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
