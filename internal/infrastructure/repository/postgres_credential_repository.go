package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialRepository implements CredentialRepository using PostgreSQL
type PostgresCredentialRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ ports.CredentialRepository = (*PostgresCredentialRepository)(nil)

// NewPostgresCredentialRepository creates a credential repository over pool
func NewPostgresCredentialRepository(pool *pgxpool.Pool) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{pool: pool, now: time.Now}
}

const selectCredentialColumns = `
	SELECT session_id, tenant_id, access_token, scopes, is_online, expires_at, user_id, created_at, updated_at
	FROM credentials`

// Get retrieves a credential by session id
func (r *PostgresCredentialRepository) Get(ctx context.Context, sessionID string) (*domain.Credential, error) {
	rows, err := r.pool.Query(ctx, selectCredentialColumns+` WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, storageError("get credential", err)
	}
	c, err := pgx.CollectOneRow(rows, scanCredential)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("credential %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageError("scan credential", err)
	}
	return c, nil
}

// Put inserts the credential or replaces the one stored under its session id. A session id
// stored for another shop is rejected.
func (r *PostgresCredentialRepository) Put(ctx context.Context, c *domain.Credential) error {
	now := r.now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (session_id, tenant_id, access_token, scopes, is_online, expires_at, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			scopes       = EXCLUDED.scopes,
			is_online    = EXCLUDED.is_online,
			expires_at   = EXCLUDED.expires_at,
			user_id      = EXCLUDED.user_id,
			updated_at   = EXCLUDED.updated_at
		WHERE credentials.tenant_id = EXCLUDED.tenant_id`,
		c.SessionID, c.TenantID, c.AccessToken, scopes, c.IsOnline, c.ExpiresAt, c.UserID, createdAt, now,
	)
	if err != nil {
		return storageError("save credential", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionTaken(c.SessionID)
	}
	return nil
}

// ListByTenant returns every credential of a shop, most recently updated first
func (r *PostgresCredentialRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Credential, error) {
	rows, err := r.pool.Query(ctx, selectCredentialColumns+` WHERE tenant_id = $1 ORDER BY updated_at DESC, session_id`, tenantID)
	if err != nil {
		return nil, storageError("list credentials", err)
	}
	credentials, err := pgx.CollectRows(rows, scanCredential)
	if err != nil {
		return nil, storageError("scan credentials", err)
	}
	return credentials, nil
}

// Delete removes one credential
func (r *PostgresCredentialRepository) Delete(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE session_id = $1`, sessionID)
	if err != nil {
		return storageError("delete credential", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// DeleteByTenant removes every credential of a shop
func (r *PostgresCredentialRepository) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, storageError("delete shop credentials", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListOfflineTenants returns the shops holding an offline credential
func (r *PostgresCredentialRepository) ListOfflineTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id FROM credentials WHERE NOT is_online ORDER BY tenant_id`)
	if err != nil {
		return nil, storageError("list offline shops", err)
	}
	shops, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageError("scan offline shops", err)
	}
	return shops, nil
}

func scanCredential(row pgx.CollectableRow) (*domain.Credential, error) {
	c := &domain.Credential{}
	if err := row.Scan(&c.SessionID, &c.TenantID, &c.AccessToken, &c.Scopes, &c.IsOnline, &c.ExpiresAt,
		&c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.ExpiresAt != nil {
		t := c.ExpiresAt.UTC()
		c.ExpiresAt = &t
	}
	return c, nil
}
