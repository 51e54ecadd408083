package ports

import (
	"context"

	"shopify-catalog-mirror/internal/domain"
)

// CredentialRepository defines the interface for credential persistence.
// Access tokens reach the repository already encrypted.
type CredentialRepository interface {
	// Get retrieves a credential by session id, domain.ErrNotFound when absent
	Get(ctx context.Context, sessionID string) (*domain.Credential, error)

	// Put inserts or replaces the credential stored under its session id
	Put(ctx context.Context, credential *domain.Credential) error

	// ListByTenant returns every credential of a shop, most recently updated first
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Credential, error)

	// Delete removes one credential, domain.ErrNotFound when absent
	Delete(ctx context.Context, sessionID string) error

	// DeleteByTenant removes every credential of a shop and returns how many were removed
	DeleteByTenant(ctx context.Context, tenantID string) (int, error)

	// ListOfflineTenants returns the shops holding an offline credential
	ListOfflineTenants(ctx context.Context) ([]string, error)
}

// EncryptionService defines the interface for encrypting secrets at rest
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
