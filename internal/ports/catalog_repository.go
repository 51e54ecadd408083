package ports

import (
	"context"

	"shopify-catalog-mirror/internal/domain"
)

// CatalogWriter holds the write operations that may run inside one transaction
type CatalogWriter interface {
	// UpsertProduct inserts the product or updates its mutable fields. Variants are ignored.
	UpsertProduct(ctx context.Context, product domain.Product) error

	// UpsertVariants inserts missing variants of a product and updates present ones.
	// Variants stored locally but absent from variants are left untouched.
	UpsertVariants(ctx context.Context, tenantID, productExternalID string, variants []domain.Variant) error

	// DeleteProduct removes a product and its variants, domain.ErrNotFound when absent
	DeleteProduct(ctx context.Context, tenantID, externalID string) error

	// DeleteVariants removes the listed variants and returns how many existed
	DeleteVariants(ctx context.Context, tenantID string, externalIDs []string) (int, error)

	// SaveCheckpoint replaces the sync checkpoint of the checkpoint's shop
	SaveCheckpoint(ctx context.Context, checkpoint domain.SyncCheckpoint) error
}

// CatalogRepository defines the interface for the local catalog mirror
type CatalogRepository interface {
	CatalogWriter

	// WithinTx runs fn in a single transaction, committing only when fn returns nil
	WithinTx(ctx context.Context, fn func(tx CatalogWriter) error) error

	// ListProducts returns the products of a shop with their variants, ordered by external id
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)

	// GetProduct returns one product with its variants, domain.ErrNotFound when absent
	GetProduct(ctx context.Context, tenantID, externalID string) (*domain.Product, error)

	// ListProductIDs returns the external ids of every product of a shop
	ListProductIDs(ctx context.Context, tenantID string) ([]string, error)

	// ListVariantIDs returns the external ids of the variants of one product
	ListVariantIDs(ctx context.Context, tenantID, productExternalID string) ([]string, error)

	// GetCheckpoint returns the checkpoint of a shop, domain.ErrNotFound when none was saved
	GetCheckpoint(ctx context.Context, tenantID string) (*domain.SyncCheckpoint, error)
}
