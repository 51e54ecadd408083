package application

import (
	"context"
	"fmt"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/normalizer"
	"shopify-catalog-mirror/internal/ports"

	"github.com/rs/zerolog"
)

// CredentialReader resolves credentials for interactive reads
type CredentialReader interface {
	CredentialSource
	GetBySession(ctx context.Context, sessionID string) (*domain.Credential, error)
}

// CatalogService serves the local mirror and live product reads
type CatalogService struct {
	catalog     ports.CatalogRepository
	client      ports.CatalogClient
	credentials CredentialReader
	logger      zerolog.Logger
	now         func() time.Time
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	catalog ports.CatalogRepository,
	client ports.CatalogClient,
	credentials CredentialReader,
	logger zerolog.Logger,
) *CatalogService {
	return &CatalogService{
		catalog:     catalog,
		client:      client,
		credentials: credentials,
		logger:      logger,
		now:         time.Now,
	}
}

// ListProducts returns the mirrored products of a shop
func (s *CatalogService) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.catalog.ListProducts(ctx, tenantID)
}

// GetProduct returns one mirrored product. Numeric ids are expanded to global ids.
func (s *CatalogService) GetProduct(ctx context.Context, tenantID, externalID string) (*domain.Product, error) {
	return s.catalog.GetProduct(ctx, tenantID, domain.ProductGID(externalID))
}

// FetchLive fetches and normalizes one product straight from Shopify without touching the mirror.
// sessionID selects an online credential of the shop, empty uses the offline one.
func (s *CatalogService) FetchLive(ctx context.Context, tenantID, externalID, sessionID string) (*domain.Product, error) {
	credential, err := s.liveCredential(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.FetchProduct(ctx, *credential, domain.ProductGID(externalID))
	if err != nil {
		s.logger.Warn().Err(err).Str("shop", tenantID).Str("productId", externalID).Msg("Failed to fetch live product")
		return nil, err
	}

	product, err := normalizer.NormalizeProduct(tenantID, *raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformed, err)
	}
	return &product, nil
}

func (s *CatalogService) liveCredential(ctx context.Context, tenantID, sessionID string) (*domain.Credential, error) {
	if sessionID == "" {
		return s.credentials.GetOffline(ctx, tenantID)
	}

	credential, err := s.credentials.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if credential.TenantID != tenantID {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if credential.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: session %s expired", domain.ErrNeedsReauthorization, sessionID)
	}
	return credential, nil
}
