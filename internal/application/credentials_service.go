package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"

	"github.com/rs/zerolog"
)

// CredentialsService stores per-shop access credentials with tokens encrypted at rest
type CredentialsService struct {
	repo          ports.CredentialRepository
	encryptionSvc ports.EncryptionService
	logger        zerolog.Logger
	now           func() time.Time
}

// NewCredentialsService creates a new credentials service
func NewCredentialsService(
	repo ports.CredentialRepository,
	encryptionService ports.EncryptionService,
	logger zerolog.Logger,
) *CredentialsService {
	return &CredentialsService{
		repo:          repo,
		encryptionSvc: encryptionService,
		logger:        logger,
		now:           time.Now,
	}
}

// Put validates and stores a credential. An offline credential replaces the shop's previous one.
func (s *CredentialsService) Put(ctx context.Context, credential domain.Credential) (*domain.Credential, error) {
	if err := credential.Validate(); err != nil {
		return nil, err
	}

	plaintext := credential.AccessToken
	encrypted, err := s.encryptionSvc.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	credential.AccessToken = encrypted

	if err := s.repo.Put(ctx, &credential); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("shop", credential.TenantID).
		Str("sessionId", credential.SessionID).
		Bool("online", credential.IsOnline).
		Strs("scopes", credential.Scopes).
		Msg("Credential saved")

	credential.AccessToken = plaintext
	return &credential, nil
}

// Get returns the shop's offline credential, or its most recently updated unexpired online one
func (s *CredentialsService) Get(ctx context.Context, tenantID string, online bool) (*domain.Credential, error) {
	if !online {
		return s.GetBySession(ctx, domain.OfflineSessionID(tenantID))
	}

	all, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, c := range all {
		if c.IsOnline && !c.IsExpired(now) {
			return s.decrypt(c)
		}
	}
	return nil, fmt.Errorf("online credential for %s: %w", tenantID, domain.ErrNotFound)
}

// GetBySession returns one credential with its token decrypted
func (s *CredentialsService) GetBySession(ctx context.Context, sessionID string) (*domain.Credential, error) {
	c, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.decrypt(c)
}

// GetOffline returns the credential used for unattended work, domain.ErrNoCredential when the shop
// has none or it expired
func (s *CredentialsService) GetOffline(ctx context.Context, tenantID string) (*domain.Credential, error) {
	c, err := s.Get(ctx, tenantID, false)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoCredential, tenantID)
	}
	if err != nil {
		return nil, err
	}
	if c.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: offline credential of %s expired", domain.ErrNoCredential, tenantID)
	}
	return c, nil
}

// ListByTenant returns every credential of a shop with tokens redacted
func (s *CredentialsService) ListByTenant(ctx context.Context, tenantID string) ([]domain.Credential, error) {
	all, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Credential, 0, len(all))
	for _, c := range all {
		plain, err := s.decrypt(c)
		if err != nil {
			return nil, err
		}
		out = append(out, plain.Redacted())
	}
	return out, nil
}

// Delete revokes one credential
func (s *CredentialsService) Delete(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info().Str("sessionId", sessionID).Msg("Credential revoked")
	return nil
}

// DeleteByTenant removes every credential of a shop, as on uninstall
func (s *CredentialsService) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	n, err := s.repo.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("shop", tenantID).Int("deleted", n).Msg("Shop credentials removed")
	return n, nil
}

// ListOfflineTenants returns the shops that can be synced unattended
func (s *CredentialsService) ListOfflineTenants(ctx context.Context) ([]string, error) {
	return s.repo.ListOfflineTenants(ctx)
}

func (s *CredentialsService) decrypt(c *domain.Credential) (*domain.Credential, error) {
	token, err := s.encryptionSvc.Decrypt(c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token of %s: %w", c.SessionID, err)
	}
	out := *c
	out.AccessToken = token
	return &out, nil
}
