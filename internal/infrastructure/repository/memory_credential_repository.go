package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"
)

// MemoryCredentialRepository implements CredentialRepository in process memory
type MemoryCredentialRepository struct {
	mu          sync.RWMutex
	credentials map[string]domain.Credential
	now         func() time.Time
}

var _ ports.CredentialRepository = (*MemoryCredentialRepository)(nil)

// NewMemoryCredentialRepository creates an empty credential repository
func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		credentials: make(map[string]domain.Credential),
		now:         time.Now,
	}
}

// SetClock replaces the clock used for timestamps
func (r *MemoryCredentialRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryCredentialRepository) Get(_ context.Context, sessionID string) (*domain.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.credentials[sessionID]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", sessionID, domain.ErrNotFound)
	}
	return copyCredential(c), nil
}

func (r *MemoryCredentialRepository) Put(_ context.Context, c *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *copyCredential(*c)
	now := r.now().UTC()
	stored.UpdatedAt = now
	if existing, ok := r.credentials[stored.SessionID]; ok {
		if existing.TenantID != stored.TenantID {
			return sessionTaken(stored.SessionID)
		}
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	r.credentials[stored.SessionID] = stored
	return nil
}

func (r *MemoryCredentialRepository) ListByTenant(_ context.Context, tenantID string) ([]*domain.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Credential
	for _, c := range r.credentials {
		if c.TenantID == tenantID {
			out = append(out, copyCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (r *MemoryCredentialRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.credentials[sessionID]; !ok {
		return fmt.Errorf("credential %s: %w", sessionID, domain.ErrNotFound)
	}
	delete(r.credentials, sessionID)
	return nil
}

func (r *MemoryCredentialRepository) DeleteByTenant(_ context.Context, tenantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, c := range r.credentials {
		if c.TenantID == tenantID {
			delete(r.credentials, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryCredentialRepository) ListOfflineTenants(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var shops []string
	for _, c := range r.credentials {
		if !c.IsOnline {
			shops = append(shops, c.TenantID)
		}
	}
	sort.Strings(shops)
	return shops, nil
}

func copyCredential(c domain.Credential) *domain.Credential {
	out := c
	out.Scopes = append([]string(nil), c.Scopes...)
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.UserID != nil {
		id := *c.UserID
		out.UserID = &id
	}
	return &out
}
