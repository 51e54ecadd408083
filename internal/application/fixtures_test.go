package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/infrastructure/encryption"
	"shopify-catalog-mirror/internal/infrastructure/lock"
	"shopify-catalog-mirror/internal/infrastructure/repository"
	"shopify-catalog-mirror/internal/normalizer"
	"shopify-catalog-mirror/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testShop = "demo-shop.myshopify.com"
	testKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

func strPtr(s string) *string { return &s }

type mockCatalogClient struct {
	mock.Mock
}

var _ ports.CatalogClient = (*mockCatalogClient)(nil)

func (m *mockCatalogClient) FetchProductPage(ctx context.Context, credential domain.Credential, cursor *string, pageSize int) (*ports.ProductPage, error) {
	args := m.Called(ctx, credential, cursor, pageSize)
	page, _ := args.Get(0).(*ports.ProductPage)
	return page, args.Error(1)
}

func (m *mockCatalogClient) FetchProduct(ctx context.Context, credential domain.Credential, externalID string) (*normalizer.RawProduct, error) {
	args := m.Called(ctx, credential, externalID)
	raw, _ := args.Get(0).(*normalizer.RawProduct)
	return raw, args.Error(1)
}

func (m *mockCatalogClient) FetchCatalogIndex(ctx context.Context, credential domain.Credential, cursor *string, pageSize int) (*ports.CatalogIndexPage, error) {
	args := m.Called(ctx, credential, cursor, pageSize)
	page, _ := args.Get(0).(*ports.CatalogIndexPage)
	return page, args.Error(1)
}

// atCursor matches the cursor argument, "" matching the first page
func atCursor(want string) interface{} {
	return mock.MatchedBy(func(c *string) bool {
		if want == "" {
			return c == nil
		}
		return c != nil && *c == want
	})
}

func rawProduct(id string, variantIDs ...string) normalizer.RawProduct {
	variants := make([]normalizer.RawVariant, 0, len(variantIDs))
	for _, v := range variantIDs {
		variants = append(variants, normalizer.RawVariant{
			ID:        v,
			Price:     strPtr("99.99"),
			Barcode:   strPtr("RS-001"),
			CreatedAt: strPtr("2025-01-02T03:04:05Z"),
		})
	}
	return normalizer.RawProduct{
		ID:        id,
		Title:     "Product " + id,
		Handle:    "product",
		Status:    "ACTIVE",
		CreatedAt: strPtr("2025-01-02T03:04:05Z"),
		UpdatedAt: strPtr("2025-02-02T03:04:05Z"),
		Variants:  &normalizer.Connection[normalizer.RawVariant]{NodeList: &variants},
	}
}

func productPage(next string, products ...normalizer.RawProduct) *ports.ProductPage {
	page := &ports.ProductPage{Nodes: products}
	if next != "" {
		page.NextCursor = strPtr(next)
	}
	return page
}

func gid(kind string, n int) string {
	return fmt.Sprintf("gid://shopify/%s/%d", kind, n)
}

func newCredentialsService(t *testing.T) (*CredentialsService, *repository.MemoryCredentialRepository) {
	t.Helper()
	enc, err := encryption.NewService(testKey)
	require.NoError(t, err)
	repo := repository.NewMemoryCredentialRepository()
	return NewCredentialsService(repo, enc, zerolog.Nop()), repo
}

func putOffline(t *testing.T, svc *CredentialsService, shop string) {
	t.Helper()
	_, err := svc.Put(context.Background(), domain.Credential{
		TenantID:    shop,
		AccessToken: "shpat_offline",
		Scopes:      []string{"read_products"},
	})
	require.NoError(t, err)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []domain.SyncEvent
	pages  []domain.PageStats
}

func (o *recordingObserver) OnTransition(event domain.SyncEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) OnPageCommitted(_ domain.SyncRun, stats domain.PageStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages = append(o.pages, stats)
}

func (o *recordingObserver) states() []domain.SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.SyncState, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.To)
	}
	return out
}

type syncHarness struct {
	credentials *CredentialsService
	client      *mockCatalogClient
	catalog     *repository.MemoryCatalogRepository
	locker      *lock.LocalLocker
	observer    *recordingObserver
	sleeps      []time.Duration
	svc         *SyncService
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	h := &syncHarness{
		client:   new(mockCatalogClient),
		catalog:  repository.NewMemoryCatalogRepository(),
		locker:   lock.NewLocalLocker(),
		observer: &recordingObserver{},
	}
	h.credentials, _ = newCredentialsService(t)
	h.svc = h.newService(h.catalog)
	return h
}

func (h *syncHarness) newService(catalog ports.CatalogRepository) *SyncService {
	return h.newServiceWithLocker(catalog, h.locker)
}

func (h *syncHarness) newServiceWithLocker(catalog ports.CatalogRepository, locker ports.SyncLocker) *SyncService {
	svc := NewSyncService(h.credentials, h.client, catalog, locker, RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     time.Second,
	}, 2, zerolog.Nop(), h.observer)
	svc.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return svc
}

// failingCatalog fails the transaction with the given number
type failingCatalog struct {
	*repository.MemoryCatalogRepository
	failOn int
	calls  int
}

func (c *failingCatalog) WithinTx(ctx context.Context, fn func(tx ports.CatalogWriter) error) error {
	c.calls++
	if c.calls == c.failOn {
		return fmt.Errorf("failed to begin transaction: %w", domain.ErrStorageUnavailable)
	}
	return c.MemoryCatalogRepository.WithinTx(ctx, fn)
}

// countingLocker wraps a locker and counts lease refreshes. Refresh number failOn and every
// later one fail; zero never fails.
type countingLocker struct {
	ports.SyncLocker
	failOn int

	mu        sync.Mutex
	refreshes int
}

func (l *countingLocker) Acquire(ctx context.Context, tenantID string) (ports.Lease, error) {
	lease, err := l.SyncLocker.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &countingLease{Lease: lease, locker: l}, nil
}

func (l *countingLocker) Refreshes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes
}

type countingLease struct {
	ports.Lease
	locker *countingLocker
}

func (le *countingLease) Refresh(ctx context.Context) error {
	le.locker.mu.Lock()
	le.locker.refreshes++
	n := le.locker.refreshes
	le.locker.mu.Unlock()
	if le.locker.failOn > 0 && n >= le.locker.failOn {
		return errors.New("lease expired")
	}
	return le.Lease.Refresh(ctx)
}
