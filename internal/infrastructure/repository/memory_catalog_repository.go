package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"
)

// MemoryCatalogRepository implements CatalogRepository in process memory.
// Transactions work on a copy of the catalog that replaces the live one on commit.
type MemoryCatalogRepository struct {
	mu      sync.RWMutex
	state   *memoryCatalog
	changes int
}

var _ ports.CatalogRepository = (*MemoryCatalogRepository)(nil)

type memoryCatalog struct {
	products    map[string]map[string]domain.Product
	variants    map[string]map[string]domain.Variant
	checkpoints map[string]domain.SyncCheckpoint
	changes     int
}

// NewMemoryCatalogRepository creates an empty catalog
func NewMemoryCatalogRepository() *MemoryCatalogRepository {
	return &MemoryCatalogRepository{state: newMemoryCatalog()}
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		products:    make(map[string]map[string]domain.Product),
		variants:    make(map[string]map[string]domain.Variant),
		checkpoints: make(map[string]domain.SyncCheckpoint),
	}
}

func (c *memoryCatalog) clone() *memoryCatalog {
	out := newMemoryCatalog()
	for tenant, products := range c.products {
		m := make(map[string]domain.Product, len(products))
		for id, p := range products {
			m[id] = p
		}
		out.products[tenant] = m
	}
	for tenant, variants := range c.variants {
		m := make(map[string]domain.Variant, len(variants))
		for id, v := range variants {
			m[id] = v
		}
		out.variants[tenant] = m
	}
	for tenant, cp := range c.checkpoints {
		out.checkpoints[tenant] = cp
	}
	return out
}

// Changes returns how many product and variant rows were inserted, modified or deleted
func (r *MemoryCatalogRepository) Changes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changes
}

// WithinTx applies fn to a copy of the catalog and keeps the copy only when fn succeeds
func (r *MemoryCatalogRepository) WithinTx(ctx context.Context, fn func(tx ports.CatalogWriter) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := r.state.clone()
	if err := fn(&memoryCatalogWriter{state: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit catalog transaction: %w", err)
	}
	r.changes += staged.changes
	staged.changes = 0
	r.state = staged
	return nil
}

func (r *MemoryCatalogRepository) write(fn func(w *memoryCatalogWriter) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &memoryCatalogWriter{state: r.state}
	err := fn(w)
	r.changes += r.state.changes
	r.state.changes = 0
	return err
}

// UpsertProduct inserts the product or updates its fields
func (r *MemoryCatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	return r.write(func(w *memoryCatalogWriter) error { return w.UpsertProduct(ctx, product) })
}

// UpsertVariants inserts or updates the variants of one product
func (r *MemoryCatalogRepository) UpsertVariants(ctx context.Context, tenantID, productExternalID string, variants []domain.Variant) error {
	return r.write(func(w *memoryCatalogWriter) error {
		return w.UpsertVariants(ctx, tenantID, productExternalID, variants)
	})
}

// DeleteProduct removes a product and its variants
func (r *MemoryCatalogRepository) DeleteProduct(ctx context.Context, tenantID, externalID string) error {
	return r.write(func(w *memoryCatalogWriter) error { return w.DeleteProduct(ctx, tenantID, externalID) })
}

// DeleteVariants removes the listed variants
func (r *MemoryCatalogRepository) DeleteVariants(ctx context.Context, tenantID string, externalIDs []string) (int, error) {
	var n int
	err := r.write(func(w *memoryCatalogWriter) error {
		var err error
		n, err = w.DeleteVariants(ctx, tenantID, externalIDs)
		return err
	})
	return n, err
}

// SaveCheckpoint replaces the checkpoint of a shop
func (r *MemoryCatalogRepository) SaveCheckpoint(ctx context.Context, checkpoint domain.SyncCheckpoint) error {
	return r.write(func(w *memoryCatalogWriter) error { return w.SaveCheckpoint(ctx, checkpoint) })
}

// ListProducts returns the products of a shop with their variants
func (r *MemoryCatalogRepository) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]domain.Product, 0, len(r.state.products[tenantID]))
	for _, p := range r.state.products[tenantID] {
		p.Variants = r.variantsOf(tenantID, p.ExternalID)
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if !products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].CreatedAt.After(products[j].CreatedAt)
		}
		return products[i].ExternalID < products[j].ExternalID
	})
	return products, nil
}

// GetProduct returns one product with its variants
func (r *MemoryCatalogRepository) GetProduct(_ context.Context, tenantID, externalID string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.state.products[tenantID][externalID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", externalID, domain.ErrNotFound)
	}
	p.Variants = r.variantsOf(tenantID, externalID)
	return &p, nil
}

// ListProductIDs returns the external ids of every product of a shop
func (r *MemoryCatalogRepository) ListProductIDs(_ context.Context, tenantID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.state.products[tenantID]))
	for id := range r.state.products[tenantID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListVariantIDs returns the external ids of the variants of one product
func (r *MemoryCatalogRepository) ListVariantIDs(_ context.Context, tenantID, productExternalID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variants := r.variantsOf(tenantID, productExternalID)
	ids := make([]string, 0, len(variants))
	for _, v := range variants {
		ids = append(ids, v.ExternalID)
	}
	return ids, nil
}

// GetCheckpoint returns the checkpoint of a shop
func (r *MemoryCatalogRepository) GetCheckpoint(_ context.Context, tenantID string) (*domain.SyncCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp, ok := r.state.checkpoints[tenantID]
	if !ok {
		return nil, fmt.Errorf("checkpoint of %s: %w", tenantID, domain.ErrNotFound)
	}
	return &cp, nil
}

func (r *MemoryCatalogRepository) variantsOf(tenantID, productExternalID string) []domain.Variant {
	out := []domain.Variant{}
	for _, v := range r.state.variants[tenantID] {
		if v.ProductExternalID == productExternalID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// memoryCatalogWriter applies writes to one memoryCatalog, the caller holds the lock
type memoryCatalogWriter struct {
	state *memoryCatalog
}

func (w *memoryCatalogWriter) UpsertProduct(_ context.Context, p domain.Product) error {
	p.Variants = nil
	products, ok := w.state.products[p.TenantID]
	if !ok {
		products = make(map[string]domain.Product)
		w.state.products[p.TenantID] = products
	}
	if current, ok := products[p.ExternalID]; ok && reflect.DeepEqual(current, p) {
		return nil
	}
	products[p.ExternalID] = p
	w.state.changes++
	return nil
}

func (w *memoryCatalogWriter) UpsertVariants(_ context.Context, tenantID, productExternalID string, variants []domain.Variant) error {
	if _, ok := w.state.products[tenantID][productExternalID]; !ok && len(variants) > 0 {
		return fmt.Errorf("failed to upsert variants: product %s does not exist", productExternalID)
	}
	stored, ok := w.state.variants[tenantID]
	if !ok {
		stored = make(map[string]domain.Variant)
		w.state.variants[tenantID] = stored
	}
	for _, v := range variants {
		v.TenantID = tenantID
		v.ProductExternalID = productExternalID
		if current, ok := stored[v.ExternalID]; ok && reflect.DeepEqual(current, v) {
			continue
		}
		stored[v.ExternalID] = v
		w.state.changes++
	}
	return nil
}

func (w *memoryCatalogWriter) DeleteProduct(_ context.Context, tenantID, externalID string) error {
	if _, ok := w.state.products[tenantID][externalID]; !ok {
		return fmt.Errorf("product %s: %w", externalID, domain.ErrNotFound)
	}
	delete(w.state.products[tenantID], externalID)
	w.state.changes++
	for id, v := range w.state.variants[tenantID] {
		if v.ProductExternalID == externalID {
			delete(w.state.variants[tenantID], id)
			w.state.changes++
		}
	}
	return nil
}

func (w *memoryCatalogWriter) DeleteVariants(_ context.Context, tenantID string, externalIDs []string) (int, error) {
	n := 0
	for _, id := range externalIDs {
		if _, ok := w.state.variants[tenantID][id]; ok {
			delete(w.state.variants[tenantID], id)
			n++
		}
	}
	w.state.changes += n
	return n, nil
}

func (w *memoryCatalogWriter) SaveCheckpoint(_ context.Context, cp domain.SyncCheckpoint) error {
	w.state.checkpoints[cp.TenantID] = cp
	return nil
}
