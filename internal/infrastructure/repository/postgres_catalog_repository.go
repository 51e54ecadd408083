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

// PostgresCatalogRepository implements CatalogRepository using PostgreSQL
type PostgresCatalogRepository struct {
	postgresCatalogWriter
	pool *pgxpool.Pool
}

var _ ports.CatalogRepository = (*PostgresCatalogRepository)(nil)

// NewPostgresCatalogRepository creates a catalog repository over pool
func NewPostgresCatalogRepository(pool *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{
		postgresCatalogWriter: postgresCatalogWriter{db: pool},
		pool:                  pool,
	}
}

// WithinTx runs fn in one transaction. The transaction is rolled back when fn fails.
func (r *PostgresCatalogRepository) WithinTx(ctx context.Context, fn func(tx ports.CatalogWriter) error) error {
	var fnErr error
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		fnErr = fn(&postgresCatalogWriter{db: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return storageError("run catalog transaction", err)
	}
	return err
}

const selectProductColumns = `
	SELECT tenant_id, external_id, title, handle, status, vendor, product_type,
	       image_url, image_alt_text, created_at, updated_at
	FROM products`

const selectVariantColumns = `
	SELECT tenant_id, external_id, product_external_id, price, barcode, sku, inventory_quantity, created_at
	FROM variants`

// ListProducts returns every product of a shop with its variants
func (r *PostgresCatalogRepository) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, selectProductColumns+` WHERE tenant_id = $1 ORDER BY created_at DESC NULLS LAST, external_id`, tenantID)
	if err != nil {
		return nil, storageError("list products", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, storageError("scan products", err)
	}

	variants, err := r.queryVariants(ctx, selectVariantColumns+` WHERE tenant_id = $1 ORDER BY product_external_id, external_id`, tenantID)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[string][]domain.Variant, len(products))
	for _, v := range variants {
		byProduct[v.ProductExternalID] = append(byProduct[v.ProductExternalID], v)
	}
	for i := range products {
		products[i].Variants = byProduct[products[i].ExternalID]
		if products[i].Variants == nil {
			products[i].Variants = []domain.Variant{}
		}
	}
	return products, nil
}

// GetProduct returns one product with its variants
func (r *PostgresCatalogRepository) GetProduct(ctx context.Context, tenantID, externalID string) (*domain.Product, error) {
	rows, err := r.pool.Query(ctx, selectProductColumns+` WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID)
	if err != nil {
		return nil, storageError("get product", err)
	}
	product, err := pgx.CollectOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", externalID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageError("scan product", err)
	}

	variants, err := r.queryVariants(ctx, selectVariantColumns+` WHERE tenant_id = $1 AND product_external_id = $2 ORDER BY external_id`, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	product.Variants = variants
	return &product, nil
}

// ListProductIDs returns the external ids of every product of a shop
func (r *PostgresCatalogRepository) ListProductIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT external_id FROM products WHERE tenant_id = $1 ORDER BY external_id`, tenantID)
	if err != nil {
		return nil, storageError("list product ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageError("scan product ids", err)
	}
	return ids, nil
}

// ListVariantIDs returns the external ids of the variants of one product
func (r *PostgresCatalogRepository) ListVariantIDs(ctx context.Context, tenantID, productExternalID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT external_id FROM variants WHERE tenant_id = $1 AND product_external_id = $2 ORDER BY external_id`,
		tenantID, productExternalID)
	if err != nil {
		return nil, storageError("list variant ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageError("scan variant ids", err)
	}
	return ids, nil
}

// GetCheckpoint returns the sync checkpoint of a shop
func (r *PostgresCatalogRepository) GetCheckpoint(ctx context.Context, tenantID string) (*domain.SyncCheckpoint, error) {
	var (
		cp        domain.SyncCheckpoint
		state     string
		errorKind string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, run_id, state, cursor, pages_committed, products_upserted, variants_upserted,
		       error_kind, last_error, started_at, updated_at, finished_at
		FROM sync_checkpoints
		WHERE tenant_id = $1`, tenantID).Scan(
		&cp.TenantID, &cp.RunID, &state, &cp.Cursor, &cp.PagesCommitted, &cp.ProductsUpserted, &cp.VariantsUpserted,
		&errorKind, &cp.LastError, &cp.StartedAt, &cp.UpdatedAt, &cp.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint of %s: %w", tenantID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageError("get checkpoint", err)
	}
	cp.State = domain.SyncState(state)
	cp.ErrorKind = domain.ErrorKind(errorKind)
	cp.StartedAt = cp.StartedAt.UTC()
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	if cp.FinishedAt != nil {
		t := cp.FinishedAt.UTC()
		cp.FinishedAt = &t
	}
	return &cp, nil
}

func (r *PostgresCatalogRepository) queryVariants(ctx context.Context, query string, args ...any) ([]domain.Variant, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list variants", err)
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, storageError("scan variants", err)
	}
	return variants, nil
}

func scanProduct(row pgx.CollectableRow) (domain.Product, error) {
	var (
		p                    domain.Product
		status               string
		imageURL, imageAlt   *string
		createdAt, updatedAt *time.Time
	)
	if err := row.Scan(&p.TenantID, &p.ExternalID, &p.Title, &p.Handle, &status, &p.Vendor, &p.ProductType,
		&imageURL, &imageAlt, &createdAt, &updatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Status = domain.ProductStatus(status)
	if imageURL != nil {
		p.PrimaryImage = &domain.MediaImage{URL: *imageURL, AltText: imageAlt}
	}
	p.CreatedAt = timeOrZero(createdAt)
	p.UpdatedAt = timeOrZero(updatedAt)
	return p, nil
}

func scanVariant(row pgx.CollectableRow) (domain.Variant, error) {
	var (
		v         domain.Variant
		createdAt *time.Time
	)
	if err := row.Scan(&v.TenantID, &v.ExternalID, &v.ProductExternalID, &v.Price, &v.Barcode, &v.SKU,
		&v.InventoryQuantity, &createdAt); err != nil {
		return domain.Variant{}, err
	}
	v.CreatedAt = timeOrZero(createdAt)
	return v, nil
}

// postgresCatalogWriter runs catalog writes on a pool or inside a transaction
type postgresCatalogWriter struct {
	db dbtx
}

const upsertProductSQL = `
	INSERT INTO products (tenant_id, external_id, title, handle, status, vendor, product_type,
	                      image_url, image_alt_text, created_at, updated_at, mirrored_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	ON CONFLICT (tenant_id, external_id) DO UPDATE SET
		title          = EXCLUDED.title,
		handle         = EXCLUDED.handle,
		status         = EXCLUDED.status,
		vendor         = EXCLUDED.vendor,
		product_type   = EXCLUDED.product_type,
		image_url      = EXCLUDED.image_url,
		image_alt_text = EXCLUDED.image_alt_text,
		created_at     = EXCLUDED.created_at,
		updated_at     = EXCLUDED.updated_at,
		mirrored_at    = EXCLUDED.mirrored_at
	WHERE (products.title, products.handle, products.status, products.vendor, products.product_type,
	       products.image_url, products.image_alt_text, products.created_at, products.updated_at)
	      IS DISTINCT FROM
	      (EXCLUDED.title, EXCLUDED.handle, EXCLUDED.status, EXCLUDED.vendor, EXCLUDED.product_type,
	       EXCLUDED.image_url, EXCLUDED.image_alt_text, EXCLUDED.created_at, EXCLUDED.updated_at)`

const upsertVariantSQL = `
	INSERT INTO variants (tenant_id, external_id, product_external_id, price, barcode, sku,
	                      inventory_quantity, created_at, mirrored_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (tenant_id, external_id) DO UPDATE SET
		product_external_id = EXCLUDED.product_external_id,
		price               = EXCLUDED.price,
		barcode             = EXCLUDED.barcode,
		sku                 = EXCLUDED.sku,
		inventory_quantity  = EXCLUDED.inventory_quantity,
		created_at          = EXCLUDED.created_at,
		mirrored_at         = EXCLUDED.mirrored_at
	WHERE (variants.product_external_id, variants.price, variants.barcode, variants.sku,
	       variants.inventory_quantity, variants.created_at)
	      IS DISTINCT FROM
	      (EXCLUDED.product_external_id, EXCLUDED.price, EXCLUDED.barcode, EXCLUDED.sku,
	       EXCLUDED.inventory_quantity, EXCLUDED.created_at)`

// UpsertProduct inserts the product or updates the columns that changed
func (w *postgresCatalogWriter) UpsertProduct(ctx context.Context, p domain.Product) error {
	var imageURL, imageAlt *string
	if p.PrimaryImage != nil {
		imageURL = &p.PrimaryImage.URL
		imageAlt = p.PrimaryImage.AltText
	}
	_, err := w.db.Exec(ctx, upsertProductSQL,
		p.TenantID, p.ExternalID, p.Title, p.Handle, string(p.Status), p.Vendor, p.ProductType,
		imageURL, imageAlt, nullTime(p.CreatedAt), nullTime(p.UpdatedAt),
	)
	if err != nil {
		return storageError("upsert product", err)
	}
	return nil
}

// UpsertVariants upserts the variants of one product in a single batch
func (w *postgresCatalogWriter) UpsertVariants(ctx context.Context, tenantID, productExternalID string, variants []domain.Variant) error {
	if len(variants) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range variants {
		batch.Queue(upsertVariantSQL,
			tenantID, v.ExternalID, productExternalID, v.Price, v.Barcode, v.SKU,
			v.InventoryQuantity, nullTime(v.CreatedAt),
		)
	}
	br := w.db.SendBatch(ctx, batch)
	for range variants {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return storageError("upsert variants", err)
		}
	}
	if err := br.Close(); err != nil {
		return storageError("upsert variants", err)
	}
	return nil
}

// DeleteProduct removes a product, its variants go with it
func (w *postgresCatalogWriter) DeleteProduct(ctx context.Context, tenantID, externalID string) error {
	tag, err := w.db.Exec(ctx, `DELETE FROM products WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID)
	if err != nil {
		return storageError("delete product", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", externalID, domain.ErrNotFound)
	}
	return nil
}

// DeleteVariants removes the listed variants of a shop
func (w *postgresCatalogWriter) DeleteVariants(ctx context.Context, tenantID string, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	tag, err := w.db.Exec(ctx, `DELETE FROM variants WHERE tenant_id = $1 AND external_id = ANY($2)`, tenantID, externalIDs)
	if err != nil {
		return 0, storageError("delete variants", err)
	}
	return int(tag.RowsAffected()), nil
}

// SaveCheckpoint replaces the sync checkpoint of a shop
func (w *postgresCatalogWriter) SaveCheckpoint(ctx context.Context, cp domain.SyncCheckpoint) error {
	_, err := w.db.Exec(ctx, `
		INSERT INTO sync_checkpoints (tenant_id, run_id, state, cursor, pages_committed, products_upserted,
		                              variants_upserted, error_kind, last_error, started_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id) DO UPDATE SET
			run_id            = EXCLUDED.run_id,
			state             = EXCLUDED.state,
			cursor            = EXCLUDED.cursor,
			pages_committed   = EXCLUDED.pages_committed,
			products_upserted = EXCLUDED.products_upserted,
			variants_upserted = EXCLUDED.variants_upserted,
			error_kind        = EXCLUDED.error_kind,
			last_error        = EXCLUDED.last_error,
			started_at        = EXCLUDED.started_at,
			updated_at        = EXCLUDED.updated_at,
			finished_at       = EXCLUDED.finished_at`,
		cp.TenantID, cp.RunID, string(cp.State), cp.Cursor, cp.PagesCommitted, cp.ProductsUpserted,
		cp.VariantsUpserted, string(cp.ErrorKind), cp.LastError, cp.StartedAt, cp.UpdatedAt, cp.FinishedAt,
	)
	if err != nil {
		return storageError("save checkpoint", err)
	}
	return nil
}
