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

// ReconcileService prunes local products and variants that no longer exist remotely
type ReconcileService struct {
	credentials CredentialSource
	client      ports.CatalogClient
	catalog     ports.CatalogRepository
	locker      ports.SyncLocker
	retry       RetryPolicy
	pageSize    int
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewReconcileService creates a reconciler sharing the sync lock of the sync engine
func NewReconcileService(
	credentials CredentialSource,
	client ports.CatalogClient,
	catalog ports.CatalogRepository,
	locker ports.SyncLocker,
	retry RetryPolicy,
	pageSize int,
	logger zerolog.Logger,
) *ReconcileService {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &ReconcileService{
		credentials: credentials,
		client:      client,
		catalog:     catalog,
		locker:      locker,
		retry:       retry,
		pageSize:    pageSize,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Reconcile enumerates the shop's remote ids and, only when the enumeration completes, deletes
// local records missing from it. Variants are pruned only for products whose remote variant list
// was complete.
func (s *ReconcileService) Reconcile(ctx context.Context, tenantID string) (*domain.ReconcileResult, error) {
	lease, err := s.locker.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Str("shop", tenantID).Msg("Failed to release sync lock")
		}
	}()

	credential, err := s.credentials.GetOffline(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	remote, err := s.remoteIndex(ctx, lease, *credential)
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			err = fmt.Errorf("%w: %w", domain.ErrNeedsReauthorization, err)
		}
		return nil, fmt.Errorf("failed to enumerate remote catalog: %w", err)
	}

	localIDs, err := s.catalog.ListProductIDs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &domain.ReconcileResult{
		TenantID:       tenantID,
		RemoteProducts: len(remote),
		LocalProducts:  len(localIDs),
	}

	var staleProducts []string
	staleVariants := make(map[string][]string)
	for _, id := range localIDs {
		entry, ok := remote[id]
		if !ok {
			staleProducts = append(staleProducts, id)
			continue
		}
		if !entry.VariantsComplete {
			continue
		}
		variantIDs, err := s.catalog.ListVariantIDs(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		keep := make(map[string]bool, len(entry.VariantIDs))
		for _, v := range entry.VariantIDs {
			keep[v] = true
		}
		for _, v := range variantIDs {
			if !keep[v] {
				staleVariants[id] = append(staleVariants[id], v)
			}
		}
	}

	for _, id := range staleProducts {
		variantIDs, err := s.catalog.ListVariantIDs(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		result.DeletedVariants += len(variantIDs)
	}

	txCtx := context.WithoutCancel(ctx)
	err = s.catalog.WithinTx(txCtx, func(tx ports.CatalogWriter) error {
		for _, id := range staleProducts {
			if err := tx.DeleteProduct(txCtx, tenantID, id); err != nil {
				return err
			}
		}
		for _, ids := range staleVariants {
			n, err := tx.DeleteVariants(txCtx, tenantID, ids)
			if err != nil {
				return err
			}
			result.DeletedVariants += n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prune catalog: %w", err)
	}
	result.DeletedProducts = len(staleProducts)

	s.logger.Info().
		Str("shop", tenantID).
		Int("remoteProducts", result.RemoteProducts).
		Int("deletedProducts", result.DeletedProducts).
		Int("deletedVariants", result.DeletedVariants).
		Msg("Catalog reconciled")
	return result, nil
}

// remoteIndex enumerates every remote product, refreshing lease after each page so the
// shop stays locked until the prune transaction
func (s *ReconcileService) remoteIndex(ctx context.Context, lease ports.Lease, credential domain.Credential) (map[string]ports.CatalogIndexEntry, error) {
	index := make(map[string]ports.CatalogIndexEntry)
	var cursor *string
	for {
		page, err := s.fetchIndexPage(ctx, credential, cursor)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			if _, seen := index[e.ProductID]; !seen {
				index[e.ProductID] = e
			}
		}
		if err := lease.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		if page.NextCursor == nil {
			return index, nil
		}
		cursor = page.NextCursor
	}
}

func (s *ReconcileService) fetchIndexPage(ctx context.Context, credential domain.Credential, cursor *string) (*ports.CatalogIndexPage, error) {
	for attempt := 1; ; attempt++ {
		page, err := s.client.FetchCatalogIndex(ctx, credential, cursor, s.pageSize)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		wait, retryable := s.retry.delay(attempt, err)
		if !retryable || attempt >= s.retry.MaxAttempts {
			return nil, err
		}
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}
