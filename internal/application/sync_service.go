package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/normalizer"
	"shopify-catalog-mirror/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CredentialSource supplies decrypted offline credentials for unattended work
type CredentialSource interface {
	GetOffline(ctx context.Context, tenantID string) (*domain.Credential, error)
}

// SyncOptions tunes one sync run
type SyncOptions struct {
	// FromScratch ignores the cursor of a previous failed run
	FromScratch bool
}

// SyncService mirrors a shop's remote catalog into the local store one page at a time
type SyncService struct {
	credentials CredentialSource
	client      ports.CatalogClient
	catalog     ports.CatalogRepository
	locker      ports.SyncLocker
	observers   []ports.SyncObserver
	retry       RetryPolicy
	pageSize    int
	logger      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncService creates a sync engine. pageSize 0 uses the client default.
func NewSyncService(
	credentials CredentialSource,
	client ports.CatalogClient,
	catalog ports.CatalogRepository,
	locker ports.SyncLocker,
	retry RetryPolicy,
	pageSize int,
	logger zerolog.Logger,
	observers ...ports.SyncObserver,
) *SyncService {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &SyncService{
		credentials: credentials,
		client:      client,
		catalog:     catalog,
		locker:      locker,
		observers:   observers,
		retry:       retry,
		pageSize:    pageSize,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
		active:      make(map[string]context.CancelFunc),
	}
}

// Run syncs tenantID and blocks until the run ends. It returns domain.ErrConcurrentSyncInProgress
// without starting a run when the shop is locked, and a *domain.SyncError when the run fails.
func (s *SyncService) Run(ctx context.Context, tenantID string, opts SyncOptions) (*domain.SyncRun, error) {
	lease, err := s.locker.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease, tenantID)

	ctx, done := s.track(ctx, tenantID)
	defer done()

	return s.execute(ctx, lease, s.newRun(tenantID), opts)
}

// Start acquires the shop's lock and runs the sync in the background. The run outlives ctx
// and stops on Cancel or Shutdown.
func (s *SyncService) Start(ctx context.Context, tenantID string, opts SyncOptions) (*domain.SyncRun, error) {
	lease, err := s.locker.Acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	run := s.newRun(tenantID)
	snapshot := *run
	runCtx, done := s.track(context.WithoutCancel(ctx), tenantID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(runCtx, lease, tenantID)
		defer done()
		_, _ = s.execute(runCtx, lease, run, opts)
	}()

	return &snapshot, nil
}

// Cancel stops the shop's running sync before its next page, reporting whether one was running
func (s *SyncService) Cancel(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.active[tenantID]
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every running sync and waits for background runs to finish or ctx to end
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the persisted checkpoint of the shop's latest run
func (s *SyncService) Status(ctx context.Context, tenantID string) (*domain.SyncCheckpoint, error) {
	return s.catalog.GetCheckpoint(ctx, tenantID)
}

func (s *SyncService) newRun(tenantID string) *domain.SyncRun {
	return &domain.SyncRun{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		State:     domain.SyncStateIdle,
		StartedAt: s.now().UTC(),
	}
}

func (s *SyncService) track(ctx context.Context, tenantID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.active[tenantID] = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		delete(s.active, tenantID)
		s.mu.Unlock()
		cancel()
	}
}

func (s *SyncService) release(ctx context.Context, lease ports.Lease, tenantID string) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Str("shop", tenantID).Msg("Failed to release sync lock")
	}
}

func (s *SyncService) execute(ctx context.Context, lease ports.Lease, run *domain.SyncRun, opts SyncOptions) (*domain.SyncRun, error) {
	if err := s.transition(run, domain.SyncStateAuthenticating); err != nil {
		return run, err
	}

	checkpoint, err := s.catalog.GetCheckpoint(ctx, run.TenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return s.fail(ctx, run, err)
	case !opts.FromScratch && checkpoint.Resumable():
		run.Cursor = checkpoint.Cursor
		run.ResumedFrom = checkpoint.Cursor
	}

	credential, err := s.credentials.GetOffline(ctx, run.TenantID)
	if err != nil {
		return s.fail(ctx, run, err)
	}

	for {
		if err := s.transition(run, domain.SyncStateFetchingPage); err != nil {
			return s.fail(ctx, run, err)
		}
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, run, err)
		}

		started := s.now()
		page, attempts, err := s.fetchPage(ctx, *credential, run.Cursor)
		if err != nil {
			return s.fail(ctx, run, err)
		}

		if err := s.transition(run, domain.SyncStateNormalizing); err != nil {
			return s.fail(ctx, run, err)
		}
		products, err := normalizer.NormalizePage(run.TenantID, page.Nodes)
		if err != nil {
			return s.fail(ctx, run, fmt.Errorf("%w: %w", domain.ErrMalformed, err))
		}

		if err := s.transition(run, domain.SyncStateUpserting); err != nil {
			return s.fail(ctx, run, err)
		}
		stats, err := s.commitPage(ctx, run, products, page.NextCursor)
		if err != nil {
			return s.fail(ctx, run, err)
		}
		stats.Attempts = attempts
		stats.Duration = s.now().Sub(started)
		for _, o := range s.observers {
			o.OnPageCommitted(*run, stats)
		}

		if page.NextCursor == nil {
			break
		}
		if err := lease.Refresh(ctx); err != nil {
			return s.fail(ctx, run, fmt.Errorf("%w: %w", domain.ErrTransient, err))
		}
	}

	return s.complete(ctx, run)
}

// fetchPage fetches one page, retrying transient failures and throttles within the retry policy
func (s *SyncService) fetchPage(ctx context.Context, credential domain.Credential, cursor *string) (*ports.ProductPage, int, error) {
	for attempt := 1; ; attempt++ {
		page, err := s.client.FetchProductPage(ctx, credential, cursor, s.pageSize)
		if err == nil {
			return page, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, ctxErr
		}
		wait, retryable := s.retry.delay(attempt, err)
		if !retryable || attempt >= s.retry.MaxAttempts {
			return nil, attempt, err
		}

		s.logger.Warn().
			Err(err).
			Str("shop", credential.TenantID).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Retrying product page")
		if err := s.sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
}

// commitPage writes the products, their variants and the advanced checkpoint in one transaction.
// The transaction ignores cancellation of ctx.
func (s *SyncService) commitPage(ctx context.Context, run *domain.SyncRun, products []domain.Product, next *string) (domain.PageStats, error) {
	advanced := *run
	advanced.Cursor = next
	advanced.Pages++

	stats := domain.PageStats{Products: len(products)}
	for _, p := range products {
		stats.Variants += len(p.Variants)
	}
	advanced.ProductsUpserted += stats.Products
	advanced.VariantsUpserted += stats.Variants

	txCtx := context.WithoutCancel(ctx)
	err := s.catalog.WithinTx(txCtx, func(tx ports.CatalogWriter) error {
		for _, p := range products {
			if err := tx.UpsertProduct(txCtx, p); err != nil {
				return err
			}
			if err := tx.UpsertVariants(txCtx, p.TenantID, p.ExternalID, p.Variants); err != nil {
				return err
			}
		}
		return tx.SaveCheckpoint(txCtx, advanced.Checkpoint(s.now().UTC()))
	})
	if err != nil {
		return stats, fmt.Errorf("failed to commit page %d: %w", advanced.Pages, err)
	}

	run.Cursor = advanced.Cursor
	run.Pages = advanced.Pages
	run.ProductsUpserted = advanced.ProductsUpserted
	run.VariantsUpserted = advanced.VariantsUpserted
	return stats, nil
}

func (s *SyncService) complete(ctx context.Context, run *domain.SyncRun) (*domain.SyncRun, error) {
	finished := s.now().UTC()
	run.Cursor = nil
	run.FinishedAt = &finished
	checkpoint := run.Checkpoint(finished)
	checkpoint.State = domain.SyncStateCompleted
	if err := s.catalog.SaveCheckpoint(context.WithoutCancel(ctx), checkpoint); err != nil {
		return s.fail(ctx, run, fmt.Errorf("failed to save final checkpoint: %w", err))
	}
	if err := s.transition(run, domain.SyncStateCompleted); err != nil {
		return run, err
	}
	return run, nil
}

// fail ends the run, keeping the cursor of the last committed page for the next run
func (s *SyncService) fail(ctx context.Context, run *domain.SyncRun, err error) (*domain.SyncRun, error) {
	if errors.Is(err, domain.ErrAuthExpired) {
		err = fmt.Errorf("%w: %w", domain.ErrNeedsReauthorization, err)
	}
	finished := s.now().UTC()
	run.ErrorKind = domain.ClassifyError(err)
	run.LastError = err.Error()
	run.FinishedAt = &finished

	if tErr := s.transition(run, domain.SyncStateFailed); tErr != nil {
		s.logger.Error().Err(tErr).Str("runId", run.ID).Msg("Failed to mark sync run failed")
	}
	if cpErr := s.catalog.SaveCheckpoint(context.WithoutCancel(ctx), run.Checkpoint(finished)); cpErr != nil {
		s.logger.Error().
			Err(cpErr).
			Str("shop", run.TenantID).
			Str("runId", run.ID).
			Msg("Failed to save checkpoint of failed sync")
	}

	return run, &domain.SyncError{
		Kind:     run.ErrorKind,
		RunID:    run.ID,
		TenantID: run.TenantID,
		Cursor:   run.Cursor,
		Err:      err,
	}
}

func (s *SyncService) transition(run *domain.SyncRun, to domain.SyncState) error {
	from := run.State
	if err := run.Transition(to); err != nil {
		return err
	}
	event := domain.SyncEvent{
		RunID:    run.ID,
		TenantID: run.TenantID,
		From:     from,
		To:       to,
		Run:      *run,
		At:       s.now().UTC(),
	}
	for _, o := range s.observers {
		o.OnTransition(event)
	}
	return nil
}
