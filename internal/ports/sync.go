package ports

import (
	"context"

	"shopify-catalog-mirror/internal/domain"
)

// Lease is a held per-shop sync lock
type Lease interface {
	// Refresh extends the lease, failing when it was lost
	Refresh(ctx context.Context) error
	// Release gives the lock up. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// SyncLocker grants at most one lease per shop at a time
type SyncLocker interface {
	// Acquire returns domain.ErrConcurrentSyncInProgress when the shop is already locked
	Acquire(ctx context.Context, tenantID string) (Lease, error)
}

// SyncObserver receives sync run notifications. Implementations must not block.
type SyncObserver interface {
	OnTransition(event domain.SyncEvent)
	OnPageCommitted(run domain.SyncRun, stats domain.PageStats)
}
