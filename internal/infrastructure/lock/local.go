package lock

import (
	"context"
	"fmt"
	"sync"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"
)

// LocalLocker grants per-shop leases within this process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLease
}

var _ ports.SyncLocker = (*LocalLocker)(nil)

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLease)}
}

func (l *LocalLocker) Acquire(_ context.Context, tenantID string) (ports.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[tenantID]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentSyncInProgress, tenantID)
	}
	lease := &localLease{locker: l, tenantID: tenantID}
	l.held[tenantID] = lease
	return lease, nil
}

// Held reports whether tenantID is currently locked
func (l *LocalLocker) Held(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[tenantID]
	return ok
}

type localLease struct {
	locker   *LocalLocker
	tenantID string
}

func (le *localLease) Refresh(context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()
	if le.locker.held[le.tenantID] != le {
		return fmt.Errorf("lease for %s lost", le.tenantID)
	}
	return nil
}

func (le *localLease) Release(context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()
	if le.locker.held[le.tenantID] == le {
		delete(le.locker.held, le.tenantID)
	}
	return nil
}
