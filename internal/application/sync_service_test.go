package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/normalizer"
	"shopify-catalog-mirror/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (h *syncHarness) twoPages() {
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(productPage("c1", rawProduct(gid("Product", 1), gid("ProductVariant", 11)), rawProduct(gid("Product", 2), gid("ProductVariant", 21), gid("ProductVariant", 22))), nil)
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor("c1"), 2).
		Return(productPage("", rawProduct(gid("Product", 3))), nil)
}

func TestSyncService_RunMirrorsEveryPage(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.twoPages()

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateCompleted, run.State)
	assert.Equal(t, 2, run.Pages)
	assert.Equal(t, 3, run.ProductsUpserted)
	assert.Equal(t, 3, run.VariantsUpserted)
	assert.Nil(t, run.Cursor)

	products, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	require.Len(t, products, 3)
	assert.Len(t, products[1].Variants, 2)

	cp, err := h.catalog.GetCheckpoint(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateCompleted, cp.State)
	assert.Nil(t, cp.Cursor)
	assert.False(t, cp.Resumable())

	assert.Equal(t, []domain.SyncState{
		domain.SyncStateAuthenticating,
		domain.SyncStateFetchingPage, domain.SyncStateNormalizing, domain.SyncStateUpserting,
		domain.SyncStateFetchingPage, domain.SyncStateNormalizing, domain.SyncStateUpserting,
		domain.SyncStateCompleted,
	}, h.observer.states())
	assert.Len(t, h.observer.pages, 2)
	assert.False(t, h.locker.Held(testShop))
	h.client.AssertExpectations(t)
}

func TestSyncService_RepeatedRunIsIdempotent(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.twoPages()

	_, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	first, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	changes := h.catalog.Changes()

	_, err = h.svc.Run(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	second, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, changes, h.catalog.Changes(), "unchanged rows are not rewritten")
}

func TestSyncService_ResumesAfterTransientFailure(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(productPage("c1", rawProduct(gid("Product", 1), gid("ProductVariant", 11))), nil).Once()
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor("c1"), 2).
		Return(nil, domain.ErrTransient).Times(3)

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	var syncErr *domain.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, domain.ErrorKindTransient, syncErr.Kind)
	require.NotNil(t, syncErr.Cursor)
	assert.Equal(t, "c1", *syncErr.Cursor)
	assert.Equal(t, domain.SyncStateFailed, run.State)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, h.sleeps)

	products, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	assert.Len(t, products, 1, "page 1 stays committed")

	cp, err := h.catalog.GetCheckpoint(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateFailed, cp.State)
	assert.Equal(t, domain.ErrorKindTransient, cp.ErrorKind)
	assert.True(t, cp.Resumable())

	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor("c1"), 2).
		Return(productPage("", rawProduct(gid("Product", 2))), nil).Once()

	resumed, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	require.NotNil(t, resumed.ResumedFrom)
	assert.Equal(t, "c1", *resumed.ResumedFrom)
	assert.Equal(t, 1, resumed.Pages)

	products, err = h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	assert.Len(t, products, 2)
	h.client.AssertNumberOfCalls(t, "FetchProductPage", 5)
}

func TestSyncService_FromScratchIgnoresCheckpoint(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	require.NoError(t, h.catalog.SaveCheckpoint(context.Background(), domain.SyncCheckpoint{
		TenantID: testShop,
		State:    domain.SyncStateFailed,
		Cursor:   strPtr("stale"),
	}))
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(productPage(""), nil).Once()

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{FromScratch: true})
	require.NoError(t, err)
	assert.Nil(t, run.ResumedFrom)
	h.client.AssertExpectations(t)
}

func TestSyncService_RateLimitedPageIsRetried(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(nil, &domain.RateLimitedError{RetryAfter: 2 * time.Second}).Once()
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(productPage("", rawProduct(gid("Product", 1))), nil).Once()

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateCompleted, run.State)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps, "retry-after is capped by the max backoff")
	require.Len(t, h.observer.pages, 1)
	assert.Equal(t, 2, h.observer.pages[0].Attempts)
}

func TestSyncService_AuthExpiredNeedsReauthorization(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(nil, domain.ErrAuthExpired).Once()

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrNeedsReauthorization)
	assert.Equal(t, domain.ErrorKindNeedsReauthorization, run.ErrorKind)
	assert.Empty(t, h.sleeps, "auth failures are not retried")
	h.client.AssertExpectations(t)
}

func TestSyncService_NoCredential(t *testing.T) {
	h := newSyncHarness(t)

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrNoCredential)
	assert.Equal(t, domain.ErrorKindNoCredential, run.ErrorKind)
	h.client.AssertNotCalled(t, "FetchProductPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_OnlineCredentialIsNotUsed(t *testing.T) {
	h := newSyncHarness(t)
	expires := time.Now().Add(time.Hour)
	_, err := h.credentials.Put(context.Background(), domain.Credential{
		SessionID:   "online-1",
		TenantID:    testShop,
		AccessToken: "shpua_online",
		IsOnline:    true,
		ExpiresAt:   &expires,
	})
	require.NoError(t, err)

	_, err = h.svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrNoCredential)
}

func TestSyncService_MalformedPageIsNotCommitted(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	broken := rawProduct(gid("Product", 2))
	broken.Variants = &normalizer.Connection[normalizer.RawVariant]{}
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(productPage("c1", rawProduct(gid("Product", 1)), broken), nil).Once()

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrMalformed)
	assert.Equal(t, domain.ErrorKindMalformed, run.ErrorKind)

	products, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, 0, h.catalog.Changes())
}

func TestSyncService_StorageFailureKeepsLastCommittedPage(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.twoPages()
	catalog := &failingCatalog{MemoryCatalogRepository: h.catalog, failOn: 2}
	svc := h.newService(catalog)

	run, err := svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, domain.ErrorKindStorageUnavailable, run.ErrorKind)
	require.NotNil(t, run.Cursor)
	assert.Equal(t, "c1", *run.Cursor)

	products, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestSyncService_VariantsReferenceCommittedProducts(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.twoPages()

	_, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)

	ids, err := h.catalog.ListProductIDs(context.Background(), testShop)
	require.NoError(t, err)
	for _, id := range ids {
		p, err := h.catalog.GetProduct(context.Background(), testShop, id)
		require.NoError(t, err)
		for _, v := range p.Variants {
			assert.Equal(t, id, v.ProductExternalID)
		}
	}
}

func TestSyncService_CancellationStopsBeforeNextPage(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	ctx, cancel := context.WithCancel(context.Background())
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Run(func(mock.Arguments) { cancel() }).
		Return(productPage("c1", rawProduct(gid("Product", 1))), nil).Once()

	run, err := h.svc.Run(ctx, testShop, SyncOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.ErrorKindCanceled, run.ErrorKind)
	assert.Equal(t, 1, run.Pages, "the fetched page is still committed")

	cp, err := h.catalog.GetCheckpoint(context.Background(), testShop)
	require.NoError(t, err)
	require.NotNil(t, cp.Cursor)
	assert.Equal(t, "c1", *cp.Cursor)
	h.client.AssertNumberOfCalls(t, "FetchProductPage", 1)
}

func TestSyncService_ConcurrentRunIsRejected(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Run(func(mock.Arguments) {
			close(entered)
			<-proceed
		}).
		Return(productPage(""), nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = h.svc.Run(context.Background(), testShop, SyncOptions{})
	}()

	<-entered
	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	assert.Nil(t, run)
	assert.ErrorIs(t, err, domain.ErrConcurrentSyncInProgress)

	_, err = h.svc.Start(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrConcurrentSyncInProgress)

	close(proceed)
	wg.Wait()
	assert.NoError(t, firstErr)
}

func TestSyncService_StartRunsInBackground(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.twoPages()

	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.svc.Start(ctx, testShop, SyncOptions{})
	require.NoError(t, err)
	cancel()
	assert.Equal(t, domain.SyncStateIdle, run.State)
	assert.NotEmpty(t, run.ID)

	require.Eventually(t, func() bool {
		cp, err := h.svc.Status(context.Background(), testShop)
		return err == nil && cp.RunID == run.ID && cp.State == domain.SyncStateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, h.svc.Shutdown(shutdownCtx))

	products, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	assert.Len(t, products, 3)
	assert.False(t, h.locker.Held(testShop))
}

func TestSyncService_StartReturnsSnapshot(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Run(func(mock.Arguments) {
			close(entered)
			<-proceed
		}).
		Return(productPage("", rawProduct(gid("Product", 1), gid("ProductVariant", 11))), nil).Once()

	run, err := h.svc.Start(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	<-entered

	// the background run has moved on while the returned copy stays as started
	assert.Equal(t, domain.SyncStateIdle, run.State)
	assert.Zero(t, run.Pages)
	assert.Nil(t, run.Cursor)

	close(proceed)
	require.Eventually(t, func() bool {
		cp, err := h.svc.Status(context.Background(), testShop)
		return err == nil && cp.RunID == run.ID && cp.State == domain.SyncStateCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.svc.Shutdown(context.Background()))
	assert.Equal(t, domain.SyncStateIdle, run.State)
	assert.Zero(t, run.Pages)
}

func TestSyncService_LostLeaseFailsRun(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.twoPages()
	locker := &countingLocker{SyncLocker: h.locker, failOn: 1}
	svc := h.newServiceWithLocker(h.catalog, locker)

	run, err := svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, domain.SyncStateFailed, run.State)
	assert.Equal(t, domain.ErrorKindTransient, run.ErrorKind)
	assert.Equal(t, 1, run.Pages)

	cp, err := h.catalog.GetCheckpoint(context.Background(), testShop)
	require.NoError(t, err)
	require.NotNil(t, cp.Cursor)
	assert.Equal(t, "c1", *cp.Cursor)
	assert.True(t, cp.Resumable())

	products, err := h.catalog.ListProducts(context.Background(), testShop)
	require.NoError(t, err)
	assert.Len(t, products, 2, "page 1 stays committed")
	h.client.AssertNumberOfCalls(t, "FetchProductPage", 1)
	assert.False(t, h.locker.Held(testShop))
}

func TestSyncService_MalformedPaginationFailsRun(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Return(productPage("c1", rawProduct(gid("Product", 1))), nil).Once()
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor("c1"), 2).
		Return(nil, fmt.Errorf("%w: products: hasNextPage without a cursor", domain.ErrMalformed)).Once()

	run, err := h.svc.Run(context.Background(), testShop, SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrMalformed)
	assert.Equal(t, domain.SyncStateFailed, run.State)
	assert.Equal(t, domain.ErrorKindMalformed, run.ErrorKind)

	cp, err := h.catalog.GetCheckpoint(context.Background(), testShop)
	require.NoError(t, err)
	assert.NotEqual(t, domain.SyncStateCompleted, cp.State)
	require.NotNil(t, cp.Cursor)
	assert.Equal(t, "c1", *cp.Cursor)
	h.client.AssertNumberOfCalls(t, "FetchProductPage", 2)
	assert.Empty(t, h.sleeps, "malformed pages are not retried")
}

func TestSyncService_CancelStopsRunningSync(t *testing.T) {
	h := newSyncHarness(t)
	putOffline(t, h.credentials, testShop)

	entered := make(chan struct{})
	h.client.On("FetchProductPage", mock.Anything, mock.Anything, atCursor(""), 2).
		Run(func(args mock.Arguments) {
			close(entered)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, errors.New("canceled")).Once()

	_, err := h.svc.Start(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	<-entered
	assert.True(t, h.svc.Cancel(testShop))

	require.NoError(t, h.svc.Shutdown(context.Background()))
	cp, err := h.svc.Status(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorKindCanceled, cp.ErrorKind)
	assert.False(t, h.svc.Cancel(testShop))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(10))

	_, retryable := p.delay(1, domain.ErrMalformed)
	assert.False(t, retryable)
}

var _ ports.SyncObserver = (*recordingObserver)(nil)
