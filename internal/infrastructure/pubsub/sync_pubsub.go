package pubsub

import (
	"context"
	"fmt"
	"sync"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"

	"github.com/rs/zerolog"
)

const subscriptionBuffer = 32

// SyncEventChannel represents a subscription channel
type SyncEventChannel struct {
	ID     string
	Filter *SyncEventFilter
	Events chan domain.SyncEvent
	Done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// SyncEventFilter filters sync events
type SyncEventFilter struct {
	Shop   string             // Filter by shop domain
	States []domain.SyncState // Filter by target state
}

// SyncPubSub fans sync transitions out to subscribers such as the SSE endpoint
type SyncPubSub struct {
	mu       sync.RWMutex
	channels map[string]*SyncEventChannel
	logger   zerolog.Logger
	nextID   int64
	idMu     sync.Mutex
}

var _ ports.SyncObserver = (*SyncPubSub)(nil)

// NewSyncPubSub creates a new sync event pub/sub system
func NewSyncPubSub(logger zerolog.Logger) *SyncPubSub {
	return &SyncPubSub{
		channels: make(map[string]*SyncEventChannel),
		logger:   logger,
	}
}

// Subscribe creates a subscription that lives until ctx is done or Unsubscribe is called
func (ps *SyncPubSub) Subscribe(ctx context.Context, filter *SyncEventFilter) *SyncEventChannel {
	ps.idMu.Lock()
	id := ps.generateID()
	ps.idMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)

	channel := &SyncEventChannel{
		ID:     id,
		Filter: filter,
		Events: make(chan domain.SyncEvent, subscriptionBuffer),
		Done:   make(chan struct{}),
		ctx:    subCtx,
		cancel: cancel,
	}

	ps.mu.Lock()
	ps.channels[id] = channel
	ps.mu.Unlock()

	ps.logger.Debug().
		Str("channelId", id).
		Interface("filter", filter).
		Msg("Sync event subscription created")

	go func() {
		<-subCtx.Done()
		ps.Unsubscribe(id)
	}()

	return channel
}

// Unsubscribe removes a subscription channel and closes it
func (ps *SyncPubSub) Unsubscribe(channelID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	channel, exists := ps.channels[channelID]
	if !exists {
		return
	}

	close(channel.Events)
	close(channel.Done)
	channel.cancel()
	delete(ps.channels, channelID)

	ps.logger.Debug().
		Str("channelId", channelID).
		Msg("Sync event subscription removed")
}

// Publish broadcasts an event to all matching subscribers without blocking
func (ps *SyncPubSub) Publish(event domain.SyncEvent) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	publishedCount := 0
	for _, channel := range ps.channels {
		if !matchesFilter(event, channel.Filter) {
			continue
		}
		select {
		case channel.Events <- event:
			publishedCount++
		default:
			ps.logger.Warn().
				Str("channelId", channel.ID).
				Str("runId", event.RunID).
				Msg("Channel buffer full, dropping event")
		}
	}

	if publishedCount > 0 {
		ps.logger.Debug().
			Str("shop", event.TenantID).
			Str("state", string(event.To)).
			Int("subscribers", publishedCount).
			Msg("Published sync event to subscribers")
	}
}

// OnTransition publishes every state transition
func (ps *SyncPubSub) OnTransition(event domain.SyncEvent) {
	ps.Publish(event)
}

// OnPageCommitted is a no-op, page progress travels with the next transition
func (ps *SyncPubSub) OnPageCommitted(domain.SyncRun, domain.PageStats) {}

// Subscribers returns the number of active subscriptions
func (ps *SyncPubSub) Subscribers() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.channels)
}

func matchesFilter(event domain.SyncEvent, filter *SyncEventFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Shop != "" && event.TenantID != filter.Shop {
		return false
	}
	if len(filter.States) == 0 {
		return true
	}
	for _, s := range filter.States {
		if event.To == s {
			return true
		}
	}
	return false
}

func (ps *SyncPubSub) generateID() string {
	ps.nextID++
	return fmt.Sprintf("channel-%d", ps.nextID)
}
