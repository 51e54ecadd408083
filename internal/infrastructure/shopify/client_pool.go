package shopify

import (
	"fmt"
	"net/http"
	"sync"

	"shopify-catalog-mirror/internal/domain"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"
)

// ClientPool caches one go-shopify client per credential session
type ClientPool struct {
	mu         sync.Mutex
	clients    map[string]pooledClient
	app        goshopify.App
	apiVersion string
	httpClient *http.Client
	logger     zerolog.Logger
}

type pooledClient struct {
	token  string
	client *goshopify.Client
}

// NewClientPool creates a pool building clients for apiVersion over httpClient
func NewClientPool(app goshopify.App, apiVersion string, httpClient *http.Client, logger zerolog.Logger) *ClientPool {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientPool{
		clients:    make(map[string]pooledClient),
		app:        app,
		apiVersion: apiVersion,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Get returns the client of a credential, rebuilding it when the token changed
func (p *ClientPool) Get(credential domain.Credential) (*goshopify.Client, error) {
	key := credential.SessionID
	if key == "" {
		key = domain.OfflineSessionID(credential.TenantID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[key]; ok && pc.token == credential.AccessToken {
		return pc.client, nil
	}

	client, err := goshopify.NewClient(p.app, credential.TenantID, credential.AccessToken,
		goshopify.WithVersion(p.apiVersion),
		goshopify.WithHTTPClient(p.httpClient),
		goshopify.WithRetry(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	p.clients[key] = pooledClient{token: credential.AccessToken, client: client}
	p.logger.Debug().Str("shop", credential.TenantID).Bool("isOnline", credential.IsOnline).Msg("Created Shopify client")
	return client, nil
}

// Evict drops the cached client of a session
func (p *ClientPool) Evict(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, sessionID)
}

// Size returns the number of cached clients
func (p *ClientPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
