package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func offlineCredential(shop, token string) *domain.Credential {
	return &domain.Credential{
		SessionID:   domain.OfflineSessionID(shop),
		TenantID:    shop,
		AccessToken: token,
		Scopes:      []string{"read_products"},
	}
}

func onlineCredential(shop, session, token string, expires time.Time) *domain.Credential {
	userID := int64(7)
	return &domain.Credential{
		SessionID:   session,
		TenantID:    shop,
		AccessToken: token,
		Scopes:      []string{"read_products"},
		IsOnline:    true,
		ExpiresAt:   &expires,
		UserID:      &userID,
	}
}

func runCredentialRepositoryContract(t *testing.T, newRepo func(t *testing.T) ports.CredentialRepository) {
	ctx := context.Background()

	t.Run("offline slot is replaced", func(t *testing.T) {
		repo := newRepo(t)
		shop := uniqueTenant()
		require.NoError(t, repo.Put(ctx, offlineCredential(shop, "first")))
		require.NoError(t, repo.Put(ctx, offlineCredential(shop, "second")))

		got, err := repo.Get(ctx, domain.OfflineSessionID(shop))
		require.NoError(t, err)
		assert.Equal(t, "second", got.AccessToken)

		all, err := repo.ListByTenant(ctx, shop)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("online credentials coexist", func(t *testing.T) {
		repo := newRepo(t)
		shop := uniqueTenant()
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, repo.Put(ctx, offlineCredential(shop, "offline")))
		require.NoError(t, repo.Put(ctx, onlineCredential(shop, "s1-"+shop, "one", expires)))
		require.NoError(t, repo.Put(ctx, onlineCredential(shop, "s2-"+shop, "two", expires)))

		all, err := repo.ListByTenant(ctx, shop)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		got, err := repo.Get(ctx, "s1-"+shop)
		require.NoError(t, err)
		assert.True(t, got.IsOnline)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, expires.Equal(*got.ExpiresAt))
		require.NotNil(t, got.UserID)
		assert.Equal(t, int64(7), *got.UserID)
	})

	t.Run("session of another shop is rejected", func(t *testing.T) {
		repo := newRepo(t)
		owner, other := uniqueTenant(), uniqueTenant()
		session := "shared-" + owner
		expires := time.Now().Add(time.Hour)
		require.NoError(t, repo.Put(ctx, onlineCredential(owner, session, "owner", expires)))

		err := repo.Put(ctx, onlineCredential(other, session, "intruder", expires))
		assert.ErrorIs(t, err, domain.ErrInvalidCredential)

		got, err := repo.Get(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, owner, got.TenantID)
		assert.Equal(t, "owner", got.AccessToken)

		moved, err := repo.ListByTenant(ctx, other)
		require.NoError(t, err)
		assert.Empty(t, moved)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		shop := uniqueTenant()
		require.NoError(t, repo.Put(ctx, offlineCredential(shop, "offline")))
		require.NoError(t, repo.Put(ctx, onlineCredential(shop, "s1-"+shop, "one", time.Now().Add(time.Hour))))

		require.NoError(t, repo.Delete(ctx, "s1-"+shop))
		assert.ErrorIs(t, repo.Delete(ctx, "s1-"+shop), domain.ErrNotFound)
		_, err := repo.Get(ctx, "s1-"+shop)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		n, err := repo.DeleteByTenant(ctx, shop)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("offline tenants", func(t *testing.T) {
		repo := newRepo(t)
		a, b := uniqueTenant(), uniqueTenant()
		require.NoError(t, repo.Put(ctx, offlineCredential(a, "a")))
		require.NoError(t, repo.Put(ctx, onlineCredential(b, "s-"+b, "b", time.Now().Add(time.Hour))))

		shops, err := repo.ListOfflineTenants(ctx)
		require.NoError(t, err)
		assert.Contains(t, shops, a)
		assert.NotContains(t, shops, b)
	})
}

func TestMemoryCredentialRepository(t *testing.T) {
	runCredentialRepositoryContract(t, func(t *testing.T) ports.CredentialRepository {
		return NewMemoryCredentialRepository()
	})
}

func TestMemoryCredentialRepository_KeepsCreatedAt(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return t0 })
	require.NoError(t, repo.Put(context.Background(), offlineCredential("demo.myshopify.com", "a")))

	repo.SetClock(func() time.Time { return t0.Add(time.Hour) })
	require.NoError(t, repo.Put(context.Background(), offlineCredential("demo.myshopify.com", "b")))

	got, err := repo.Get(context.Background(), domain.OfflineSessionID("demo.myshopify.com"))
	require.NoError(t, err)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
}

func TestPostgresCredentialRepository(t *testing.T) {
	pool := postgresTestPool(t)
	runCredentialRepositoryContract(t, func(t *testing.T) ports.CredentialRepository {
		return NewPostgresCredentialRepository(pool)
	})
}

func TestMongoCredentialRepository(t *testing.T) {
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	db := client.Database("catalog_mirror_test")
	t.Cleanup(func() { _ = db.Drop(ctx) })

	repo := NewMongoCredentialRepository(db)
	require.NoError(t, repo.EnsureIndexes(ctx))
	runCredentialRepositoryContract(t, func(t *testing.T) ports.CredentialRepository {
		return repo
	})
}
