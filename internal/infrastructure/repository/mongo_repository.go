package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/infrastructure/repository/entity"
	"shopify-catalog-mirror/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCredentialRepository implements CredentialRepository using MongoDB
type MongoCredentialRepository struct {
	credentialsCollection *mongo.Collection
	now                   func() time.Time
}

var _ ports.CredentialRepository = (*MongoCredentialRepository)(nil)

// NewMongoCredentialRepository creates a new MongoDB credential repository
func NewMongoCredentialRepository(db *mongo.Database) *MongoCredentialRepository {
	return &MongoCredentialRepository{
		credentialsCollection: db.Collection("credentials"),
		now:                   time.Now,
	}
}

// EnsureIndexes creates the session id index and the single offline slot per shop
func (r *MongoCredentialRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.credentialsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("credentials_session"),
		},
		{
			Keys: bson.D{{Key: "shop", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("credentials_offline_slot").
				SetPartialFilterExpression(bson.M{"isOnline": false}),
		},
		{
			Keys:    bson.D{{Key: "shop", Value: 1}, {Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("credentials_shop_updated"),
		},
	})
	if err != nil {
		return storageError("create credential indexes", err)
	}
	return nil
}

// Get retrieves a credential by session id
func (r *MongoCredentialRepository) Get(ctx context.Context, sessionID string) (*domain.Credential, error) {
	var doc entity.MongoCredentialDoc
	err := r.credentialsCollection.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("credential %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, storageError("get credential", err)
	}
	return doc.ToDomain(), nil
}

// Put saves or replaces a credential. The offline slot of a shop is matched by shop, not session id,
// and an online session id stored for another shop is rejected.
func (r *MongoCredentialRepository) Put(ctx context.Context, credential *domain.Credential) error {
	doc := entity.MongoCredentialDocFromDomain(credential)
	now := r.now()
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	filter := bson.M{"sessionId": doc.SessionID, "shop": doc.Shop}
	if !doc.IsOnline {
		filter = bson.M{"shop": doc.Shop, "isOnline": false}
	}
	update := bson.M{
		"$set": bson.M{
			"sessionId":   doc.SessionID,
			"shop":        doc.Shop,
			"accessToken": doc.AccessToken,
			"scopes":      doc.Scopes,
			"isOnline":    doc.IsOnline,
			"expiresAt":   doc.ExpiresAt,
			"userId":      doc.UserID,
			"updatedAt":   doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{"createdAt": doc.CreatedAt},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.credentialsCollection.UpdateOne(ctx, filter, update, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return sessionTaken(doc.SessionID)
		}
		return storageError("save credential", err)
	}
	return nil
}

// ListByTenant retrieves every credential of a shop, most recently updated first
func (r *MongoCredentialRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Credential, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := r.credentialsCollection.Find(ctx, bson.M{"shop": tenantID}, opts)
	if err != nil {
		return nil, storageError("list credentials", err)
	}
	defer cursor.Close(ctx)

	var credentials []*domain.Credential
	for cursor.Next(ctx) {
		var doc entity.MongoCredentialDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode credential: %w", err)
		}
		credentials = append(credentials, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, storageError("iterate credentials", err)
	}
	return credentials, nil
}

// Delete removes one credential by session id
func (r *MongoCredentialRepository) Delete(ctx context.Context, sessionID string) error {
	res, err := r.credentialsCollection.DeleteOne(ctx, bson.M{"sessionId": sessionID})
	if err != nil {
		return storageError("delete credential", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("credential %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// DeleteByTenant removes every credential of a shop
func (r *MongoCredentialRepository) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	res, err := r.credentialsCollection.DeleteMany(ctx, bson.M{"shop": tenantID})
	if err != nil {
		return 0, storageError("delete shop credentials", err)
	}
	return int(res.DeletedCount), nil
}

// ListOfflineTenants returns the shops holding an offline credential
func (r *MongoCredentialRepository) ListOfflineTenants(ctx context.Context) ([]string, error) {
	values, err := r.credentialsCollection.Distinct(ctx, "shop", bson.M{"isOnline": false})
	if err != nil {
		return nil, storageError("list offline shops", err)
	}
	shops := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			shops = append(shops, s)
		}
	}
	sort.Strings(shops)
	return shops, nil
}
