package entity

import (
	"time"

	"shopify-catalog-mirror/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MongoCredentialDoc represents a shop credential in MongoDB. AccessToken is stored encrypted.
type MongoCredentialDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	SessionID   string             `bson:"sessionId"`
	Shop        string             `bson:"shop"`
	AccessToken string             `bson:"accessToken"`
	Scopes      []string           `bson:"scopes"`
	IsOnline    bool               `bson:"isOnline"`
	ExpiresAt   *time.Time         `bson:"expiresAt,omitempty"`
	UserID      *int64             `bson:"userId,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *MongoCredentialDoc) ToDomain() *domain.Credential {
	c := &domain.Credential{
		SessionID:   d.SessionID,
		TenantID:    d.Shop,
		AccessToken: d.AccessToken,
		Scopes:      d.Scopes,
		IsOnline:    d.IsOnline,
		UserID:      d.UserID,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.ExpiresAt != nil {
		t := d.ExpiresAt.UTC()
		c.ExpiresAt = &t
	}
	return c
}

// MongoCredentialDocFromDomain converts a domain entity to a MongoDB document
func MongoCredentialDocFromDomain(c *domain.Credential) *MongoCredentialDoc {
	return &MongoCredentialDoc{
		SessionID:   c.SessionID,
		Shop:        c.TenantID,
		AccessToken: c.AccessToken,
		Scopes:      c.Scopes,
		IsOnline:    c.IsOnline,
		ExpiresAt:   c.ExpiresAt,
		UserID:      c.UserID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
