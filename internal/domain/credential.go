package domain

import (
	"fmt"
	"strings"
	"time"
)

// OfflineSessionPrefix prefixes the session id of a shop's offline credential
const OfflineSessionPrefix = "offline_"

// Credential is an access token for one shop, either offline (background work) or online (a user session)
type Credential struct {
	SessionID   string     `json:"session_id" bson:"sessionId"`
	TenantID    string     `json:"shop" bson:"shop"`
	AccessToken string     `json:"access_token" bson:"accessToken"`
	Scopes      []string   `json:"scopes" bson:"scopes"`
	IsOnline    bool       `json:"is_online" bson:"isOnline"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" bson:"expiresAt,omitempty"`
	UserID      *int64     `json:"user_id,omitempty" bson:"userId,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updatedAt"`
}

// OfflineSessionID returns the session id of the single offline slot of a shop
func OfflineSessionID(tenantID string) string {
	return OfflineSessionPrefix + tenantID
}

// IsExpired reports whether the credential has an expiry at or before now
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// HasScope reports whether the credential was granted scope
func (c *Credential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Validate checks the fields the credential store relies on and fills in the offline session id
func (c *Credential) Validate() error {
	if !IsShopDomain(c.TenantID) {
		return fmt.Errorf("%w: invalid shop domain %q", ErrInvalidCredential, c.TenantID)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: access token is required", ErrInvalidCredential)
	}
	if !c.IsOnline {
		c.SessionID = OfflineSessionID(c.TenantID)
		return nil
	}
	if c.SessionID == "" {
		return fmt.Errorf("%w: online credential requires a session id", ErrInvalidCredential)
	}
	if strings.HasPrefix(c.SessionID, OfflineSessionPrefix) {
		return fmt.Errorf("%w: session id %q is reserved for offline credentials", ErrInvalidCredential, c.SessionID)
	}
	if c.ExpiresAt == nil {
		return fmt.Errorf("%w: online credential requires an expiry", ErrInvalidCredential)
	}
	return nil
}

// Redacted returns a copy safe to serialize, with the token cut to a short prefix
func (c Credential) Redacted() Credential {
	if len(c.AccessToken) > 6 {
		c.AccessToken = c.AccessToken[:6] + "..."
	} else if c.AccessToken != "" {
		c.AccessToken = "..."
	}
	return c
}

// ParseScopes splits a comma separated scope string as Shopify returns it
func ParseScopes(scope string) []string {
	var out []string
	for _, s := range strings.Split(scope, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsShopDomain accepts "<name>.myshopify.com" style hosts and custom domains without scheme or path
func IsShopDomain(shop string) bool {
	if shop == "" || strings.ContainsAny(shop, "/: ") || !strings.Contains(shop, ".") {
		return false
	}
	for _, r := range shop {
		if !(r == '.' || r == '-' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return !strings.HasPrefix(shop, ".") && !strings.HasSuffix(shop, ".")
}
