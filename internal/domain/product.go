package domain

import (
	"strings"
	"time"
)

// ProductStatus is the local status of a mirrored product
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "ACTIVE"
	ProductStatusDraft    ProductStatus = "DRAFT"
	ProductStatusArchived ProductStatus = "ARCHIVED"
	ProductStatusUnknown  ProductStatus = "UNKNOWN"
)

// ParseProductStatus maps a remote status string, unrecognized values become ProductStatusUnknown
func ParseProductStatus(s string) ProductStatus {
	switch ProductStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case ProductStatusActive:
		return ProductStatusActive
	case ProductStatusDraft:
		return ProductStatusDraft
	case ProductStatusArchived:
		return ProductStatusArchived
	default:
		return ProductStatusUnknown
	}
}

// MediaImage is the image embedded in a product as its primary image
type MediaImage struct {
	URL     string  `json:"url"`
	AltText *string `json:"alt_text,omitempty"`
}

// Product is the canonical record of a remote product
type Product struct {
	ExternalID   string        `json:"id"`
	TenantID     string        `json:"shop"`
	Title        string        `json:"title"`
	Handle       string        `json:"handle"`
	Status       ProductStatus `json:"status"`
	Vendor       string        `json:"vendor"`
	ProductType  string        `json:"product_type"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	PrimaryImage *MediaImage   `json:"primary_image"`
	Variants     []Variant     `json:"variants"`
}

// Variant is the canonical record of a remote product variant
type Variant struct {
	ExternalID        string    `json:"id"`
	TenantID          string    `json:"shop"`
	ProductExternalID string    `json:"product_id"`
	Price             string    `json:"price"`
	Barcode           *string   `json:"barcode"`
	SKU               *string   `json:"sku"`
	InventoryQuantity *int      `json:"inventory_quantity"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProductGID expands a numeric product id to a Shopify global id, other values are returned unchanged
func ProductGID(id string) string {
	if id == "" || strings.HasPrefix(id, "gid://") {
		return id
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	return "gid://shopify/Product/" + id
}
