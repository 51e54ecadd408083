package normalizer

import (
	"fmt"
	"time"

	"shopify-catalog-mirror/internal/domain"

	"github.com/shopspring/decimal"
)

// NormalizeProduct converts one product node into a canonical product of tenantID
func NormalizeProduct(tenantID string, raw RawProduct) (domain.Product, error) {
	if raw.ID == "" {
		return domain.Product{}, fmt.Errorf("%w: product without id", ErrUnrecognizedShape)
	}

	createdAt, err := parseTime(raw.CreatedAt)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s createdAt: %w", raw.ID, err)
	}
	updatedAt, err := parseTime(raw.UpdatedAt)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s updatedAt: %w", raw.ID, err)
	}

	rawMedia, err := raw.Media.Nodes()
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s media: %w", raw.ID, err)
	}
	media := make([]Media, 0, len(rawMedia))
	for _, m := range rawMedia {
		media = append(media, TagMedia(m))
	}

	rawVariants, err := raw.Variants.Nodes()
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s variants: %w", raw.ID, err)
	}
	variants := make([]domain.Variant, 0, len(rawVariants))
	seen := make(map[string]bool, len(rawVariants))
	for _, rv := range rawVariants {
		v, err := normalizeVariant(tenantID, raw.ID, rv)
		if err != nil {
			return domain.Product{}, err
		}
		if seen[v.ExternalID] {
			continue
		}
		seen[v.ExternalID] = true
		variants = append(variants, v)
	}

	return domain.Product{
		ExternalID:   raw.ID,
		TenantID:     tenantID,
		Title:        raw.Title,
		Handle:       raw.Handle,
		Status:       domain.ParseProductStatus(raw.Status),
		Vendor:       raw.Vendor,
		ProductType:  raw.ProductType,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		PrimaryImage: PrimaryImage(media),
		Variants:     variants,
	}, nil
}

// NormalizePage converts a page of product nodes, keeping the first of any repeated id
func NormalizePage(tenantID string, nodes []RawProduct) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for i, raw := range nodes {
		p, err := NormalizeProduct(tenantID, raw)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if seen[p.ExternalID] {
			continue
		}
		seen[p.ExternalID] = true
		out = append(out, p)
	}
	return out, nil
}

func normalizeVariant(tenantID, productID string, raw RawVariant) (domain.Variant, error) {
	if raw.ID == "" {
		return domain.Variant{}, fmt.Errorf("%w: variant of product %s without id", ErrUnrecognizedShape, productID)
	}
	price := ""
	if raw.Price != nil && *raw.Price != "" {
		if _, err := decimal.NewFromString(*raw.Price); err != nil {
			return domain.Variant{}, fmt.Errorf("%w: variant %s price %q", ErrUnrecognizedShape, raw.ID, *raw.Price)
		}
		price = *raw.Price
	}
	createdAt, err := parseTime(raw.CreatedAt)
	if err != nil {
		return domain.Variant{}, fmt.Errorf("variant %s createdAt: %w", raw.ID, err)
	}
	return domain.Variant{
		ExternalID:        raw.ID,
		TenantID:          tenantID,
		ProductExternalID: productID,
		Price:             price,
		Barcode:           nonEmpty(raw.Barcode),
		SKU:               nonEmpty(raw.SKU),
		InventoryQuantity: raw.InventoryQuantity,
		CreatedAt:         createdAt,
	}, nil
}

func parseTime(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrUnrecognizedShape, *s)
	}
	return t.UTC(), nil
}
