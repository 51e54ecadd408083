package normalizer

import (
	"encoding/json"
	"testing"

	"shopify-catalog-mirror/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shop = "demo-shop.myshopify.com"

const nodesShape = `{
  "id": "gid://shopify/Product/1",
  "title": "Red Snowboard",
  "handle": "red-snowboard",
  "status": "ACTIVE",
  "vendor": "Snowdevil",
  "productType": "Snowboard",
  "createdAt": "2025-01-02T03:04:05Z",
  "updatedAt": "2025-02-02T03:04:05Z",
  "media": {"nodes": [
    {"__typename": "Video", "mediaContentType": "VIDEO", "id": "gid://shopify/Video/9"},
    {"__typename": "MediaImage", "mediaContentType": "IMAGE", "id": "gid://shopify/MediaImage/1", "image": {"url": "https://cdn.example/a.png", "altText": "front"}},
    {"__typename": "MediaImage", "mediaContentType": "IMAGE", "id": "gid://shopify/MediaImage/2", "image": {"url": "https://cdn.example/b.png", "altText": null}}
  ]},
  "variants": {"nodes": [
    {"id": "gid://shopify/ProductVariant/11", "price": "99.99", "barcode": "RS-001", "sku": "", "inventoryQuantity": 4, "createdAt": "2025-01-02T03:04:05Z"},
    {"id": "gid://shopify/ProductVariant/12", "price": "109.90", "barcode": null, "sku": "RS-2", "inventoryQuantity": null, "createdAt": "2025-01-02T03:04:05Z"}
  ]}
}`

const edgesShape = `{
  "id": "gid://shopify/Product/1",
  "title": "Red Snowboard",
  "handle": "red-snowboard",
  "status": "ACTIVE",
  "vendor": "Snowdevil",
  "productType": "Snowboard",
  "createdAt": "2025-01-02T03:04:05Z",
  "updatedAt": "2025-02-02T03:04:05Z",
  "media": {"edges": [
    {"cursor": "m1", "node": {"__typename": "Video", "mediaContentType": "VIDEO", "id": "gid://shopify/Video/9"}},
    {"cursor": "m2", "node": {"__typename": "MediaImage", "mediaContentType": "IMAGE", "id": "gid://shopify/MediaImage/1", "image": {"url": "https://cdn.example/a.png", "altText": "front"}}},
    {"cursor": "m3", "node": {"__typename": "MediaImage", "mediaContentType": "IMAGE", "id": "gid://shopify/MediaImage/2", "image": {"url": "https://cdn.example/b.png"}}}
  ]},
  "variants": {"edges": [
    {"cursor": "v1", "node": {"id": "gid://shopify/ProductVariant/11", "price": "99.99", "barcode": "RS-001", "sku": "", "inventoryQuantity": 4, "createdAt": "2025-01-02T03:04:05Z"}},
    {"cursor": "v2", "node": {"id": "gid://shopify/ProductVariant/12", "price": "109.90", "sku": "RS-2", "createdAt": "2025-01-02T03:04:05Z"}}
  ]}
}`

func decode(t *testing.T, payload string) RawProduct {
	t.Helper()
	var raw RawProduct
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestNormalizeProduct_EdgesAndNodesProduceSameRecord(t *testing.T) {
	fromNodes, err := NormalizeProduct(shop, decode(t, nodesShape))
	require.NoError(t, err)
	fromEdges, err := NormalizeProduct(shop, decode(t, edgesShape))
	require.NoError(t, err)

	assert.Equal(t, fromNodes, fromEdges)
}

func TestNormalizeProduct_Fields(t *testing.T) {
	p, err := NormalizeProduct(shop, decode(t, nodesShape))
	require.NoError(t, err)

	assert.Equal(t, "gid://shopify/Product/1", p.ExternalID)
	assert.Equal(t, shop, p.TenantID)
	assert.Equal(t, domain.ProductStatusActive, p.Status)
	assert.Equal(t, "Snowdevil", p.Vendor)
	assert.Equal(t, 2025, p.CreatedAt.Year())

	require.NotNil(t, p.PrimaryImage)
	assert.Equal(t, "https://cdn.example/a.png", p.PrimaryImage.URL)
	require.NotNil(t, p.PrimaryImage.AltText)
	assert.Equal(t, "front", *p.PrimaryImage.AltText)

	require.Len(t, p.Variants, 2)
	v := p.Variants[0]
	assert.Equal(t, "gid://shopify/ProductVariant/11", v.ExternalID)
	assert.Equal(t, p.ExternalID, v.ProductExternalID)
	assert.Equal(t, "99.99", v.Price)
	assert.Nil(t, v.SKU, "empty sku is stored as null")
	require.NotNil(t, v.Barcode)
	assert.Equal(t, "RS-001", *v.Barcode)
	require.NotNil(t, v.InventoryQuantity)
	assert.Equal(t, 4, *v.InventoryQuantity)

	assert.Equal(t, "109.90", p.Variants[1].Price, "price keeps its remote representation")
	assert.Nil(t, p.Variants[1].InventoryQuantity)
}

func TestPrimaryImage(t *testing.T) {
	alt := "a"
	imageA := &domain.MediaImage{URL: "https://cdn.example/a.png", AltText: &alt}
	imageB := &domain.MediaImage{URL: "https://cdn.example/b.png"}

	tests := []struct {
		name  string
		media []Media
		want  *domain.MediaImage
	}{
		{"video then images", []Media{{Kind: MediaKindVideo}, {Kind: MediaKindImage, Image: imageA}, {Kind: MediaKindImage, Image: imageB}}, imageA},
		{"no image kind", []Media{{Kind: MediaKindVideo}, {Kind: MediaKindModel3D}, {Kind: MediaKindExternalVideo}}, nil},
		{"empty", nil, nil},
		{"image without payload is skipped", []Media{{Kind: MediaKindImage}, {Kind: MediaKindImage, Image: imageB}}, imageB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrimaryImage(tt.media))
		})
	}
}

func TestTagMedia_FallsBackToContentType(t *testing.T) {
	m := TagMedia(RawMedia{MediaContentType: "IMAGE", Image: &RawImage{URL: "https://cdn.example/c.png"}})
	assert.Equal(t, MediaKindImage, m.Kind)
	require.NotNil(t, m.Image)

	assert.Equal(t, MediaKindModel3D, TagMedia(RawMedia{Typename: "Model3d"}).Kind)
	assert.Equal(t, MediaKindUnknown, TagMedia(RawMedia{Typename: "GenericFile"}).Kind)
}

func TestNormalizeProduct_UnknownStatus(t *testing.T) {
	p, err := NormalizeProduct(shop, RawProduct{ID: "gid://shopify/Product/2", Status: "UNLISTED"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProductStatusUnknown, p.Status)
}

func TestNormalizeProduct_MissingOptionalFields(t *testing.T) {
	p, err := NormalizeProduct(shop, decode(t, `{"id": "gid://shopify/Product/3", "title": "Bare"}`))
	require.NoError(t, err)

	assert.Nil(t, p.PrimaryImage)
	assert.Empty(t, p.Variants)
	assert.True(t, p.CreatedAt.IsZero())
	assert.Equal(t, domain.ProductStatusUnknown, p.Status)
}

func TestNormalizeProduct_UnrecognizedShapes(t *testing.T) {
	tests := map[string]string{
		"connection without edges or nodes": `{"id": "gid://shopify/Product/4", "variants": {"pageInfo": {"hasNextPage": false}}}`,
		"variant without id":                `{"id": "gid://shopify/Product/4", "variants": {"nodes": [{"price": "1.00"}]}}`,
		"product without id":                `{"title": "x"}`,
		"bad price":                         `{"id": "gid://shopify/Product/4", "variants": {"nodes": [{"id": "v", "price": "12,50"}]}}`,
		"bad timestamp":                     `{"id": "gid://shopify/Product/4", "createdAt": "yesterday"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeProduct(shop, decode(t, payload))
			assert.ErrorIs(t, err, ErrUnrecognizedShape)
		})
	}
}

func TestNormalizePage_KeepsOrderAndDropsRepeats(t *testing.T) {
	nodes := []RawProduct{
		{ID: "gid://shopify/Product/2", Title: "second"},
		{ID: "gid://shopify/Product/1", Title: "first"},
		{ID: "gid://shopify/Product/2", Title: "repeat"},
	}
	products, err := NormalizePage(shop, nodes)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "second", products[0].Title)
	assert.Equal(t, "first", products[1].Title)
}

func TestNormalizeProduct_DropsRepeatedVariants(t *testing.T) {
	p, err := NormalizeProduct(shop, decode(t, `{"id": "p", "variants": {"nodes": [{"id": "v", "price": "1"}, {"id": "v", "price": "2"}]}}`))
	require.NoError(t, err)
	require.Len(t, p.Variants, 1)
	assert.Equal(t, "1", p.Variants[0].Price)
}

func TestConnection_NextCursor(t *testing.T) {
	var conn Connection[RawProduct]
	require.NoError(t, json.Unmarshal([]byte(`{"pageInfo": {"hasNextPage": true, "endCursor": "abc"}, "nodes": []}`), &conn))
	cursor, err := conn.NextCursor()
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "abc", *cursor)

	var edges Connection[RawProduct]
	require.NoError(t, json.Unmarshal([]byte(`{"pageInfo": {"hasNextPage": true}, "edges": [{"cursor": "e1", "node": {"id": "p"}}]}`), &edges))
	cursor, err = edges.NextCursor()
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "e1", *cursor)

	var last Connection[RawProduct]
	require.NoError(t, json.Unmarshal([]byte(`{"pageInfo": {"hasNextPage": false, "endCursor": "zzz"}, "nodes": []}`), &last))
	cursor, err = last.NextCursor()
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestConnection_NextCursorMissing(t *testing.T) {
	for name, payload := range map[string]string{
		"null end cursor":   `{"pageInfo": {"hasNextPage": true, "endCursor": null}, "nodes": [{"id": "p"}]}`,
		"empty end cursor":  `{"pageInfo": {"hasNextPage": true, "endCursor": ""}, "nodes": [{"id": "p"}]}`,
		"blank edge cursor": `{"pageInfo": {"hasNextPage": true}, "edges": [{"cursor": "", "node": {"id": "p"}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			var conn Connection[RawProduct]
			require.NoError(t, json.Unmarshal([]byte(payload), &conn))
			cursor, err := conn.NextCursor()
			assert.ErrorIs(t, err, ErrUnrecognizedShape)
			assert.Nil(t, cursor)
		})
	}
}
