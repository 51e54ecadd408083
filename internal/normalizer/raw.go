// Package normalizer flattens Shopify Admin GraphQL product payloads into canonical records.
//
// Connections are accepted in both the `edges { node }` and the `nodes` style, the media
// union is reduced to a tagged Media value, and nothing here performs I/O.
package normalizer

import (
	"errors"
	"fmt"
)

// ErrUnrecognizedShape is returned for payloads whose structure cannot be interpreted
var ErrUnrecognizedShape = errors.New("unrecognized payload shape")

// PageInfo is the pagination block of a connection
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// Edge wraps a node in the edges style
type Edge[T any] struct {
	Cursor string `json:"cursor"`
	Node   T      `json:"node"`
}

// Connection accepts both connection styles. Absent keys decode to nil slices, which is how
// an empty `nodes: []` is told apart from a missing one.
type Connection[T any] struct {
	Edges    *[]Edge[T] `json:"edges"`
	NodeList *[]T       `json:"nodes"`
	PageInfo *PageInfo  `json:"pageInfo"`
}

// Nodes returns the connection's nodes in their original order. When both styles are
// present the nodes list wins.
func (c *Connection[T]) Nodes() ([]T, error) {
	if c == nil {
		return nil, nil
	}
	switch {
	case c.NodeList != nil:
		return *c.NodeList, nil
	case c.Edges != nil:
		out := make([]T, 0, len(*c.Edges))
		for _, e := range *c.Edges {
			out = append(out, e.Node)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: connection has neither edges nor nodes", ErrUnrecognizedShape)
	}
}

// NextCursor returns the cursor of the following page, nil when this is the last one. A
// connection announcing another page without any cursor to reach it is an unrecognized shape.
func (c *Connection[T]) NextCursor() (*string, error) {
	if c == nil || c.PageInfo == nil || !c.PageInfo.HasNextPage {
		return nil, nil
	}
	if c.PageInfo.EndCursor != nil && *c.PageInfo.EndCursor != "" {
		cursor := *c.PageInfo.EndCursor
		return &cursor, nil
	}
	if c.Edges != nil && len(*c.Edges) > 0 {
		cursor := (*c.Edges)[len(*c.Edges)-1].Cursor
		if cursor != "" {
			return &cursor, nil
		}
	}
	return nil, fmt.Errorf("%w: hasNextPage without a cursor", ErrUnrecognizedShape)
}

// HasNextPage reports whether the remote said more items exist
func (c *Connection[T]) HasNextPage() bool {
	return c != nil && c.PageInfo != nil && c.PageInfo.HasNextPage
}

// RawImage is the image payload of a MediaImage
type RawImage struct {
	URL     string  `json:"url"`
	AltText *string `json:"altText"`
}

// RawMedia is one member of the product media union
type RawMedia struct {
	Typename         string    `json:"__typename"`
	MediaContentType string    `json:"mediaContentType"`
	ID               string    `json:"id"`
	Image            *RawImage `json:"image"`
}

// RawVariant is a product variant as returned by the Admin API
type RawVariant struct {
	ID                string  `json:"id"`
	Price             *string `json:"price"`
	Barcode           *string `json:"barcode"`
	SKU               *string `json:"sku"`
	InventoryQuantity *int    `json:"inventoryQuantity"`
	CreatedAt         *string `json:"createdAt"`
}

// RawProduct is a product node as returned by the Admin API
type RawProduct struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Handle      string                  `json:"handle"`
	Status      string                  `json:"status"`
	Vendor      string                  `json:"vendor"`
	ProductType string                  `json:"productType"`
	CreatedAt   *string                 `json:"createdAt"`
	UpdatedAt   *string                 `json:"updatedAt"`
	Media       *Connection[RawMedia]   `json:"media"`
	Variants    *Connection[RawVariant] `json:"variants"`
}
