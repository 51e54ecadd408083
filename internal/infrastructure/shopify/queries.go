package shopify

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const productFields = `
fragment CatalogProductFields on Product {
  id
  title
  handle
  status
  vendor
  productType
  createdAt
  updatedAt
  media(first: $media) {
    nodes {
      __typename
      mediaContentType
      id
      ... on MediaImage {
        image {
          url
          altText
        }
      }
    }
  }
  variants(first: $variants) {
    nodes {
      id
      price
      barcode
      sku
      inventoryQuantity
      createdAt
    }
  }
}
`

const productsQuery = `
query CatalogProducts($first: Int!, $after: String, $variants: Int!, $media: Int!) {
  products(first: $first, after: $after, sortKey: ID) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      ...CatalogProductFields
    }
  }
}
` + productFields

const productQuery = `
query CatalogProduct($id: ID!, $variants: Int!, $media: Int!) {
  product(id: $id) {
    ...CatalogProductFields
  }
}
` + productFields

const catalogIndexQuery = `
query CatalogIndex($first: Int!, $after: String, $variants: Int!) {
  products(first: $first, after: $after, sortKey: ID) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      id
      variants(first: $variants) {
        pageInfo {
          hasNextPage
        }
        nodes {
          id
        }
      }
    }
  }
}
`

type queryDocument struct {
	operation string
	text      string
	variables []string
}

var catalogQueries = []queryDocument{
	{operation: "CatalogProducts", text: productsQuery, variables: []string{"first", "after", "variants", "media"}},
	{operation: "CatalogProduct", text: productQuery, variables: []string{"id", "variants", "media"}},
	{operation: "CatalogIndex", text: catalogIndexQuery, variables: []string{"first", "after", "variants"}},
}

// validateQueries parses every query document and checks that each declares the variables the client sends
func validateQueries(queries []queryDocument) error {
	for _, q := range queries {
		doc, err := parser.ParseQuery(&ast.Source{Name: q.operation, Input: q.text})
		if err != nil {
			return fmt.Errorf("failed to parse query %s: %w", q.operation, err)
		}
		op := doc.Operations.ForName(q.operation)
		if op == nil {
			return fmt.Errorf("query document %s has no operation %s", q.operation, q.operation)
		}
		for _, v := range q.variables {
			if op.VariableDefinitions.ForName(v) == nil {
				return fmt.Errorf("query %s does not declare $%s", q.operation, v)
			}
		}
	}
	return nil
}
