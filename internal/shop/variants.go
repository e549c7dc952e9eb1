package shop

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const variantBatchSize = 25

const variantsQuery = `query VariantsBySKU($query: String!, $first: Int!) {
  productVariants(first: $first, query: $query) {
    nodes {
      sku
      barcode
      inventoryItem { id }
    }
  }
}`

type variantsData struct {
	ProductVariants struct {
		Nodes []struct {
			SKU           string `json:"sku"`
			Barcode       string `json:"barcode"`
			InventoryItem struct {
				ID string `json:"id"`
			} `json:"inventoryItem"`
		} `json:"nodes"`
	} `json:"productVariants"`
}

// ResolveInventoryItems maps SKUs to inventory item gids, matching the variant
// SKU first and its barcode second. Unmatched SKUs are absent from the map.
func (c *Client) ResolveInventoryItems(ctx context.Context, skus []string) (map[string]string, error) {
	out := make(map[string]string, len(skus))
	for start := 0; start < len(skus); start += variantBatchSize {
		end := start + variantBatchSize
		if end > len(skus) {
			end = len(skus)
		}
		batch := skus[start:end]
		terms := make([]string, 0, len(batch)*2)
		for _, sku := range batch {
			q := strconv.Quote(sku)
			terms = append(terms, "sku:"+q, "barcode:"+q)
		}
		var data variantsData
		err := c.GraphQL(ctx, "productVariants", variantsQuery, map[string]any{
			"query": strings.Join(terms, " OR "),
			"first": 250,
		}, &data)
		if err != nil {
			return nil, fmt.Errorf("resolve variants: %w", err)
		}
		bySKU := make(map[string]string)
		byBarcode := make(map[string]string)
		for _, node := range data.ProductVariants.Nodes {
			if node.InventoryItem.ID == "" {
				continue
			}
			if _, ok := bySKU[node.SKU]; node.SKU != "" && !ok {
				bySKU[node.SKU] = node.InventoryItem.ID
			}
			if _, ok := byBarcode[node.Barcode]; node.Barcode != "" && !ok {
				byBarcode[node.Barcode] = node.InventoryItem.ID
			}
		}
		for _, sku := range batch {
			if id, ok := bySKU[sku]; ok {
				out[sku] = id
			} else if id, ok := byBarcode[sku]; ok {
				out[sku] = id
			}
		}
	}
	return out, nil
}
