package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

func skuRange(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("W%03d", i)
	}
	return out
}

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name        string
		skus        []string
		size        int
		wantBatches int
		wantLast    int
	}{
		{name: "empty input", skus: nil, size: 25, wantBatches: 0},
		{name: "fewer than size", skus: skuRange(3), size: 25, wantBatches: 1, wantLast: 3},
		{name: "exactly size", skus: skuRange(25), size: 25, wantBatches: 1, wantLast: 25},
		{name: "short last batch", skus: skuRange(51), size: 25, wantBatches: 3, wantLast: 1},
		{name: "size one", skus: skuRange(4), size: 1, wantBatches: 4, wantLast: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := PlanBatches(tt.skus, tt.size)
			require.NoError(t, err)
			require.Len(t, batches, tt.wantBatches)

			var flat []string
			for _, b := range batches {
				assert.NotEmpty(t, b)
				assert.LessOrEqual(t, len(b), tt.size)
				flat = append(flat, b...)
			}
			if tt.wantBatches == 0 {
				assert.Empty(t, flat)
				return
			}
			assert.Equal(t, tt.skus, flat)
			assert.Len(t, batches[len(batches)-1], tt.wantLast)
		})
	}
}

func TestPlanBatches_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -3} {
		_, err := PlanBatches(skuRange(3), size)
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	}
}

func TestCollectWarehouseSKUs(t *testing.T) {
	products := []models.Product{
		models.NewSimpleProduct("S1", "W1"),
		bundle("B1", component("W2", 1), component("W1", 2)),
		models.NewSimpleProduct("S2", "W3"),
		bundle("B2", component("W3", 1), component("W4", 1)),
	}
	assert.Equal(t, []string{"W1", "W2", "W3", "W4"}, CollectWarehouseSKUs(products))
}

func TestProductsCompletedAt(t *testing.T) {
	products := []models.Product{
		models.NewSimpleProduct("S1", "W1"),
		bundle("S2", component("W1", 2), component("W2", 1)),
		models.NewSimpleProduct("S3", "W3"),
		models.NewSimpleProduct("S4", "W9"),
	}
	batches := [][]string{{"W1"}, {"W2", "W3"}}

	ready, unplanned := ProductsCompletedAt(products, batches, 0, nil)
	assert.Equal(t, []string{"S1"}, channelSKUs(ready))
	assert.Equal(t, []string{"S4"}, channelSKUs(unplanned))

	ready, _ = ProductsCompletedAt(products, batches, 1, map[string]bool{"S1": true})
	assert.Equal(t, []string{"S2", "S3"}, channelSKUs(ready))

	// every product is ready in exactly one batch
	seen := map[string]int{}
	handled := map[string]bool{}
	for i := range batches {
		ready, _ := ProductsCompletedAt(products, batches, i, handled)
		for _, p := range ready {
			seen[p.ChannelSKU]++
			handled[p.ChannelSKU] = true
		}
	}
	assert.Equal(t, map[string]int{"S1": 1, "S2": 1, "S3": 1}, seen)
}

func TestProductsCompletedAt_AddedAfterTheirBatch(t *testing.T) {
	batches := [][]string{{"W1"}, {"W2"}, {"W3"}}
	products := []models.Product{
		models.NewSimpleProduct("S1", "W1"),
		models.NewSimpleProduct("S2", "W2"),
		models.NewSimpleProduct("S3", "W1"),
		bundle("B1", component("W1", 1), component("W2", 1)),
	}

	// S1 went out in batch 0; S3 and B1 joined the mapping afterwards
	ready, unplanned := ProductsCompletedAt(products, batches, 1, map[string]bool{"S1": true})
	assert.Equal(t, []string{"S2", "S3", "B1"}, channelSKUs(ready))
	assert.Empty(t, unplanned)

	ready, _ = ProductsCompletedAt(products, batches, 2, map[string]bool{"S1": true, "S2": true, "S3": true, "B1": true})
	assert.Empty(t, ready)
}

func channelSKUs(products []models.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ChannelSKU)
	}
	return out
}
