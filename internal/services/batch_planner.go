package services

import (
	"errors"

	"github.com/samber/lo"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// ErrInvalidBatchSize is returned when the batch size is not positive
var ErrInvalidBatchSize = errors.New("batch size must be positive")

// PlanBatches splits skus into ordered batches of at most size entries.
// Concatenating the batches yields skus exactly.
func PlanBatches(skus []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if len(skus) == 0 {
		return [][]string{}, nil
	}
	return lo.Chunk(skus, size), nil
}

// CollectWarehouseSKUs returns the de-duplicated warehouse SKUs of all
// products in first-seen order
func CollectWarehouseSKUs(products []models.Product) []string {
	all := lo.FlatMap(products, func(p models.Product, _ int) []string {
		return p.WarehouseSKUs()
	})
	all = lo.Filter(all, func(sku string, _ int) bool {
		return sku != ""
	})
	return lo.Uniq(all)
}

// ProductsCompletedAt splits products into those that become resolvable
// when batch index finishes and those whose SKUs are not covered by the plan
// at all. A product is resolvable once its last SKU's batch has been fetched.
// Products whose SKUs all sit in earlier batches are ready too unless handled
// already lists their channel SKU; they were added to the mapping after
// those batches ran.
func ProductsCompletedAt(products []models.Product, batches [][]string, index int, handled map[string]bool) (ready []models.Product, unplanned []models.Product) {
	batchOf := make(map[string]int)
	for i, batch := range batches {
		for _, sku := range batch {
			if _, ok := batchOf[sku]; !ok {
				batchOf[sku] = i
			}
		}
	}

	for _, p := range products {
		last := 0
		covered := true
		for _, sku := range p.WarehouseSKUs() {
			i, ok := batchOf[sku]
			if !ok {
				covered = false
				break
			}
			if i > last {
				last = i
			}
		}
		switch {
		case !covered:
			unplanned = append(unplanned, p)
		case last == index:
			ready = append(ready, p)
		case last < index && !handled[p.ChannelSKU]:
			ready = append(ready, p)
		}
	}
	return ready, unplanned
}
