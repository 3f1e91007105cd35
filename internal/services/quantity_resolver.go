package services

import (
	"fmt"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/config"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
)

// ResolvedQuantities maps channel SKU to the target quantity
type ResolvedQuantities map[string]int

// ResolveResult is the output of a resolver pass. Skipped lists channel
// SKUs left out because a warehouse SKU was not reported and the missing
// SKU policy is skip.
type ResolveResult struct {
	Quantities ResolvedQuantities
	Skipped    []string
}

// ResolveQuantities computes the channel-facing quantity of every product.
// snapshot holds only SKUs the warehouse reported; anything absent is
// missing and handled per policy.
func ResolveQuantities(products []models.Product, snapshot map[string]int, policy config.MissingSKUPolicy) (*ResolveResult, error) {
	result := &ResolveResult{Quantities: make(ResolvedQuantities, len(products))}
	for _, p := range products {
		qty, missing, err := ResolveProduct(p, snapshot)
		if err != nil {
			return nil, err
		}
		if missing && policy == config.MissingSKUSkip {
			result.Skipped = append(result.Skipped, p.ChannelSKU)
			continue
		}
		result.Quantities[p.ChannelSKU] = qty
	}
	return result, nil
}

// ResolveProduct returns the quantity of a single product and whether any
// warehouse SKU it depends on was absent from the snapshot
func ResolveProduct(p models.Product, snapshot map[string]int) (int, bool, error) {
	if p.Kind != models.ProductBundle {
		qty, ok := snapshot[p.WarehouseSKU]
		return clampQuantity(qty), !ok, nil
	}

	if len(p.Components) == 0 {
		return 0, false, nil
	}

	missing := false
	best := -1
	for _, c := range p.Components {
		if c.QuantityPerUnit <= 0 {
			return 0, false, fmt.Errorf("%s component %s: %w", p.ChannelSKU, c.WarehouseSKU, models.ErrInvalidComponentQuantity)
		}
		available, ok := snapshot[c.WarehouseSKU]
		if !ok {
			missing = true
		}
		units := clampQuantity(available) / c.QuantityPerUnit
		if best < 0 || units < best {
			best = units
		}
	}
	return best, missing, nil
}

func clampQuantity(q int) int {
	if q < 0 {
		return 0
	}
	return q
}
