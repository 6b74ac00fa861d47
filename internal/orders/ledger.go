package orders

import (
	"context"
	"fmt"
	"sort"
)

// IsAvailable reports whether qty units of p may be sold given the current
// ledger stock. Backorder products are always available unless disabled.
func IsAvailable(p Product, stock, qty int) bool {
	if p.Disabled {
		return false
	}
	return p.AllowSellWithoutStock || stock >= qty
}

// lockProducts takes row locks in ascending id order so that two units of
// work touching the same products can never deadlock each other.
func lockProducts(ctx context.Context, tx Tx, ids []string) (map[string]Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]Product, len(sorted))
	for _, id := range sorted {
		if _, ok := out[id]; ok {
			continue
		}
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// demandByProduct sums requested quantities per product, keeping first-seen order.
func demandByProduct(lines []LineRequest) ([]string, map[string]int) {
	ids := make([]string, 0, len(lines))
	demand := make(map[string]int, len(lines))
	for _, l := range lines {
		if _, ok := demand[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		demand[l.ProductID] += l.Qty
	}
	return ids, demand
}

// checkAvailability verifies every product against the ledger inside tx.
// Products must already be locked.
func checkAvailability(ctx context.Context, tx Tx, products map[string]Product, ids []string, demand map[string]int) error {
	for _, id := range ids {
		p := products[id]
		if p.Disabled {
			return fmt.Errorf("%w: %s", ErrProductUnavailable, id)
		}
		stock, err := tx.CurrentStock(ctx, id)
		if err != nil {
			return err
		}
		if !IsAvailable(p, stock, demand[id]) {
			return fmt.Errorf("%w: product %s requested %d available %d", ErrInsufficientStock, id, demand[id], stock)
		}
	}
	return nil
}
