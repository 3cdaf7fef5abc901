// Package costing implements perpetual weighted-average inventory costing.
// All amounts are cents; blended costs are rounded to the nearest cent.
package costing

import (
	"math"
	"time"

	"dukanpos/terminal/internal/domain"
)

// Result of blending an incoming purchase into the existing stock basis.
type Result struct {
	UnitCostCents  int64
	TotalCostCents int64
}

// WeightedAverage blends an incoming purchase into the current stock basis.
// With no prior valid basis (zero stock or zero cost) the purchase price is
// adopted directly; stale cost values never leak into the result. Purchase
// returns must not be passed through here: a return reverses quantity, never
// the cost average.
func WeightedAverage(currentQty int, currentCostCents int64, purchaseQty int, purchaseCostCents int64) Result {
	if purchaseQty <= 0 {
		return Result{
			UnitCostCents:  currentCostCents,
			TotalCostCents: int64(currentQty) * currentCostCents,
		}
	}
	if currentQty <= 0 || currentCostCents <= 0 {
		return Result{
			UnitCostCents:  purchaseCostCents,
			TotalCostCents: int64(purchaseQty) * purchaseCostCents,
		}
	}

	totalValue := int64(currentQty)*currentCostCents + int64(purchaseQty)*purchaseCostCents
	totalQty := currentQty + purchaseQty
	blended := int64(math.Round(float64(totalValue) / float64(totalQty)))

	return Result{UnitCostCents: blended, TotalCostCents: totalValue}
}

// Replay is the outcome of re-deriving cost state from a full purchase
// history.
type Replay struct {
	AvgCostCents           int64
	PurchasedQty           int
	ReturnedQty            int
	CostAccumCents         int64
	LastPurchasePriceCents int64
	LastPurchaseAt         time.Time
	FinalQty               int
	HasHistory             bool
}

// ReplayHistory replays the weighted-average algorithm over a chronological
// purchase history. Returns are partitioned out: they reduce the final
// quantity but never enter the cost basis. This is the repair path used after
// a purchase invoice is deleted, since a running average cannot subtract a
// historical entry without replaying the whole series.
func ReplayHistory(lines []domain.PurchaseLine) Replay {
	var rep Replay
	for _, line := range lines {
		if line.IsReturn {
			rep.ReturnedQty += line.Quantity
			continue
		}
		if line.Quantity <= 0 {
			continue
		}
		res := WeightedAverage(rep.PurchasedQty, rep.AvgCostCents, line.Quantity, line.UnitCostCents)
		rep.AvgCostCents = res.UnitCostCents
		rep.PurchasedQty += line.Quantity
		rep.CostAccumCents += int64(line.Quantity) * line.UnitCostCents
		rep.LastPurchasePriceCents = line.UnitCostCents
		rep.LastPurchaseAt = line.PurchasedAt
		rep.HasHistory = true
	}
	rep.FinalQty = rep.PurchasedQty - rep.ReturnedQty
	return rep
}
