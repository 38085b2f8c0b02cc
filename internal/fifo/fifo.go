// Package fifo plans oldest-first depletion of cost batches. It is pure
// planning: callers load the batches of a product, ask for a plan, then
// apply the plan to their own storage.
package fifo

import (
	"slices"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
)

// Consumption is one step of a depletion plan: take Units from the
// batch, deleting it when Depleted is set.
type Consumption struct {
	BatchID  string
	Units    int
	Depleted bool
}

// Result describes a depletion plan. UnitsSold never exceeds the
// requested quantity; Shortfall is the remainder that the batches could
// not cover. Cost is the exact sum of units times per-batch cost price.
type Result struct {
	UnitsSold    int
	Shortfall    int
	Cost         decimal.Decimal
	Consumptions []Consumption
}

// Order sorts batches into consumption order: oldest AddedOn first,
// with the store-assigned Seq breaking ties between batches added at
// the same instant.
func Order(batches []domain.Batch) {
	slices.SortFunc(batches, func(a, b domain.Batch) int {
		if c := a.AddedOn.Compare(b.AddedOn); c != 0 {
			return c
		}
		if a.Seq != b.Seq {
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		return 0
	})
}

// Deplete plans the consumption of requested units from batches, which
// must already be in consumption order (see Order). It never fails:
// when the batches run short the plan simply sells what is there and
// reports the rest as Shortfall. Deciding whether a zero-unit plan is a
// business failure is the caller's call.
func Deplete(batches []domain.Batch, requested int) Result {
	res := Result{Cost: decimal.Zero}
	if requested <= 0 {
		return res
	}
	remaining := requested
	for _, b := range batches {
		if remaining == 0 {
			break
		}
		if b.Quantity <= 0 {
			continue
		}
		used := min(remaining, b.Quantity)
		res.Consumptions = append(res.Consumptions, Consumption{
			BatchID:  b.ID,
			Units:    used,
			Depleted: used == b.Quantity,
		})
		res.Cost = res.Cost.Add(b.CostPrice.Mul(decimal.NewFromInt(int64(used))))
		res.UnitsSold += used
		remaining -= used
	}
	res.Shortfall = remaining
	return res
}
