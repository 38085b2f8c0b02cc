package fifo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
)

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func batch(id string, seq int64, qty int, cost decimal.Decimal, addedOn time.Time) domain.Batch {
	return domain.Batch{ID: id, Seq: seq, Quantity: qty, CostPrice: cost, AddedOn: addedOn}
}

func TestDepleteSpansBatchesOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		batch("b1", 1, 5, mustDec(t, "10.00"), base),
		batch("b2", 2, 3, mustDec(t, "12.00"), base.Add(time.Hour)),
	}
	res := Deplete(batches, 6)
	if res.UnitsSold != 6 || res.Shortfall != 0 {
		t.Fatalf("sold=%d shortfall=%d, want 6 and 0", res.UnitsSold, res.Shortfall)
	}
	if !res.Cost.Equal(mustDec(t, "62.00")) {
		t.Fatalf("cost = %s, want 62.00", res.Cost)
	}
	if len(res.Consumptions) != 2 {
		t.Fatalf("got %d consumptions, want 2", len(res.Consumptions))
	}
	first, second := res.Consumptions[0], res.Consumptions[1]
	if first.BatchID != "b1" || first.Units != 5 || !first.Depleted {
		t.Fatalf("first consumption = %+v, want b1 fully consumed", first)
	}
	if second.BatchID != "b2" || second.Units != 1 || second.Depleted {
		t.Fatalf("second consumption = %+v, want 1 unit of b2 left standing", second)
	}
}

func TestDepleteExactBatchBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		batch("b1", 1, 5, mustDec(t, "10.00"), base),
		batch("b2", 2, 3, mustDec(t, "12.00"), base.Add(time.Hour)),
	}
	res := Deplete(batches, 5)
	if res.UnitsSold != 5 || len(res.Consumptions) != 1 {
		t.Fatalf("sold=%d consumptions=%d, want exactly the first batch", res.UnitsSold, len(res.Consumptions))
	}
	if !res.Consumptions[0].Depleted {
		t.Fatal("exactly emptied batch must be marked depleted")
	}
	if !res.Cost.Equal(mustDec(t, "50.00")) {
		t.Fatalf("cost = %s, want 50.00", res.Cost)
	}
}

func TestDepleteOversellReportsShortfall(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		batch("b1", 1, 5, mustDec(t, "10.00"), base),
		batch("b2", 2, 3, mustDec(t, "12.00"), base.Add(time.Hour)),
	}
	res := Deplete(batches, 100)
	if res.UnitsSold != 8 || res.Shortfall != 92 {
		t.Fatalf("sold=%d shortfall=%d, want 8 and 92", res.UnitsSold, res.Shortfall)
	}
	for i, c := range res.Consumptions {
		if !c.Depleted {
			t.Fatalf("consumption %d not depleted on full exhaustion", i)
		}
	}
	if !res.Cost.Equal(mustDec(t, "86.00")) {
		t.Fatalf("cost = %s, want 86.00", res.Cost)
	}
}

func TestDepleteNoBatches(t *testing.T) {
	res := Deplete(nil, 4)
	if res.UnitsSold != 0 || res.Shortfall != 4 || len(res.Consumptions) != 0 {
		t.Fatalf("unexpected plan for empty ledger: %+v", res)
	}
	if !res.Cost.IsZero() {
		t.Fatalf("cost = %s, want 0", res.Cost)
	}
}

func TestDepleteZeroRequest(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{batch("b1", 1, 5, mustDec(t, "10.00"), base)}
	res := Deplete(batches, 0)
	if res.UnitsSold != 0 || res.Shortfall != 0 || len(res.Consumptions) != 0 {
		t.Fatalf("zero request must be a no-op plan, got %+v", res)
	}
}

func TestDepleteFractionalCostStaysExact(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		batch("b1", 1, 3, mustDec(t, "0.10"), base),
		batch("b2", 2, 3, mustDec(t, "0.20"), base.Add(time.Minute)),
	}
	res := Deplete(batches, 6)
	if !res.Cost.Equal(mustDec(t, "0.90")) {
		t.Fatalf("cost = %s, want 0.90", res.Cost)
	}
}

func TestDepleteConservesUnits(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		batch("b1", 1, 4, mustDec(t, "1.00"), base),
		batch("b2", 2, 7, mustDec(t, "1.10"), base.Add(time.Minute)),
		batch("b3", 3, 2, mustDec(t, "1.20"), base.Add(2*time.Minute)),
	}
	for _, requested := range []int{0, 1, 4, 5, 11, 13, 50} {
		res := Deplete(batches, requested)
		consumed := 0
		for _, c := range res.Consumptions {
			consumed += c.Units
		}
		if consumed != res.UnitsSold {
			t.Fatalf("requested %d: consumptions sum to %d, plan says %d sold", requested, consumed, res.UnitsSold)
		}
		if res.UnitsSold+res.Shortfall != requested {
			t.Fatalf("requested %d: sold %d + shortfall %d does not add up", requested, res.UnitsSold, res.Shortfall)
		}
	}
}

func TestOrderSortsByAddedOnThenSeq(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		batch("b3", 3, 1, mustDec(t, "1.00"), base.Add(time.Hour)),
		batch("b2", 2, 1, mustDec(t, "1.00"), base),
		batch("b1", 1, 1, mustDec(t, "1.00"), base),
	}
	Order(batches)
	got := []string{batches[0].ID, batches[1].ID, batches[2].ID}
	want := []string{"b1", "b2", "b3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
