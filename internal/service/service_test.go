package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/cache"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
	"stokku/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.New(), cache.NoopHistoryCache{}, 5*time.Second)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func clerkCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "clerk", Role: domain.RoleClerk})
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func createTestProduct(t *testing.T, svc *Service, name string, cost string, initialStock int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:         name,
		Category:     "Food",
		CostPrice:    mustDec(t, cost),
		InitialStock: initialStock,
		Units: []domain.UnitCreateRequest{
			{UnitType: "piece", SellingPrice: mustDec(t, "20.00")},
		},
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func TestSellSpansBatchesOldestFirst(t *testing.T) {
	svc := newTestService()
	product := createTestProduct(t, svc, "Instant Oatmeal", "10.00", 5)

	cost := mustDec(t, "12.00")
	if _, err := svc.AddStock(adminCtx(), product.ID, domain.BatchCreateRequest{
		Quantity:  3,
		CostPrice: &cost,
	}); err != nil {
		t.Fatalf("add stock failed: %v", err)
	}

	resp, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID:    product.ID,
		UnitType:     "piece",
		Quantity:     6,
		SellingPrice: mustDec(t, "20.00"),
	})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if len(resp.Lines) != 1 {
		t.Fatalf("expected 1 sale line, got %d", len(resp.Lines))
	}
	line := resp.Lines[0]
	if line.UnitsSold != 6 || line.Shortfall != 0 {
		t.Fatalf("expected 6 sold with no shortfall, got sold=%d shortfall=%d", line.UnitsSold, line.Shortfall)
	}
	if line.Cost != "62.00" {
		t.Fatalf("expected cost 62.00 spanning both batches, got %s", line.Cost)
	}
	if line.Revenue != "120.00" || line.Profit != "58.00" {
		t.Fatalf("expected revenue 120.00 profit 58.00, got revenue=%s profit=%s", line.Revenue, line.Profit)
	}

	batches, err := svc.ListBatches(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("list batches failed: %v", err)
	}
	if len(batches.Batches) != 1 {
		t.Fatalf("expected depleted batch to be removed, got %d batches", len(batches.Batches))
	}
	if batches.Batches[0].Quantity != 2 {
		t.Fatalf("expected 2 units left in newest batch, got %d", batches.Batches[0].Quantity)
	}

	after, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.TotalQuantity != 2 {
		t.Fatalf("expected total quantity projection 2, got %d", after.TotalQuantity)
	}
}

func TestSellPartialDepletionReportsShortfall(t *testing.T) {
	svc := newTestService()
	product := createTestProduct(t, svc, "Aloe Vera Gel", "3.75", 8)

	resp, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID:    product.ID,
		UnitType:     "piece",
		Quantity:     100,
		SellingPrice: mustDec(t, "7.20"),
	})
	if err != nil {
		t.Fatalf("partial sell should succeed, got %v", err)
	}
	line := resp.Lines[0]
	if line.UnitsSold != 8 || line.Shortfall != 92 {
		t.Fatalf("expected sold=8 shortfall=92, got sold=%d shortfall=%d", line.UnitsSold, line.Shortfall)
	}

	after, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.TotalQuantity != 0 {
		t.Fatalf("expected product emptied, total quantity %d", after.TotalQuantity)
	}
}

func TestSellSingleOnEmptyProductReturnsInsufficientStock(t *testing.T) {
	svc := newTestService()
	product := createTestProduct(t, svc, "Cotton T-Shirt", "6.00", 0)

	_, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID:    product.ID,
		UnitType:     "piece",
		Quantity:     1,
		SellingPrice: mustDec(t, "12.50"),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestMultiLineSaleAbortsWhollyOnBadLine(t *testing.T) {
	svc := newTestService()
	good := createTestProduct(t, svc, "Paracetamol 500mg", "2.40", 40)
	bad := createTestProduct(t, svc, "Vitamin C Effervescent", "5.10", 25)

	_, err := svc.Sell(clerkCtx(), domain.SellRequest{
		Items: []domain.SellItem{
			{ProductID: good.ID, UnitType: "piece", Quantity: 10, SellingPrice: mustDec(t, "4.50")},
			{ProductID: bad.ID, UnitType: "pallet", Quantity: 1, SellingPrice: mustDec(t, "8.90")},
		},
	})
	if !errors.Is(err, store.ErrTransactionAborted) {
		t.Fatalf("expected aborted transaction, got %v", err)
	}
	if !errors.Is(err, store.ErrInvalidUnit) {
		t.Fatalf("expected invalid unit as the cause, got %v", err)
	}
	var lineErr *store.LineError
	if !errors.As(err, &lineErr) || lineErr.Index != 1 {
		t.Fatalf("expected failure at line 1, got %v", err)
	}

	after, err := svc.GetProduct(context.Background(), good.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.TotalQuantity != 40 {
		t.Fatalf("expected first line rolled back, total quantity %d", after.TotalQuantity)
	}

	history, err := svc.ListSalesHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if len(history.Records) != 0 {
		t.Fatalf("expected no history records after aborted sale, got %d", len(history.Records))
	}
}

func TestSellRequiresActor(t *testing.T) {
	svc := newTestService()
	product := createTestProduct(t, svc, "Instant Oatmeal", "1.80", 10)

	_, err := svc.Sell(context.Background(), domain.SellRequest{
		Items: []domain.SellItem{
			{ProductID: product.ID, UnitType: "piece", Quantity: 1, SellingPrice: mustDec(t, "2.60")},
		},
	})
	if err == nil {
		t.Fatalf("expected sell without actor to fail")
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(clerkCtx(), domain.ProductCreateRequest{
		Name:      "Hand Soap",
		Category:  "Cosmetics",
		CostPrice: mustDec(t, "1.20"),
		Units: []domain.UnitCreateRequest{
			{UnitType: "bottle", SellingPrice: mustDec(t, "2.50")},
		},
	})
	if err == nil {
		t.Fatalf("expected non-admin create product to fail")
	}
}

func TestCreateProductRejectsSubCentPrices(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:      "Hand Soap",
		Category:  "Cosmetics",
		CostPrice: mustDec(t, "1.205"),
		Units: []domain.UnitCreateRequest{
			{UnitType: "bottle", SellingPrice: mustDec(t, "2.50")},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected sub-cent cost price to be rejected, got %v", err)
	}
}

func TestAddStockDefaultsToProductCostPrice(t *testing.T) {
	svc := newTestService()
	product := createTestProduct(t, svc, "Instant Oatmeal", "1.80", 0)

	batch, err := svc.AddStock(adminCtx(), product.ID, domain.BatchCreateRequest{Quantity: 12})
	if err != nil {
		t.Fatalf("add stock failed: %v", err)
	}
	if batch.CostPrice != "1.80" {
		t.Fatalf("expected batch cost to default to product cost 1.80, got %s", batch.CostPrice)
	}

	after, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.TotalQuantity != 12 {
		t.Fatalf("expected total quantity 12, got %d", after.TotalQuantity)
	}
}

func TestSalesHistoryNewestFirstWithNameSnapshot(t *testing.T) {
	svc := newTestService()
	first := createTestProduct(t, svc, "Instant Oatmeal", "1.80", 10)
	second := createTestProduct(t, svc, "Cotton T-Shirt", "6.00", 10)

	if _, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID: first.ID, UnitType: "piece", Quantity: 2, SellingPrice: mustDec(t, "2.60"),
	}); err != nil {
		t.Fatalf("first sell failed: %v", err)
	}
	if _, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID: second.ID, UnitType: "piece", Quantity: 3, SellingPrice: mustDec(t, "12.50"),
	}); err != nil {
		t.Fatalf("second sell failed: %v", err)
	}

	history, err := svc.ListSalesHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if len(history.Records) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(history.Records))
	}
	if history.Records[0].ProductName != "Cotton T-Shirt" {
		t.Fatalf("expected newest sale first, got %s", history.Records[0].ProductName)
	}
	if history.Records[1].ProductName != "Instant Oatmeal" {
		t.Fatalf("expected oldest sale last, got %s", history.Records[1].ProductName)
	}
}

type historyCacheSpy struct {
	stored      []domain.SalesRecordView
	hasValue    bool
	gets        int
	sets        int
	invalidates int
}

func (c *historyCacheSpy) Get(_ context.Context, _ string) ([]domain.SalesRecordView, bool, error) {
	c.gets++
	if !c.hasValue {
		return nil, false, nil
	}
	return c.stored, true, nil
}

func (c *historyCacheSpy) Set(_ context.Context, _ string, records []domain.SalesRecordView, _ time.Duration) error {
	c.sets++
	c.stored = records
	c.hasValue = true
	return nil
}

func (c *historyCacheSpy) Invalidate(_ context.Context, _ ...string) error {
	c.invalidates++
	c.hasValue = false
	return nil
}

func TestSalesHistoryCachesDefaultPageAndInvalidatesOnSale(t *testing.T) {
	spy := &historyCacheSpy{}
	svc := New(memory.New(), spy, 5*time.Second)
	product := createTestProduct(t, svc, "Instant Oatmeal", "1.80", 20)

	if _, err := svc.ListSalesHistory(context.Background(), 0); err != nil {
		t.Fatalf("first history read failed: %v", err)
	}
	if spy.sets != 1 {
		t.Fatalf("expected default-limit page to be cached, sets=%d", spy.sets)
	}

	if _, err := svc.ListSalesHistory(context.Background(), 0); err != nil {
		t.Fatalf("second history read failed: %v", err)
	}
	if spy.sets != 1 {
		t.Fatalf("expected cache hit on second read, sets=%d", spy.sets)
	}

	// Non-default limits bypass the cache entirely.
	if _, err := svc.ListSalesHistory(context.Background(), 5); err != nil {
		t.Fatalf("limited history read failed: %v", err)
	}
	if spy.gets != 2 || spy.sets != 1 {
		t.Fatalf("expected non-default limit to bypass cache, gets=%d sets=%d", spy.gets, spy.sets)
	}

	if _, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID: product.ID, UnitType: "piece", Quantity: 1, SellingPrice: mustDec(t, "2.60"),
	}); err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if spy.invalidates != 1 {
		t.Fatalf("expected sale to invalidate the cached page, invalidates=%d", spy.invalidates)
	}

	history, err := svc.ListSalesHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("history read after sale failed: %v", err)
	}
	if len(history.Records) != 1 {
		t.Fatalf("expected fresh history after invalidation, got %d records", len(history.Records))
	}
}

func TestListAuditLogsRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.ListAuditLogs(clerkCtx(), time.Now().UTC(), 50)
	if err == nil {
		t.Fatalf("expected non-admin audit log read to fail")
	}
}

func TestSaleWritesAuditTrail(t *testing.T) {
	svc := newTestService()
	product := createTestProduct(t, svc, "Instant Oatmeal", "1.80", 20)

	if _, err := svc.SellSingle(clerkCtx(), domain.SellItem{
		ProductID: product.ID, UnitType: "piece", Quantity: 2, SellingPrice: mustDec(t, "2.60"),
	}); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), time.Now().UTC(), 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}

	foundSale := false
	for _, entry := range logs {
		if entry.Action == "sale" && entry.EntityID == product.ID {
			foundSale = true
			if entry.ActorUsername != "clerk" {
				t.Fatalf("expected sale audit actor clerk, got %s", entry.ActorUsername)
			}
		}
	}
	if !foundSale {
		t.Fatalf("expected a sale audit entry for product %s", product.ID)
	}
}
