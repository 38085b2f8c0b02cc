package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
)

func TestSellDepletesBatchesOldestFirst(t *testing.T) {
	databaseURL := os.Getenv("STOKKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOKKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productName := fmt.Sprintf("Sell IT %d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:      productName,
		Category:  "integration",
		CostPrice: decimal.RequireFromString("10.00"),
		Units: []domain.UnitMeasurement{
			{UnitType: "piece", SellingPrice: decimal.RequireFromString("20.00")},
		},
	}, 5)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales_records WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_batches WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM unit_measurements WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	if _, err := s.AddBatch(ctx, product.ID, 3, decimal.RequireFromString("12.00")); err != nil {
		t.Fatalf("add batch: %v", err)
	}

	summary, err := s.Sell(ctx, []domain.SellItem{
		{
			ProductID:    product.ID,
			UnitType:     "piece",
			Quantity:     6,
			SellingPrice: decimal.RequireFromString("20.00"),
		},
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if len(summary.Lines) != 1 {
		t.Fatalf("expected 1 sale line, got %d", len(summary.Lines))
	}
	line := summary.Lines[0]
	if line.UnitsSold != 6 || line.Shortfall != 0 {
		t.Fatalf("expected 6 sold with no shortfall, got sold=%d shortfall=%d", line.UnitsSold, line.Shortfall)
	}
	if line.Cost.StringFixed(2) != "62.00" {
		t.Fatalf("expected cost 62.00 across both batches, got %s", line.Cost.StringFixed(2))
	}
	if line.Profit.StringFixed(2) != "58.00" {
		t.Fatalf("expected profit 58.00, got %s", line.Profit.StringFixed(2))
	}

	var totalQuantity int
	if err := s.db.QueryRowContext(ctx, `
		SELECT total_quantity
		FROM products
		WHERE id = $1
	`, product.ID).Scan(&totalQuantity); err != nil {
		t.Fatalf("query total_quantity: %v", err)
	}
	if totalQuantity != 2 {
		t.Fatalf("expected total_quantity 2 after sale, got %d", totalQuantity)
	}

	var batchCount, remaining int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(quantity), 0)
		FROM product_batches
		WHERE product_id = $1
	`, product.ID).Scan(&batchCount, &remaining); err != nil {
		t.Fatalf("query batches: %v", err)
	}
	if batchCount != 1 || remaining != 2 {
		t.Fatalf("expected 1 surviving batch with 2 units, got count=%d qty=%d", batchCount, remaining)
	}
}
