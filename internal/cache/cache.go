package cache

import (
	"context"
	"time"

	"stokku/backend/internal/domain"
)

// HistoryCache holds rendered sales-history pages. Entries are
// invalidated whenever a sale commits, so a hit is always consistent
// with the records table.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]domain.SalesRecordView, bool, error)
	Set(ctx context.Context, key string, records []domain.SalesRecordView, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopHistoryCache struct{}

func (NoopHistoryCache) Get(_ context.Context, _ string) ([]domain.SalesRecordView, bool, error) {
	return nil, false, nil
}

func (NoopHistoryCache) Set(_ context.Context, _ string, _ []domain.SalesRecordView, _ time.Duration) error {
	return nil
}

func (NoopHistoryCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
