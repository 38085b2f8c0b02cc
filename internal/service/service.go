package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/cache"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
	"stokku/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultHistoryLimit = 50
	historyCacheKey     = "sales:history:recent"
)

type Service struct {
	repo       store.Repository
	history    cache.HistoryCache
	historyTTL time.Duration
}

func New(repo store.Repository, history cache.HistoryCache, historyTTL time.Duration) *Service {
	if history == nil {
		history = cache.NoopHistoryCache{}
	}
	if historyTTL <= 0 {
		historyTTL = 30 * time.Second
	}

	return &Service{
		repo:       repo,
		history:    history,
		historyTTL: historyTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrValidation
	}
	if err := validateMoney(req.CostPrice); err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if len(req.Units) == 0 {
		return domain.Product{}, store.ErrValidation
	}

	units := make([]domain.UnitMeasurement, 0, len(req.Units))
	seen := map[string]struct{}{}
	for _, u := range req.Units {
		unitType := strings.ToLower(strings.TrimSpace(u.UnitType))
		if unitType == "" {
			return domain.Product{}, store.ErrValidation
		}
		if err := validateMoney(u.SellingPrice); err != nil {
			return domain.Product{}, err
		}
		if _, dup := seen[unitType]; dup {
			return domain.Product{}, store.ErrValidation
		}
		seen[unitType] = struct{}{}
		units = append(units, domain.UnitMeasurement{UnitType: unitType, SellingPrice: u.SellingPrice})
	}

	product := domain.Product{
		Name:      req.Name,
		Category:  req.Category,
		CostPrice: req.CostPrice,
		Units:     units,
	}

	created, err := s.repo.CreateProduct(ctx, product, req.InitialStock)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,cost=%s,stock=%d", created.Name, created.CostPrice.StringFixed(2), req.InitialStock))

	return *created, nil
}

func (s *Service) AddStock(ctx context.Context, productID string, req domain.BatchCreateRequest) (domain.BatchView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.BatchView{}, fmt.Errorf("admin role required")
	}

	productID = strings.TrimSpace(productID)
	if productID == "" || req.Quantity < 1 {
		return domain.BatchView{}, store.ErrValidation
	}

	costPrice := decimal.Zero
	if req.CostPrice != nil {
		if err := validateMoney(*req.CostPrice); err != nil {
			return domain.BatchView{}, err
		}
		costPrice = *req.CostPrice
	} else {
		product, err := s.repo.GetProduct(ctx, productID)
		if err != nil {
			return domain.BatchView{}, err
		}
		costPrice = product.CostPrice
	}

	batch, err := s.repo.AddBatch(ctx, productID, req.Quantity, costPrice)
	if err != nil {
		return domain.BatchView{}, err
	}

	s.logAudit(ctx, "batch_add", "batch", batch.ID, fmt.Sprintf("product=%s,qty=%d,cost=%s", productID, batch.Quantity, batch.CostPrice.StringFixed(2)))

	return toBatchView(*batch), nil
}

func (s *Service) ListBatches(ctx context.Context, productID string) (domain.BatchListResponse, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.BatchListResponse{}, store.ErrValidation
	}

	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return domain.BatchListResponse{}, err
	}

	resp := domain.BatchListResponse{
		ProductID: productID,
		Batches:   make([]domain.BatchView, 0, len(batches)),
	}
	for _, b := range batches {
		resp.TotalQuantity += b.Quantity
		resp.Batches = append(resp.Batches, toBatchView(b))
	}
	return resp, nil
}

// SellSingle sells one product line. A failure surfaces as the line's
// own cause rather than the aborted-transaction wrapper, since there is
// nothing else in the sale to abort.
func (s *Service) SellSingle(ctx context.Context, item domain.SellItem) (domain.SaleResponse, error) {
	resp, err := s.Sell(ctx, domain.SellRequest{Items: []domain.SellItem{item}})
	if err != nil {
		var lineErr *store.LineError
		if errors.As(err, &lineErr) {
			return domain.SaleResponse{}, lineErr.Err
		}
		return domain.SaleResponse{}, err
	}
	return resp, nil
}

func (s *Service) Sell(ctx context.Context, req domain.SellRequest) (domain.SaleResponse, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated actor required")
	}
	if len(req.Items) == 0 {
		return domain.SaleResponse{}, store.ErrValidation
	}

	items := make([]domain.SellItem, 0, len(req.Items))
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.UnitType = strings.ToLower(strings.TrimSpace(item.UnitType))
		if item.ProductID == "" || item.UnitType == "" || item.Quantity < 1 {
			return domain.SaleResponse{}, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrValidation}
		}
		if err := validateMoney(item.SellingPrice); err != nil {
			return domain.SaleResponse{}, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrValidation}
		}
		items = append(items, item)
	}

	summary, err := s.repo.Sell(ctx, items)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	if err := s.history.Invalidate(ctx, historyCacheKey); err != nil {
		log.Printf("[service] WARN: failed to invalidate history cache: %v", err)
	}

	for _, line := range summary.Lines {
		s.logAudit(ctx, "sale", "product", line.ProductID,
			fmt.Sprintf("sale=%s,unit=%s,sold=%d,shortfall=%d,revenue=%s,profit=%s",
				summary.ID, line.UnitType, line.UnitsSold, line.Shortfall,
				line.Revenue.StringFixed(2), line.Profit.StringFixed(2)))
	}

	return toSaleResponse(*summary), nil
}

func (s *Service) ListSalesHistory(ctx context.Context, limit int) (domain.SalesHistoryResponse, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}

	cacheable := limit == defaultHistoryLimit
	if cacheable {
		if cached, hit, err := s.history.Get(ctx, historyCacheKey); err != nil {
			log.Printf("[service] WARN: history cache read failed: %v", err)
		} else if hit {
			return domain.SalesHistoryResponse{Records: cached}, nil
		}
	}

	records, err := s.repo.ListSalesRecords(ctx, limit)
	if err != nil {
		return domain.SalesHistoryResponse{}, err
	}

	views := make([]domain.SalesRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, toSalesRecordView(rec))
	}

	if cacheable {
		if err := s.history.Set(ctx, historyCacheKey, views, s.historyTTL); err != nil {
			log.Printf("[service] WARN: history cache write failed: %v", err)
		}
	}

	return domain.SalesHistoryResponse{Records: views}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}

	from := time.Date(date.UTC().Year(), date.UTC().Month(), date.UTC().Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// validateMoney rejects negative amounts and amounts carrying more than
// two fractional digits.
func validateMoney(v decimal.Decimal) error {
	if v.IsNegative() {
		return store.ErrValidation
	}
	if !v.Equal(v.Round(2)) {
		return store.ErrValidation
	}
	return nil
}

func toBatchView(b domain.Batch) domain.BatchView {
	return domain.BatchView{
		ID:        b.ID,
		ProductID: b.ProductID,
		Quantity:  b.Quantity,
		CostPrice: b.CostPrice.StringFixed(2),
		AddedOn:   b.AddedOn.Format(time.RFC3339),
	}
}

func toSaleResponse(summary domain.SaleSummary) domain.SaleResponse {
	resp := domain.SaleResponse{
		SaleID:       summary.ID,
		Lines:        make([]domain.SaleLineView, 0, len(summary.Lines)),
		TotalRevenue: summary.TotalRevenue.StringFixed(2),
		TotalCost:    summary.TotalCost.StringFixed(2),
		TotalProfit:  summary.TotalProfit.StringFixed(2),
		SoldAt:       summary.SoldAt.Format(time.RFC3339),
	}
	for _, line := range summary.Lines {
		resp.Lines = append(resp.Lines, domain.SaleLineView{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitType:    line.UnitType,
			Requested:   line.Requested,
			UnitsSold:   line.UnitsSold,
			Shortfall:   line.Shortfall,
			Revenue:     line.Revenue.StringFixed(2),
			Cost:        line.Cost.StringFixed(2),
			Profit:      line.Profit.StringFixed(2),
		})
	}
	return resp
}

func toSalesRecordView(rec domain.SalesRecord) domain.SalesRecordView {
	return domain.SalesRecordView{
		ID:          rec.ID,
		SaleID:      rec.SaleID,
		ProductID:   rec.ProductID,
		ProductName: rec.ProductName,
		UnitType:    rec.UnitType,
		Quantity:    rec.Quantity,
		Revenue:     rec.Revenue.StringFixed(2),
		Cost:        rec.Cost.StringFixed(2),
		Profit:      rec.Profit.StringFixed(2),
		SoldAt:      rec.SoldAt.Format(time.RFC3339),
	}
}
