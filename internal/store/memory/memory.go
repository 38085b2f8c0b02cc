package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/fifo"
	"stokku/backend/internal/store"
	"stokku/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	batches         map[string][]domain.Batch
	salesRecords    []domain.SalesRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	nextSeq         int64
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		batches:         make(map[string][]domain.Batch),
		salesRecords:    make([]domain.SalesRecord, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	clerkPwd := envOr("SEED_CLERK_PASSWORD", "clerk123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CLERK_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"clerk", clerkPwd, domain.RoleClerk},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []struct {
		name     string
		category string
		cost     string
		units    []struct {
			unitType string
			price    string
		}
		batches []struct {
			qty  int
			cost string
		}
	}{
		{
			name: "Paracetamol 500mg", category: "Drugs", cost: "2.40",
			units: []struct {
				unitType string
				price    string
			}{{"strip", "4.50"}, {"box", "40.00"}},
			batches: []struct {
				qty  int
				cost string
			}{{40, "2.40"}, {60, "2.55"}},
		},
		{
			name: "Vitamin C Effervescent", category: "Drugs", cost: "5.10",
			units: []struct {
				unitType string
				price    string
			}{{"tube", "8.90"}},
			batches: []struct {
				qty  int
				cost string
			}{{25, "5.10"}},
		},
		{
			name: "Aloe Vera Gel", category: "Cosmetics", cost: "3.75",
			units: []struct {
				unitType string
				price    string
			}{{"jar", "7.20"}},
			batches: []struct {
				qty  int
				cost string
			}{{18, "3.75"}, {30, "3.90"}},
		},
		{
			name: "Instant Oatmeal", category: "Food", cost: "1.80",
			units: []struct {
				unitType string
				price    string
			}{{"sachet", "2.60"}, {"carton", "28.00"}},
			batches: []struct {
				qty  int
				cost string
			}{{80, "1.80"}},
		},
		{
			name: "Cotton T-Shirt", category: "Clothing", cost: "6.00",
			units: []struct {
				unitType string
				price    string
			}{{"piece", "12.50"}},
			batches: []struct {
				qty  int
				cost string
			}{{15, "6.00"}, {10, "6.40"}},
		},
	}

	for _, p := range seed {
		id := xid.New("prd")
		units := make([]domain.UnitMeasurement, 0, len(p.units))
		for _, u := range p.units {
			units = append(units, domain.UnitMeasurement{
				UnitType:     u.unitType,
				SellingPrice: decimal.RequireFromString(u.price),
			})
		}
		total := 0
		addedOn := now.Add(-48 * time.Hour)
		for _, b := range p.batches {
			s.nextSeq++
			s.batches[id] = append(s.batches[id], domain.Batch{
				ID:        xid.New("bat"),
				ProductID: id,
				Seq:       s.nextSeq,
				Quantity:  b.qty,
				CostPrice: decimal.RequireFromString(b.cost),
				AddedOn:   addedOn,
			})
			total += b.qty
			addedOn = addedOn.Add(12 * time.Hour)
		}
		s.products[id] = domain.Product{
			ID:            id,
			Name:          p.name,
			Category:      p.category,
			CostPrice:     decimal.RequireFromString(p.cost),
			TotalQuantity: total,
			Units:         units,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || strings.TrimSpace(product.Category) == "" {
		return nil, store.ErrValidation
	}
	if product.CostPrice.IsNegative() || initialStock < 0 {
		return nil, store.ErrValidation
	}
	seen := map[string]struct{}{}
	units := make([]domain.UnitMeasurement, 0, len(product.Units))
	for _, u := range product.Units {
		u.UnitType = strings.ToLower(strings.TrimSpace(u.UnitType))
		if u.UnitType == "" || u.SellingPrice.IsNegative() {
			return nil, store.ErrValidation
		}
		if _, dup := seen[u.UnitType]; dup {
			return nil, store.ErrValidation
		}
		seen[u.UnitType] = struct{}{}
		units = append(units, u)
	}
	product.Units = units

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.TotalQuantity = 0

	if initialStock > 0 {
		s.nextSeq++
		s.batches[product.ID] = append(s.batches[product.ID], domain.Batch{
			ID:        xid.New("bat"),
			ProductID: product.ID,
			Seq:       s.nextSeq,
			Quantity:  initialStock,
			CostPrice: product.CostPrice,
			AddedOn:   now,
		})
		product.TotalQuantity = initialStock
	}

	s.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) AddBatch(_ context.Context, productID string, quantity int, costPrice decimal.Decimal) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 1 || costPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}

	s.nextSeq++
	batch := domain.Batch{
		ID:        xid.New("bat"),
		ProductID: productID,
		Seq:       s.nextSeq,
		Quantity:  quantity,
		CostPrice: costPrice,
		AddedOn:   time.Now().UTC(),
	}
	s.batches[productID] = append(s.batches[productID], batch)

	product.TotalQuantity = sumQuantity(s.batches[productID])
	product.UpdatedAt = batch.AddedOn
	s.products[productID] = product

	created := batch
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.products[productID]; !exists {
		return nil, store.ErrNotFound
	}
	batches := make([]domain.Batch, len(s.batches[productID]))
	copy(batches, s.batches[productID])
	fifo.Order(batches)
	return batches, nil
}

// Sell plans every line against a staged copy of the affected batch
// slices, then swaps the staged state in only when all lines succeed.
// An error at any line leaves the store untouched.
func (s *Store) Sell(_ context.Context, items []domain.SellItem) (*domain.SaleSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	summary := domain.SaleSummary{
		ID:           xid.New("sale"),
		SoldAt:       now,
		TotalRevenue: decimal.Zero,
		TotalCost:    decimal.Zero,
		TotalProfit:  decimal.Zero,
	}
	staged := map[string][]domain.Batch{}
	records := make([]domain.SalesRecord, 0, len(items))

	for i, item := range items {
		if item.Quantity < 1 || item.SellingPrice.IsNegative() {
			return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrValidation}
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrNotFound}
		}
		if !hasUnit(product, item.UnitType) {
			return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrInvalidUnit}
		}

		batches, ok := staged[item.ProductID]
		if !ok {
			batches = make([]domain.Batch, len(s.batches[item.ProductID]))
			copy(batches, s.batches[item.ProductID])
			fifo.Order(batches)
		}

		plan := fifo.Deplete(batches, item.Quantity)
		if plan.UnitsSold == 0 {
			return nil, &store.LineError{Index: i, ProductID: item.ProductID, Err: store.ErrInsufficientStock}
		}
		staged[item.ProductID] = applyPlan(batches, plan)

		revenue := item.SellingPrice.Mul(decimal.NewFromInt(int64(plan.UnitsSold)))
		line := domain.SaleLine{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			UnitType:    item.UnitType,
			Requested:   item.Quantity,
			UnitsSold:   plan.UnitsSold,
			Shortfall:   plan.Shortfall,
			Revenue:     revenue,
			Cost:        plan.Cost,
			Profit:      revenue.Sub(plan.Cost),
		}
		summary.Lines = append(summary.Lines, line)
		summary.TotalRevenue = summary.TotalRevenue.Add(line.Revenue)
		summary.TotalCost = summary.TotalCost.Add(line.Cost)
		summary.TotalProfit = summary.TotalProfit.Add(line.Profit)

		records = append(records, domain.SalesRecord{
			ID:          xid.New("rec"),
			SaleID:      summary.ID,
			ProductID:   item.ProductID,
			ProductName: product.Name,
			UnitType:    item.UnitType,
			Quantity:    plan.UnitsSold,
			Revenue:     line.Revenue,
			Cost:        line.Cost,
			Profit:      line.Profit,
			SoldAt:      now,
		})
	}

	for productID, batches := range staged {
		s.batches[productID] = batches
		product := s.products[productID]
		product.TotalQuantity = sumQuantity(batches)
		product.UpdatedAt = now
		s.products[productID] = product
	}
	s.salesRecords = append(s.salesRecords, records...)

	return &summary, nil
}

func (s *Store) ListSalesRecords(_ context.Context, limit int) ([]domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesRecord, len(s.salesRecords))
	copy(result, s.salesRecords)
	slices.SortFunc(result, func(a, b domain.SalesRecord) int {
		if a.SoldAt.Equal(b.SoldAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.SoldAt.After(b.SoldAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleClerk
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// applyPlan rewrites a FIFO-ordered batch slice according to a depletion
// plan, dropping batches the plan marks as depleted.
func applyPlan(batches []domain.Batch, plan fifo.Result) []domain.Batch {
	byID := make(map[string]fifo.Consumption, len(plan.Consumptions))
	for _, c := range plan.Consumptions {
		byID[c.BatchID] = c
	}
	next := make([]domain.Batch, 0, len(batches))
	for _, b := range batches {
		c, touched := byID[b.ID]
		if !touched {
			next = append(next, b)
			continue
		}
		if c.Depleted {
			continue
		}
		b.Quantity -= c.Units
		next = append(next, b)
	}
	return next
}

func hasUnit(product domain.Product, unitType string) bool {
	for _, u := range product.Units {
		if u.UnitType == unitType {
			return true
		}
	}
	return false
}

func sumQuantity(batches []domain.Batch) int {
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	return total
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	units := make([]domain.UnitMeasurement, len(src.Units))
	copy(units, src.Units)
	dup.Units = units
	return dup
}
