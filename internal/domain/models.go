package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalogue entry. TotalQuantity is a projection over the
// product's batches and is recomputed whenever a batch changes.
type Product struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Category      string            `json:"category"`
	CostPrice     decimal.Decimal   `json:"cost_price"`
	TotalQuantity int               `json:"total_quantity"`
	Units         []UnitMeasurement `json:"units"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// UnitMeasurement is a sellable unit of a product with its own price.
// Unit types are unique per product.
type UnitMeasurement struct {
	UnitType     string          `json:"unit_type"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

// Batch is one cost lot of a product. Depletion walks batches oldest
// first, ordered by AddedOn with Seq as the tie-break; Seq is assigned
// by the store and is monotonic per insertion.
type Batch struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Seq       int64           `json:"-"`
	Quantity  int             `json:"quantity"`
	CostPrice decimal.Decimal `json:"cost_price"`
	AddedOn   time.Time       `json:"added_on"`
}

type UnitCreateRequest struct {
	UnitType     string          `json:"unit_type"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type ProductCreateRequest struct {
	Name         string              `json:"name"`
	Category     string              `json:"category"`
	CostPrice    decimal.Decimal     `json:"cost_price"`
	InitialStock int                 `json:"initial_stock"`
	Units        []UnitCreateRequest `json:"units"`
}

type BatchCreateRequest struct {
	Quantity  int              `json:"quantity"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
}

type BatchView struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	CostPrice string `json:"cost_price"`
	AddedOn   string `json:"added_on"`
}

type BatchListResponse struct {
	ProductID     string      `json:"product_id"`
	TotalQuantity int         `json:"total_quantity"`
	Batches       []BatchView `json:"batches"`
}

// SellItem is one line of a sale as submitted by the caller.
type SellItem struct {
	ProductID    string          `json:"product_id"`
	UnitType     string          `json:"unit_type"`
	Quantity     int             `json:"quantity"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type SellRequest struct {
	Items []SellItem `json:"items"`
}

// SaleLine is the outcome of depleting one sale line. UnitsSold can be
// lower than the requested quantity when stock ran short; Shortfall is
// the remainder that could not be fulfilled.
type SaleLine struct {
	ProductID   string
	ProductName string
	UnitType    string
	Requested   int
	UnitsSold   int
	Shortfall   int
	Revenue     decimal.Decimal
	Cost        decimal.Decimal
	Profit      decimal.Decimal
}

// SaleSummary is the result of one atomic sale across all its lines.
type SaleSummary struct {
	ID           string
	Lines        []SaleLine
	TotalRevenue decimal.Decimal
	TotalCost    decimal.Decimal
	TotalProfit  decimal.Decimal
	SoldAt       time.Time
}

type SaleLineView struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitType    string `json:"unit_type"`
	Requested   int    `json:"requested"`
	UnitsSold   int    `json:"units_sold"`
	Shortfall   int    `json:"shortfall"`
	Revenue     string `json:"revenue"`
	Cost        string `json:"cost"`
	Profit      string `json:"profit"`
}

type SaleResponse struct {
	SaleID       string         `json:"sale_id"`
	Lines        []SaleLineView `json:"lines"`
	TotalRevenue string         `json:"total_revenue"`
	TotalCost    string         `json:"total_cost"`
	TotalProfit  string         `json:"total_profit"`
	SoldAt       string         `json:"sold_at"`
}

// SalesRecord is an append-only history row. It carries a snapshot of
// the product name at sale time and survives later batch and product
// changes untouched.
type SalesRecord struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitType    string          `json:"unit_type"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"-"`
	Cost        decimal.Decimal `json:"-"`
	Profit      decimal.Decimal `json:"-"`
	SoldAt      time.Time       `json:"sold_at"`
}

type SalesRecordView struct {
	ID          string `json:"id"`
	SaleID      string `json:"sale_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitType    string `json:"unit_type"`
	Quantity    int    `json:"quantity"`
	Revenue     string `json:"revenue"`
	Cost        string `json:"cost"`
	Profit      string `json:"profit"`
	SoldAt      string `json:"sold_at"`
}

type SalesHistoryResponse struct {
	Records []SalesRecordView `json:"records"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type ClerkCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ClerkUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin = "admin"
	RoleClerk = "clerk"
)
