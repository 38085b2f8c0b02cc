package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid request")
	ErrInvalidUnit        = errors.New("unit type not configured for product")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrTransactionAborted = errors.New("sale transaction aborted")
)

// LineError reports which line of a multi-line sale failed and why. The
// whole sale rolls back when any line fails, so it always wraps
// ErrTransactionAborted alongside the underlying cause.
type LineError struct {
	Index     int
	ProductID string
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("sale aborted at line %d (product %s): %v", e.Index, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() []error {
	return []error{ErrTransactionAborted, e.Err}
}

type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product, initialStock int) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	AddBatch(ctx context.Context, productID string, quantity int, costPrice decimal.Decimal) (*domain.Batch, error)
	ListBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	Sell(ctx context.Context, items []domain.SellItem) (*domain.SaleSummary, error)
	ListSalesRecords(ctx context.Context, limit int) ([]domain.SalesRecord, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
