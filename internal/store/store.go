// Package store defines the persistence contract the rest of the backend
// programs against. Two implementations exist: postgres (production) and
// memory (tests, dev mode without DATABASE_URL).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"stokkita/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrWriteConflict signals a concurrent writer won; callers may re-read
	// and resubmit.
	ErrWriteConflict = errors.New("write conflict")
)

type Store interface {
	// Products.
	ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// SetProductArchived flips the archive marker; nil unarchives.
	SetProductArchived(ctx context.Context, id string, archivedAt *time.Time) error

	// Price and attribute history (append-only).
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error)
	CreateAttributeHistory(ctx context.Context, entry domain.AttributeHistory) error

	// Stock batches.
	CreateBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error)
	// ListBatches returns batches with remaining stock, oldest received first.
	ListBatches(ctx context.Context, productID string) ([]domain.StockBatch, error)
	TotalRemainingStock(ctx context.Context, productID string) (int, error)
	// StockTotals maps product id to summed remaining quantity (zero rows
	// omitted).
	StockTotals(ctx context.Context) (map[string]int, error)
	// MaxInStockBatchCost returns the highest unit cost among batches that
	// still have remaining stock; ok is false when none exist.
	MaxInStockBatchCost(ctx context.Context, productID string) (cost decimal.Decimal, ok bool, err error)
	ListStockIns(ctx context.Context, limit int) ([]domain.StockInEntry, error)
	// ListStockInsBetween returns intake rows received in [from, to),
	// newest first.
	ListStockInsBetween(ctx context.Context, from, to time.Time) ([]domain.StockInEntry, error)

	// Sales. RecordSale persists the sale header, allocates cost per line
	// against the product's oldest batches and writes the batch deductions,
	// all in one transaction; no partial writes survive a failure.
	// CancelSale restores stock (reverse-FIFO credit, newest batches first)
	// and sets cancelled_at, conditional on it still being unset.
	RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CancelSale(ctx context.Context, saleID string, cancelledAt time.Time) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	// ListSaleItemFacts returns flattened non-cancelled sale lines within
	// [from, to) for report aggregation.
	ListSaleItemFacts(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleItemFact, error)

	// Schedules.
	CreateSchedule(ctx context.Context, schedule domain.Schedule) (*domain.Schedule, error)
	ListSchedules(ctx context.Context, from string, to string) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule domain.Schedule) (*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	// Auth substrate.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
