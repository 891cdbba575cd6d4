package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	ArchivedAt        *time.Time      `json:"archived_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (p Product) Archived() bool {
	return p.ArchivedAt != nil
}

type ProductCreateRequest struct {
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	LowStockThreshold int             `json:"low_stock_threshold"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Unit              *string `json:"unit,omitempty"`
	LowStockThreshold *int    `json:"low_stock_threshold,omitempty"`
}

// ProductPriceUpdateRequest changes a product's selling price. Force must be
// set to proceed when the new price undercuts the highest in-stock batch cost.
type ProductPriceUpdateRequest struct {
	NewPrice decimal.Decimal `json:"new_price"`
	Force    bool            `json:"force"`
}

// PriceUpdateResult reports either the applied change or the loss warning
// that blocked it.
type PriceUpdateResult struct {
	Applied bool     `json:"applied"`
	Warning string   `json:"warning,omitempty"`
	Product *Product `json:"product,omitempty"`
}

type ProductWithStock struct {
	Product
	TotalStock int  `json:"total_stock"`
	LowStock   bool `json:"low_stock"`
}

type PriceHistory struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
}

// AttributeHistory records unit or low-stock-threshold changes on a product.
type AttributeHistory struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	OldUnit      string    `json:"old_unit,omitempty"`
	NewUnit      string    `json:"new_unit,omitempty"`
	OldThreshold *int      `json:"old_threshold,omitempty"`
	NewThreshold *int      `json:"new_threshold,omitempty"`
	ChangedBy    string    `json:"changed_by"`
	ChangedAt    time.Time `json:"changed_at"`
}

// StockBatch is one discrete lot of received stock. Batches are an
// append-only ledger: Remaining moves, the row itself is never deleted.
type StockBatch struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	Remaining  int             `json:"remaining_quantity"`
	UnitCost   decimal.Decimal `json:"cost_price"`
	ReceivedAt time.Time       `json:"received_at"`
}

type StockInRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"cost_price"`
}

// StockInEntry is a received-stock history row joined with its product.
type StockInEntry struct {
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitCost    decimal.Decimal `json:"item_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	ReceivedAt  time.Time       `json:"received_at"`
}

type Sale struct {
	ID          string          `json:"id"`
	DisplayID   string          `json:"display_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	Items       []SaleItem      `json:"items"`
}

func (s Sale) Cancelled() bool {
	return s.CancelledAt != nil
}

// SaleItem is one sale line. LineCOGS is the total cost of goods sold for
// the whole line as fixed by FIFO allocation at sale time, not a unit cost.
type SaleItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"selling_price"`
	LineCOGS    decimal.Decimal `json:"line_cogs"`
}

// SaleLine is one requested line of a sale before allocation.
type SaleLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type RecordSaleRequest struct {
	Lines []SaleLine `json:"lines"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

// SaleItemFact is a flattened non-cancelled sale line used by report
// aggregation.
type SaleItemFact struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineCOGS    decimal.Decimal
	SoldAt      time.Time
}

func (f SaleItemFact) Amount() decimal.Decimal {
	return f.UnitPrice.Mul(decimal.NewFromInt(int64(f.Quantity)))
}

func (f SaleItemFact) GrossProfit() decimal.Decimal {
	return f.Amount().Sub(f.LineCOGS)
}

type SalesSummary struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	SaleItems   int             `json:"sale_items"`
	UnitsSold   int             `json:"units_sold"`
	Revenue     decimal.Decimal `json:"revenue"`
	COGS        decimal.Decimal `json:"cogs"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
}

type ProductPerformance struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	UnitsSold   int             `json:"units_sold"`
	Revenue     decimal.Decimal `json:"revenue"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
}

type LowStockItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Unit        string `json:"unit"`
	TotalStock  int    `json:"total_stock"`
	Threshold   int    `json:"low_stock_threshold"`
}

// DailyPoint is one day in the sales/profit series behind the dashboard
// calendar and chart.
type DailyPoint struct {
	Date        string          `json:"date"`
	Revenue     decimal.Decimal `json:"revenue"`
	GrossProfit decimal.Decimal `json:"gross_profit"`
	HasStockIn  bool            `json:"has_stock_in"`
	HasSchedule bool            `json:"has_schedule"`
}

type Schedule struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Title     string    `json:"title"`
	Note      string    `json:"note,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type ScheduleRequest struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Note  string `json:"note"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
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

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
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

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// InsufficientStockError reports a requested quantity that exceeds the
// remaining stock for a product.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// NotCancellableError reports why a sale cancellation was refused.
type NotCancellableError struct {
	SaleID string
	Reason string
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("sale %s is not cancellable: %s", e.SaleID, e.Reason)
}
