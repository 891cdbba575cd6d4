// Package service implements the business flows on top of the Store
// contract: catalog upkeep, stock intake, FIFO-costed sale recording and
// cancellation, reports, schedules, and staff accounts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stokkita/backend/internal/cache"
	"stokkita/backend/internal/domain"
	"stokkita/backend/internal/store"
	"stokkita/backend/internal/xid"
)

const dateLayout = "2006-01-02"

type actorKey struct{}

// WithActor stamps the authenticated actor onto the request context.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(actorKey{}).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{Username: "system", Role: domain.RoleAdmin}
}

type Service struct {
	store        store.Store
	reportCache  cache.ReportCache
	cacheTTL     time.Duration
	cancelWindow time.Duration
	now          func() time.Time
}

func New(st store.Store, reportCache cache.ReportCache, cacheTTL time.Duration, cancelWindow time.Duration) *Service {
	return &Service{
		store:        st,
		reportCache:  reportCache,
		cacheTTL:     cacheTTL,
		cancelWindow: cancelWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// --- catalog ---

func (s *Service) ListProducts(ctx context.Context, includeArchived bool) ([]domain.ProductWithStock, error) {
	products, err := s.store.ListProducts(ctx, includeArchived)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.StockTotals(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProductWithStock, 0, len(products))
	for _, product := range products {
		total := totals[product.ID]
		out = append(out, domain.ProductWithStock{
			Product:    product,
			TotalStock: total,
			LowStock:   total <= product.LowStockThreshold,
		})
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.ProductWithStock, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	total, err := s.store.TotalRemainingStock(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.ProductWithStock{
		Product:    *product,
		TotalStock: total,
		LowStock:   total <= product.LowStockThreshold,
	}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.SKU == "" || req.Name == "" || req.Unit == "" {
		return nil, fmt.Errorf("sku, name and unit are required: %w", store.ErrInvalidRequest)
	}
	if req.SellingPrice.IsNegative() {
		return nil, fmt.Errorf("selling price must not be negative: %w", store.ErrInvalidRequest)
	}
	if req.LowStockThreshold < 0 {
		return nil, fmt.Errorf("low stock threshold must not be negative: %w", store.ErrInvalidRequest)
	}

	product := domain.Product{
		ID:                xid.New("prod"),
		SKU:               req.SKU,
		Name:              req.Name,
		Unit:              req.Unit,
		SellingPrice:      req.SellingPrice,
		LowStockThreshold: req.LowStockThreshold,
		CreatedAt:         s.now(),
	}
	created, err := s.store.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product.create", "product", created.ID, fmt.Sprintf("sku=%s name=%s", created.SKU, created.Name))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.Archived() {
		return nil, fmt.Errorf("archived product cannot be edited: %w", store.ErrInvalidRequest)
	}

	history := domain.AttributeHistory{
		ID:        xid.New("attr"),
		ProductID: product.ID,
		ChangedBy: ActorFromContext(ctx).Username,
		ChangedAt: s.now(),
	}
	changedAttrs := false

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("name must not be empty: %w", store.ErrInvalidRequest)
		}
		product.Name = name
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return nil, fmt.Errorf("unit must not be empty: %w", store.ErrInvalidRequest)
		}
		if unit != product.Unit {
			history.OldUnit = product.Unit
			history.NewUnit = unit
			changedAttrs = true
		}
		product.Unit = unit
	}
	if req.LowStockThreshold != nil {
		threshold := *req.LowStockThreshold
		if threshold < 0 {
			return nil, fmt.Errorf("low stock threshold must not be negative: %w", store.ErrInvalidRequest)
		}
		if threshold != product.LowStockThreshold {
			old := product.LowStockThreshold
			history.OldThreshold = &old
			history.NewThreshold = &threshold
			changedAttrs = true
		}
		product.LowStockThreshold = threshold
	}

	saved, err := s.store.UpdateProduct(ctx, *product)
	if err != nil {
		return nil, err
	}
	if changedAttrs {
		if err := s.store.CreateAttributeHistory(ctx, history); err != nil {
			log.Printf("[service] WARN: attribute history for %s not recorded: %v", product.ID, err)
		}
	}

	s.logAudit(ctx, "product.update", "product", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return saved, nil
}

// UpdatePrice applies a selling price change. When the new price is below
// the highest cost among in-stock batches the change is held back with a
// warning until the caller repeats it with Force set.
func (s *Service) UpdatePrice(ctx context.Context, id string, req domain.ProductPriceUpdateRequest) (*domain.PriceUpdateResult, error) {
	if req.NewPrice.IsNegative() {
		return nil, fmt.Errorf("selling price must not be negative: %w", store.ErrInvalidRequest)
	}

	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.Archived() {
		return nil, fmt.Errorf("archived product cannot be edited: %w", store.ErrInvalidRequest)
	}

	if !req.Force {
		maxCost, ok, err := s.store.MaxInStockBatchCost(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && req.NewPrice.LessThan(maxCost) {
			return &domain.PriceUpdateResult{
				Applied: false,
				Warning: fmt.Sprintf("new price %s is below the highest in-stock batch cost %s; selling at a loss", req.NewPrice.String(), maxCost.String()),
			}, nil
		}
	}

	oldPrice := product.SellingPrice
	product.SellingPrice = req.NewPrice
	saved, err := s.store.UpdateProduct(ctx, *product)
	if err != nil {
		return nil, err
	}

	entry := domain.PriceHistory{
		ID:        xid.New("price"),
		ProductID: saved.ID,
		OldPrice:  oldPrice,
		NewPrice:  req.NewPrice,
		ChangedBy: ActorFromContext(ctx).Username,
		ChangedAt: s.now(),
	}
	if err := s.store.CreatePriceHistory(ctx, entry); err != nil {
		log.Printf("[service] WARN: price history for %s not recorded: %v", saved.ID, err)
	}

	s.logAudit(ctx, "product.price", "product", saved.ID, fmt.Sprintf("old=%s new=%s", oldPrice.String(), req.NewPrice.String()))
	return &domain.PriceUpdateResult{Applied: true, Product: saved}, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListPriceHistory(ctx, productID, limit)
}

// ArchiveProduct hides a product from active listings. Archiving is only
// allowed once remaining stock reaches zero so no costed inventory goes dark.
func (s *Service) ArchiveProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.Archived() {
		return product, nil
	}

	total, err := s.store.TotalRemainingStock(ctx, id)
	if err != nil {
		return nil, err
	}
	if total > 0 {
		return nil, fmt.Errorf("product %s still has %d units in stock: %w", product.Name, total, store.ErrInvalidRequest)
	}

	at := s.now()
	if err := s.store.SetProductArchived(ctx, id, &at); err != nil {
		return nil, err
	}
	product.ArchivedAt = &at

	s.logAudit(ctx, "product.archive", "product", id, product.Name)
	return product, nil
}

func (s *Service) UnarchiveProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !product.Archived() {
		return product, nil
	}

	if err := s.store.SetProductArchived(ctx, id, nil); err != nil {
		return nil, err
	}
	product.ArchivedAt = nil

	s.logAudit(ctx, "product.unarchive", "product", id, product.Name)
	return product, nil
}

// --- stock intake ---

func (s *Service) StockIn(ctx context.Context, req domain.StockInRequest) (*domain.StockBatch, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be positive: %w", store.ErrInvalidRequest)
	}
	if req.UnitCost.IsNegative() {
		return nil, fmt.Errorf("cost price must not be negative: %w", store.ErrInvalidRequest)
	}

	product, err := s.store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.Archived() {
		return nil, fmt.Errorf("archived product cannot receive stock: %w", store.ErrInvalidRequest)
	}

	batch := domain.StockBatch{
		ID:         xid.New("batch"),
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Remaining:  req.Quantity,
		UnitCost:   req.UnitCost,
		ReceivedAt: s.now(),
	}
	created, err := s.store.CreateBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "stock.in", "batch", created.ID, fmt.Sprintf("product=%s qty=%d cost=%s", product.Name, req.Quantity, req.UnitCost.String()))
	return created, nil
}

func (s *Service) ListStockIns(ctx context.Context, limit int) ([]domain.StockInEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.store.ListStockIns(ctx, limit)
}

// ListBatches exposes a product's open batches, oldest first, for the stock
// detail view.
func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.StockBatch, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListBatches(ctx, productID)
}

// --- sales ---

// RecordSale allocates every line against FIFO batches and persists the
// sale. Allocation and deduction happen atomically in the store; either all
// lines commit or none do.
func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (*domain.Sale, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("a sale needs at least one line: %w", store.ErrInvalidRequest)
	}

	saleID := xid.New("sale")
	items := make([]domain.SaleItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("line has no product: %w", store.ErrInvalidRequest)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("line quantity must be positive: %w", store.ErrInvalidRequest)
		}

		product, err := s.store.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, store.ErrNotFound)
			}
			return nil, err
		}
		if product.Archived() {
			return nil, fmt.Errorf("product %s is archived: %w", product.Name, store.ErrInvalidRequest)
		}

		// Best-effort early check; the transactional allocation in the store
		// is the real guard.
		available, err := s.store.TotalRemainingStock(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if line.Quantity > available {
			return nil, fmt.Errorf("%s: %w", product.Name, &domain.InsufficientStockError{
				ProductID: product.ID,
				Requested: line.Quantity,
				Available: available,
			})
		}

		// A line may carry an explicit unit price (manual discount);
		// otherwise the catalog price at sale time is captured.
		unitPrice := product.SellingPrice
		if !line.UnitPrice.IsZero() {
			if line.UnitPrice.IsNegative() {
				return nil, fmt.Errorf("line price must not be negative: %w", store.ErrInvalidRequest)
			}
			unitPrice = line.UnitPrice
		}

		items = append(items, domain.SaleItem{
			ID:          xid.New("sitem"),
			SaleID:      saleID,
			ProductID:   product.ID,
			ProductName: product.Name,
			SKU:         product.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   unitPrice,
		})
	}

	sale := domain.Sale{
		ID:        saleID,
		CreatedAt: s.now(),
		Items:     items,
	}
	created, err := s.store.RecordSale(ctx, sale)
	if err != nil {
		var insufficient *domain.InsufficientStockError
		if errors.As(err, &insufficient) {
			return nil, fmt.Errorf("%s: %w", s.productLabel(ctx, insufficient.ProductID), err)
		}
		return nil, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "sale.record", "sale", created.ID, fmt.Sprintf("display=%s total=%s lines=%d", created.DisplayID, created.TotalAmount.String(), len(created.Items)))
	return created, nil
}

func (s *Service) productLabel(ctx context.Context, productID string) string {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return productID
	}
	return product.Name
}

// CancelSale reverses a sale recorded within the cancellation window,
// crediting its units back to stock.
func (s *Service) CancelSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Cancelled() {
		return nil, &domain.NotCancellableError{SaleID: saleID, Reason: "already cancelled"}
	}

	// Cancellable strictly within the window: a sale exactly cancelWindow
	// old is already too late.
	now := s.now()
	if now.Sub(sale.CreatedAt) >= s.cancelWindow {
		return nil, &domain.NotCancellableError{
			SaleID: saleID,
			Reason: fmt.Sprintf("recorded more than %s ago", s.cancelWindow),
		}
	}

	cancelled, err := s.store.CancelSale(ctx, saleID, now)
	if err != nil {
		return nil, err
	}

	s.invalidateReports(ctx)
	s.logAudit(ctx, "sale.cancel", "sale", cancelled.ID, fmt.Sprintf("display=%s total=%s", cancelled.DisplayID, cancelled.TotalAmount.String()))
	return cancelled, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.store.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.store.ListSales(ctx, limit)
}

// --- reports ---

func parseDateRange(from string, to string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, from, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be YYYY-MM-DD: %w", store.ErrInvalidRequest)
	}
	end, err := time.ParseInLocation(dateLayout, to, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be YYYY-MM-DD: %w", store.ErrInvalidRequest)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not be before from: %w", store.ErrInvalidRequest)
	}
	// The range is inclusive of the whole "to" day.
	return start, end.Add(24 * time.Hour), nil
}

func (s *Service) SalesSummary(ctx context.Context, from string, to string) (*domain.SalesSummary, error) {
	start, end, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}

	cacheKey := from + "|" + to
	if cached, err := s.reportCache.GetSummary(ctx, cacheKey); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Printf("[service] WARN: report cache read failed: %v", err)
	}

	facts, err := s.store.ListSaleItemFacts(ctx, start, end)
	if err != nil {
		return nil, err
	}

	summary := &domain.SalesSummary{
		From:        from,
		To:          to,
		Revenue:     decimal.Zero,
		COGS:        decimal.Zero,
		GrossProfit: decimal.Zero,
	}
	for _, fact := range facts {
		summary.SaleItems++
		summary.UnitsSold += fact.Quantity
		summary.Revenue = summary.Revenue.Add(fact.Amount())
		summary.COGS = summary.COGS.Add(fact.LineCOGS)
	}
	summary.GrossProfit = summary.Revenue.Sub(summary.COGS)

	if err := s.reportCache.SetSummary(ctx, cacheKey, summary, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: report cache write failed: %v", err)
	}
	return summary, nil
}

func (s *Service) productPerformance(ctx context.Context, from string, to string) ([]domain.ProductPerformance, error) {
	start, end, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	facts, err := s.store.ListSaleItemFacts(ctx, start, end)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*domain.ProductPerformance, 32)
	order := make([]string, 0, 32)
	for _, fact := range facts {
		perf, ok := byProduct[fact.ProductID]
		if !ok {
			perf = &domain.ProductPerformance{
				ProductID:   fact.ProductID,
				ProductName: fact.ProductName,
				SKU:         fact.SKU,
				Revenue:     decimal.Zero,
				GrossProfit: decimal.Zero,
			}
			byProduct[fact.ProductID] = perf
			order = append(order, fact.ProductID)
		}
		perf.UnitsSold += fact.Quantity
		perf.Revenue = perf.Revenue.Add(fact.Amount())
		perf.GrossProfit = perf.GrossProfit.Add(fact.GrossProfit())
	}

	out := make([]domain.ProductPerformance, 0, len(order))
	for _, id := range order {
		out = append(out, *byProduct[id])
	}
	return out, nil
}

// FastMovers ranks products by units sold over the range.
func (s *Service) FastMovers(ctx context.Context, from string, to string, limit int) ([]domain.ProductPerformance, error) {
	perf, err := s.productPerformance(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(perf, func(i, j int) bool { return perf[i].UnitsSold > perf[j].UnitsSold })
	return clampPerformance(perf, limit), nil
}

// HighProfit ranks products by gross profit over the range.
func (s *Service) HighProfit(ctx context.Context, from string, to string, limit int) ([]domain.ProductPerformance, error) {
	perf, err := s.productPerformance(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(perf, func(i, j int) bool { return perf[i].GrossProfit.GreaterThan(perf[j].GrossProfit) })
	return clampPerformance(perf, limit), nil
}

func clampPerformance(perf []domain.ProductPerformance, limit int) []domain.ProductPerformance {
	if limit < 1 || limit > 50 {
		limit = 5
	}
	if len(perf) > limit {
		perf = perf[:limit]
	}
	return perf
}

func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	products, err := s.store.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.StockTotals(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LowStockItem, 0, 8)
	for _, product := range products {
		total := totals[product.ID]
		if total > product.LowStockThreshold {
			continue
		}
		items = append(items, domain.LowStockItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			SKU:         product.SKU,
			Unit:        product.Unit,
			TotalStock:  total,
			Threshold:   product.LowStockThreshold,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TotalStock < items[j].TotalStock })
	return items, nil
}

// DailySeries builds one point per day in the range: revenue and gross
// profit from non-cancelled sales, plus markers for stock intake and
// schedule entries on that day.
func (s *Service) DailySeries(ctx context.Context, from string, to string) ([]domain.DailyPoint, error) {
	start, end, err := parseDateRange(from, to)
	if err != nil {
		return nil, err
	}

	points := make([]domain.DailyPoint, 0, 31)
	index := make(map[string]int, 31)
	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		key := day.Format(dateLayout)
		index[key] = len(points)
		points = append(points, domain.DailyPoint{
			Date:        key,
			Revenue:     decimal.Zero,
			GrossProfit: decimal.Zero,
		})
	}

	facts, err := s.store.ListSaleItemFacts(ctx, start, end)
	if err != nil {
		return nil, err
	}
	for _, fact := range facts {
		if i, ok := index[fact.SoldAt.Format(dateLayout)]; ok {
			points[i].Revenue = points[i].Revenue.Add(fact.Amount())
			points[i].GrossProfit = points[i].GrossProfit.Add(fact.GrossProfit())
		}
	}

	stockIns, err := s.store.ListStockInsBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	for _, entry := range stockIns {
		if i, ok := index[entry.ReceivedAt.Format(dateLayout)]; ok {
			points[i].HasStockIn = true
		}
	}

	schedules, err := s.store.ListSchedules(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, schedule := range schedules {
		if i, ok := index[schedule.Date]; ok {
			points[i].HasSchedule = true
		}
	}

	return points, nil
}

// --- schedules ---

func (s *Service) CreateSchedule(ctx context.Context, req domain.ScheduleRequest) (*domain.Schedule, error) {
	if err := validateSchedule(req); err != nil {
		return nil, err
	}

	schedule := domain.Schedule{
		ID:        xid.New("sched"),
		Date:      req.Date,
		Title:     strings.TrimSpace(req.Title),
		Note:      strings.TrimSpace(req.Note),
		CreatedBy: ActorFromContext(ctx).Username,
		CreatedAt: s.now(),
	}
	created, err := s.store.CreateSchedule(ctx, schedule)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "schedule.create", "schedule", created.ID, created.Title)
	return created, nil
}

func (s *Service) ListSchedules(ctx context.Context, from string, to string) ([]domain.Schedule, error) {
	return s.store.ListSchedules(ctx, from, to)
}

func (s *Service) UpdateSchedule(ctx context.Context, id string, req domain.ScheduleRequest) (*domain.Schedule, error) {
	if err := validateSchedule(req); err != nil {
		return nil, err
	}

	schedule := domain.Schedule{
		ID:    id,
		Date:  req.Date,
		Title: strings.TrimSpace(req.Title),
		Note:  strings.TrimSpace(req.Note),
	}
	saved, err := s.store.UpdateSchedule(ctx, schedule)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "schedule.update", "schedule", saved.ID, saved.Title)
	return saved, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "schedule.delete", "schedule", id, "")
	return nil
}

func validateSchedule(req domain.ScheduleRequest) error {
	if _, err := time.ParseInLocation(dateLayout, req.Date, time.UTC); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", store.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("title is required: %w", store.ErrInvalidRequest)
	}
	return nil
}

// --- staff ---

func (s *Service) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (*domain.StaffUser, error) {
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))
	if len(req.Username) < 3 {
		return nil, fmt.Errorf("username must be at least 3 characters: %w", store.ErrInvalidRequest)
	}
	if len(req.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters: %w", store.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrInvalidRequest) {
			return nil, fmt.Errorf("username %s is taken: %w", req.Username, store.ErrInvalidRequest)
		}
		return nil, err
	}

	s.logAudit(ctx, "staff.create", "user", user.Username, "")
	return &domain.StaffUser{
		Username:  user.Username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *Service) ResetStaffPassword(ctx context.Context, username string, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters: %w", store.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}

	s.logAudit(ctx, "staff.reset_password", "user", username, "")
	return nil
}

func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StaffUser, 0, len(users))
	for _, user := range users {
		out = append(out, domain.StaffUser{
			Username:  user.Username,
			Role:      user.Role,
			Active:    user.Active,
			CreatedAt: user.CreatedAt,
		})
	}
	return out, nil
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.store.ListAuditLogs(ctx, limit)
}

// logAudit records the trail entry best-effort; a failed write must not
// fail the operation it describes.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		Actor:      actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[service] WARN: audit entry %s not recorded: %v", action, err)
	}
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reportCache.InvalidateSummaries(ctx); err != nil {
		log.Printf("[service] WARN: report cache invalidation failed: %v", err)
	}
}
