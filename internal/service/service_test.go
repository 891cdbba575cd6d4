package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stokkita/backend/internal/cache"
	"stokkita/backend/internal/domain"
	"stokkita/backend/internal/store"
	"stokkita/backend/internal/store/memory"
)

type testClock struct {
	now time.Time
}

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *memory.Store, *testClock) {
	t.Helper()
	st := memory.New()
	clock := &testClock{now: time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)}
	svc := New(st, cache.NewNoop(), 0, 24*time.Hour)
	svc.now = func() time.Time { return clock.now }
	return svc, st, clock
}

func createProduct(t *testing.T, svc *Service, name string, price string) *domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		SKU:               "SKU-" + name,
		Name:              name,
		Unit:              "pcs",
		SellingPrice:      dec(price),
		LowStockThreshold: 2,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return product
}

func stockIn(t *testing.T, svc *Service, clock *testClock, productID string, qty int, cost string) {
	t.Helper()
	if _, err := svc.StockIn(context.Background(), domain.StockInRequest{
		ProductID: productID,
		Quantity:  qty,
		UnitCost:  dec(cost),
	}); err != nil {
		t.Fatalf("stock in %d units for %s: %v", qty, productID, err)
	}
	// Space batches apart so intake order fixes depletion order.
	clock.advance(time.Minute)
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordSaleAllocatesOldestBatchesFirst(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Beras 5kg", "20")
	stockIn(t, svc, clock, product.ID, 5, "10")
	stockIn(t, svc, clock, product.ID, 5, "12")

	sale, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 8}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if len(sale.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(sale.Items))
	}
	// 5*10 from the older batch + 3*12 from the newer one.
	if got := sale.Items[0].LineCOGS; !got.Equal(dec("86")) {
		t.Fatalf("line cogs = %s, want 86", got)
	}
	if got := sale.TotalAmount; !got.Equal(dec("160")) {
		t.Fatalf("total = %s, want 160", got)
	}
	if sale.DisplayID == "" {
		t.Fatalf("sale has no display id")
	}

	total, err := st.TotalRemainingStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("total remaining: %v", err)
	}
	if total != 2 {
		t.Fatalf("remaining stock = %d, want 2", total)
	}

	batches, err := st.ListBatches(ctx, product.ID)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].Remaining != 2 {
		t.Fatalf("expected only the newer batch with 2 left, got %+v", batches)
	}
}

func TestRecordSaleInsufficientStockNamesProduct(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Gula 1kg", "15")
	stockIn(t, svc, clock, product.ID, 3, "9")

	_, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 7}},
	})
	if err == nil {
		t.Fatalf("expected insufficient stock error")
	}

	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 7 || insufficient.Available != 3 {
		t.Fatalf("requested/available = %d/%d, want 7/3", insufficient.Requested, insufficient.Available)
	}
	if !strings.Contains(err.Error(), "Gula 1kg") {
		t.Fatalf("error should name the product, got %q", err.Error())
	}
}

func TestRecordSaleIsAtomicAcrossLines(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	ok := createProduct(t, svc, "Minyak 1L", "18")
	short := createProduct(t, svc, "Kopi 200g", "25")
	stockIn(t, svc, clock, ok.ID, 10, "12")
	stockIn(t, svc, clock, short.ID, 1, "20")

	_, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{
			{ProductID: ok.ID, Quantity: 4},
			{ProductID: short.ID, Quantity: 2},
		},
	})
	if err == nil {
		t.Fatalf("expected the sale to fail on the short line")
	}

	// The first line must not have been applied.
	total, err := st.TotalRemainingStock(ctx, ok.ID)
	if err != nil {
		t.Fatalf("total remaining: %v", err)
	}
	if total != 10 {
		t.Fatalf("stock of first product = %d, want untouched 10", total)
	}

	sales, err := st.ListSales(ctx, 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no persisted sale, got %d", len(sales))
	}
}

func TestRecordSaleRejectsBadLines(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordSale(ctx, domain.RecordSaleRequest{}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("empty sale: got %v, want invalid request", err)
	}

	product := createProduct(t, svc, "Teh Celup", "8")
	_, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 0}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("zero quantity: got %v, want invalid request", err)
	}
}

func TestRecordSaleHonorsLinePriceOverride(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Sabun Batang", "5")
	stockIn(t, svc, clock, product.ID, 10, "3")

	// An explicit line price replaces the catalog price.
	sale, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 4, UnitPrice: dec("4.5")}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if got := sale.Items[0].UnitPrice; !got.Equal(dec("4.5")) {
		t.Fatalf("unit price = %s, want 4.5", got)
	}
	if got := sale.TotalAmount; !got.Equal(dec("18")) {
		t.Fatalf("total = %s, want 18", got)
	}

	// A zero price means no override.
	sale, err = svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("record sale at catalog price: %v", err)
	}
	if got := sale.Items[0].UnitPrice; !got.Equal(dec("5")) {
		t.Fatalf("unit price = %s, want catalog 5", got)
	}

	// Negative prices are refused before anything is written.
	_, err = svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("-1")}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("negative price: got %v, want invalid request", err)
	}
}

func TestCancelSaleRestoresStock(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Beras 5kg", "20")
	stockIn(t, svc, clock, product.ID, 5, "10")
	stockIn(t, svc, clock, product.ID, 5, "12")

	sale, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 8}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	clock.advance(2 * time.Hour)
	cancelled, err := svc.CancelSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if !cancelled.Cancelled() {
		t.Fatalf("sale should carry cancelled_at")
	}

	total, err := st.TotalRemainingStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("total remaining: %v", err)
	}
	if total != 10 {
		t.Fatalf("stock after cancel = %d, want 10", total)
	}

	// Cancelled sales must not leak into reports.
	facts, err := st.ListSaleItemFacts(ctx, clock.now.Add(-48*time.Hour), clock.now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("list facts: %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected no facts after cancel, got %d", len(facts))
	}
}

func TestCancelSaleTwiceFails(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Gula 1kg", "15")
	stockIn(t, svc, clock, product.ID, 4, "9")

	sale, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if _, err := svc.CancelSale(ctx, sale.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	_, err = svc.CancelSale(ctx, sale.ID)
	var notCancellable *domain.NotCancellableError
	if !errors.As(err, &notCancellable) {
		t.Fatalf("second cancel: got %v, want NotCancellableError", err)
	}
}

func TestCancelSaleWindowBoundary(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Minyak 1L", "18")
	stockIn(t, svc, clock, product.ID, 10, "12")

	inside, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	clock.advance(23*time.Hour + 59*time.Minute)
	if _, err := svc.CancelSale(ctx, inside.ID); err != nil {
		t.Fatalf("cancel within window: %v", err)
	}

	outside, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	clock.advance(24*time.Hour + time.Minute)
	_, err = svc.CancelSale(ctx, outside.ID)
	var notCancellable *domain.NotCancellableError
	if !errors.As(err, &notCancellable) {
		t.Fatalf("cancel past window: got %v, want NotCancellableError", err)
	}

	exact, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	// Exactly at the window is already too late.
	clock.advance(24 * time.Hour)
	if _, err := svc.CancelSale(ctx, exact.ID); !errors.As(err, &notCancellable) {
		t.Fatalf("cancel at exact window: got %v, want NotCancellableError", err)
	}
}

func TestArchiveProductRequiresZeroStock(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Kopi 200g", "25")
	stockIn(t, svc, clock, product.ID, 2, "20")

	if _, err := svc.ArchiveProduct(ctx, product.ID); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("archive with stock: got %v, want invalid request", err)
	}

	if _, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	archived, err := svc.ArchiveProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("archive at zero stock: %v", err)
	}
	if !archived.Archived() {
		t.Fatalf("product should be archived")
	}

	// Archived products cannot be sold or restocked.
	if _, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 1}},
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("sale of archived product: got %v, want invalid request", err)
	}
	if _, err := svc.StockIn(ctx, domain.StockInRequest{ProductID: product.ID, Quantity: 1, UnitCost: dec("20")}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("stock-in of archived product: got %v, want invalid request", err)
	}
}

func TestUpdatePriceLossWarningAndForce(t *testing.T) {
	svc, st, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Beras 5kg", "20")
	stockIn(t, svc, clock, product.ID, 5, "14")

	result, err := svc.UpdatePrice(ctx, product.ID, domain.ProductPriceUpdateRequest{NewPrice: dec("12")})
	if err != nil {
		t.Fatalf("price update: %v", err)
	}
	if result.Applied {
		t.Fatalf("price below batch cost should be held back")
	}
	if result.Warning == "" {
		t.Fatalf("held-back update should carry a warning")
	}

	// The product keeps its old price until the change is forced.
	current, err := st.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !current.SellingPrice.Equal(dec("20")) {
		t.Fatalf("price = %s, want unchanged 20", current.SellingPrice)
	}

	result, err = svc.UpdatePrice(ctx, product.ID, domain.ProductPriceUpdateRequest{NewPrice: dec("12"), Force: true})
	if err != nil {
		t.Fatalf("forced price update: %v", err)
	}
	if !result.Applied || !result.Product.SellingPrice.Equal(dec("12")) {
		t.Fatalf("forced update not applied: %+v", result)
	}

	history, err := svc.ListPriceHistory(ctx, product.ID, 10)
	if err != nil {
		t.Fatalf("price history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if !history[0].OldPrice.Equal(dec("20")) || !history[0].NewPrice.Equal(dec("12")) {
		t.Fatalf("history entry = %+v", history[0])
	}
}

func TestUpdatePriceAboveCostAppliesDirectly(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Teh Celup", "8")
	stockIn(t, svc, clock, product.ID, 5, "5")

	result, err := svc.UpdatePrice(ctx, product.ID, domain.ProductPriceUpdateRequest{NewPrice: dec("9")})
	if err != nil {
		t.Fatalf("price update: %v", err)
	}
	if !result.Applied {
		t.Fatalf("price above batch cost should apply without force")
	}
}

func TestSalesSummaryAggregatesAndExcludesCancelled(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Minyak 1L", "18")
	stockIn(t, svc, clock, product.ID, 20, "12")

	if _, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 3}},
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	dropped, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := svc.CancelSale(ctx, dropped.ID); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}

	day := clock.now.Format("2006-01-02")
	summary, err := svc.SalesSummary(ctx, day, day)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if summary.UnitsSold != 3 {
		t.Fatalf("units sold = %d, want 3", summary.UnitsSold)
	}
	if !summary.Revenue.Equal(dec("54")) {
		t.Fatalf("revenue = %s, want 54", summary.Revenue)
	}
	if !summary.COGS.Equal(dec("36")) {
		t.Fatalf("cogs = %s, want 36", summary.COGS)
	}
	if !summary.GrossProfit.Equal(dec("18")) {
		t.Fatalf("gross profit = %s, want 18", summary.GrossProfit)
	}
}

func TestSalesSummaryRejectsBadRange(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SalesSummary(ctx, "2025-13-01", "2025-05-10"); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("bad from: got %v, want invalid request", err)
	}
	if _, err := svc.SalesSummary(ctx, "2025-05-10", "2025-05-09"); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("inverted range: got %v, want invalid request", err)
	}
}

func TestFastMoversAndHighProfitRanking(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// Cheap mover: many units, thin margin. Slow earner: few units, fat margin.
	mover := createProduct(t, svc, "Teh Celup", "6")
	earner := createProduct(t, svc, "Kopi 200g", "40")
	stockIn(t, svc, clock, mover.ID, 50, "5")
	stockIn(t, svc, clock, earner.ID, 10, "20")

	if _, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{
			{ProductID: mover.ID, Quantity: 20},
			{ProductID: earner.ID, Quantity: 2},
		},
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	day := clock.now.Format("2006-01-02")

	fast, err := svc.FastMovers(ctx, day, day, 5)
	if err != nil {
		t.Fatalf("fast movers: %v", err)
	}
	if len(fast) != 2 || fast[0].ProductID != mover.ID {
		t.Fatalf("fast movers ranked wrong: %+v", fast)
	}

	profit, err := svc.HighProfit(ctx, day, day, 5)
	if err != nil {
		t.Fatalf("high profit: %v", err)
	}
	// mover: 20*(6-5)=20; earner: 2*(40-20)=40.
	if len(profit) != 2 || profit[0].ProductID != earner.ID {
		t.Fatalf("high profit ranked wrong: %+v", profit)
	}
}

func TestLowStockListsProductsAtOrBelowThreshold(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	low := createProduct(t, svc, "Gula 1kg", "15")
	fine := createProduct(t, svc, "Beras 5kg", "20")
	stockIn(t, svc, clock, low.ID, 2, "9")
	stockIn(t, svc, clock, fine.ID, 30, "10")

	items, err := svc.LowStock(ctx)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(items) != 1 || items[0].ProductID != low.ID {
		t.Fatalf("low stock = %+v, want only %s", items, low.ID)
	}
	if items[0].TotalStock != 2 || items[0].Threshold != 2 {
		t.Fatalf("low stock entry = %+v", items[0])
	}
}

func TestDailySeriesMarksStockInsAndSchedules(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Minyak 1L", "18")
	stockIn(t, svc, clock, product.ID, 10, "12")

	if _, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 2}},
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	day := clock.now.Format("2006-01-02")
	nextDay := clock.now.Add(24 * time.Hour).Format("2006-01-02")
	if _, err := svc.CreateSchedule(ctx, domain.ScheduleRequest{Date: nextDay, Title: "Restock pasar"}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	points, err := svc.DailySeries(ctx, day, nextDay)
	if err != nil {
		t.Fatalf("daily series: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Revenue.Equal(dec("36")) || !points[0].HasStockIn {
		t.Fatalf("first day = %+v", points[0])
	}
	if !points[1].Revenue.Equal(decimal.Zero) || !points[1].HasSchedule {
		t.Fatalf("second day = %+v", points[1])
	}
}

func TestDailySeriesMarksStockInsOnOldDays(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Tepung 1kg", "9")
	stockIn(t, svc, clock, product.ID, 5, "6")
	firstDay := clock.now.Format("2006-01-02")

	// Pile newer intakes onto later days; they must not push the old
	// day's marker out of a query that covers it.
	for i := 0; i < 10; i++ {
		clock.advance(24 * time.Hour)
		stockIn(t, svc, clock, product.ID, 1, "6")
	}

	points, err := svc.DailySeries(ctx, firstDay, firstDay)
	if err != nil {
		t.Fatalf("daily series: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if !points[0].HasStockIn {
		t.Fatalf("first day lost its intake marker: %+v", points[0])
	}
}

func TestUpdateProductRecordsAttributeHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	product := createProduct(t, svc, "Beras 5kg", "20")

	newUnit := "karung"
	newThreshold := 5
	updated, err := svc.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{
		Unit:              &newUnit,
		LowStockThreshold: &newThreshold,
	})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if updated.Unit != "karung" || updated.LowStockThreshold != 5 {
		t.Fatalf("updated product = %+v", updated)
	}
}

func TestCreateStaffValidatesAndHashes(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateStaff(ctx, domain.StaffCreateRequest{Username: "ab", Password: "longenough"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("short username: got %v, want invalid request", err)
	}
	if _, err := svc.CreateStaff(ctx, domain.StaffCreateRequest{Username: "kasir2", Password: "short"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("short password: got %v, want invalid request", err)
	}

	user, err := svc.CreateStaff(ctx, domain.StaffCreateRequest{Username: "Kasir2", Password: "rahasia-sekali"})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if user.Username != "kasir2" || user.Role != domain.RoleStaff {
		t.Fatalf("staff user = %+v", user)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, u := range users {
		if u.Username == "kasir2" && u.Password == "rahasia-sekali" {
			t.Fatalf("password stored in plain text")
		}
	}
}

func TestResetStaffPassword(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateStaff(ctx, domain.StaffCreateRequest{Username: "kasir2", Password: "rahasia-sekali"}); err != nil {
		t.Fatalf("create staff: %v", err)
	}

	if err := svc.ResetStaffPassword(ctx, "kasir2", "short"); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("short password: got %v, want invalid request", err)
	}
	if err := svc.ResetStaffPassword(ctx, "ghost", "rahasia-baru-01"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown user: got %v, want not found", err)
	}

	if err := svc.ResetStaffPassword(ctx, "Kasir2", "rahasia-baru-01"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, u := range users {
		if u.Username == "kasir2" && u.Password == "rahasia-baru-01" {
			t.Fatalf("password stored in plain text")
		}
	}
}

func TestAuditTrailRecordsSaleActions(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "owner", Role: domain.RoleAdmin})

	product := createProduct(t, svc, "Gula 1kg", "15")
	stockIn(t, svc, clock, product.ID, 5, "9")

	sale, err := svc.RecordSale(ctx, domain.RecordSaleRequest{
		Lines: []domain.SaleLine{{ProductID: product.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := svc.CancelSale(ctx, sale.ID); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, 50)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}

	var sawRecord, sawCancel bool
	for _, entry := range logs {
		if entry.EntityID != sale.ID {
			continue
		}
		if entry.Action == "sale.record" {
			sawRecord = true
		}
		if entry.Action == "sale.cancel" {
			sawCancel = true
		}
		if entry.Actor != "owner" {
			t.Fatalf("audit actor = %s, want owner", entry.Actor)
		}
	}
	if !sawRecord || !sawCancel {
		t.Fatalf("missing audit entries: record=%v cancel=%v", sawRecord, sawCancel)
	}
}
