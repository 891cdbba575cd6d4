// Package memory is an in-memory Store used by tests and by dev mode when no
// DATABASE_URL is configured. Every multi-step write runs under one lock, so
// it gives the same all-or-nothing semantics as the postgres transactions.
package memory

import (
	"context"
	"errors"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stokkita/backend/internal/domain"
	"stokkita/backend/internal/fifo"
	"stokkita/backend/internal/store"
	"stokkita/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	batchesByProduct map[string][]domain.StockBatch
	salesByID        map[string]*domain.Sale
	saleOrder        []string
	priceHistory     map[string][]domain.PriceHistory
	attributeHistory []domain.AttributeHistory
	schedulesByID    map[string]domain.Schedule
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
	saleSeq          int64
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		batchesByProduct: make(map[string][]domain.StockBatch),
		salesByID:        make(map[string]*domain.Sale),
		priceHistory:     make(map[string][]domain.PriceHistory),
		schedulesByID:    make(map[string]domain.Schedule),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments use
// PostgreSQL, never this seed.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
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

// NewSeeded returns a store preloaded with a small catalog, stock batches at
// staggered receipt times and the dev user accounts.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-beras", SKU: "BRS-5KG", Name: "Beras Premium 5kg", Unit: "sack", SellingPrice: dec("78000"), LowStockThreshold: 5},
		{ID: "prod-minyak", SKU: "MYK-1L", Name: "Minyak Goreng 1L", Unit: "bottle", SellingPrice: dec("19500"), LowStockThreshold: 10},
		{ID: "prod-gula", SKU: "GLA-1KG", Name: "Gula Pasir 1kg", Unit: "bag", SellingPrice: dec("17400"), LowStockThreshold: 8},
		{ID: "prod-kopi", SKU: "KOP-200G", Name: "Kopi Bubuk 200g", Unit: "pack", SellingPrice: dec("24000"), LowStockThreshold: 6},
		{ID: "prod-teh", SKU: "TEH-25S", Name: "Teh Celup isi 25", Unit: "box", SellingPrice: dec("9800"), LowStockThreshold: 12},
	}
	for _, p := range products {
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	type seedBatch struct {
		productID string
		qty       int
		cost      string
		ageDays   int
	}
	for i, b := range []seedBatch{
		{"prod-beras", 20, "64000", 14},
		{"prod-beras", 15, "66500", 4},
		{"prod-minyak", 40, "15800", 10},
		{"prod-minyak", 24, "16200", 2},
		{"prod-gula", 30, "14100", 7},
		{"prod-kopi", 12, "17500", 6},
		{"prod-teh", 36, "7200", 9},
	} {
		batch := domain.StockBatch{
			ID:         "seed-batch-" + string(rune('a'+i)),
			ProductID:  b.productID,
			Quantity:   b.qty,
			Remaining:  b.qty,
			UnitCost:   dec(b.cost),
			ReceivedAt: now.Add(-time.Duration(b.ageDays) * 24 * time.Hour),
		}
		s.batchesByProduct[b.productID] = append(s.batchesByProduct[b.productID], batch)
	}
	for id := range s.batchesByProduct {
		s.sortBatches(id)
	}
	return s
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *Store) sortBatches(productID string) {
	batches := s.batchesByProduct[productID]
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].ReceivedAt.Before(batches[j].ReceivedAt)
	})
}

// --- products ---

func (s *Store) ListProducts(_ context.Context, includeArchived bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeArchived && p.Archived() {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, store.ErrInvalidRequest
		}
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	saved := product
	return &saved, nil
}

func (s *Store) SetProductArchived(_ context.Context, id string, archivedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	product.ArchivedAt = archivedAt
	s.products[id] = product
	return nil
}

// --- history ---

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceHistory[entry.ProductID] = append(s.priceHistory[entry.ProductID], entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.priceHistory[productID]
	out := make([]domain.PriceHistory, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAttributeHistory(_ context.Context, entry domain.AttributeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributeHistory = append(s.attributeHistory, entry)
	return nil
}

// --- batches ---

func (s *Store) CreateBatch(_ context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.ID == "" || batch.ProductID == "" || batch.Quantity < 1 {
		return nil, store.ErrInvalidRequest
	}
	if batch.Remaining < 0 || batch.Remaining > batch.Quantity {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[batch.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	s.batchesByProduct[batch.ProductID] = append(s.batchesByProduct[batch.ProductID], batch)
	s.sortBatches(batch.ProductID)
	created := batch
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.StockBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availableBatchesLocked(productID), nil
}

func (s *Store) availableBatchesLocked(productID string) []domain.StockBatch {
	out := make([]domain.StockBatch, 0, len(s.batchesByProduct[productID]))
	for _, b := range s.batchesByProduct[productID] {
		if b.Remaining > 0 {
			out = append(out, b)
		}
	}
	return out
}

func (s *Store) TotalRemainingStock(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalRemainingLocked(productID), nil
}

func (s *Store) totalRemainingLocked(productID string) int {
	total := 0
	for _, b := range s.batchesByProduct[productID] {
		total += b.Remaining
	}
	return total
}

func (s *Store) StockTotals(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int, len(s.batchesByProduct))
	for productID, batches := range s.batchesByProduct {
		sum := 0
		for _, b := range batches {
			sum += b.Remaining
		}
		if sum > 0 {
			totals[productID] = sum
		}
	}
	return totals, nil
}

func (s *Store) MaxInStockBatchCost(_ context.Context, productID string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := decimal.Zero
	found := false
	for _, b := range s.batchesByProduct[productID] {
		if b.Remaining <= 0 {
			continue
		}
		if !found || b.UnitCost.GreaterThan(max) {
			max = b.UnitCost
			found = true
		}
	}
	return max, found, nil
}

func (s *Store) ListStockIns(_ context.Context, limit int) ([]domain.StockInEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockInEntry, 0, 32)
	for productID, batches := range s.batchesByProduct {
		product := s.products[productID]
		for _, b := range batches {
			entries = append(entries, domain.StockInEntry{
				ProductName: product.Name,
				SKU:         product.SKU,
				Quantity:    b.Quantity,
				UnitCost:    b.UnitCost,
				TotalCost:   b.UnitCost.Mul(decimal.NewFromInt(int64(b.Quantity))),
				ReceivedAt:  b.ReceivedAt,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ReceivedAt.After(entries[j].ReceivedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) ListStockInsBetween(_ context.Context, from, to time.Time) ([]domain.StockInEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.StockInEntry, 0, 32)
	for productID, batches := range s.batchesByProduct {
		product := s.products[productID]
		for _, b := range batches {
			if b.ReceivedAt.Before(from) || !b.ReceivedAt.Before(to) {
				continue
			}
			entries = append(entries, domain.StockInEntry{
				ProductName: product.Name,
				SKU:         product.SKU,
				Quantity:    b.Quantity,
				UnitCost:    b.UnitCost,
				TotalCost:   b.UnitCost.Mul(decimal.NewFromInt(int64(b.Quantity))),
				ReceivedAt:  b.ReceivedAt,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ReceivedAt.After(entries[j].ReceivedAt) })
	return entries, nil
}

// --- sales ---

func (s *Store) RecordSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Allocate every line against batch snapshots first; nothing is applied
	// until the whole sale allocates.
	allocations := make([]fifo.Allocation, 0, len(sale.Items))
	staged := make(map[string]int) // batch id -> remaining after staged deductions

	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		product, ok := s.products[item.ProductID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if product.Archived() {
			return nil, store.ErrInvalidRequest
		}

		batches := s.availableBatchesLocked(item.ProductID)
		for bi := range batches {
			if stagedRemaining, ok := staged[batches[bi].ID]; ok {
				batches[bi].Remaining = stagedRemaining
			}
		}

		alloc, err := fifo.Allocate(batches, item.Quantity)
		if err != nil {
			var insufficient *domain.InsufficientStockError
			if errors.As(err, &insufficient) {
				insufficient.ProductID = item.ProductID
			}
			return nil, err
		}
		for _, d := range alloc.Deductions {
			staged[d.BatchID] = d.NewRemaining
		}
		allocations = append(allocations, alloc)
	}

	// Apply staged deductions.
	for productID, batches := range s.batchesByProduct {
		changed := false
		for bi := range batches {
			if remaining, ok := staged[batches[bi].ID]; ok {
				batches[bi].Remaining = remaining
				changed = true
			}
		}
		if changed {
			s.batchesByProduct[productID] = batches
		}
	}

	total := decimal.Zero
	for i := range sale.Items {
		item := &sale.Items[i]
		item.SaleID = sale.ID
		item.LineCOGS = allocations[i].LineCOGS
		if product, ok := s.products[item.ProductID]; ok {
			item.ProductName = product.Name
			item.SKU = product.SKU
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	sale.TotalAmount = total

	s.saleSeq++
	if sale.DisplayID == "" {
		sale.DisplayID = xid.Display("S", s.saleSeq)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	stored := sale
	s.salesByID[sale.ID] = &stored
	s.saleOrder = append(s.saleOrder, sale.ID)

	created := stored
	return &created, nil
}

func (s *Store) CancelSale(_ context.Context, saleID string, cancelledAt time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Cancelled() {
		return nil, &domain.NotCancellableError{SaleID: saleID, Reason: "already cancelled"}
	}

	// Reverse-FIFO credit: newest batches first, each credited up to its
	// headroom; any residue lands on the newest batch.
	for _, item := range sale.Items {
		s.creditStockLocked(item.ProductID, item.Quantity)
	}

	at := cancelledAt.UTC()
	sale.CancelledAt = &at

	cancelled := *sale
	return &cancelled, nil
}

func (s *Store) creditStockLocked(productID string, quantity int) {
	batches := s.batchesByProduct[productID]
	remaining := quantity
	for i := len(batches) - 1; i >= 0 && remaining > 0; i-- {
		headroom := batches[i].Quantity - batches[i].Remaining
		if headroom <= 0 {
			continue
		}
		credit := remaining
		if credit > headroom {
			credit = headroom
		}
		batches[i].Remaining += credit
		remaining -= credit
	}
	if remaining > 0 && len(batches) > 0 {
		batches[len(batches)-1].Remaining += remaining
	}
	s.batchesByProduct[productID] = batches
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *sale
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.saleOrder))
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		out = append(out, *sale)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListSaleItemFacts(_ context.Context, from time.Time, to time.Time) ([]domain.SaleItemFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts := make([]domain.SaleItemFact, 0, 64)
	for _, sale := range s.salesByID {
		if sale.Cancelled() {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		for _, item := range sale.Items {
			facts = append(facts, domain.SaleItemFact{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				SKU:         item.SKU,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				LineCOGS:    item.LineCOGS,
				SoldAt:      sale.CreatedAt,
			})
		}
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].SoldAt.Before(facts[j].SoldAt) })
	return facts, nil
}

// --- schedules ---

func (s *Store) CreateSchedule(_ context.Context, schedule domain.Schedule) (*domain.Schedule, error) {
	if schedule.ID == "" || schedule.Date == "" || schedule.Title == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}
	s.schedulesByID[schedule.ID] = schedule
	created := schedule
	return &created, nil
}

func (s *Store) ListSchedules(_ context.Context, from string, to string) ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Schedule, 0, len(s.schedulesByID))
	for _, schedule := range s.schedulesByID {
		if from != "" && schedule.Date < from {
			continue
		}
		if to != "" && schedule.Date > to {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) UpdateSchedule(_ context.Context, schedule domain.Schedule) (*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schedulesByID[schedule.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	schedule.CreatedBy = existing.CreatedBy
	schedule.CreatedAt = existing.CreatedAt
	s.schedulesByID[schedule.ID] = schedule
	saved := schedule
	return &saved, nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedulesByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.schedulesByID, id)
	return nil
}

// --- audit ---

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		out = append(out, s.auditLogs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
