// Package postgres implements the Store contract against PostgreSQL. Sale
// recording and cancellation run inside serializable transactions with row
// locks on the touched batches, so concurrent sales cannot over-deduct a
// batch and concurrent cancels cannot double-credit stock.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"stokkita/backend/internal/domain"
	"stokkita/backend/internal/fifo"
	"stokkita/backend/internal/store"
	"stokkita/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- products ---

func (s *Store) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	query := `
		SELECT id, sku, name, unit, selling_price, low_stock_threshold, archived_at, created_at
		FROM products
	`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	var archivedAt sql.NullTime
	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Unit,
		&product.SellingPrice,
		&product.LowStockThreshold,
		&archivedAt,
		&product.CreatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	if archivedAt.Valid {
		at := archivedAt.Time.UTC()
		product.ArchivedAt = &at
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, unit, selling_price, low_stock_threshold, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.SKU, product.Name, product.Unit, product.SellingPrice, product.LowStockThreshold, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, unit, selling_price, low_stock_threshold, archived_at, created_at
		FROM products
		WHERE id = $1
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, unit = $3, selling_price = $4, low_stock_threshold = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Unit, product.SellingPrice, product.LowStockThreshold)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := product
	return &saved, nil
}

func (s *Store) SetProductArchived(ctx context.Context, id string, archivedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET archived_at = $2, updated_at = now()
		WHERE id = $1
	`, id, nullTime(archivedAt))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- history ---

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_price_history (id, product_id, old_price, new_price, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.ProductID, entry.OldPrice, entry.NewPrice, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.PriceHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, old_price, new_price, changed_by, changed_at
		FROM product_price_history
		WHERE product_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PriceHistory, 0, limit)
	for rows.Next() {
		var entry domain.PriceHistory
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.OldPrice, &entry.NewPrice, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.ChangedAt = entry.ChangedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) CreateAttributeHistory(ctx context.Context, entry domain.AttributeHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_attribute_history (
			id, product_id, old_unit, new_unit, old_threshold, new_threshold, changed_by, changed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ProductID, nullIfEmpty(entry.OldUnit), nullIfEmpty(entry.NewUnit),
		nullInt(entry.OldThreshold), nullInt(entry.NewThreshold), entry.ChangedBy, entry.ChangedAt)
	return err
}

// --- batches ---

func (s *Store) CreateBatch(ctx context.Context, batch domain.StockBatch) (*domain.StockBatch, error) {
	if batch.ID == "" || batch.ProductID == "" || batch.Quantity < 1 {
		return nil, store.ErrInvalidRequest
	}
	if batch.Remaining < 0 || batch.Remaining > batch.Quantity {
		return nil, store.ErrInvalidRequest
	}

	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_batches (id, product_id, quantity, remaining_quantity, cost_price, received_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, batch.ID, batch.ProductID, batch.Quantity, batch.Remaining, batch.UnitCost, batch.ReceivedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.StockBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, remaining_quantity, cost_price, received_at
		FROM stock_batches
		WHERE product_id = $1 AND remaining_quantity > 0
		ORDER BY received_at ASC, id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

func scanBatches(rows *sql.Rows) ([]domain.StockBatch, error) {
	batches := make([]domain.StockBatch, 0, 8)
	for rows.Next() {
		var batch domain.StockBatch
		if err := rows.Scan(&batch.ID, &batch.ProductID, &batch.Quantity, &batch.Remaining, &batch.UnitCost, &batch.ReceivedAt); err != nil {
			return nil, err
		}
		batch.ReceivedAt = batch.ReceivedAt.UTC()
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (s *Store) TotalRemainingStock(ctx context.Context, productID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining_quantity), 0)
		FROM stock_batches
		WHERE product_id = $1
	`, productID).Scan(&total)
	return total, err
}

func (s *Store) StockTotals(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, SUM(remaining_quantity)
		FROM stock_batches
		GROUP BY product_id
		HAVING SUM(remaining_quantity) > 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int, 64)
	for rows.Next() {
		var productID string
		var total int
		if err := rows.Scan(&productID, &total); err != nil {
			return nil, err
		}
		totals[productID] = total
	}
	return totals, rows.Err()
}

func (s *Store) MaxInStockBatchCost(ctx context.Context, productID string) (decimal.Decimal, bool, error) {
	var cost decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT cost_price
		FROM stock_batches
		WHERE product_id = $1 AND remaining_quantity > 0
		ORDER BY cost_price DESC
		LIMIT 1
	`, productID).Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return cost, true, nil
}

func (s *Store) ListStockIns(ctx context.Context, limit int) ([]domain.StockInEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, p.sku, b.quantity, b.cost_price, b.received_at
		FROM stock_batches b
		JOIN products p ON p.id = b.product_id
		ORDER BY b.received_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockInEntry, 0, limit)
	for rows.Next() {
		var entry domain.StockInEntry
		if err := rows.Scan(&entry.ProductName, &entry.SKU, &entry.Quantity, &entry.UnitCost, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		entry.TotalCost = entry.UnitCost.Mul(decimal.NewFromInt(int64(entry.Quantity)))
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) ListStockInsBetween(ctx context.Context, from, to time.Time) ([]domain.StockInEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, p.sku, b.quantity, b.cost_price, b.received_at
		FROM stock_batches b
		JOIN products p ON p.id = b.product_id
		WHERE b.received_at >= $1 AND b.received_at < $2
		ORDER BY b.received_at DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockInEntry, 0, 32)
	for rows.Next() {
		var entry domain.StockInEntry
		if err := rows.Scan(&entry.ProductName, &entry.SKU, &entry.Quantity, &entry.UnitCost, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		entry.TotalCost = entry.UnitCost.Mul(decimal.NewFromInt(int64(entry.Quantity)))
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- sales ---

func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	created, err := s.recordSale(ctx, sale)
	if err != nil {
		return nil, mapWriteConflict(err)
	}
	return created, nil
}

// recordSale runs the whole read-allocate-write sequence in one serializable
// transaction. Serialization failures can surface on any statement, not just
// the commit, so the caller maps them.
func (s *Store) recordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	total := decimal.Zero
	for i := range sale.Items {
		item := &sale.Items[i]
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}

		var name, sku string
		var archivedAt sql.NullTime
		err := pgTx.QueryRowContext(ctx, `
			SELECT name, sku, archived_at
			FROM products
			WHERE id = $1
		`, item.ProductID).Scan(&name, &sku, &archivedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
			}
			return nil, err
		}
		if archivedAt.Valid {
			return nil, fmt.Errorf("product %s is archived: %w", item.ProductID, store.ErrInvalidRequest)
		}
		item.ProductName = name
		item.SKU = sku

		// Lock the product's open batches for the length of the
		// transaction; a concurrent sale against the same product waits
		// here instead of over-deducting.
		batchRows, err := pgTx.QueryContext(ctx, `
			SELECT id, product_id, quantity, remaining_quantity, cost_price, received_at
			FROM stock_batches
			WHERE product_id = $1 AND remaining_quantity > 0
			ORDER BY received_at ASC, id ASC
			FOR UPDATE
		`, item.ProductID)
		if err != nil {
			return nil, err
		}
		batches, err := scanBatches(batchRows)
		batchRows.Close()
		if err != nil {
			return nil, err
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
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE stock_batches
				SET remaining_quantity = $2, updated_at = now()
				WHERE id = $1
			`, d.BatchID, d.NewRemaining); err != nil {
				return nil, err
			}
		}

		item.SaleID = sale.ID
		item.LineCOGS = alloc.LineCOGS
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	sale.TotalAmount = total
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.DisplayID == "" {
		var seq int64
		if err := pgTx.QueryRowContext(ctx, `SELECT nextval('sales_display_seq')`).Scan(&seq); err != nil {
			return nil, err
		}
		sale.DisplayID = xid.Display("S", seq)
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, display_id, total_amount, created_at)
		VALUES ($1,$2,$3,$4)
	`, sale.ID, sale.DisplayID, sale.TotalAmount, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range sale.Items {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, selling_price, line_cogs)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, sale.ID, item.ProductID, item.Quantity, item.UnitPrice, item.LineCOGS)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) CancelSale(ctx context.Context, saleID string, cancelledAt time.Time) (*domain.Sale, error) {
	cancelled, err := s.cancelSale(ctx, saleID, cancelledAt)
	if err != nil {
		return nil, mapWriteConflict(err)
	}
	return cancelled, nil
}

func (s *Store) cancelSale(ctx context.Context, saleID string, cancelledAt time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var sale domain.Sale
	var cancelled sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, display_id, total_amount, created_at, cancelled_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&sale.ID, &sale.DisplayID, &sale.TotalAmount, &sale.CreatedAt, &cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if cancelled.Valid {
		return nil, &domain.NotCancellableError{SaleID: saleID, Reason: "already cancelled"}
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_id, quantity, selling_price, line_cogs
		FROM sale_items
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, 8)
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineCOGS); err != nil {
			itemRows.Close()
			return nil, err
		}
		item.SaleID = saleID
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		itemRows.Close()
		return nil, err
	}
	itemRows.Close()

	// Reverse-FIFO credit: newest batches first, each credited up to its
	// headroom. Any residue (batches adjusted outside the sale flows) lands
	// on the newest batch.
	for _, item := range items {
		batchRows, err := pgTx.QueryContext(ctx, `
			SELECT id, product_id, quantity, remaining_quantity, cost_price, received_at
			FROM stock_batches
			WHERE product_id = $1
			ORDER BY received_at DESC, id DESC
			FOR UPDATE
		`, item.ProductID)
		if err != nil {
			return nil, err
		}
		batches, err := scanBatches(batchRows)
		batchRows.Close()
		if err != nil {
			return nil, err
		}

		remaining := item.Quantity
		for i := range batches {
			if remaining == 0 {
				break
			}
			headroom := batches[i].Quantity - batches[i].Remaining
			if headroom <= 0 {
				continue
			}
			credit := remaining
			if credit > headroom {
				credit = headroom
			}
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE stock_batches
				SET remaining_quantity = remaining_quantity + $2, updated_at = now()
				WHERE id = $1
			`, batches[i].ID, credit); err != nil {
				return nil, err
			}
			remaining -= credit
		}
		if remaining > 0 && len(batches) > 0 {
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE stock_batches
				SET remaining_quantity = remaining_quantity + $2, updated_at = now()
				WHERE id = $1
			`, batches[0].ID, remaining); err != nil {
				return nil, err
			}
		}
	}

	at := cancelledAt.UTC()
	res, err := pgTx.ExecContext(ctx, `
		UPDATE sales
		SET cancelled_at = $2
		WHERE id = $1 AND cancelled_at IS NULL
	`, saleID, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, &domain.NotCancellableError{SaleID: saleID, Reason: "already cancelled"}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CancelledAt = &at
	sale.Items = items
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var cancelled sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_id, total_amount, created_at, cancelled_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.DisplayID, &sale.TotalAmount, &sale.CreatedAt, &cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if cancelled.Valid {
		at := cancelled.Time.UTC()
		sale.CancelledAt = &at
	}

	items, err := s.saleItems(ctx, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) saleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.sale_id, i.product_id, p.name, p.sku, i.quantity, i.selling_price, i.line_cogs
		FROM sale_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.sale_id = $1
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.SKU, &item.Quantity, &item.UnitPrice, &item.LineCOGS); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_id, total_amount, created_at, cancelled_at
		FROM sales
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var cancelled sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.DisplayID, &sale.TotalAmount, &sale.CreatedAt, &cancelled); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		if cancelled.Valid {
			at := cancelled.Time.UTC()
			sale.CancelledAt = &at
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.saleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) ListSaleItemFacts(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleItemFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.product_id, p.name, p.sku, i.quantity, i.selling_price, i.line_cogs, s.created_at
		FROM sale_items i
		JOIN sales s ON s.id = i.sale_id
		JOIN products p ON p.id = i.product_id
		WHERE s.cancelled_at IS NULL AND s.created_at >= $1 AND s.created_at < $2
		ORDER BY s.created_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts := make([]domain.SaleItemFact, 0, 128)
	for rows.Next() {
		var fact domain.SaleItemFact
		if err := rows.Scan(&fact.ProductID, &fact.ProductName, &fact.SKU, &fact.Quantity, &fact.UnitPrice, &fact.LineCOGS, &fact.SoldAt); err != nil {
			return nil, err
		}
		fact.SoldAt = fact.SoldAt.UTC()
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// --- schedules ---

func (s *Store) CreateSchedule(ctx context.Context, schedule domain.Schedule) (*domain.Schedule, error) {
	if schedule.ID == "" || schedule.Date == "" || schedule.Title == "" {
		return nil, store.ErrInvalidRequest
	}

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, date, title, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, schedule.ID, schedule.Date, schedule.Title, nullIfEmpty(schedule.Note), schedule.CreatedBy, schedule.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := schedule
	return &created, nil
}

func (s *Store) ListSchedules(ctx context.Context, from string, to string) ([]domain.Schedule, error) {
	query := `
		SELECT id, date, title, COALESCE(note, ''), created_by, created_at
		FROM schedules
	`
	args := make([]any, 0, 2)
	where := ""
	if from != "" {
		args = append(args, from)
		where = fmt.Sprintf(" WHERE date >= $%d", len(args))
	}
	if to != "" {
		args = append(args, to)
		if where == "" {
			where = fmt.Sprintf(" WHERE date <= $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND date <= $%d", len(args))
		}
	}
	query += where + ` ORDER BY date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]domain.Schedule, 0, 32)
	for rows.Next() {
		var schedule domain.Schedule
		if err := rows.Scan(&schedule.ID, &schedule.Date, &schedule.Title, &schedule.Note, &schedule.CreatedBy, &schedule.CreatedAt); err != nil {
			return nil, err
		}
		schedule.CreatedAt = schedule.CreatedAt.UTC()
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func (s *Store) UpdateSchedule(ctx context.Context, schedule domain.Schedule) (*domain.Schedule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET date = $2, title = $3, note = $4
		WHERE id = $1
	`, schedule.ID, schedule.Date, schedule.Title, nullIfEmpty(schedule.Note))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := schedule
	return &saved, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- audit ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.Actor, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidRequest
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- helpers ---

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// mapWriteConflict converts serialization failures (40001) and deadlocks
// (40P01) into store.ErrWriteConflict. Under serializable isolation these
// surface on any statement of the transaction, e.g. a FOR UPDATE read of a
// batch row a concurrent sale already committed against, not only at commit.
func mapWriteConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return store.ErrWriteConflict
	}
	return err
}
