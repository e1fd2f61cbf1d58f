package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrOptimisticLock = fmt.Errorf("optimistic lock conflict: %w", port.ErrContention)

const (
	maxCASAttempts = 100
	casBackoffStep = time.Millisecond
	maxCASBackoff  = 10 * casBackoffStep
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(255) NOT NULL,
		description VARCHAR(1024) NOT NULL DEFAULT '',
		category    VARCHAR(255) NOT NULL DEFAULT '',
		price       DECIMAL(12, 2) NOT NULL,
		created_at  DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		product_id BIGINT PRIMARY KEY,
		quantity   BIGINT NOT NULL,
		min_stock  BIGINT NOT NULL DEFAULT 0,
		version    BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL,
		CONSTRAINT fk_inventory_product FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE,
		CONSTRAINT chk_inventory_quantity CHECK (quantity >= 0)
	)`,
}

// MySQLAdapter serializes writers per product with a version column: a write
// only lands if nobody else bumped the version since it was read.
type MySQLAdapter struct {
	db *sql.DB
}

var (
	_ port.LedgerRepository  = (*MySQLAdapter)(nil)
	_ port.CatalogRepository = (*MySQLAdapter)(nil)
)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the ledger tables when they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	rec, _, err := m.getStockVersion(ctx, productID)
	return rec, err
}

func (m *MySQLAdapter) getStockVersion(ctx context.Context, productID int64) (*domain.StockRecord, int64, error) {
	var (
		rec     domain.StockRecord
		version int64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, min_stock, version, updated_at
		FROM inventory WHERE product_id = ?`, productID,
	).Scan(&rec.ProductID, &rec.Quantity, &rec.MinimumStock, &version, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, port.ErrRecordNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query inventory: %w", err)
	}
	return &rec, version, nil
}

func (m *MySQLAdapter) UpdateStock(ctx context.Context, productID int64, fn port.StockMutation) (*domain.StockRecord, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		rec, version, err := m.getStockVersion(ctx, productID)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}

		result, err := m.db.ExecContext(ctx, `
			UPDATE inventory
			SET quantity = ?, updated_at = ?, version = version + 1
			WHERE product_id = ? AND version = ?`,
			rec.Quantity, rec.UpdatedAt, productID, version,
		)
		if err != nil {
			return nil, fmt.Errorf("update inventory: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update inventory: %w", err)
		}
		if rows == 1 {
			return rec, nil
		}

		if err := sleepCtx(ctx, casBackoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("product %d after %d attempts: %w", productID, maxCASAttempts, ErrOptimisticLock)
}

func (m *MySQLAdapter) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, quantity, min_stock, updated_at
		FROM inventory WHERE quantity <= min_stock
		ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var recs []domain.StockRecord
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.Quantity, &rec.MinimumStock, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan low stock: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

const mysqlProductColumns = `
	SELECT p.id, p.name, p.description, p.category, p.price, i.quantity, i.min_stock
	FROM products p JOIN inventory i ON i.product_id = p.id`

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, mysqlProductColumns+` WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, mysqlProductColumns+` ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, np domain.NewProduct) (*domain.Product, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO products (name, description, category, price, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		np.Name, np.Description, np.Category, np.Price, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity, min_stock, version, updated_at)
		VALUES (?, ?, ?, 0, ?)`,
		id, np.Stock, np.MinimumStock, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert inventory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return newProduct(id, np), nil
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id int64) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if rows == 0 {
		return port.ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p     domain.Product
		price decimal.Decimal
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &price, &p.Stock, &p.MinimumStock); err != nil {
		return nil, err
	}
	p.Price = price
	return &p, nil
}

func newProduct(id int64, np domain.NewProduct) *domain.Product {
	return &domain.Product{
		ID:           id,
		Name:         np.Name,
		Description:  np.Description,
		Category:     np.Category,
		Price:        np.Price,
		Stock:        np.Stock,
		MinimumStock: np.MinimumStock,
	}
}

// casBackoff grows linearly up to maxCASBackoff and adds jitter so that
// writers which lost the same race do not retry in lockstep.
func casBackoff(attempt int) time.Duration {
	d := min(time.Duration(attempt)*casBackoffStep, maxCASBackoff)
	return d + rand.N(casBackoffStep)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
