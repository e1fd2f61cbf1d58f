package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	price       NUMERIC(12, 2) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS inventory (
	product_id BIGINT PRIMARY KEY REFERENCES products (id) ON DELETE CASCADE,
	quantity   BIGINT NOT NULL CHECK (quantity >= 0),
	min_stock  BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);`

// serializationFailure is the SQLSTATE Postgres reports when it aborts a
// transaction to keep it serializable.
const serializationFailure = "40001"

const maxTxAttempts = 3

// PostgresPool is the subset of *pgxpool.Pool the adapter needs.
type PostgresPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAdapter serializes writers per product with a row lock
// (SELECT ... FOR UPDATE), which also holds across ledger instances.
type PostgresAdapter struct {
	pool   PostgresPool
	logger *zap.Logger
}

var (
	_ port.LedgerRepository  = (*PostgresAdapter)(nil)
	_ port.CatalogRepository = (*PostgresAdapter)(nil)
)

func NewPostgresAdapter(pool PostgresPool, logger *zap.Logger) *PostgresAdapter {
	return &PostgresAdapter{pool: pool, logger: logger}
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	rec, err := scanStock(p.pool.QueryRow(ctx, `
		SELECT product_id, quantity, min_stock, updated_at
		FROM inventory WHERE product_id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return rec, nil
}

func (p *PostgresAdapter) UpdateStock(ctx context.Context, productID int64, fn port.StockMutation) (*domain.StockRecord, error) {
	var out *domain.StockRecord
	err := p.executeTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		rec, err := scanStock(tx.QueryRow(ctx, `
			SELECT product_id, quantity, min_stock, updated_at
			FROM inventory WHERE product_id = $1
			FOR UPDATE`, productID))
		if errors.Is(err, pgx.ErrNoRows) {
			return port.ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("lock inventory: %w", err)
		}

		if err := fn(rec); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE inventory SET quantity = $1, updated_at = $2
			WHERE product_id = $3`,
			rec.Quantity, rec.UpdatedAt, productID,
		); err != nil {
			return fmt.Errorf("update inventory: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresAdapter) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT product_id, quantity, min_stock, updated_at
		FROM inventory WHERE quantity <= min_stock
		ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var recs []domain.StockRecord
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan low stock: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

const postgresProductColumns = `
	SELECT p.id, p.name, p.description, p.category, p.price::text, i.quantity, i.min_stock
	FROM products p JOIN inventory i ON i.product_id = p.id`

func (p *PostgresAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanPgProduct(p.pool.QueryRow(ctx, postgresProductColumns+` WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return product, nil
}

func (p *PostgresAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := p.pool.Query(ctx, postgresProductColumns+` ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		product, err := scanPgProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}
	return products, rows.Err()
}

func (p *PostgresAdapter) CreateProduct(ctx context.Context, np domain.NewProduct) (*domain.Product, error) {
	var id int64
	err := p.executeTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		if err := tx.QueryRow(ctx, `
			INSERT INTO products (name, description, category, price, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5)
			RETURNING id`,
			np.Name, np.Description, np.Category, np.Price.String(), now,
		).Scan(&id); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory (product_id, quantity, min_stock, updated_at)
			VALUES ($1, $2, $3, $4)`,
			id, np.Stock, np.MinimumStock, now,
		); err != nil {
			return fmt.Errorf("insert inventory: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newProduct(id, np), nil
}

func (p *PostgresAdapter) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrRecordNotFound
	}
	return nil
}

// executeTx runs fn in a transaction, committing on success and rolling back
// otherwise. Serialization failures are retried a bounded number of times.
func (p *PostgresAdapter) executeTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		if err = p.executeTxOnce(ctx, opts, fn); err == nil || !isSerializationFailure(err) {
			return err
		}
		p.logger.Warn("transaction failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if err := sleepCtx(ctx, time.Duration(attempt)*10*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w: %w", maxTxAttempts, port.ErrContention, err)
}

func (p *PostgresAdapter) executeTxOnce(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			p.rollback(ctx, tx)
			panic(r)
		}
		if err != nil {
			p.rollback(ctx, tx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		p.logger.Error("rollback failed", zap.Error(err))
	}
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

func scanStock(row pgx.Row) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	if err := row.Scan(&rec.ProductID, &rec.Quantity, &rec.MinimumStock, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanPgProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &price, &p.Stock, &p.MinimumStock); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.Price = d
	return &p, nil
}
