package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	productKeyPrefix = "product:"
	productIndexKey  = "products"
	productSeqKey    = "products:seq"

	fieldName        = "name"
	fieldDescription = "description"
	fieldCategory    = "category"
	fieldPrice       = "price"
	fieldQuantity    = "quantity"
	fieldMinStock    = "min_stock"
	fieldUpdatedAt   = "updated_at"
)

// RedisAdapter keeps each product with its stock in one hash. Writers are
// serialized per product with WATCH/MULTI: a write whose key changed after it
// was read is discarded and retried.
type RedisAdapter struct {
	client *redis.Client
}

var (
	_ port.LedgerRepository  = (*RedisAdapter)(nil)
	_ port.CatalogRepository = (*RedisAdapter)(nil)
)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func productKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

func (r *RedisAdapter) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	fields, err := r.client.HGetAll(ctx, productKey(productID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}
	return parseStock(productID, fields)
}

func (r *RedisAdapter) UpdateStock(ctx context.Context, productID int64, fn port.StockMutation) (*domain.StockRecord, error) {
	key := productKey(productID)

	var out *domain.StockRecord
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read stock: %w", err)
		}
		rec, err := parseStock(productID, fields)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldQuantity, rec.Quantity,
				fieldUpdatedAt, rec.UpdatedAt.UnixNano(),
			)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		if err := sleepCtx(ctx, casBackoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("product %d after %d attempts: %w", productID, maxCASAttempts, ErrOptimisticLock)
}

func (r *RedisAdapter) ListLowStock(ctx context.Context) ([]domain.StockRecord, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var low []domain.StockRecord
	for _, h := range all {
		rec, err := parseStock(h.id, h.fields)
		if err != nil {
			return nil, err
		}
		if rec.Low() {
			low = append(low, *rec)
		}
	}
	return low, nil
}

func (r *RedisAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	fields, err := r.client.HGetAll(ctx, productKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read product: %w", err)
	}
	return parseProduct(id, fields)
}

func (r *RedisAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(all))
	for _, h := range all {
		p, err := parseProduct(h.id, h.fields)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, nil
}

func (r *RedisAdapter) CreateProduct(ctx context.Context, np domain.NewProduct) (*domain.Product, error) {
	id, err := r.client.Incr(ctx, productSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate product id: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, productKey(id), map[string]any{
			fieldName:        np.Name,
			fieldDescription: np.Description,
			fieldCategory:    np.Category,
			fieldPrice:       np.Price.String(),
			fieldQuantity:    np.Stock,
			fieldMinStock:    np.MinimumStock,
			fieldUpdatedAt:   time.Now().UTC().UnixNano(),
		})
		pipe.ZAdd(ctx, productIndexKey, redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store product: %w", err)
	}
	return newProduct(id, np), nil
}

func (r *RedisAdapter) DeleteProduct(ctx context.Context, id int64) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, productKey(id))
		pipe.ZRem(ctx, productIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if del.Val() == 0 {
		return port.ErrRecordNotFound
	}
	return nil
}

type productHash struct {
	id     int64
	fields map[string]string
}

// loadAll reads every indexed product in id order. Products deleted between
// the index read and the hash read are skipped.
func (r *RedisAdapter) loadAll(ctx context.Context) ([]productHash, error) {
	members, err := r.client.ZRange(ctx, productIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read product index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return fmt.Errorf("product index member %q: %w", m, err)
			}
			ids = append(ids, id)
			cmds = append(cmds, pipe.HGetAll(ctx, productKey(id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}

	hashes := make([]productHash, 0, len(cmds))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		hashes = append(hashes, productHash{id: ids[i], fields: cmd.Val()})
	}
	return hashes, nil
}

func parseStock(id int64, fields map[string]string) (*domain.StockRecord, error) {
	if len(fields) == 0 {
		return nil, port.ErrRecordNotFound
	}

	quantity, err := strconv.Atoi(fields[fieldQuantity])
	if err != nil {
		return nil, fmt.Errorf("product %d quantity: %w", id, err)
	}
	minStock, err := strconv.Atoi(fields[fieldMinStock])
	if err != nil {
		return nil, fmt.Errorf("product %d min stock: %w", id, err)
	}
	updatedAt, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("product %d updated at: %w", id, err)
	}

	return &domain.StockRecord{
		ProductID:    id,
		Quantity:     quantity,
		MinimumStock: minStock,
		UpdatedAt:    time.Unix(0, updatedAt).UTC(),
	}, nil
}

func parseProduct(id int64, fields map[string]string) (*domain.Product, error) {
	rec, err := parseStock(id, fields)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(fields[fieldPrice])
	if err != nil {
		return nil, fmt.Errorf("product %d price: %w", id, err)
	}

	return &domain.Product{
		ID:           id,
		Name:         fields[fieldName],
		Description:  fields[fieldDescription],
		Category:     fields[fieldCategory],
		Price:        price,
		Stock:        rec.Quantity,
		MinimumStock: rec.MinimumStock,
	}, nil
}
