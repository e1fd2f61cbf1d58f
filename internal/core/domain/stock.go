package domain

import "time"

// StockRecord is the authoritative stock counter of one product.
type StockRecord struct {
	ProductID    int64
	Quantity     int
	MinimumStock int
	UpdatedAt    time.Time
}

// Low reports whether the quantity has reached the minimum threshold.
func (r StockRecord) Low() bool {
	return r.Quantity <= r.MinimumStock
}

// View projects the record for callers. The low-stock flag is derived here on
// every call and never stored.
func (r StockRecord) View() StockView {
	return StockView{
		ProductID:    r.ProductID,
		Quantity:     r.Quantity,
		MinimumStock: r.MinimumStock,
		StockLow:     r.Low(),
		UpdatedAt:    r.UpdatedAt,
	}
}

// StockView is the read-only copy of a StockRecord exchanged between services.
type StockView struct {
	ProductID    int64     `json:"product_id"`
	Quantity     int       `json:"quantity"`
	MinimumStock int       `json:"minimum_stock"`
	StockLow     bool      `json:"stock_low"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StockAdjusted is emitted after an adjustment has been persisted.
type StockAdjusted struct {
	ProductID    int64     `json:"product_id"`
	Delta        int       `json:"delta"`
	Quantity     int       `json:"quantity"`
	MinimumStock int       `json:"minimum_stock"`
	StockLow     bool      `json:"stock_low"`
	At           time.Time `json:"at"`
}

func NewStockAdjusted(rec StockRecord, delta int) StockAdjusted {
	return StockAdjusted{
		ProductID:    rec.ProductID,
		Delta:        delta,
		Quantity:     rec.Quantity,
		MinimumStock: rec.MinimumStock,
		StockLow:     rec.Low(),
		At:           rec.UpdatedAt,
	}
}
