package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product is the catalog entry joined with its current stock.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	MinimumStock int             `json:"minimum_stock"`
	StockLow     bool            `json:"stock_low"`
}

// Projected returns a copy with the low-stock flag recomputed.
func (p Product) Projected() Product {
	p.StockLow = p.Stock <= p.MinimumStock
	return p
}

// NewProduct holds the fields needed to register a product and its stock record.
type NewProduct struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	MinimumStock int             `json:"minimum_stock"`
}

func (p NewProduct) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return InvalidRequest("product name is required")
	case !p.Price.IsPositive():
		return InvalidRequest("price must be greater than zero")
	case p.Stock < 0:
		return InvalidRequest("initial stock must not be negative")
	case p.MinimumStock < 0:
		return InvalidRequest("minimum stock must not be negative")
	}
	return nil
}
