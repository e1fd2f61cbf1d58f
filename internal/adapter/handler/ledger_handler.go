package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

// LedgerHandler serves the data API of the ledger service.
type LedgerHandler struct {
	ledger *service.LedgerService
	logger *zap.Logger
}

func NewLedgerHandler(ledger *service.LedgerService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

func (h *LedgerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", HealthCheck)
	mux.HandleFunc("GET /data/products", h.ListProducts)
	mux.HandleFunc("POST /data/products", h.CreateProduct)
	mux.HandleFunc("GET /data/products/{id}", h.GetProduct)
	mux.HandleFunc("DELETE /data/products/{id}", h.DeleteProduct)
	mux.HandleFunc("GET /data/inventory/low-stock", h.ListLowStock)
	mux.HandleFunc("GET /data/inventory/{productID}", h.GetStock)
	mux.HandleFunc("PATCH /data/inventory/{productID}", h.AdjustStock)
	mux.HandleFunc("PUT /data/inventory/{productID}", h.AdjustStock)
}

func (h *LedgerHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.ledger.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *LedgerHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.ledger.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *LedgerHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.NewProduct
	if err := decodeBody(r, &req, "a product object"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.ledger.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *LedgerHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.ledger.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	recs, err := h.ledger.ListLowStock(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	views := make([]domain.StockView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, rec.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *LedgerHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	rec, err := h.ledger.GetStock(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.View())
}

// AdjustStock applies the signed integer carried as the whole request body.
func (h *LedgerHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var delta int
	if err := decodeBody(r, &delta, "a JSON integer"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	rec, err := h.ledger.Adjust(r.Context(), id, delta)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.View())
}
