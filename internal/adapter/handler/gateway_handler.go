package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

// GatewayHandler serves the public inventory API.
type GatewayHandler struct {
	inventory *service.InventoryService
	logger    *zap.Logger
}

type AvailabilityResponse struct {
	Available bool `json:"available"`
}

type InventoryValueResponse struct {
	TotalValue string `json:"total_value"`
}

func NewGatewayHandler(inventory *service.InventoryService, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{inventory: inventory, logger: logger}
}

func (h *GatewayHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", HealthCheck)
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("GET /api/inventory/{productID}", h.GetStock)
	mux.HandleFunc("GET /api/inventory/{productID}/availability", h.CheckAvailability)
	mux.HandleFunc("PATCH /api/inventory/{productID}/stock", h.UpdateStock)
	mux.HandleFunc("GET /api/reports/inventory-value", h.InventoryValue)
	mux.HandleFunc("GET /api/reports/low-stock", h.LowStock)
}

func (h *GatewayHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.inventory.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *GatewayHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.inventory.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *GatewayHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	stock, err := h.inventory.GetStock(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (h *GatewayHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeError(w, r, h.logger, domain.InvalidRequest("quantity query parameter must be an integer"))
		return
	}

	available, err := h.inventory.CheckAvailability(r.Context(), id, quantity)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Available: available})
}

func (h *GatewayHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
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

	stock, err := h.inventory.UpdateStock(r.Context(), id, delta)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (h *GatewayHandler) InventoryValue(w http.ResponseWriter, r *http.Request) {
	total, err := h.inventory.TotalInventoryValue(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, InventoryValueResponse{TotalValue: total.StringFixed(2)})
}

func (h *GatewayHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.inventory.LowStockReport(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if stocks == nil {
		stocks = []domain.StockView{}
	}
	writeJSON(w, http.StatusOK, stocks)
}
