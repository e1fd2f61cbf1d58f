package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/events"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/requestid"
	"github.com/rl1809/stock-ledger/internal/port"
)

func newLedgerMux() http.Handler {
	return newLedgerMuxWith(events.NoopPublisher{})
}

func newLedgerMuxWith(pub port.EventPublisher, opts ...service.LedgerOption) http.Handler {
	store := storage.NewMemoryStore()
	ledger := service.NewLedgerService(store, store, pub, zap.NewNop(), otel.Tracer("test"), opts...)

	mux := http.NewServeMux()
	NewLedgerHandler(ledger, zap.NewNop()).Register(mux)
	return Instrument(mux, otel.Tracer("test"), zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return v
}

const widget = `{"name":"Widget","category":"tools","price":"10.50","stock":50,"minimum_stock":10}`

func TestLedgerHandler_AdjustAcceptsPut(t *testing.T) {
	h := newLedgerMux()
	do(t, h, http.MethodPost, "/data/products", widget)

	rec := do(t, h, http.MethodPut, "/data/inventory/1", "-5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if got := decode[domain.StockView](t, rec); got.Quantity != 45 {
		t.Errorf("expected 45, got %d", got.Quantity)
	}
}

func TestLedgerHandler_CreateAndAdjust(t *testing.T) {
	h := newLedgerMux()

	rec := do(t, h, http.MethodPost, "/data/products", widget)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	p := decode[domain.Product](t, rec)

	rec = do(t, h, http.MethodPatch, "/data/inventory/1", "20")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if got := decode[domain.StockView](t, rec); got.Quantity != 70 || got.ProductID != p.ID {
		t.Errorf("unexpected stock %+v", got)
	}

	rec = do(t, h, http.MethodPatch, "/data/inventory/1", "-90")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "conflict" {
		t.Errorf("expected conflict code, got %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/data/inventory/1", "")
	if got := decode[domain.StockView](t, rec); got.Quantity != 70 {
		t.Errorf("expected quantity 70, got %d", got.Quantity)
	}
}

func TestLedgerHandler_AdjustBodyMustBeInteger(t *testing.T) {
	h := newLedgerMux()
	do(t, h, http.MethodPost, "/data/products", widget)

	for _, body := range []string{`{"quantity":5}`, `1.5`, `"5"`, ``, `5 6`} {
		rec := do(t, h, http.MethodPatch, "/data/inventory/1", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestLedgerHandler_ZeroDelta(t *testing.T) {
	h := newLedgerMux()

	rec := do(t, h, http.MethodPatch, "/data/inventory/42", "0")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "invalid_request" {
		t.Errorf("expected invalid_request, got %+v", got)
	}
}

func TestLedgerHandler_NotFound(t *testing.T) {
	h := newLedgerMux()

	for _, path := range []string{"/data/inventory/9", "/data/products/9"} {
		rec := do(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
		if got := decode[ErrorResponse](t, rec); got.Error != "not_found" || got.Message == "" {
			t.Errorf("%s: unexpected body %+v", path, got)
		}
	}
}

func TestLedgerHandler_BadID(t *testing.T) {
	h := newLedgerMux()

	rec := do(t, h, http.MethodGet, "/data/inventory/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestLedgerHandler_LowStockAndDelete(t *testing.T) {
	h := newLedgerMux()
	do(t, h, http.MethodPost, "/data/products", `{"name":"a","price":"1","stock":2,"minimum_stock":5}`)
	do(t, h, http.MethodPost, "/data/products", `{"name":"b","price":"1","stock":20,"minimum_stock":5}`)

	rec := do(t, h, http.MethodGet, "/data/inventory/low-stock", "")
	low := decode[[]domain.StockView](t, rec)
	if len(low) != 1 || low[0].ProductID != 1 || !low[0].StockLow {
		t.Errorf("unexpected low stock %+v", low)
	}

	if rec := do(t, h, http.MethodDelete, "/data/products/1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/data/inventory/low-stock", "")
	if low := decode[[]domain.StockView](t, rec); len(low) != 0 {
		t.Errorf("expected empty list, got %+v", low)
	}

	rec = do(t, h, http.MethodGet, "/data/products", "")
	if products := decode[[]domain.Product](t, rec); len(products) != 1 || products[0].Name != "b" {
		t.Errorf("unexpected products %+v", products)
	}
}

func TestLedgerHandler_InvalidProduct(t *testing.T) {
	h := newLedgerMux()

	rec := do(t, h, http.MethodPost, "/data/products", `{"name":"","price":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestInstrument_RequestID(t *testing.T) {
	h := newLedgerMux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestid.Header, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get(requestid.Header) != "abc" {
		t.Errorf("expected request id echoed, got %q", rec.Header().Get(requestid.Header))
	}

	rec = do(t, h, http.MethodGet, "/health", "")
	if rec.Header().Get(requestid.Header) == "" {
		t.Error("expected a generated request id")
	}
}

func TestWriteError_InternalIsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, zap.NewNop(), domain.Internal(errors.New("db password leaked")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	got := decode[ErrorResponse](t, rec)
	if got.Error != "internal" || got.Message != "an unexpected error occurred" {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestStatusOf(t *testing.T) {
	tests := map[domain.ErrorKind]int{
		domain.KindNotFound:       http.StatusNotFound,
		domain.KindInvalidRequest: http.StatusBadRequest,
		domain.KindConflict:       http.StatusBadRequest,
		domain.KindUnavailable:    http.StatusServiceUnavailable,
		domain.KindInternal:       http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusOf(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
