package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/requestid"
	"github.com/rl1809/stock-ledger/internal/port"
)

const maxErrorBody = 64 << 10

// Client talks to the ledger data API over HTTP. Every failure is returned
// as a *port.CallError.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
	group   singleflight.Group
}

var _ port.LedgerClient = (*Client)(nil)

// New returns a client for the ledger at baseURL. Each call is bounded by
// timeout.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends one request and decodes a 2xx body into out, when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &port.CallError{Op: op, Outcome: port.OutcomeClientError, Message: "request could not be encoded", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &port.CallError{Op: op, Outcome: port.OutcomeNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx, id := requestid.Ensure(ctx)
	req.Header.Set(requestid.Header, id)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ledger call failed",
			zap.String("op", op),
			zap.String("request_id", id),
			zap.Error(err),
		)
		return &port.CallError{Op: op, Outcome: port.OutcomeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A body cut short by the deadline is a network failure, not a bad reply.
		if ctx.Err() != nil {
			return &port.CallError{Op: op, Outcome: port.OutcomeNetwork, Status: resp.StatusCode, Err: ctx.Err()}
		}
		return &port.CallError{Op: op, Outcome: port.OutcomeMalformed, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) *port.CallError {
	ce := &port.CallError{Op: op, Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		ce.Outcome = port.OutcomeNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		ce.Outcome = port.OutcomeClientError
	default:
		ce.Outcome = port.OutcomeServerError
	}

	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(raw, &eb) == nil {
		ce.Code = eb.Error
		ce.Message = eb.Message
	}
	return ce
}

func (c *Client) GetStock(ctx context.Context, productID int64) (*domain.StockView, error) {
	var stock domain.StockView
	if err := c.do(ctx, "get stock", http.MethodGet, "/data/inventory/"+strconv.FormatInt(productID, 10), nil, &stock); err != nil {
		return nil, err
	}
	return &stock, nil
}

// AdjustStock sends delta as a bare JSON integer.
func (c *Client) AdjustStock(ctx context.Context, productID int64, delta int) (*domain.StockView, error) {
	var stock domain.StockView
	if err := c.do(ctx, "adjust stock", http.MethodPatch, "/data/inventory/"+strconv.FormatInt(productID, 10), delta, &stock); err != nil {
		return nil, err
	}
	return &stock, nil
}

func (c *Client) ListLowStock(ctx context.Context) ([]domain.StockView, error) {
	var stocks []domain.StockView
	if err := c.do(ctx, "list low stock", http.MethodGet, "/data/inventory/low-stock", nil, &stocks); err != nil {
		return nil, err
	}
	return stocks, nil
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	if err := c.do(ctx, "get product", http.MethodGet, "/data/products/"+strconv.FormatInt(id, 10), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts coalesces concurrent calls into one request. Each caller gets
// its own copy of the result and stops waiting when its own ctx ends.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ch := c.group.DoChan("list products", func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		ctx := context.WithoutCancel(ctx)
		var products []domain.Product
		if err := c.do(ctx, "list products", http.MethodGet, "/data/products", nil, &products); err != nil {
			return nil, err
		}
		return products, nil
	})

	select {
	case <-ctx.Done():
		return nil, &port.CallError{Op: "list products", Outcome: port.OutcomeNetwork, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("product list shared between callers")
		}
		return slices.Clone(res.Val.([]domain.Product)), nil
	}
}

func (c *Client) CreateProduct(ctx context.Context, p domain.NewProduct) (*domain.Product, error) {
	var created domain.Product
	if err := c.do(ctx, "create product", http.MethodPost, "/data/products", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	return c.do(ctx, "delete product", http.MethodDelete, "/data/products/"+strconv.FormatInt(id, 10), nil, nil)
}
