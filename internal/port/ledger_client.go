package port

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Outcome classifies how a call to the ledger service failed.
type Outcome int

const (
	// OutcomeNetwork covers connection failures, timeouts and cancelled calls:
	// the ledger may or may not have applied the request.
	OutcomeNetwork Outcome = iota
	OutcomeNotFound
	OutcomeClientError
	OutcomeServerError
	// OutcomeMalformed means the ledger answered with success but the body
	// could not be decoded.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeClientError:
		return "client_error"
	case OutcomeServerError:
		return "server_error"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "network"
	}
}

// CallError is the only error type returned by a LedgerClient.
type CallError struct {
	Op      string
	Outcome Outcome
	Status  int    // HTTP status, zero when no response arrived
	Code    string // error kind reported by the ledger, if any
	Message string // reason reported by the ledger, if any
	Err     error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("ledger %s: %s", e.Op, e.Outcome)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// LedgerClient is the orchestration side's view of the ledger service.
type LedgerClient interface {
	GetStock(ctx context.Context, productID int64) (*domain.StockView, error)

	// AdjustStock applies a signed delta remotely. A call that fails with
	// OutcomeNetwork may still have been applied.
	AdjustStock(ctx context.Context, productID int64, delta int) (*domain.StockView, error)

	ListLowStock(ctx context.Context) ([]domain.StockView, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}
