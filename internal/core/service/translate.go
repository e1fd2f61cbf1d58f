package service

import (
	"errors"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const defaultUnavailableReason = "inventory data service is unavailable"

// translation holds the reasons an operation attaches to each failure kind.
// Empty fields fall back to what the ledger reported.
type translation struct {
	notFound    string
	rejected    string // when set, every 4xx becomes InvalidRequest with this reason
	unavailable string
	// bulk marks reads that take no caller input: any failure is Unavailable.
	bulk bool
}

// translate maps a ledger call failure to exactly one domain error:
//
//	not found          -> NotFound
//	client error (4xx) -> InvalidRequest, or Conflict when the ledger said so
//	server error (5xx) -> Unavailable
//	network / timeout  -> Unavailable
//	undecodable reply  -> Internal
//
// It performs no retries. Transport details never reach the returned error.
func translate(err error, t translation) error {
	if err == nil {
		return nil
	}

	var ce *port.CallError
	if !errors.As(err, &ce) {
		var de *domain.Error
		if errors.As(err, &de) {
			return de
		}
		return domain.Internal(errors.New(err.Error()))
	}

	unavailable := t.unavailable
	if unavailable == "" {
		unavailable = defaultUnavailableReason
	}
	if t.bulk && ce.Outcome != port.OutcomeMalformed {
		return domain.Unavailable(unavailable)
	}

	switch ce.Outcome {
	case port.OutcomeNotFound:
		return domain.NotFound(firstNonEmpty(t.notFound, ce.Message, "resource not found"))
	case port.OutcomeClientError:
		if t.rejected != "" {
			return domain.InvalidRequest(t.rejected)
		}
		if kind, ok := domain.ParseErrorKind(ce.Code); ok && kind == domain.KindConflict {
			return domain.Conflict(firstNonEmpty(ce.Message, "request conflicts with current state"))
		}
		return domain.InvalidRequest(firstNonEmpty(ce.Message, "request rejected by the inventory data service"))
	case port.OutcomeServerError, port.OutcomeNetwork:
		return domain.Unavailable(unavailable)
	default:
		return domain.Internal(fmt.Errorf("ledger %s returned an unreadable response", ce.Op))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
