// Package notify fans payment events out to the configured sinks and sends
// buyer and seller emails. Every publish is best-effort: callers log the
// error and carry on.
package notify

import (
	"context"
	"errors"
	"time"
)

const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentUnmatched = "payment.unmatched"
	EventAmountMismatch   = "payment.amount_mismatch"
	EventEarningRecorded  = "earning.recorded"
)

// Event is the message published for every reconciliation outcome that
// someone downstream may care about.
type Event struct {
	Type      string    `json:"event_type"`
	OrderID   string    `json:"order_id,omitempty"`
	BuyerID   string    `json:"buyer_id,omitempty"`
	SellerID  string    `json:"seller_id,omitempty"`
	GatewayID int64     `json:"gateway_id,omitempty"`
	Amount    int64     `json:"amount_vnd,omitempty"`
	AmountPI  int64     `json:"amount_pi,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// key partitions events per order, falling back to the gateway id for
// transfers that never matched one.
func (e Event) key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return "gateway-" + itoa(e.GatewayID)
}

type Emitter interface {
	Publish(ctx context.Context, e Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, em := range m {
		if err := em.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}
