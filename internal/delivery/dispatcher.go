// Package delivery fulfils paid orders according to their product type.
// Delivery never affects payment: a failed attempt is recorded on the order
// and the order stays paid.
package delivery

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/repository"
)

// Outcome is the delivery state a handler reached. Err is set when the
// handler failed and the order was flagged failed.
type Outcome struct {
	Status domain.DeliveryStatus `json:"status"`
	Notes  string                `json:"notes"`
	Err    error                 `json:"-"`
}

// Handler delivers one product type.
type Handler interface {
	AttemptDelivery(ctx context.Context, order *domain.Order) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, order *domain.Order) (Outcome, error)

func (f HandlerFunc) AttemptDelivery(ctx context.Context, order *domain.Order) (Outcome, error) {
	return f(ctx, order)
}

type deliveryStore interface {
	UpdateDelivery(ctx context.Context, orderID string, status domain.DeliveryStatus, notes string, at time.Time) error
}

type Dispatcher struct {
	store    deliveryStore
	handlers map[domain.ProductType]Handler
	fallback Handler
	logger   *zap.Logger
}

// NewDispatcher wires the built-in handlers: file downloads and license keys
// are delivered automatically, account products go to manual handling.
func NewDispatcher(orders *repository.OrderRepo, keys *repository.LicenseKeyRepo, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		store:    orders,
		handlers: make(map[domain.ProductType]Handler),
		fallback: manualHandler{note: "unknown product type, flagged for manual delivery"},
		logger:   logger.Named("delivery"),
	}
	d.Register(domain.ProductFileDownload, fileDownloadHandler{})
	d.Register(domain.ProductLicenseKey, &licenseKeyHandler{keys: keys})
	d.Register(domain.ProductSharedAccount, manualHandler{note: "awaiting seller to share account credentials"})
	return d
}

// Register installs or replaces the handler for a product type.
func (d *Dispatcher) Register(t domain.ProductType, h Handler) {
	d.handlers[t] = h
}

func (d *Dispatcher) handlerFor(t domain.ProductType) Handler {
	if h, ok := d.handlers[t]; ok {
		return h
	}
	if strings.HasPrefix(string(t), string(domain.ProductUpgradeAccountPref)) {
		return manualHandler{note: "awaiting seller to upgrade buyer account"}
	}
	return d.fallback
}

// Dispatch runs the handler for the order's product type and records the
// result. Handler errors become a failed delivery status; they are returned
// in Outcome.Err and never as an error that would abort payment handling.
func (d *Dispatcher) Dispatch(ctx context.Context, order *domain.Order) Outcome {
	log := d.logger.With(zap.String("order_id", order.ID), zap.String("product_type", string(order.Product.Type)))

	out, err := d.handlerFor(order.Product.Type).AttemptDelivery(ctx, order)
	if err != nil {
		log.Error("delivery attempt failed", zap.Error(err))
		out = Outcome{Status: domain.DeliveryFailed, Notes: "delivery failed: " + err.Error(), Err: err}
	}

	if err := d.store.UpdateDelivery(ctx, order.ID, out.Status, out.Notes, time.Now().UTC()); err != nil {
		log.Error("failed to record delivery status", zap.Error(err), zap.String("status", string(out.Status)))
		if out.Err == nil {
			out.Err = err
		}
		return out
	}

	log.Info("delivery attempted", zap.String("status", string(out.Status)))
	return out
}
