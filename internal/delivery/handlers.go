package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pimarket/reconciler/internal/domain"
)

type fileDownloadHandler struct{}

func (fileDownloadHandler) AttemptDelivery(_ context.Context, order *domain.Order) (Outcome, error) {
	if order.Product.FileURL == "" {
		return Outcome{
			Status: domain.DeliveryProcessing,
			Notes:  "product has no file attached, flagged for manual delivery",
		}, nil
	}
	return Outcome{
		Status: domain.DeliveryDelivered,
		Notes:  "download available: " + order.Product.FileURL,
	}, nil
}

type keyClaimer interface {
	Claim(ctx context.Context, productID, orderID string, now time.Time) (*domain.LicenseKey, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.LicenseKey, error)
}

type licenseKeyHandler struct {
	keys keyClaimer
}

func (h *licenseKeyHandler) AttemptDelivery(ctx context.Context, order *domain.Order) (Outcome, error) {
	key, err := h.keys.GetByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Outcome{}, fmt.Errorf("look up license key: %w", err)
	}
	if key == nil {
		key, err = h.keys.Claim(ctx, order.Product.ID, order.ID, time.Now().UTC())
	}
	switch {
	case errors.Is(err, domain.ErrNoLicenseKey):
		return Outcome{
			Status: domain.DeliveryProcessing,
			Notes:  "no license keys left in stock, seller must add keys",
		}, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("claim license key: %w", err)
	}
	return Outcome{
		Status: domain.DeliveryDelivered,
		Notes:  "license key: " + key.Value,
	}, nil
}

// manualHandler leaves the order processing until a seller acts.
type manualHandler struct {
	note string
}

func (h manualHandler) AttemptDelivery(context.Context, *domain.Order) (Outcome, error) {
	return Outcome{Status: domain.DeliveryProcessing, Notes: h.note}, nil
}
