package repository

import (
	"context"

	"github.com/splax/actioncounter/internal/domain"
)

// DeliveryRepository persists the webhook delivery log.
type DeliveryRepository interface {
	RecordDeliveries(ctx context.Context, deliveries []domain.Delivery) error
	ListDeliveries(ctx context.Context, source string, limit int) ([]domain.Delivery, error)
	Ping(ctx context.Context) error
}
