package service

import (
	"context"
	"errors"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"
	"jewelcraft/internal/util"
)

// DefaultStoreTimeout bounds each persistence call when none is configured
const DefaultStoreTimeout = 5 * time.Second

// ItemRepository persists catalog items
type ItemRepository interface {
	ListItems(ctx context.Context, filter models.ItemFilter) ([]models.Item, int, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	CreateItem(ctx context.Context, item *models.Item) error
	UpdateItem(ctx context.Context, item *models.Item, expectedVersion int64) error
	DeleteItem(ctx context.Context, id string) error
	ReserveStock(ctx context.Context, id string, qty int) (*models.Item, error)
	ReleaseStock(ctx context.Context, id string, qty int) (*models.Item, error)
}

// OrderRepository persists orders together with their outbox events
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, event *models.OutboxEvent) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, notes *string, event *models.OutboxEvent) (*models.Order, error)
}

// UserRepository persists staff accounts
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CountUsersByRole(ctx context.Context, role string) (int, error)
}

// IdempotencyStore remembers which order a client request key produced
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (string, error)
	CompleteIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) error
	ForgetIdempotencyKey(ctx context.Context, key string) error
}

// storeCall derives the context for one persistence call
type storeCall time.Duration

func (d storeCall) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(d))
}

// unexpected wraps a store failure that has no domain meaning.
// Deadline overruns are counted and reported, never retried.
func unexpected(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		util.StoreTimeoutsTotal.WithLabelValues(op).Inc()
		return apperr.Internal(err, "%s: persistence call timed out", op)
	}
	return apperr.Internal(err, "%s failed", op)
}
