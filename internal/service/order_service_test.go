package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"
	"jewelcraft/internal/redisclient"
	"jewelcraft/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *store.MemoryStore
	inventory *InventoryService
	orders    *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	inventory := NewInventoryService(st, time.Second)
	return &fixture{
		store:     st,
		inventory: inventory,
		orders:    NewOrderService(st, inventory, nil, OrderServiceConfig{StoreTimeout: time.Second}),
	}
}

var itemSeq int64

func itemInput(qty int, price int64) models.ItemInput {
	n := atomic.AddInt64(&itemSeq, 1)
	return models.ItemInput{
		ItemCode:  fmt.Sprintf("RNG-%04d", n),
		Name:      fmt.Sprintf("Solitaire ring %d", n),
		Category:  models.CategoryRing,
		Price:     price,
		Weight:    3.2,
		MetalType: models.MetalGold,
		Images:    []string{"https://cdn.example.com/ring.jpg"},
		Quantity:  qty,
	}
}

func (f *fixture) addItem(t *testing.T, qty int, price int64) *models.Item {
	t.Helper()
	item, err := f.inventory.Create(context.Background(), itemInput(qty, price))
	require.NoError(t, err)
	return item
}

func (f *fixture) stock(t *testing.T, id string) *models.Item {
	t.Helper()
	item, err := f.inventory.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

func line(itemID string, qty int) models.OrderLineRequest {
	return models.OrderLineRequest{ItemID: itemID, Quantity: qty}
}

func orderRequest(lines ...models.OrderLineRequest) *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		CustomerName:  "Ana Lestari",
		CustomerEmail: "ana@example.com",
		CustomerPhone: "081234567890",
		ShippingAddress: models.ShippingAddress{
			Line1:   "Jl. Melati 12",
			City:    "Bandung",
			State:   "Jawa Barat",
			Zip:     "40115",
			Country: "ID",
		},
		Items: lines,
	}
}

func TestCreateOrderSnapshotsAndTotals(t *testing.T) {
	f := newFixture(t)
	ring := f.addItem(t, 3, 150000)
	chain := f.addItem(t, 2, 80000)

	order, replayed, err := f.orders.CreateOrder(context.Background(),
		orderRequest(line(ring.ID, 2), line(chain.ID, 1)), "")
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentMethodCOD, order.PaymentMethod)
	require.Len(t, order.Items, 2)
	assert.Equal(t, ring.ItemCode, order.Items[0].ItemCode)
	assert.Equal(t, ring.Name, order.Items[0].Name)
	assert.Equal(t, int64(300000), order.Items[0].Subtotal)
	assert.Equal(t, int64(80000), order.Items[1].Subtotal)
	assert.Equal(t, int64(380000), order.TotalAmount)
	sum, ok := order.SumSubtotals()
	require.True(t, ok)
	assert.Equal(t, sum, order.TotalAmount)

	assert.Equal(t, 1, f.stock(t, ring.ID).Quantity)
	assert.Equal(t, 1, f.stock(t, chain.ID).Quantity)
}

func TestCreateOrderRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.orders.CreateOrder(context.Background(), orderRequest(), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req := orderRequest(line("x", 1))
	req.CustomerEmail = "not-an-email"
	_, _, err = f.orders.CreateOrder(context.Background(), req, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestLastUnitsGoToExactlyTheAvailableOrders(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, 2, 100000)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	_, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.Code(err))

	after := f.stock(t, item.ID)
	assert.Equal(t, 0, after.Quantity)
	assert.Equal(t, models.ItemStatusSold, after.Status)
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, 5, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	var placed int64
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), ""); err == nil {
				atomic.AddInt64(&placed, 1)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), placed)
	assert.Equal(t, 0, f.stock(t, item.ID).Quantity)
}

func TestCreateOrderRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t)
	a := f.addItem(t, 3, 1000)
	b := f.addItem(t, 1, 2000)

	_, _, err := f.orders.CreateOrder(context.Background(),
		orderRequest(line(a.ID, 2), line(b.ID, 2)), "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	after := f.stock(t, a.ID)
	assert.Equal(t, 3, after.Quantity)
	assert.Equal(t, models.ItemStatusInStock, after.Status)
	assert.Equal(t, 1, f.stock(t, b.ID).Quantity)

	list, err := f.orders.ListOrders(context.Background(), models.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestCreateOrderRollsBackSoldOutLine(t *testing.T) {
	f := newFixture(t)
	a := f.addItem(t, 1, 1000)

	_, _, err := f.orders.CreateOrder(context.Background(),
		orderRequest(line(a.ID, 1), line("missing-item", 1)), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	after := f.stock(t, a.ID)
	assert.Equal(t, 1, after.Quantity)
	assert.Equal(t, models.ItemStatusInStock, after.Status, "sold flag is undone with the reservation")
}

func TestCreateOrderRejectsDiscontinuedItem(t *testing.T) {
	f := newFixture(t)
	in := itemInput(0, 1000)
	in.Status = models.ItemStatusDiscontinued
	item, err := f.inventory.Create(context.Background(), in)
	require.NoError(t, err)

	_, _, err = f.orders.CreateOrder(context.Background(), orderRequest(line(item.ID, 1)), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, apperr.CodeItemNotAvailable, apperr.Code(err))
}

type failingOrders struct {
	*store.MemoryStore
}

func (failingOrders) CreateOrder(context.Context, *models.Order, *models.OutboxEvent) error {
	return errors.New("connection reset by peer")
}

func TestCreateOrderReleasesStockWhenPersistFails(t *testing.T) {
	st := store.NewMemoryStore()
	inventory := NewInventoryService(st, time.Second)
	orders := NewOrderService(failingOrders{st}, inventory, nil, OrderServiceConfig{})

	item, err := inventory.Create(context.Background(), itemInput(2, 5000))
	require.NoError(t, err)

	_, _, err = orders.CreateOrder(context.Background(), orderRequest(line(item.ID, 2)), "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	after, err := inventory.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Quantity)
	assert.Equal(t, models.ItemStatusInStock, after.Status)
}

func TestOrderKeepsPriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 2, 100000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
	require.NoError(t, err)

	newPrice := int64(250000)
	newName := "Renamed ring"
	_, err = f.inventory.Update(ctx, item.ID, models.ItemPatch{Price: &newPrice, Name: &newName})
	require.NoError(t, err)

	got, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got.Items[0].Price)
	assert.Equal(t, item.Name, got.Items[0].Name)
	assert.Equal(t, int64(100000), got.TotalAmount)
}

func TestCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 1, 1000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusSold, f.stock(t, item.ID).Status)

	cancelled, err := f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	after := f.stock(t, item.ID)
	assert.Equal(t, 1, after.Quantity)
	assert.Equal(t, models.ItemStatusInStock, after.Status)

	_, err = f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusCancelled})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "already cancelled")
	assert.Equal(t, 1, f.stock(t, item.ID).Quantity, "second cancel must not restock again")
}

// seedItem stores an item without validation, as rows written before the
// price bounds existed would be.
func (f *fixture) seedItem(t *testing.T, qty int, price int64) *models.Item {
	t.Helper()
	item := itemInput(qty, price).ToItem()
	require.NoError(t, f.store.CreateItem(context.Background(), item))
	return item
}

func TestCreateOrderRejectsOverflowingSubtotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.seedItem(t, 4, 4_000_000_000_000_000_000)

	_, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 3)), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 4, f.stock(t, item.ID).Quantity, "reservation released")

	list, err := f.orders.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestCreateOrderRejectsOverflowingTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.seedItem(t, 1, 5_000_000_000_000_000_000)
	second := f.seedItem(t, 1, 5_000_000_000_000_000_000)

	_, _, err := f.orders.CreateOrder(ctx, orderRequest(line(first.ID, 1), line(second.ID, 1)), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 1, f.stock(t, first.ID).Quantity)
	assert.Equal(t, 1, f.stock(t, second.ID).Quantity)
}

func TestCreateOrderRejectsQuantityAboveBound(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, 5, 1000)

	_, _, err := f.orders.CreateOrder(context.Background(),
		orderRequest(line(item.ID, models.MaxQuantity+1)), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 5, f.stock(t, item.ID).Quantity)
}

func TestConcurrentCancelRestocksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 3, 1000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 3)), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusCancelled})
			if err == nil {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
	assert.Equal(t, 3, f.stock(t, item.ID).Quantity)
}

func TestCancelSkipsDeletedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kept := f.addItem(t, 1, 1000)
	gone := f.addItem(t, 1, 1000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(kept.ID, 1), line(gone.ID, 1)), "")
	require.NoError(t, err)
	require.NoError(t, f.inventory.Delete(ctx, gone.ID))

	_, err = f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, f.stock(t, kept.ID).Quantity)
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 1, 1000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
	require.NoError(t, err)

	_, err = f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusShipped})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "skipping states is not allowed")

	notes := "left with the neighbour"
	for _, next := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		req := models.UpdateStatusRequest{Status: next}
		if next == models.OrderStatusDelivered {
			req.Notes = &notes
		}
		updated, err := f.orders.UpdateStatus(ctx, order.ID, req)
		require.NoError(t, err, "to %s", next)
		assert.Equal(t, next, updated.Status)
	}

	got, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, notes, *got.Notes)

	for _, next := range models.OrderStatuses {
		_, err := f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: next})
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "delivered -> %s", next)
	}
	assert.Equal(t, 0, f.stock(t, item.ID).Quantity, "delivered orders keep their stock")
}

func TestShippedOrderCannotBeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 1, 1000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
	require.NoError(t, err)
	for _, next := range []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusProcessing, models.OrderStatusShipped} {
		_, err = f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: next})
		require.NoError(t, err)
	}

	_, err = f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusCancelled})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestUpdateStatusErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orders.UpdateStatus(ctx, "missing", models.UpdateStatusRequest{Status: models.OrderStatusConfirmed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.orders.UpdateStatus(ctx, "missing", models.UpdateStatusRequest{Status: "refunded"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestOrderEventsAreWrittenToOutbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 1, 1000)

	order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(ctx, order.ID, models.UpdateStatusRequest{Status: models.OrderStatusConfirmed})
	require.NoError(t, err)

	events, err := f.store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeOrderCreated, events[0].EventType)
	assert.Equal(t, models.EventTypeOrderStatusChanged, events[1].EventType)
	for _, e := range events {
		assert.Equal(t, order.ID, e.AggregateID)
	}
	assert.Contains(t, string(events[1].Payload), `"from":"pending"`)
	assert.Contains(t, string(events[1].Payload), `"to":"confirmed"`)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 5, 1000)

	var ids []string
	for i := 0; i < 3; i++ {
		order, _, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "")
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	_, err := f.orders.UpdateStatus(ctx, ids[0], models.UpdateStatusRequest{Status: models.OrderStatusConfirmed})
	require.NoError(t, err)

	all, err := f.orders.ListOrders(ctx, models.OrderFilter{Page: models.Page{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 2, all.TotalPages)
	require.Len(t, all.Orders, 2)
	assert.Equal(t, ids[2], all.Orders[0].ID, "newest first")

	pending, err := f.orders.ListOrders(ctx, models.OrderFilter{Status: models.OrderStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Total)

	_, err = f.orders.ListOrders(ctx, models.OrderFilter{Status: "lost"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, err = f.orders.ListOrders(ctx, models.OrderFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func newIdempotentFixture(t *testing.T) (*fixture, *redisclient.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	rc := redisclient.Wrap(rdb)

	f := newFixture(t)
	f.orders = NewOrderService(f.store, f.inventory, rc, OrderServiceConfig{
		StoreTimeout:   time.Second,
		IdempotencyTTL: time.Hour,
	})
	return f, rc, mr
}

func TestIdempotencyKeyReplaysOrder(t *testing.T) {
	f, _, _ := newIdempotentFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 5, 1000)

	first, replayed, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 2)), "checkout-1")
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 2)), "checkout-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 3, f.stock(t, item.ID).Quantity, "stock is reserved once")
}

func TestIdempotencyKeyFreedOnFailure(t *testing.T) {
	f, rc, _ := newIdempotentFixture(t)
	ctx := context.Background()

	_, _, err := f.orders.CreateOrder(ctx, orderRequest(line("missing", 1)), "checkout-2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	existing, err := rc.ClaimIdempotencyKey(ctx, "checkout-2", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestIdempotencyKeyInFlight(t *testing.T) {
	f, rc, _ := newIdempotentFixture(t)
	ctx := context.Background()
	item := f.addItem(t, 1, 1000)

	_, err := rc.ClaimIdempotencyKey(ctx, "checkout-3", time.Hour)
	require.NoError(t, err)

	_, _, err = f.orders.CreateOrder(ctx, orderRequest(line(item.ID, 1)), "checkout-3")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, f.stock(t, item.ID).Quantity)
}

func TestOrderPlacedWhenIdempotencyStoreDown(t *testing.T) {
	f, _, mr := newIdempotentFixture(t)
	item := f.addItem(t, 1, 1000)
	mr.Close()

	order, replayed, err := f.orders.CreateOrder(context.Background(), orderRequest(line(item.ID, 1)), "checkout-4")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEmpty(t, order.ID)
}

type slowItems struct {
	*store.MemoryStore
}

func (slowItems) ReserveStock(ctx context.Context, _ string, _ int) (*models.Item, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreCallTimesOut(t *testing.T) {
	st := store.NewMemoryStore()
	inventory := NewInventoryService(slowItems{st}, 20*time.Millisecond)
	item, err := inventory.Create(context.Background(), itemInput(1, 1000))
	require.NoError(t, err)

	start := time.Now()
	_, err = inventory.Reserve(context.Background(), item.ID, 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
