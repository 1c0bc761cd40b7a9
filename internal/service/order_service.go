package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"
	"jewelcraft/internal/redisclient"
	"jewelcraft/internal/store"
	"jewelcraft/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxStatusAttempts bounds re-evaluation of a status change that lost a race
const maxStatusAttempts = 3

// OrderServiceConfig tunes OrderService
type OrderServiceConfig struct {
	StoreTimeout   time.Duration
	IdempotencyTTL time.Duration
}

// OrderService handles order placement and the order status lifecycle
type OrderService struct {
	orders         OrderRepository
	inventory      *InventoryService
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	timeout        storeCall
	logger         *zap.Logger
	now            func() time.Time
}

// NewOrderService creates a new order service. idempotency may be nil, in
// which case Idempotency-Key headers are ignored.
func NewOrderService(
	orders OrderRepository,
	inventory *InventoryService,
	idempotency IdempotencyStore,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &OrderService{
		orders:         orders,
		inventory:      inventory,
		idempotency:    idempotency,
		idempotencyTTL: cfg.IdempotencyTTL,
		timeout:        storeCall(cfg.StoreTimeout),
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// reservation is stock taken for one order line
type reservation struct {
	itemID   string
	quantity int
}

// CreateOrder reserves stock for every line, snapshots each item's code, name
// and price, and persists the pending order. Placement is all-or-nothing: if
// any line cannot be reserved, or the order cannot be stored, every reservation
// already made is released before the error is returned.
//
// A non-empty idempotencyKey that was already used returns the original order
// with replayed set.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest, idempotencyKey string) (order *models.Order, replayed bool, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()
	defer func() { util.RecordError(span, err) }()

	if err := req.Validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, false, err
	}

	if idempotencyKey != "" && s.idempotency != nil {
		existing, claimed, claimErr := s.claimKey(ctx, idempotencyKey)
		if claimErr != nil {
			return nil, false, claimErr
		}
		if existing != nil {
			return existing, true, nil
		}
		if claimed {
			defer func() {
				s.settleKey(ctx, idempotencyKey, order, err)
			}()
		}
	}

	lines, reserved, err := s.reserveLines(ctx, req.Items)
	if err != nil {
		s.compensate(ctx, "", reserved)
		util.OrdersFailedTotal.WithLabelValues(reasonFor(err)).Inc()
		return nil, false, err
	}

	order = &models.Order{
		ID:              uuid.New().String(),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Items:           lines,
		Status:          models.OrderStatusPending,
		PaymentMethod:   models.PaymentMethodCOD,
		Notes:           req.Notes,
	}
	total, ok := order.SumSubtotals()
	if !ok {
		s.compensate(ctx, order.ID, reserved)
		util.OrdersFailedTotal.WithLabelValues("amount_out_of_range").Inc()
		return nil, false, apperr.Validation("order total exceeds the supported amount")
	}
	order.TotalAmount = total

	event, err := newOrderCreatedEvent(order, s.now())
	if err != nil {
		s.compensate(ctx, order.ID, reserved)
		return nil, false, apperr.Internal(err, "encode order event")
	}

	callCtx, cancel := s.timeout.ctx(ctx)
	err = s.orders.CreateOrder(callCtx, order, event)
	cancel()
	if err != nil {
		s.compensate(ctx, order.ID, reserved)
		util.OrdersFailedTotal.WithLabelValues("persist").Inc()
		return nil, false, unexpected("create order", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.Int("lines", len(order.Items)),
		zap.Int64("total_amount", order.TotalAmount))

	return order, false, nil
}

// reserveLines reserves each line in request order and snapshots the item as
// reserved. On failure it returns the reservations made so far.
func (s *OrderService) reserveLines(ctx context.Context, req []models.OrderLineRequest) ([]models.LineItem, []reservation, error) {
	lines := make([]models.LineItem, 0, len(req))
	reserved := make([]reservation, 0, len(req))

	for _, line := range req {
		item, err := s.inventory.Reserve(ctx, line.ItemID, line.Quantity)
		if err != nil {
			s.logger.Warn("order line rejected",
				zap.String("item_id", line.ItemID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
			return nil, reserved, err
		}
		reserved = append(reserved, reservation{itemID: line.ItemID, quantity: line.Quantity})

		subtotal, ok := models.LineSubtotal(item.Price, line.Quantity)
		if !ok {
			return nil, reserved, apperr.Validation("subtotal for item %s exceeds the supported amount", item.ItemCode)
		}
		lines = append(lines, models.LineItem{
			ItemID:   item.ID,
			ItemCode: item.ItemCode,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: line.Quantity,
			Subtotal: subtotal,
		})
	}
	return lines, reserved, nil
}

// compensate releases reservations of an order that will not be placed. It
// runs even if the caller's context is already cancelled.
func (s *OrderService) compensate(ctx context.Context, orderID string, reserved []reservation) {
	ctx = context.WithoutCancel(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if _, err := s.inventory.Release(ctx, r.itemID, r.quantity); err != nil {
			s.logger.Error("failed to compensate reservation",
				zap.String("order_id", orderID),
				zap.String("item_id", r.itemID),
				zap.Int("quantity", r.quantity),
				zap.Error(err))
		}
	}
}

// claimKey returns the order a key already produced, or whether the key is now
// claimed by this request. An unavailable key store does not block ordering.
func (s *OrderService) claimKey(ctx context.Context, key string) (*models.Order, bool, error) {
	orderID, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.idempotencyTTL)
	switch {
	case errors.Is(err, redisclient.ErrIdempotencyInFlight):
		return nil, false, apperr.Conflict(apperr.CodeConcurrentModification,
			"a request with this Idempotency-Key is already being processed")
	case err != nil:
		s.logger.Warn("idempotency store unavailable, placing order without it", zap.Error(err))
		return nil, false, nil
	case orderID == "":
		return nil, true, nil
	}

	existing, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", orderID))
	return existing, false, nil
}

// settleKey records the order a claimed key produced, or frees it on failure
func (s *OrderService) settleKey(ctx context.Context, key string, order *models.Order, err error) {
	ctx = context.WithoutCancel(ctx)
	if err != nil || order == nil {
		if ferr := s.idempotency.ForgetIdempotencyKey(ctx, key); ferr != nil {
			s.logger.Warn("failed to free idempotency key", zap.String("key", key), zap.Error(ferr))
		}
		return
	}
	if cerr := s.idempotency.CompleteIdempotencyKey(ctx, key, order.ID, s.idempotencyTTL); cerr != nil {
		s.logger.Warn("failed to record idempotency key", zap.String("key", key), zap.Error(cerr))
	}
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	order, err := s.orders.GetOrder(callCtx, id)
	if err != nil {
		return nil, orderError("get order", id, err)
	}
	return order, nil
}

// ListOrders returns one page of orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) (*models.OrderList, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("unknown order status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, apperr.Validation("from_date must not be after to_date")
	}
	filter.Page = filter.Page.Normalize()

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	orders, total, err := s.orders.ListOrders(callCtx, filter)
	if err != nil {
		util.RecordError(span, err)
		return nil, unexpected("list orders", err)
	}

	return &models.OrderList{
		Orders:     orders,
		Page:       filter.Page.Page,
		Total:      total,
		TotalPages: filter.Page.TotalPages(total),
	}, nil
}

// UpdateStatus moves an order along its lifecycle. Cancelling returns every
// line's quantity to stock, exactly once: the change is a compare-and-set on
// the previous status, so of two racing cancellations only one succeeds.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, req models.UpdateStatusRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !req.Status.Valid() {
		return nil, apperr.Validation("unknown order status %q", req.Status)
	}

	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		current, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}

		from := current.Status
		if from.IsTerminal() {
			return nil, apperr.InvalidTransition("order is already %s, no further changes are allowed", from)
		}
		if !from.CanTransitionTo(req.Status) {
			return nil, apperr.InvalidTransition("cannot move order from %s to %s", from, req.Status)
		}

		event, err := newStatusChangedEvent(current, req.Status, s.now())
		if err != nil {
			return nil, apperr.Internal(err, "encode order event")
		}

		callCtx, cancel := s.timeout.ctx(ctx)
		updated, err := s.orders.UpdateOrderStatus(callCtx, id, from, req.Status, req.Notes, event)
		cancel()

		if errors.Is(err, store.ErrStatusConflict) {
			s.logger.Debug("order status changed concurrently, re-evaluating",
				zap.String("order_id", id),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			util.RecordError(span, err)
			return nil, orderError("update order status", id, err)
		}

		util.OrderTransitionsTotal.WithLabelValues(string(from), string(req.Status)).Inc()
		s.logger.Info("order status changed",
			zap.String("order_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(req.Status)))

		if req.Status == models.OrderStatusCancelled {
			util.OrdersCancelledTotal.Inc()
			s.restock(ctx, updated)
		}
		return updated, nil
	}

	return nil, apperr.Conflict(apperr.CodeConcurrentModification, "order %s is being modified concurrently, try again", id)
}

// restock returns a cancelled order's quantities to inventory. Items deleted
// since the order was placed are skipped.
func (s *OrderService) restock(ctx context.Context, order *models.Order) {
	ctx = context.WithoutCancel(ctx)
	for _, line := range order.Items {
		_, err := s.inventory.Release(ctx, line.ItemID, line.Quantity)
		switch {
		case err == nil:
		case apperr.KindOf(err) == apperr.KindNotFound:
			s.logger.Warn("cancelled order references deleted item, not restocking",
				zap.String("order_id", order.ID),
				zap.String("item_id", line.ItemID))
		default:
			s.logger.Error("failed to restock cancelled order line",
				zap.String("order_id", order.ID),
				zap.String("item_id", line.ItemID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}

func newOrderCreatedEvent(order *models.Order, now time.Time) (*models.OutboxEvent, error) {
	items := make([]models.OrderItemData, len(order.Items))
	for i, li := range order.Items {
		items[i] = models.OrderItemData{ItemID: li.ItemID, Quantity: li.Quantity, Price: li.Price}
	}
	return newOutboxEvent(order.ID, models.EventTypeOrderCreated, func(base models.BaseEvent) interface{} {
		return models.OrderCreatedEvent{
			BaseEvent:   base,
			OrderID:     order.ID,
			Status:      order.Status,
			TotalAmount: order.TotalAmount,
			Items:       items,
		}
	}, now)
}

func newStatusChangedEvent(order *models.Order, to models.OrderStatus, now time.Time) (*models.OutboxEvent, error) {
	return newOutboxEvent(order.ID, models.EventTypeOrderStatusChanged, func(base models.BaseEvent) interface{} {
		return models.OrderStatusChangedEvent{
			BaseEvent:   base,
			OrderID:     order.ID,
			From:        order.Status,
			To:          to,
			TotalAmount: order.TotalAmount,
		}
	}, now)
}

func newOutboxEvent(orderID, eventType string, build func(models.BaseEvent) interface{}, now time.Time) (*models.OutboxEvent, error) {
	base := models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now.UTC(),
	}
	payload, err := json.Marshal(build(base))
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return &models.OutboxEvent{
		ID:          base.EventID,
		AggregateID: orderID,
		EventType:   eventType,
		Payload:     payload,
	}, nil
}

// orderError translates store failures for order operations
func orderError(op, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("order %s not found", id)
	}
	return unexpected(op, err)
}

func reasonFor(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindInsufficientStock:
		return "insufficient_stock"
	case apperr.KindNotFound:
		return "item_not_found"
	case apperr.KindValidation:
		if apperr.Code(err) == apperr.CodeItemNotAvailable {
			return "item_not_available"
		}
		return "validation"
	default:
		return "error"
	}
}
