package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"
	"jewelcraft/internal/store"
	"jewelcraft/internal/util"

	"go.uber.org/zap"
)

// maxUpdateAttempts bounds the optimistic read-merge-write loop of Update
const maxUpdateAttempts = 5

// InventoryService is the ledger of record for item stock and status
type InventoryService struct {
	items   ItemRepository
	timeout storeCall
	logger  *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(items ItemRepository, storeTimeout time.Duration) *InventoryService {
	return &InventoryService{
		items:   items,
		timeout: storeCall(storeTimeout),
		logger:  util.GetLogger(),
	}
}

// List returns one page of items matching filter
func (s *InventoryService) List(ctx context.Context, filter models.ItemFilter) (*models.ItemList, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.List")
	defer span.End()

	filter.Page = filter.Page.Normalize()
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return nil, apperr.Validation("min_price must not exceed max_price")
	}

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	items, total, err := s.items.ListItems(callCtx, filter)
	if err != nil {
		util.RecordError(span, err)
		return nil, unexpected("list items", err)
	}

	return &models.ItemList{
		Items:      items,
		Page:       filter.Page.Page,
		Total:      total,
		TotalPages: filter.Page.TotalPages(total),
	}, nil
}

// Get retrieves an item by ID
func (s *InventoryService) Get(ctx context.Context, id string) (*models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Get")
	defer span.End()

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	item, err := s.items.GetItem(callCtx, id)
	if err != nil {
		return nil, itemError("get item", id, err)
	}
	return item, nil
}

// Create validates and stores a new item under a fresh ID
func (s *InventoryService) Create(ctx context.Context, in models.ItemInput) (*models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Create")
	defer span.End()

	item := in.ToItem()
	item.ItemCode = strings.TrimSpace(item.ItemCode)
	if err := item.Validate(); err != nil {
		return nil, err
	}

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	if err := s.items.CreateItem(callCtx, item); err != nil {
		util.RecordError(span, err)
		return nil, itemError("create item", item.ItemCode, err)
	}

	s.logger.Info("item created",
		zap.String("item_id", item.ID),
		zap.String("item_code", item.ItemCode),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// Update merges patch into the stored item and writes it back if nobody else
// changed the item in between; a lost race is retried against the fresh copy.
func (s *InventoryService) Update(ctx context.Context, id string, patch models.ItemPatch) (*models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Update")
	defer span.End()

	if patch.ItemCode != nil {
		code := strings.TrimSpace(*patch.ItemCode)
		patch.ItemCode = &code
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		merged := patch.Apply(*current)
		if err := merged.Validate(); err != nil {
			return nil, err
		}

		callCtx, cancel := s.timeout.ctx(ctx)
		err = s.items.UpdateItem(callCtx, &merged, current.Version)
		cancel()

		if errors.Is(err, store.ErrVersionConflict) {
			util.ItemUpdateConflictsTotal.Inc()
			s.logger.Debug("item changed concurrently, retrying update",
				zap.String("item_id", id),
				zap.Int("attempt", attempt))
			continue
		}
		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			return nil, apperr.ValidationCode(apperr.CodeDuplicateItemCode, "item_code %s already exists", merged.ItemCode)
		}
		if err != nil {
			util.RecordError(span, err)
			return nil, itemError("update item", id, err)
		}
		return &merged, nil
	}

	return nil, apperr.Conflict(apperr.CodeConcurrentModification, "item %s is being modified concurrently, try again", id)
}

// Delete removes an item permanently. Callers gate this on manager role.
func (s *InventoryService) Delete(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Delete")
	defer span.End()

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	if err := s.items.DeleteItem(callCtx, id); err != nil {
		return itemError("delete item", id, err)
	}

	s.logger.Info("item deleted", zap.String("item_id", id))
	return nil
}

// Reserve atomically takes qty units of an item. It returns the item as
// reserved so callers can snapshot the price they reserved at.
func (s *InventoryService) Reserve(ctx context.Context, id string, qty int) (*models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	if qty <= 0 {
		return nil, apperr.Validation("quantity must be greater than 0")
	}

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	item, err := s.items.ReserveStock(callCtx, id, qty)
	switch {
	case err == nil:
		return item, nil
	case errors.Is(err, store.ErrInsufficientStock):
		util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return nil, apperr.InsufficientStock("insufficient stock for item %s", id)
	case errors.Is(err, store.ErrNotOrderable):
		util.StockReservationsFailed.WithLabelValues("not_available").Inc()
		return nil, apperr.ValidationCode(apperr.CodeItemNotAvailable, "item %s is not available for ordering", id)
	default:
		util.StockReservationsFailed.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		return nil, itemError("reserve stock", id, err)
	}
}

// Release returns qty units of an item to the pool
func (s *InventoryService) Release(ctx context.Context, id string, qty int) (*models.Item, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer span.End()

	if qty <= 0 {
		return nil, apperr.Validation("quantity must be greater than 0")
	}

	callCtx, cancel := s.timeout.ctx(ctx)
	defer cancel()

	item, err := s.items.ReleaseStock(callCtx, id, qty)
	if err != nil {
		util.RecordError(span, err)
		return nil, itemError("release stock", id, err)
	}

	util.StockReleasedUnitsTotal.Add(float64(qty))
	return item, nil
}

// itemError translates store failures for item operations
func itemError(op, ref string, err error) error {
	var dup *store.DuplicateError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("item %s not found", ref)
	case errors.As(err, &dup):
		return apperr.ValidationCode(apperr.CodeDuplicateItemCode, "item_code %s already exists", ref)
	default:
		return unexpected(op, err)
	}
}
