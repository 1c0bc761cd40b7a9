package service

import (
	"context"
	"fmt"

	"jewelcraft/internal/models"
	"jewelcraft/internal/redisclient"
	"jewelcraft/internal/util"

	"go.uber.org/zap"
)

// StatsProjection is the event-fed order counter store
type StatsProjection interface {
	ApplyOrderCreated(ctx context.Context, eventID, status string, amount int64) (bool, error)
	ApplyOrderTransition(ctx context.Context, eventID, from, to string, amount int64) (bool, error)
	GetOrderStats(ctx context.Context) (*redisclient.OrderStats, error)
}

// DashboardStats summarises inventory and orders for staff
type DashboardStats struct {
	TotalItems   int                     `json:"total_items"`
	InStockItems int                     `json:"in_stock_items"`
	Orders       *redisclient.OrderStats `json:"orders"`
	Source       string                  `json:"source"`
}

// StatsService maintains and serves the dashboard projection
type StatsService struct {
	projection StatsProjection
	inventory  *InventoryService
	orders     *OrderService
	logger     *zap.Logger
}

// NewStatsService creates a new stats service. projection may be nil, in
// which case order counts are computed from the order store.
func NewStatsService(projection StatsProjection, inventory *InventoryService, orders *OrderService) *StatsService {
	return &StatsService{
		projection: projection,
		inventory:  inventory,
		orders:     orders,
		logger:     util.GetLogger(),
	}
}

// HandleOrderCreated counts a newly placed order
func (s *StatsService) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "StatsService.HandleOrderCreated")
	defer span.End()

	applied, err := s.projection.ApplyOrderCreated(ctx, event.EventID, string(event.Status), event.TotalAmount)
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", event.EventID, err)
	}
	if !applied {
		s.logger.Info("event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.StatsEventsAppliedTotal.WithLabelValues(models.EventTypeOrderCreated).Inc()
	return nil
}

// HandleOrderStatusChanged moves an order between status counters
func (s *StatsService) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "StatsService.HandleOrderStatusChanged")
	defer span.End()

	applied, err := s.projection.ApplyOrderTransition(ctx, event.EventID,
		string(event.From), string(event.To), event.TotalAmount)
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", event.EventID, err)
	}
	if !applied {
		s.logger.Info("event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.StatsEventsAppliedTotal.WithLabelValues(models.EventTypeOrderStatusChanged).Inc()
	return nil
}

// Dashboard returns current inventory counts and order statistics
func (s *StatsService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	ctx, span := util.StartSpan(ctx, "StatsService.Dashboard")
	defer span.End()

	all, err := s.inventory.List(ctx, models.ItemFilter{Page: models.Page{Page: 1, Limit: 1}})
	if err != nil {
		return nil, err
	}
	inStock, err := s.inventory.List(ctx, models.ItemFilter{
		Statuses: []models.ItemStatus{models.ItemStatusInStock},
		Page:     models.Page{Page: 1, Limit: 1},
	})
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{TotalItems: all.Total, InStockItems: inStock.Total}

	if s.projection != nil {
		orders, err := s.projection.GetOrderStats(ctx)
		if err == nil {
			stats.Orders = orders
			stats.Source = "projection"
			return stats, nil
		}
		s.logger.Warn("stats projection unavailable, counting from store", zap.Error(err))
	}

	orders, err := s.countOrders(ctx)
	if err != nil {
		return nil, err
	}
	stats.Orders = orders
	stats.Source = "store"
	return stats, nil
}

// countOrders builds order statistics directly from the order store
func (s *StatsService) countOrders(ctx context.Context) (*redisclient.OrderStats, error) {
	out := &redisclient.OrderStats{ByStatus: make(map[string]int64, len(models.OrderStatuses))}
	for _, status := range models.OrderStatuses {
		list, err := s.orders.ListOrders(ctx, models.OrderFilter{
			Status: status,
			Page:   models.Page{Page: 1, Limit: 1},
		})
		if err != nil {
			return nil, err
		}
		out.ByStatus[string(status)] = int64(list.Total)
		out.OrdersTotal += int64(list.Total)
	}
	return out, nil
}
