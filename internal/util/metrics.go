package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders placed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of order placements that failed",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"from", "to"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockReleasedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_released_units_total",
		Help: "Total number of units returned to stock",
	})

	ItemUpdateConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "item_update_conflicts_total",
		Help: "Total number of item updates retried after a concurrent write",
	})

	StoreTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_timeouts_total",
		Help: "Total number of store calls that exceeded their deadline",
	}, []string{"op"})

	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Total number of outbox events published",
	}, []string{"event_type"})

	OutboxPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Total number of outbox publish attempts that failed",
	})

	StatsEventsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_events_applied_total",
		Help: "Total number of order events applied to the dashboard projection",
	}, []string{"event_type"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
