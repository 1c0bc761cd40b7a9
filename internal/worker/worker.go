package worker

import (
	"context"
	"time"

	"jewelcraft/internal/broker"
	"jewelcraft/internal/service"
	"jewelcraft/internal/util"

	"go.uber.org/zap"
)

// DefaultRetryDelay is how long the stats worker waits before redelivering a failed message
const DefaultRetryDelay = 2 * time.Second

// StatsWorker feeds the order event stream into the dashboard projection
type StatsWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	retryDelay   time.Duration
	logger       *zap.Logger
}

// NewStatsWorker creates a new stats worker
func NewStatsWorker(consumer *broker.Consumer, stats *service.StatsService, retryDelay time.Duration) *StatsWorker {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(stats.HandleOrderCreated)
	eventHandler.OnOrderStatusChanged(stats.HandleOrderStatusChanged)

	return &StatsWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		retryDelay:   retryDelay,
		logger:       util.GetLogger(),
	}
}

// Start consumes until ctx is cancelled
func (w *StatsWorker) Start(ctx context.Context) error {
	w.logger.Info("starting stats worker")
	err := w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage, w.retryDelay)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop closes the underlying consumer
func (w *StatsWorker) Stop() error {
	w.logger.Info("stopping stats worker")
	return w.consumer.Close()
}
