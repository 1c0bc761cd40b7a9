package worker

import (
	"context"
	"time"

	"jewelcraft/internal/models"
	"jewelcraft/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const relayLockKey = "outbox-relay"

// OutboxStore is the persisted side of the outbox
type OutboxStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// EventSink delivers a stored event to the message broker
type EventSink interface {
	PublishOutboxEvent(ctx context.Context, event models.OutboxEvent) error
}

// Locker is a lease shared by every relay instance
type Locker interface {
	AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// OutboxRelayConfig tunes OutboxRelay
type OutboxRelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// OutboxRelay publishes events written alongside state changes. Delivery is
// at least once: an event published just before a crash is sent again.
type OutboxRelay struct {
	store    OutboxStore
	sink     EventSink
	locker   Locker
	token    string
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewOutboxRelay creates a relay. locker may be nil when only one instance runs.
func NewOutboxRelay(store OutboxStore, sink EventSink, locker Locker, cfg OutboxRelayConfig) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxRelay{
		store:    store,
		sink:     sink,
		locker:   locker,
		token:    uuid.New().String(),
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		logger:   util.GetLogger(),
	}
}

// Start polls the outbox until ctx is cancelled
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("starting outbox relay",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batch))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox relay pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("stopping outbox relay")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes one batch in outbox order and returns how many events
// were delivered. It stops at the first failure so per-order ordering holds.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	if r.locker != nil {
		ok, err := r.locker.AcquireLock(ctx, relayLockKey, r.token, 2*r.interval+5*time.Second)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), relayLockKey, r.token); err != nil {
				r.logger.Warn("failed to release outbox lock", zap.Error(err))
			}
		}()
	}

	events, err := r.store.FetchUnpublished(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	published := make([]string, 0, len(events))
	var publishErr error
	for _, event := range events {
		if err := r.sink.PublishOutboxEvent(ctx, event); err != nil {
			util.OutboxPublishFailures.Inc()
			publishErr = err
			break
		}
		util.OutboxPublishedTotal.WithLabelValues(event.EventType).Inc()
		published = append(published, event.ID)
	}

	if len(published) > 0 {
		if err := r.store.MarkPublished(context.WithoutCancel(ctx), published); err != nil {
			return 0, err
		}
		r.logger.Debug("outbox events published", zap.Int("count", len(published)))
	}
	return len(published), publishErr
}
