package broker

import (
	"errors"
	"time"

	"jewelcraft/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrBrokerUnavailable is returned while the circuit is open
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// BreakerSettings tunes when the publish circuit trips
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailRatio   float64
}

// DefaultBreakerSettings trips after 60% of at least 3 calls fail
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		MinRequests: 3,
		FailRatio:   0.6,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// NewCircuitBreaker creates a breaker that reports its state to Prometheus
func NewCircuitBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	logger := util.GetLogger()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailRatio
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			util.CircuitBreakerState.WithLabelValues(cbName).Set(stateValue(to))
			logger.Warn("circuit breaker state changed",
				zap.String("circuit", cbName),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	util.CircuitBreakerState.WithLabelValues(name).Set(0)
	return cb
}

// breakerError maps gobreaker rejections onto ErrBrokerUnavailable
func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBrokerUnavailable
	}
	return err
}
