package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"hotelpipe/internal/etl"
	"hotelpipe/internal/logging"
	"hotelpipe/internal/metrics"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerClient guards an API with a circuit breaker so a struggling
// ingestion service fails fast instead of piling up timeouts.
type BreakerClient struct {
	api API
	cb  *gobreaker.CircuitBreaker[any]
}

var _ API = (*BreakerClient)(nil)

// ErrServiceUnavailable is returned while the breaker is open.
var ErrServiceUnavailable = errors.New("telemetry service unavailable")

// NewBreakerClient wraps api.
func NewBreakerClient(api API, cfg BreakerConfig) *BreakerClient {
	if cfg.Name == "" {
		cfg.Name = "telemetry"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	threshold := cfg.FailureThreshold

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Rejected credentials and cancellations say nothing about service health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, etl.ErrAuthentication) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &BreakerClient{api: api, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker's current state.
func (b *BreakerClient) State() gobreaker.State { return b.cb.State() }

func (b *BreakerClient) Login(ctx context.Context, username, password string) (string, error) {
	v, err := b.execute(func() (any, error) { return b.api.Login(ctx, username, password) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *BreakerClient) TimeseriesKeys(ctx context.Context, token, deviceID string) ([]string, error) {
	v, err := b.execute(func() (any, error) { return b.api.TimeseriesKeys(ctx, token, deviceID) })
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (b *BreakerClient) Timeseries(ctx context.Context, token, deviceID string, q Query) (*SeriesSet, error) {
	v, err := b.execute(func() (any, error) { return b.api.Timeseries(ctx, token, deviceID, q) })
	if err != nil {
		return nil, err
	}
	return v.(*SeriesSet), nil
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return v, err
}
