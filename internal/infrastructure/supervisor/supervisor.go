// Package supervisor restarts long-running workers with exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
)

// Func is a worker body. It should block until ctx is cancelled or it can
// no longer make progress.
type Func func(ctx context.Context) error

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

type Supervisor struct {
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, logger logging.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger, metrics: m}
}

// Run calls fn until ctx is cancelled, waiting an exponential backoff
// between runs. A run that lasted longer than MaxInterval resets the
// backoff. It returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context, name string, fn Func) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.cfg.InitialInterval),
		backoff.WithMaxInterval(s.cfg.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		started := time.Now()
		err := fn(ctx)
		if ctx.Err() != nil {
			s.logger.Info(logging.Worker, logging.Shutdown, "worker stopped", map[logging.ExtraKey]any{
				logging.WorkerName: name,
			})
			return ctx.Err()
		}

		if time.Since(started) > s.cfg.MaxInterval {
			b.Reset()
		}

		if err == nil {
			err = errors.New("worker returned without error")
		}

		wait := b.NextBackOff()
		s.metrics.WorkerRestarted(name)
		s.logger.Warn(logging.Worker, logging.Supervision, "worker exited, restarting", map[logging.ExtraKey]any{
			logging.WorkerName:   name,
			logging.ErrorMessage: err.Error(),
			"backoff":            wait.String(),
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
