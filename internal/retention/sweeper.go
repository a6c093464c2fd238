// Package retention periodically evicts tracked state older than the
// retention window so memory and key space stay bounded.
package retention

import (
	"context"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

// Prunable is implemented by every component holding time bounded state.
type Prunable interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Target names a Prunable for logging.
type Target struct {
	Name string
	Prunable
}

// Config controls the sweep.
type Config struct {
	Retention time.Duration
	// Interval defaults to a tenth of Retention, clamped to [1m, 1h].
	Interval time.Duration
}

// Sweeper runs the retention loop.
type Sweeper struct {
	cfg     Config
	targets []Target
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSweeper constructs a Sweeper. A nil now uses time.Now.
func NewSweeper(cfg Config, logger zerolog.Logger, now func() time.Time, targets ...Target) *Sweeper {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 && cfg.Retention > 0 {
		cfg.Interval = min(cfg.Retention/10, time.Hour)
		cfg.Interval = max(cfg.Interval, time.Minute)
	}
	return &Sweeper{
		cfg:     cfg,
		targets: targets,
		logger:  logger.With().Str("component", "retention_sweeper").Logger(),
		now:     now,
	}
}

// Start runs until ctx is done. It returns immediately when retention is disabled.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		s.logger.Info().Msg("retention: disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep prunes every target once and returns the number of evicted entries.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.Retention)
	total := 0
	for _, t := range s.targets {
		if t.Prunable == nil {
			continue
		}
		n, err := t.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Error().Str("target", t.Name).Err(err).Msg("retention: prune failed")
			continue
		}
		total += n
		if n > 0 {
			s.logger.Info().Str("target", t.Name).Int("evicted", n).Time("cutoff", cutoff).Msg("retention: pruned")
		}
	}
	return total
}
