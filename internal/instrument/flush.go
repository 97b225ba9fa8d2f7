package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Flusher hands every buffered span to the exporter before returning.
type Flusher interface {
	Flush(ctx context.Context) error
}

// FlushBarrier holds suite teardown until buffered spans are delivered.
// Runner processes may exit right after teardown, which would drop whatever
// is still buffered.
type FlushBarrier struct {
	flusher Flusher
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewFlushBarrier returns a barrier over flusher. A positive timeout bounds
// each Wait. Flush latency is recorded to m when it is non-nil.
func NewFlushBarrier(flusher Flusher, timeout time.Duration, logger *slog.Logger, m *Metrics) *FlushBarrier {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	return &FlushBarrier{
		flusher: flusher,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Wait blocks until the flusher confirms delivery, the timeout passes or ctx
// is done.
func (b *FlushBarrier) Wait(ctx context.Context) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	err := b.flusher.Flush(ctx)
	elapsed := time.Since(start)
	b.metrics.flushed(ctx, elapsed)

	if err != nil {
		b.logger.Warn("instrument: flush failed", "error", err, "elapsed", elapsed)
		return fmt.Errorf("instrument: flush: %w", err)
	}
	b.logger.Debug("instrument: flushed", "elapsed", elapsed)
	return nil
}
