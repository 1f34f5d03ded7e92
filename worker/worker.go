// Package worker runs the periodic loops behind the service: the outbox
// relay, the retry and stuck sweeps, and cleanup. A Dispatcher owns their
// lifecycle.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/metrics"
)

// Worker is a loop the dispatcher can run and shut down.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// BaseWorker invokes a tick function on a fixed interval. A failed tick is
// logged and counted; the loop keeps running, since every loop it drives is
// a sweep that picks up where the last one left off.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	metrics  metrics.Collector
	tick     func(ctx context.Context) error

	inFlight sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	quit     chan struct{}
	started  bool
}

// Option configures a BaseWorker.
type Option func(*BaseWorker)

// WithWorkerMetrics sets the metrics collector.
func WithWorkerMetrics(collector metrics.Collector) Option {
	return func(w *BaseWorker) {
		w.metrics = collector
	}
}

// NewBaseWorker creates a worker that runs tick every interval.
func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, tick func(ctx context.Context) error, opts ...Option) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		metrics:  metrics.NewNopCollector(),
		tick:     tick,
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the loop. It blocks until the context is cancelled or Stop is
// called, so callers that need to keep going run it on its own goroutine.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting", zap.String("name", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished", zap.String("name", w.name))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-ticker.C:
			// Stop may have landed between the tick firing and this read.
			select {
			case <-w.quit:
				return
			default:
			}
			w.runTick(ctx)
		}
	}
}

func (w *BaseWorker) runTick(ctx context.Context) {
	w.inFlight.Add(1)
	defer w.inFlight.Done()

	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := w.tick(ctx); err != nil {
		w.metrics.IncrementCounter("worker.tick_failed", map[string]string{"worker": w.name})
		w.logger.Error("Worker tick failed", zap.String("name", w.name), zap.Error(err))
		return
	}
	w.metrics.RecordDuration("worker.tick", time.Since(start), map[string]string{"worker": w.name})
}

// Stop signals the loop to exit and waits for an in-flight tick to finish.
// Safe to call more than once.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}
		close(w.quit)
		w.inFlight.Wait()
	})
}

// Name identifies the worker in logs and metrics.
func (w *BaseWorker) Name() string {
	return w.name
}
