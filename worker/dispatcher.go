package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher fans a set of workers out onto their own goroutines and shuts
// them down together.
type Dispatcher struct {
	logger *zap.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	workers  []Worker
	stopOnce sync.Once
	quit     chan struct{}
	started  bool
}

// NewDispatcher creates a dispatcher over the given workers.
func NewDispatcher(logger *zap.Logger, workers ...Worker) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		workers: workers,
		quit:    make(chan struct{}),
	}
}

// Start launches every worker and blocks until the context is cancelled or
// Stop is called, then waits for the workers to drain. Callers with a
// foreground loop of their own run Start on a separate goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher already started")
		return
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("Starting workers", zap.Int("count", len(d.workers)))

	for _, w := range d.workers {
		d.wg.Add(1)
		go func(w Worker) {
			defer d.wg.Done()
			w.Start(ctx)
			d.logger.Info("Worker stopped", zap.String("name", w.Name()))
		}(w)
	}

	select {
	case <-ctx.Done():
		d.Stop()
	case <-d.quit:
	}

	d.wg.Wait()
	d.logger.Info("All workers stopped")

	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// Stop shuts down every worker and releases Start. Safe to call more than
// once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if !d.started {
			return
		}
		close(d.quit)
		for _, w := range d.workers {
			w.Stop()
		}
	})
}
