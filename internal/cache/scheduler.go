package cache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wmtsproxy/internal/metrics"
	"wmtsproxy/internal/onclose"
)

const (
	WriteModeSync    = "sync"
	WriteModeAsync   = "async"
	WriteModeOnClose = "on_close"
)

// Scheduler decides when a cache write runs relative to the response.
type Scheduler interface {
	Schedule(ctx context.Context, fn func(context.Context))
}

// Drainer is implemented by schedulers that keep writes in flight after
// Schedule returned.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

func NewScheduler(mode string, workers, queueSize int, log *zap.Logger) (Scheduler, error) {
	switch mode {
	case WriteModeSync:
		log.Info("Cache writes are synchronous")
		return SyncScheduler{}, nil
	case WriteModeAsync:
		log.Info("Cache writes are asynchronous", zap.Int("workers", workers), zap.Int("queue", queueSize))
		return NewAsyncScheduler(workers, queueSize, log), nil
	case WriteModeOnClose:
		log.Info("Cache writes run after the response is sent")
		return DeferredScheduler{}, nil
	default:
		return nil, fmt.Errorf("unknown write mode: %s (supported: sync, async, on_close)", mode)
	}
}

// SyncScheduler runs the write before the response is produced.
type SyncScheduler struct{}

func (SyncScheduler) Schedule(ctx context.Context, fn func(context.Context)) {
	metrics.CacheWrites.WithLabelValues(WriteModeSync, "run").Inc()
	fn(ctx)
}

// DeferredScheduler runs the write once the response was flushed to the
// client. Without response hooks in ctx it degrades to an inline write.
type DeferredScheduler struct{}

func (DeferredScheduler) Schedule(ctx context.Context, fn func(context.Context)) {
	detached := context.WithoutCancel(ctx)
	if onclose.Register(ctx, func() { fn(detached) }) {
		metrics.CacheWrites.WithLabelValues(WriteModeOnClose, "deferred").Inc()
		return
	}
	metrics.CacheWrites.WithLabelValues(WriteModeOnClose, "inline").Inc()
	fn(ctx)
}

type asyncJob struct {
	ctx context.Context
	fn  func(context.Context)
}

// AsyncScheduler hands writes to a bounded pool of workers. A write that
// does not fit the queue is dropped.
type AsyncScheduler struct {
	jobs   chan asyncJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

func NewAsyncScheduler(workers, queueSize int, log *zap.Logger) *AsyncScheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	s := &AsyncScheduler{
		jobs:   make(chan asyncJob, queueSize),
		logger: log,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *AsyncScheduler) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.run(job)
	}
}

func (s *AsyncScheduler) run(job asyncJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in cache write", zap.Any("panic", r))
		}
	}()
	job.fn(job.ctx)
}

func (s *AsyncScheduler) Schedule(ctx context.Context, fn func(context.Context)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.logger.Warn("Cache write dropped, scheduler is shut down")
		metrics.CacheWrites.WithLabelValues(WriteModeAsync, "dropped").Inc()
		return
	}

	select {
	case s.jobs <- asyncJob{ctx: context.WithoutCancel(ctx), fn: fn}:
		metrics.CacheWrites.WithLabelValues(WriteModeAsync, "queued").Inc()
	default:
		s.logger.Warn("Cache write dropped, queue is full", zap.Int("queue", cap(s.jobs)))
		metrics.CacheWrites.WithLabelValues(WriteModeAsync, "dropped").Inc()
		metrics.AsyncWritesDropped.Inc()
	}
}

// Shutdown stops accepting writes and waits until the queued ones are done
// or ctx expires.
func (s *AsyncScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pending cache writes not drained: %w", ctx.Err())
	}
}
