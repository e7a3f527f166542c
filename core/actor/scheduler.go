package actor

import (
	"context"
	"log/slog"
	"sync"
)

type Scheduler interface {
	Schedule(f func())
	// Wait blocks until all scheduled tasks have returned.
	Wait()
}

type scheduler struct {
	ctx context.Context
	log *slog.Logger
	sem chan struct{}

	wg sync.WaitGroup

	behavior string
	metrics  ActorMetrics
}

func (s *scheduler) Schedule(f func()) {
	// Don't schedule if context is already cancelled
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if s.sem != nil {
			select {
			case <-s.ctx.Done():
				return
			case s.sem <- struct{}{}:
			}
			defer func() { <-s.sem }()
		}

		s.metrics.TaskStarted(s.behavior)
		s.metrics.TaskFinished(s.behavior, s.runTask(f))
	}()
}

// runTask reports whether f returned without panicking.
func (s *scheduler) runTask(f func()) (ok bool) {
	defer s.metrics.TaskDuration(s.behavior).ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked", slog.Any("recovered", r))
		}
	}()

	f()
	return true
}

func (s *scheduler) Wait() { s.wg.Wait() }

// NewScheduler creates a scheduler that runs at most max tasks at once.
// If max <= 0, concurrency is unlimited. Tasks not yet started when ctx is
// cancelled are dropped. Metrics are labeled with behavior.
func NewScheduler(ctx context.Context, max int, behavior string, log *slog.Logger, metrics ActorMetrics) Scheduler {
	var sem chan struct{}
	if max > 0 {
		sem = make(chan struct{}, max)
	}
	if metrics == nil {
		metrics = NopActorMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &scheduler{
		ctx:      ctx,
		log:      log,
		sem:      sem,
		behavior: behavior,
		metrics:  metrics,
	}
}
