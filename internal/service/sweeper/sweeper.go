package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/plany/internal/logger"
)

const defaultInterval = time.Hour

// Named cleanup job. Returns number of purged rows
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Sweeper periodically purges expired data off the request path
type Sweeper struct {
	interval time.Duration
	logger   logger.Logger
	tasks    []Task
}

func New(interval time.Duration, l logger.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Sweeper{
		interval: interval,
		logger:   l,
		tasks:    tasks,
	}
}

// Run tasks on every tick until ctx is done
// Returned channel is closed when sweeper stopped
func (s *Sweeper) Sweep(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "tasks", len(s.tasks))

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()

	return idleStopped
}

// Failed task is retried on the next tick, other tasks still run
func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		deleted, err := task.Run(ctx)
		if err != nil {
			s.logger.Error("Sweeper task failed", "task", task.Name, "error", err)
			continue
		}

		s.logger.Debug("Sweeper task done", "task", task.Name, "deleted", deleted, "duration", time.Since(started))
	}
}
