// Package tasks runs best-effort side effects off the request path with a
// bounded number in flight.
package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Runner struct {
	group   *errgroup.Group
	timeout time.Duration
	logger  *zap.Logger
}

func NewRunner(concurrency int, timeout time.Duration, logger *zap.Logger) *Runner {
	g := &errgroup.Group{}
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	return &Runner{group: g, timeout: timeout, logger: logger.Named("tasks")}
}

// Go schedules fn with its own timeout, detached from the caller's context so
// that a finished HTTP request does not cancel it. Failures and panics are
// logged, never propagated. Go blocks while the runner is at capacity.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.group.Go(func() (err error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
			if err != nil {
				r.logger.Warn("side effect failed", zap.String("task", name), zap.Error(err))
			}
			err = nil
		}()
		return fn(ctx)
	})
}

// Wait blocks until every scheduled task has finished.
func (r *Runner) Wait() {
	_ = r.group.Wait()
}
