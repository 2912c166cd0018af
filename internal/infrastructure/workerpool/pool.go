package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// Pool bounds how many queue jobs run at once. Submit blocks while the pool is
// full so a slow worker applies backpressure to its subscription.
type Pool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

type Options struct {
	// MaxWaiting caps callers blocked in Submit; 0 means no cap.
	MaxWaiting int
	Logger     *slog.Logger
}

func New(size int, opts Options) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p, err := ants.NewPool(size,
		ants.WithExpiryDuration(time.Minute),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(opts.MaxWaiting),
		ants.WithPanicHandler(func(v any) {
			logger.Error("worker_panic_recovered", "panic", fmt.Sprint(v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{pool: p, logger: logger}, nil
}

// Submit schedules task. The task is skipped when ctx is already done by the
// time a worker picks it up.
func (p *Pool) Submit(ctx context.Context, task func(context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.pool.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task(ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		return domain.WrapError(domain.ErrTemporary, "submit job", err)
	default:
		return fmt.Errorf("submit job: %w", err)
	}
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops accepting jobs and waits up to timeout for running ones.
func (p *Pool) Release(timeout time.Duration) error {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release worker pool: %w", err)
	}
	return nil
}
