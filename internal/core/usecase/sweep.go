package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// SweepQueueUseCase reclaims rows whose processing lease outlived the
// liveness threshold.
type SweepQueueUseCase struct {
	queue      ports.QueueRepository
	events     ports.QueueEventBus
	metrics    ports.ProcessingMetrics
	logger     *slog.Logger
	stuckAfter time.Duration
	now        func() time.Time
}

func NewSweepQueueUseCase(
	queue ports.QueueRepository,
	events ports.QueueEventBus,
	metrics ports.ProcessingMetrics,
	logger *slog.Logger,
	stuckAfter time.Duration,
) *SweepQueueUseCase {
	if stuckAfter <= 0 {
		stuckAfter = domain.StuckAfter
	}
	return &SweepQueueUseCase{
		queue:      queue,
		events:     events,
		metrics:    metrics,
		logger:     orDefault(logger),
		stuckAfter: stuckAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (uc *SweepQueueUseCase) Sweep(ctx context.Context) (domain.SweepResult, error) {
	now := uc.now()
	swept, err := uc.queue.ReclaimStuck(ctx, now.Add(-uc.stuckAfter), domain.MaxProcessingAttempts)
	if err != nil {
		return domain.SweepResult{Success: false}, fmt.Errorf("reclaim stuck queue items: %w", err)
	}

	for _, s := range swept {
		item := s.QueueItem(now)
		publish(ctx, uc.events, uc.logger, domain.EventUpdate, &item, now)
		uc.logger.Warn("queue_item_reclaimed", "queue_id", s.ID, "attempt", s.Attempts, "stuck_since", s.StuckSince, "next_status", s.Status)
	}
	if uc.metrics != nil && len(swept) > 0 {
		uc.metrics.AddReclaimed(len(swept))
	}
	if swept == nil {
		swept = []domain.SweptItem{}
	}
	return domain.SweepResult{Success: true, Count: len(swept), Items: swept}, nil
}
