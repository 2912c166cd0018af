package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// publish announces a queue change. Delivery failures are logged only; the
// row itself is the source of truth.
func publish(ctx context.Context, bus ports.QueueEventBus, logger *slog.Logger, kind domain.QueueEventKind, item *domain.QueueItem, at time.Time) {
	if bus == nil || item == nil {
		return
	}
	event := domain.QueueEvent{Kind: kind, Item: item, At: at}
	if err := bus.PublishQueueEvent(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn("queue_event_publish_failed", "queue_id", item.ID, "kind", kind, "error", err)
	}
}
