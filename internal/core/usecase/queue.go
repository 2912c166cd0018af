package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// QueueUseCase serves queue listings and cancellation.
type QueueUseCase struct {
	queue   ports.QueueRepository
	storage ports.ObjectStorage
	events  ports.QueueEventBus
	logger  *slog.Logger
	now     func() time.Time
}

func NewQueueUseCase(queue ports.QueueRepository, storage ports.ObjectStorage, events ports.QueueEventBus, logger *slog.Logger) *QueueUseCase {
	return &QueueUseCase{
		queue:   queue,
		storage: storage,
		events:  events,
		logger:  orDefault(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *QueueUseCase) ListQueue(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	for _, s := range filter.Statuses {
		if !s.Valid() {
			return nil, domain.WrapError(domain.ErrInvalidInput, "list queue", fmt.Errorf("unknown status %q", s))
		}
	}
	return uc.queue.List(ctx, filter)
}

func (uc *QueueUseCase) GetQueueItem(ctx context.Context, userID, queueID string) (*domain.QueueItem, error) {
	return loadOwnedItem(ctx, uc.queue, userID, queueID)
}

// Cancel removes a row that has not finished. Storage cleanup is best effort.
func (uc *QueueUseCase) Cancel(ctx context.Context, userID, queueID string) error {
	item, err := loadOwnedItem(ctx, uc.queue, userID, queueID)
	if err != nil {
		return err
	}
	if !item.Cancellable() {
		return domain.WrapError(domain.ErrInvalidTransition, "cancel queue item", fmt.Errorf("status %s must be approved or rejected", item.Status))
	}
	return discardItem(ctx, uc.queue, uc.storage, uc.events, uc.logger, item, uc.now())
}

func loadOwnedItem(ctx context.Context, queue ports.QueueRepository, userID, queueID string) (*domain.QueueItem, error) {
	item, err := queue.GetByID(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, domain.WrapError(domain.ErrNotFound, "load queue item", fmt.Errorf("queue item %s", queueID))
	}
	return item, nil
}

// discardItem deletes the stored object unless it belongs to an earlier
// upload, then the row.
func discardItem(ctx context.Context, queue ports.QueueRepository, storage ports.ObjectStorage, events ports.QueueEventBus, logger *slog.Logger, item *domain.QueueItem, now time.Time) error {
	if !item.IsDuplicate && item.StoragePath != "" {
		if err := storage.Delete(ctx, item.StoragePath); err != nil {
			logger.Warn("storage_delete_failed", "queue_id", item.ID, "path", item.StoragePath, "error", err)
		}
	}
	if err := queue.Delete(ctx, item.ID); err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	publish(ctx, events, logger, domain.EventDelete, item, now)
	logger.Info("queue_item_discarded", "queue_id", item.ID, "user_id", item.UserID, "status", item.Status)
	return nil
}
