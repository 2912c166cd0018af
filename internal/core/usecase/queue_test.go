package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func TestCancelRemovesUnfinishedRows(t *testing.T) {
	for _, status := range []domain.QueueStatus{domain.QueueWaiting, domain.QueueProcessing, domain.QueueFailed, domain.QueueDuplicateWaiting} {
		t.Run(string(status), func(t *testing.T) {
			item := &domain.QueueItem{ID: queueID, UserID: "u1", Status: status, StoragePath: "u1/a.pdf", IsDuplicate: status == domain.QueueDuplicateWaiting}
			queue := newQueueRepoFake(item)
			storage := newStorageFake()
			bus := &busFake{}
			uc := NewQueueUseCase(queue, storage, bus, nil)

			if err := uc.Cancel(context.Background(), "u1", queueID); err != nil {
				t.Fatalf("Cancel() error = %v", err)
			}
			if _, ok := queue.items[queueID]; ok {
				t.Fatalf("row must be deleted")
			}
			wantDeletes := 1
			if item.IsDuplicate {
				wantDeletes = 0
			}
			if len(storage.deleted) != wantDeletes {
				t.Fatalf("storage deletes = %d, want %d", len(storage.deleted), wantDeletes)
			}
			if bus.last().Kind != domain.EventDelete {
				t.Fatalf("expected delete event")
			}
		})
	}
}

func TestCancelRefusesFinishedRow(t *testing.T) {
	queue := newQueueRepoFake(&domain.QueueItem{ID: queueID, UserID: "u1", Status: domain.QueueDone})
	uc := NewQueueUseCase(queue, newStorageFake(), &busFake{}, nil)
	if err := uc.Cancel(context.Background(), "u1", queueID); !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCancelSwallowsStorageFailure(t *testing.T) {
	queue := newQueueRepoFake(&domain.QueueItem{ID: queueID, UserID: "u1", Status: domain.QueueFailed, StoragePath: "u1/a.pdf"})
	storage := newStorageFake()
	storage.deleteErr = errors.New("disk error")
	uc := NewQueueUseCase(queue, storage, &busFake{}, nil)
	if err := uc.Cancel(context.Background(), "u1", queueID); err != nil {
		t.Fatalf("storage failure must be swallowed: %v", err)
	}
	if len(queue.deleted) != 1 {
		t.Fatalf("row must still be deleted")
	}
}

func TestListQueueRejectsUnknownStatus(t *testing.T) {
	uc := NewQueueUseCase(newQueueRepoFake(), newStorageFake(), &busFake{}, nil)
	_, err := uc.ListQueue(context.Background(), domain.QueueFilter{UserID: "u1", Statuses: []domain.QueueStatus{"pendente"}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
