package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type DocumentUseCase struct {
	docs     ports.DocumentRepository
	entities ports.EntityRepository
	storage  ports.ObjectStorage
	graph    ports.GraphProjector
	logger   *slog.Logger
}

func NewDocumentUseCase(
	docs ports.DocumentRepository,
	entities ports.EntityRepository,
	storage ports.ObjectStorage,
	graph ports.GraphProjector,
	logger *slog.Logger,
) *DocumentUseCase {
	return &DocumentUseCase{
		docs:     docs,
		entities: entities,
		storage:  storage,
		graph:    graph,
		logger:   orDefault(logger),
	}
}

func (uc *DocumentUseCase) ListDocuments(ctx context.Context, userID, folderID string) ([]domain.Document, error) {
	return uc.docs.ListDocuments(ctx, userID, folderID)
}

func (uc *DocumentUseCase) GetDocument(ctx context.Context, userID, docID string) (*domain.Document, error) {
	return uc.docs.GetDocument(ctx, userID, docID)
}

// DeleteDocument removes the document and cleans up what it leaves behind.
// Cleanup failures never fail the delete.
func (uc *DocumentUseCase) DeleteDocument(ctx context.Context, userID, docID string) error {
	deletion, err := uc.docs.DeleteDocument(ctx, userID, docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	uc.logger.Info("document_deleted", "doc_id", docID, "user_id", userID, "entities", len(deletion.EntityIDs))

	if deletion.StoragePath != "" && !deletion.StorageShared {
		if err := uc.storage.Delete(ctx, deletion.StoragePath); err != nil {
			uc.logger.Warn("storage_delete_failed", "doc_id", docID, "path", deletion.StoragePath, "error", err)
		}
	}
	uc.cleanupOrphans(ctx, deletion.EntityIDs)
	if uc.graph != nil {
		if err := uc.graph.RemoveDocument(ctx, docID); err != nil {
			uc.logger.Warn("graph_projection_failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}

func (uc *DocumentUseCase) UnlinkEntity(ctx context.Context, userID, docID, entityID string) error {
	if err := uc.docs.UnlinkEntity(ctx, userID, docID, entityID); err != nil {
		return fmt.Errorf("unlink entity: %w", err)
	}
	uc.cleanupOrphans(ctx, []string{entityID})

	if uc.graph != nil {
		doc, err := uc.docs.GetDocument(ctx, userID, docID)
		if err == nil {
			err = uc.graph.ProjectDocument(ctx, *doc)
		}
		if err != nil {
			uc.logger.Warn("graph_projection_failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}

func (uc *DocumentUseCase) cleanupOrphans(ctx context.Context, entityIDs []string) {
	for _, id := range entityIDs {
		deleted, err := uc.entities.DeleteIfOrphan(ctx, id)
		if err != nil {
			uc.logger.Warn("orphan_cleanup_failed", "entity_id", id, "error", err)
			continue
		}
		if deleted {
			uc.logger.Info("orphan_entity_deleted", "entity_id", id)
		}
	}
}
