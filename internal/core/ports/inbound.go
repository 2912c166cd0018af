package ports

import (
	"context"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// QueueIngestor accepts uploads into doc_queue.
type QueueIngestor interface {
	Upload(ctx context.Context, session domain.Session, in domain.UploadInput) (*domain.QueueItem, error)
}

// QueueProcessor runs the extraction and reconciliation stage for one row.
type QueueProcessor interface {
	ProcessByID(ctx context.Context, queueID string, opts domain.ProcessOptions) (domain.ProcessResult, error)
}

type QueueSweeper interface {
	Sweep(ctx context.Context) (domain.SweepResult, error)
}

type QueueReader interface {
	ListQueue(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error)
	GetQueueItem(ctx context.Context, userID, queueID string) (*domain.QueueItem, error)
}

type QueueCanceller interface {
	Cancel(ctx context.Context, userID, queueID string) error
}

// ReviewService drives the human confirmation of a finished row.
type ReviewService interface {
	GetReview(ctx context.Context, userID, queueID string) (*domain.Review, error)
	Revalidate(ctx context.Context, userID string, in domain.RevalidateInput) (domain.CandidateEntity, error)
	Approve(ctx context.Context, session domain.Session, in domain.ApproveInput) (*domain.Document, error)
	Reject(ctx context.Context, userID, queueID string) error
}

type DocumentService interface {
	ListDocuments(ctx context.Context, userID, folderID string) ([]domain.Document, error)
	GetDocument(ctx context.Context, userID, docID string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, userID, docID string) error
	UnlinkEntity(ctx context.Context, userID, docID, entityID string) error
}

type EntityService interface {
	ListEntities(ctx context.Context, userID, typeID string) ([]domain.Entity, error)
	UpdateEntity(ctx context.Context, userID string, in domain.EntityUpdate) (*domain.Entity, error)
	ListEntityTypes(ctx context.Context, userID string) ([]domain.EntityType, error)
}

type FolderService interface {
	CreateFolder(ctx context.Context, session domain.Session, name string) (*domain.Folder, error)
	ListFolders(ctx context.Context, userID string) ([]domain.Folder, error)
	AnalyzeFolder(ctx context.Context, userID, folderID string) (domain.FolderAnalysis, error)
	RenderAnalysisHTML(ctx context.Context, userID, folderID string) ([]byte, error)
	ExportFolder(ctx context.Context, userID, folderID string) ([]byte, error)
}

type SessionService interface {
	Load(ctx context.Context, userID string) domain.Session
	StoreLastFolder(ctx context.Context, userID, folderID string) error
}
