package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// QueueRepository persists doc_queue rows. Writes that take a lease are
// guarded by the attempt number returned from Claim and fail with
// domain.ErrLeaseLost when the row moved on.
type QueueRepository interface {
	Create(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	List(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error)
	ListWaitingIDs(ctx context.Context) ([]string, error)
	Claim(ctx context.Context, id string, allowed []domain.QueueStatus, now time.Time) (*domain.QueueItem, error)
	UpdateProgress(ctx context.Context, id string, lease int, message string) (*domain.QueueItem, error)
	SaveExtractedText(ctx context.Context, id string, lease int, text string) error
	Finish(ctx context.Context, id string, lease int, data json.RawMessage, message string) (*domain.QueueItem, error)
	Fail(ctx context.Context, id string, lease int, status domain.QueueStatus, message string) (*domain.QueueItem, error)
	ReclaimStuck(ctx context.Context, stuckBefore time.Time, maxAttempts int) ([]domain.SweptItem, error)
	SaveExtractedData(ctx context.Context, id string, data json.RawMessage) error
	Delete(ctx context.Context, id string) error
}

// DocumentRepository owns doc, doc_file and doc_entity.
type DocumentRepository interface {
	// FindFileByHash returns (nil, nil) when no stored file has the hash.
	FindFileByHash(ctx context.Context, userID, hash string) (*domain.DocFile, error)
	GetFile(ctx context.Context, fileID string) (*domain.DocFile, error)
	Commit(ctx context.Context, plan domain.CommitPlan) (*domain.Document, error)
	GetDocument(ctx context.Context, userID, docID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, userID, folderID string) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, userID, docID string) (domain.DocumentDeletion, error)
	UnlinkEntity(ctx context.Context, userID, docID, entityID string) error
}

// EntityCatalog answers loose-match lookups for reconciliation.
type EntityCatalog interface {
	FindEntityMatches(ctx context.Context, q domain.EntityMatchQuery) ([]domain.Entity, error)
}

type EntityRepository interface {
	EntityCatalog
	ListEntities(ctx context.Context, userID, typeID string) ([]domain.Entity, error)
	GetEntity(ctx context.Context, userID, entityID string) (*domain.Entity, error)
	UpdateEntity(ctx context.Context, entity *domain.Entity) error
	DeleteIfOrphan(ctx context.Context, entityID string) (bool, error)
	ListEntityTypes(ctx context.Context, userID string) ([]domain.EntityType, error)
	SeedEntityTypes(ctx context.Context, types []domain.EntityType) error
}

type FolderRepository interface {
	CreateFolder(ctx context.Context, folder *domain.Folder) error
	ListFolders(ctx context.Context, userID string) ([]domain.Folder, error)
	GetFolder(ctx context.Context, userID, folderID string) (*domain.Folder, error)
	SaveAnalysis(ctx context.Context, userID, folderID string, analysis json.RawMessage) error
}

// ObjectStorage stores uploaded files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// QueueEventBus carries queue change notifications between the API and the workers.
type QueueEventBus interface {
	PublishQueueEvent(ctx context.Context, event domain.QueueEvent) error
	SubscribeQueueEvents(ctx context.Context, group string, handler func(context.Context, domain.QueueEvent) error) error
}

// TextExtractor turns a stored file into text.
type TextExtractor interface {
	Extract(ctx context.Context, src domain.ExtractionSource, progress domain.ProgressFunc) (domain.ExtractedText, error)
}

// EntityExtractor asks the language model for structured entities.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string, types []domain.EntityType) (domain.ModelExtraction, error)
}

// FolderAnalyzer asks the language model for a folder summary.
type FolderAnalyzer interface {
	AnalyzeFolder(ctx context.Context, contents domain.FolderContents) (domain.FolderAnalysis, error)
}

// SessionStore keeps small per-user session values.
type SessionStore interface {
	LastFolder(ctx context.Context, userID string) (string, error)
	SetLastFolder(ctx context.Context, userID, folderID string) error
}

// GraphProjector mirrors committed relationships into a graph store.
type GraphProjector interface {
	ProjectDocument(ctx context.Context, doc domain.Document) error
	RemoveDocument(ctx context.Context, docID string) error
	ProjectAnalysis(ctx context.Context, folder domain.Folder, analysis domain.FolderAnalysis) error
}

type SpreadsheetExporter interface {
	ExportFolder(ctx context.Context, contents domain.FolderContents) ([]byte, error)
}

type ReportRenderer interface {
	RenderAnalysis(folder domain.Folder, analysis domain.FolderAnalysis) ([]byte, error)
}

// ProcessingMetrics receives queue processing outcomes.
type ProcessingMetrics interface {
	StartItem()
	FinishItem(duration time.Duration, outcome string)
	ObserveQueueLag(lag time.Duration)
	AddReclaimed(n int)
}

// OCREngine opens recognition sessions. A session is reused for every page of
// one document and closed exactly once.
type OCREngine interface {
	Open(ctx context.Context, language string) (OCRSession, error)
}

type OCRSession interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Close() error
}

// PageRasterizer renders one 1-based PDF page to an image.
type PageRasterizer interface {
	RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}
