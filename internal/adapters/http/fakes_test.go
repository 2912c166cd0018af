package httpadapter

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/queuefeed"
)

const (
	testQueueID  = "0b7c6a4e-1d2f-4a3b-9c8d-7e6f5a4b3c2d"
	testEntityID = "5e1f2a3b-4c5d-4e6f-8a9b-0c1d2e3f4a5b"
	testFolderID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

// backendFake implements every inbound port over an in-memory queue. err,
// when set, is returned by every call that can fail.
type backendFake struct {
	mu sync.Mutex

	err        error
	items      map[string]domain.QueueItem
	lastFolder string

	uploaded    []domain.UploadInput
	uploadBody  string
	filters     []domain.QueueFilter
	processed   []domain.ProcessOptions
	approved    []domain.ApproveInput
	updated     []domain.EntityUpdate
	calls       int
	review      *domain.Review
	exportBytes []byte
}

func newBackendFake() *backendFake {
	return &backendFake{items: make(map[string]domain.QueueItem)}
}

func (f *backendFake) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *backendFake) Upload(_ context.Context, session domain.Session, in domain.UploadInput) (*domain.QueueItem, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, in)
	f.uploadBody = string(raw)
	folder := in.FolderID
	if folder == "" && session.LastFolderID != nil {
		folder = *session.LastFolderID
	}
	now := time.Now().UTC()
	item := domain.QueueItem{
		ID:        testQueueID,
		Filename:  in.Filename,
		Status:    domain.QueueWaiting,
		UserID:    session.UserID,
		FolderID:  &folder,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.items[item.ID] = item
	return &item, nil
}

func (f *backendFake) ProcessByID(_ context.Context, _ string, opts domain.ProcessOptions) (domain.ProcessResult, error) {
	if err := f.record(); err != nil {
		return domain.ProcessResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, opts)
	return domain.ProcessResult{Success: true, Message: "Processamento concluído", Attempt: 1}, nil
}

func (f *backendFake) Sweep(context.Context) (domain.SweepResult, error) {
	if err := f.record(); err != nil {
		return domain.SweepResult{}, err
	}
	return domain.SweepResult{Success: true}, nil
}

func (f *backendFake) ListQueue(_ context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	out := make([]domain.QueueItem, 0, len(f.items))
	for _, item := range f.items {
		if item.UserID == filter.UserID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *backendFake) GetQueueItem(_ context.Context, userID, queueID string) (*domain.QueueItem, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[queueID]
	if !ok || item.UserID != userID {
		return nil, domain.WrapError(domain.ErrNotFound, "get queue item", io.EOF)
	}
	return &item, nil
}

func (f *backendFake) Cancel(_ context.Context, _, queueID string) error {
	if err := f.record(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, queueID)
	return nil
}

func (f *backendFake) GetReview(context.Context, string, string) (*domain.Review, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	if f.review != nil {
		return f.review, nil
	}
	return &domain.Review{QueueID: testQueueID}, nil
}

func (f *backendFake) Revalidate(_ context.Context, _ string, in domain.RevalidateInput) (domain.CandidateEntity, error) {
	if err := f.record(); err != nil {
		return domain.CandidateEntity{}, err
	}
	c := in.Candidate
	c.Status = domain.CandidateNew
	return c, nil
}

func (f *backendFake) Approve(_ context.Context, session domain.Session, in domain.ApproveInput) (*domain.Document, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, in)
	folder := in.FolderID
	return &domain.Document{ID: "doc-1", FolderID: &folder, UserID: session.UserID, Approved: true}, nil
}

func (f *backendFake) Reject(context.Context, string, string) error {
	return f.record()
}

func (f *backendFake) ListDocuments(context.Context, string, string) ([]domain.Document, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return []domain.Document{{ID: "doc-1"}}, nil
}

func (f *backendFake) GetDocument(_ context.Context, userID, docID string) (*domain.Document, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &domain.Document{ID: docID, UserID: userID}, nil
}

func (f *backendFake) DeleteDocument(context.Context, string, string) error {
	return f.record()
}

func (f *backendFake) UnlinkEntity(context.Context, string, string, string) error {
	return f.record()
}

func (f *backendFake) ListEntities(context.Context, string, string) ([]domain.Entity, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return []domain.Entity{{ID: testEntityID, TypeID: "pj", Name: "Acme Ltda"}}, nil
}

func (f *backendFake) UpdateEntity(_ context.Context, _ string, in domain.EntityUpdate) (*domain.Entity, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, in)
	return &domain.Entity{ID: in.EntityID, Name: in.Name, Identifier1: in.Identifier1}, nil
}

func (f *backendFake) ListEntityTypes(context.Context, string) ([]domain.EntityType, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return []domain.EntityType{{ID: "pj", Name: "Pessoa Jurídica", Category: domain.CategoryOrganization}}, nil
}

func (f *backendFake) CreateFolder(_ context.Context, session domain.Session, name string) (*domain.Folder, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return &domain.Folder{ID: testFolderID, Name: name, UserID: session.UserID}, nil
}

func (f *backendFake) ListFolders(context.Context, string) ([]domain.Folder, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return []domain.Folder{{ID: testFolderID, Name: "Contratos"}}, nil
}

func (f *backendFake) AnalyzeFolder(context.Context, string, string) (domain.FolderAnalysis, error) {
	if err := f.record(); err != nil {
		return domain.FolderAnalysis{}, err
	}
	return domain.FolderAnalysis{ExecutiveSummary: "Resumo"}, nil
}

func (f *backendFake) RenderAnalysisHTML(context.Context, string, string) ([]byte, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return []byte("<html><body>Resumo</body></html>"), nil
}

func (f *backendFake) ExportFolder(context.Context, string, string) ([]byte, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.exportBytes, nil
}

func (f *backendFake) Load(_ context.Context, userID string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := domain.Session{UserID: userID}
	if f.lastFolder != "" {
		folder := f.lastFolder
		session.LastFolderID = &folder
	}
	return session
}

func (f *backendFake) StoreLastFolder(_ context.Context, _, folderID string) error {
	if err := f.record(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFolder = folderID
	return nil
}

func servicesFor(f *backendFake, feed *queuefeed.Hub) Services {
	return Services{
		Ingestor:  f,
		Processor: f,
		Sweeper:   f,
		Queue:     f,
		Review:    f,
		Documents: f,
		Entities:  f,
		Folders:   f,
		Sessions:  f,
		Feed:      feed,
	}
}

func newTestHandler(t *testing.T, f *backendFake, opts Options) http.Handler {
	t.Helper()
	rt, err := NewRouter(servicesFor(f, queuefeed.NewHub()), opts)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return rt.Handler()
}
