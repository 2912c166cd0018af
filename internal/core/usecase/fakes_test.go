package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/reconcile"
)

type queueRepoFake struct {
	mu        sync.Mutex
	items     map[string]*domain.QueueItem
	createErr error
	claimErr  error
	deleted   []string
	progress  []string
	texts     map[string]string
}

func newQueueRepoFake(items ...*domain.QueueItem) *queueRepoFake {
	f := &queueRepoFake{items: map[string]*domain.QueueItem{}, texts: map[string]string{}}
	for _, item := range items {
		f.items[item.ID] = item
	}
	return f
}

func (f *queueRepoFake) Create(_ context.Context, item *domain.QueueItem) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copyItem := *item
	f.items[item.ID] = &copyItem
	return nil
}

func (f *queueRepoFake) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get queue item", errors.New(id))
	}
	copyItem := *item
	return &copyItem, nil
}

func (f *queueRepoFake) List(_ context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.QueueItem
	for _, item := range f.items {
		if item.UserID == filter.UserID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *queueRepoFake) ListWaitingIDs(context.Context) ([]string, error) { return nil, nil }

func (f *queueRepoFake) Claim(_ context.Context, id string, allowed []domain.QueueStatus, now time.Time) (*domain.QueueItem, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Attempts >= domain.MaxProcessingAttempts || !contains(allowed, item.Status) {
		return nil, domain.WrapError(domain.ErrAlreadyClaimed, "claim", errors.New(id))
	}
	item.Status = domain.QueueProcessing
	item.Attempts++
	item.ProcessingSince = &now
	item.LastAttemptAt = &now
	copyItem := *item
	return &copyItem, nil
}

func contains(statuses []domain.QueueStatus, s domain.QueueStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (f *queueRepoFake) leased(id string, lease int) (*domain.QueueItem, error) {
	item, ok := f.items[id]
	if !ok || item.Status != domain.QueueProcessing || item.Attempts != lease {
		return nil, domain.WrapError(domain.ErrLeaseLost, "guarded write", errors.New(id))
	}
	return item, nil
}

func (f *queueRepoFake) UpdateProgress(_ context.Context, id string, lease int, message string) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.leased(id, lease)
	if err != nil {
		return nil, err
	}
	item.Message = message
	f.progress = append(f.progress, message)
	copyItem := *item
	return &copyItem, nil
}

func (f *queueRepoFake) SaveExtractedText(_ context.Context, id string, lease int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.leased(id, lease)
	if err != nil {
		return err
	}
	item.ExtractedText = &text
	f.texts[id] = text
	return nil
}

func (f *queueRepoFake) Finish(_ context.Context, id string, lease int, data json.RawMessage, message string) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.leased(id, lease)
	if err != nil {
		return nil, err
	}
	item.Status = domain.QueueDone
	item.ExtractedData = data
	item.Message = message
	item.ProcessingSince = nil
	copyItem := *item
	return &copyItem, nil
}

func (f *queueRepoFake) Fail(_ context.Context, id string, lease int, status domain.QueueStatus, message string) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, err := f.leased(id, lease)
	if err != nil {
		return nil, err
	}
	item.Status = status
	item.Message = message
	item.ProcessingSince = nil
	copyItem := *item
	return &copyItem, nil
}

func (f *queueRepoFake) ReclaimStuck(_ context.Context, stuckBefore time.Time, maxAttempts int) ([]domain.SweptItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SweptItem
	for _, item := range f.items {
		if item.Status != domain.QueueProcessing || item.ProcessingSince == nil || !item.ProcessingSince.Before(stuckBefore) {
			continue
		}
		since := *item.ProcessingSince
		if item.Attempts >= maxAttempts {
			item.Status = domain.QueueFailed
			item.Message = domain.SweepFailMessage
		} else {
			item.Status = domain.QueueWaiting
			item.Message = domain.SweepRequeueMessage
		}
		item.ProcessingSince = nil
		out = append(out, domain.SweptItem{ID: item.ID, UserID: item.UserID, Filename: item.Filename, Attempts: item.Attempts, StuckSince: since, Status: item.Status})
	}
	return out, nil
}

func (f *queueRepoFake) SaveExtractedData(_ context.Context, id string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].ExtractedData = data
	return nil
}

func (f *queueRepoFake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type docRepoFake struct {
	files     map[string]*domain.DocFile
	byHash    map[string]*domain.DocFile
	hashErr   error
	committed []domain.CommitPlan
	deletion  domain.DocumentDeletion
	docs      []domain.Document
	unlinked  []string
}

func newDocRepoFake() *docRepoFake {
	return &docRepoFake{files: map[string]*domain.DocFile{}, byHash: map[string]*domain.DocFile{}}
}

func (f *docRepoFake) FindFileByHash(_ context.Context, _ string, hash string) (*domain.DocFile, error) {
	if f.hashErr != nil {
		return nil, f.hashErr
	}
	return f.byHash[hash], nil
}

func (f *docRepoFake) GetFile(_ context.Context, id string) (*domain.DocFile, error) {
	if file, ok := f.files[id]; ok {
		return file, nil
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get file", errors.New(id))
}

func (f *docRepoFake) Commit(_ context.Context, plan domain.CommitPlan) (*domain.Document, error) {
	f.committed = append(f.committed, plan)
	doc := plan.Document
	file := plan.File
	doc.File = &file
	doc.Entities = append(append([]domain.Entity{}, plan.NewEntities...), plan.Updates...)
	return &doc, nil
}

func (f *docRepoFake) GetDocument(_ context.Context, _ string, docID string) (*domain.Document, error) {
	for i := range f.docs {
		if f.docs[i].ID == docID {
			return &f.docs[i], nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get document", errors.New(docID))
}

func (f *docRepoFake) ListDocuments(context.Context, string, string) ([]domain.Document, error) {
	return f.docs, nil
}

func (f *docRepoFake) DeleteDocument(context.Context, string, string) (domain.DocumentDeletion, error) {
	return f.deletion, nil
}

func (f *docRepoFake) UnlinkEntity(_ context.Context, _ string, _ string, entityID string) error {
	f.unlinked = append(f.unlinked, entityID)
	return nil
}

type entityRepoFake struct {
	entities  []domain.Entity
	types     []domain.EntityType
	matchErr  error
	orphans   map[string]bool
	orphanErr error
	checked   []string
	updated   []domain.Entity
}

func defaultTypes() []domain.EntityType {
	return []domain.EntityType{
		{ID: "pj", Name: "Empresa", Category: domain.CategoryOrganization, Identifier1Label: "CNPJ"},
		{ID: "pf", Name: "Pessoa", Category: domain.CategoryPerson, Identifier1Label: "CPF"},
		{ID: "im", Name: "Imóvel", Category: domain.CategoryProperty},
	}
}

func (f *entityRepoFake) FindEntityMatches(_ context.Context, q domain.EntityMatchQuery) ([]domain.Entity, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	var out []domain.Entity
	for _, e := range f.entities {
		if e.TypeID != q.TypeID || e.UserID != q.UserID {
			continue
		}
		if (q.Identifier1 != "" && e.Identifier1 == q.Identifier1) || reconcile.FoldName(e.Name) == q.FoldedName {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *entityRepoFake) ListEntities(context.Context, string, string) ([]domain.Entity, error) {
	return append([]domain.Entity(nil), f.entities...), nil
}

func (f *entityRepoFake) GetEntity(_ context.Context, userID, id string) (*domain.Entity, error) {
	for i := range f.entities {
		if f.entities[i].ID == id && f.entities[i].UserID == userID {
			e := f.entities[i]
			return &e, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get entity", errors.New(id))
}

func (f *entityRepoFake) UpdateEntity(_ context.Context, e *domain.Entity) error {
	f.updated = append(f.updated, *e)
	return nil
}

func (f *entityRepoFake) DeleteIfOrphan(_ context.Context, id string) (bool, error) {
	f.checked = append(f.checked, id)
	if f.orphanErr != nil {
		return false, f.orphanErr
	}
	return f.orphans[id], nil
}

func (f *entityRepoFake) ListEntityTypes(context.Context, string) ([]domain.EntityType, error) {
	if f.types == nil {
		return defaultTypes(), nil
	}
	return append([]domain.EntityType(nil), f.types...), nil
}

func (f *entityRepoFake) SeedEntityTypes(context.Context, []domain.EntityType) error { return nil }

type folderRepoFake struct {
	folders  map[string]*domain.Folder
	analysis json.RawMessage
}

func newFolderRepoFake(folders ...domain.Folder) *folderRepoFake {
	f := &folderRepoFake{folders: map[string]*domain.Folder{}}
	for i := range folders {
		f.folders[folders[i].ID] = &folders[i]
	}
	return f
}

func (f *folderRepoFake) CreateFolder(_ context.Context, folder *domain.Folder) error {
	f.folders[folder.ID] = folder
	return nil
}

func (f *folderRepoFake) ListFolders(context.Context, string) ([]domain.Folder, error) {
	var out []domain.Folder
	for _, folder := range f.folders {
		out = append(out, *folder)
	}
	return out, nil
}

func (f *folderRepoFake) GetFolder(_ context.Context, userID, id string) (*domain.Folder, error) {
	folder, ok := f.folders[id]
	if !ok || folder.UserID != userID {
		return nil, domain.WrapError(domain.ErrNotFound, "get folder", errors.New(id))
	}
	return folder, nil
}

func (f *folderRepoFake) SaveAnalysis(_ context.Context, _ string, id string, analysis json.RawMessage) error {
	f.analysis = analysis
	f.folders[id].Analysis = analysis
	return nil
}

type storageFake struct {
	objects   map[string][]byte
	saveErr   error
	deleteErr error
	deleted   []string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = body
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, key)
	return nil
}

type busFake struct {
	mu     sync.Mutex
	events []domain.QueueEvent
	err    error
}

func (f *busFake) PublishQueueEvent(_ context.Context, event domain.QueueEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := *event.Item
	event.Item = &item
	f.events = append(f.events, event)
	return f.err
}

func (f *busFake) SubscribeQueueEvents(context.Context, string, func(context.Context, domain.QueueEvent) error) error {
	return nil
}

func (f *busFake) last() domain.QueueEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

type extractorFake struct {
	text string
	err  error
	got  domain.ExtractionSource
}

func (f *extractorFake) Extract(_ context.Context, src domain.ExtractionSource, progress domain.ProgressFunc) (domain.ExtractedText, error) {
	f.got = src
	progress("Extraindo página 1 de 1")
	if f.err != nil {
		return domain.ExtractedText{}, f.err
	}
	return domain.ExtractedText{Combined: f.text, Native: f.text, Pages: 1}, nil
}

type llmFake struct {
	result domain.ModelExtraction
	err    error
	text   string
}

func (f *llmFake) ExtractEntities(_ context.Context, text string, _ []domain.EntityType) (domain.ModelExtraction, error) {
	f.text = text
	if f.err != nil {
		return domain.ModelExtraction{}, f.err
	}
	return f.result, nil
}

type metricsFake struct {
	started   int
	outcomes  []string
	reclaimed int
}

func (f *metricsFake) StartItem() { f.started++ }
func (f *metricsFake) FinishItem(_ time.Duration, outcome string) { f.outcomes = append(f.outcomes, outcome) }
func (f *metricsFake) ObserveQueueLag(time.Duration) {}
func (f *metricsFake) AddReclaimed(n int) { f.reclaimed += n }

type sessionStoreFake struct {
	last map[string]string
	err  error
}

func (f *sessionStoreFake) LastFolder(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.last[userID], nil
}

func (f *sessionStoreFake) SetLastFolder(_ context.Context, userID, folderID string) error {
	if f.err != nil {
		return f.err
	}
	if f.last == nil {
		f.last = map[string]string{}
	}
	f.last[userID] = folderID
	return nil
}

type graphFake struct {
	projected []domain.Document
	removed   []string
	analyses  int
	err       error
}

func (f *graphFake) ProjectDocument(_ context.Context, doc domain.Document) error {
	f.projected = append(f.projected, doc)
	return f.err
}

func (f *graphFake) RemoveDocument(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return f.err
}

func (f *graphFake) ProjectAnalysis(context.Context, domain.Folder, domain.FolderAnalysis) error {
	f.analyses++
	return f.err
}
