package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const queueID = "7f1d2c1e-7a0b-4d8e-9b7e-3f5a2c1d0e9f"

type processFixture struct {
	queue    *queueRepoFake
	docs     *docRepoFake
	storage  *storageFake
	entities *entityRepoFake
	llm      *llmFake
	bus      *busFake
	metrics  *metricsFake
	uc       *ProcessQueueUseCase
}

func newProcessFixture(item *domain.QueueItem, extractor *extractorFake) *processFixture {
	f := &processFixture{
		queue:    newQueueRepoFake(item),
		docs:     newDocRepoFake(),
		storage:  newStorageFake(),
		entities: &entityRepoFake{},
		llm:      &llmFake{},
		bus:      &busFake{},
		metrics:  &metricsFake{},
	}
	f.storage.objects[item.StoragePath] = []byte("%PDF")
	f.uc = NewProcessQueueUseCase(f.queue, f.docs, f.storage, extractor, f.entities, f.llm, f.bus, f.metrics, nil)
	ids := 0
	f.uc.clientID = func() string {
		ids++
		return fmt.Sprintf("client-%d", ids)
	}
	return f
}

func waitingItem() *domain.QueueItem {
	return &domain.QueueItem{
		ID:          queueID,
		Filename:    "contrato.pdf",
		Status:      domain.QueueWaiting,
		StoragePath: "u1/contrato.pdf",
		UserID:      "u1",
		CreatedAt:   time.Now().Add(-time.Minute),
	}
}

func TestProcessByIDSuccess(t *testing.T) {
	f := newProcessFixture(waitingItem(), &extractorFake{text: "Contrato entre\x00 João e Construtora Alfa"})
	f.entities.entities = []domain.Entity{{ID: "e-alfa", TypeID: "pj", Name: "Construtora Alfa", Identifier1: "12345678000199", UserID: "u1"}}
	f.llm.result = domain.ModelExtraction{
		Description:   "Contrato de locação",
		ReferenceDate: "26/05/2025",
		Entities: []domain.ModelEntity{
			{TypeID: "pf", Name: "joão da silva", Identifier1: "123.456.789-00"},
			{TypeID: "pj", Name: "CONSTRUTORA ALFA", Identifier1: "12.345.678/0001-99"},
			{TypeID: "desconhecido", Name: "ignorar"},
		},
	}

	result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if !result.Success || result.Attempt != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	stored := f.queue.items[queueID]
	if stored.Status != domain.QueueDone {
		t.Fatalf("expected finalizado, got %s", stored.Status)
	}
	if strings.Contains(f.queue.texts[queueID], "\x00") || strings.Contains(f.llm.text, "\x00") {
		t.Fatalf("control characters must be stripped")
	}

	var payload domain.ExtractionPayload
	if err := json.Unmarshal(stored.ExtractedData, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ReferenceDate == nil || payload.ReferenceDate.ISO() != "2025-05-26" {
		t.Fatalf("unexpected reference date %v", payload.ReferenceDate)
	}
	if len(payload.Entities) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(payload.Entities))
	}
	org, person := payload.Entities[0], payload.Entities[1]
	if org.Status != domain.CandidateExisting || org.EntityID != "e-alfa" {
		t.Fatalf("organization should match catalog first: %+v", org)
	}
	if person.Status != domain.CandidateNew || person.Name != "João da Silva" || person.Identifier1 != "12345678900" {
		t.Fatalf("unexpected person candidate: %+v", person)
	}
	if person.ClientID == "" || person.ClientID == org.ClientID {
		t.Fatalf("client ids must be distinct: %s %s", org.ClientID, person.ClientID)
	}
	if len(f.metrics.outcomes) != 1 || f.metrics.outcomes[0] != "success" {
		t.Fatalf("unexpected metrics %+v", f.metrics.outcomes)
	}
	if last := f.bus.last(); last.Item.Status != domain.QueueDone {
		t.Fatalf("expected final event with finalizado, got %s", last.Item.Status)
	}
}

func TestProcessByIDRetriesThenFails(t *testing.T) {
	f := newProcessFixture(waitingItem(), &extractorFake{text: "texto suficiente para IA"})
	f.llm.err = domain.WrapError(domain.ErrRateLimited, "llm", errors.New("429 body"))

	for attempt := 1; attempt <= domain.MaxProcessingAttempts; attempt++ {
		result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
		if err != nil {
			t.Fatalf("attempt %d: error = %v", attempt, err)
		}
		if result.Success || result.Attempt != attempt {
			t.Fatalf("attempt %d: unexpected result %+v", attempt, result)
		}
		stored := f.queue.items[queueID]
		if attempt < domain.MaxProcessingAttempts {
			if stored.Status != domain.QueueWaiting {
				t.Fatalf("attempt %d: expected aguardando, got %s", attempt, stored.Status)
			}
			want := fmt.Sprintf("Falha na tentativa %d/3", attempt)
			if !strings.HasPrefix(stored.Message, want) {
				t.Fatalf("attempt %d: message %q", attempt, stored.Message)
			}
			if !f.bus.last().TriggersProcessing() {
				t.Fatalf("attempt %d: requeue must re-dispatch", attempt)
			}
		} else {
			if stored.Status != domain.QueueFailed || !strings.HasPrefix(stored.Message, "Falha após 3 tentativas") {
				t.Fatalf("expected erro after 3 attempts, got %s %q", stored.Status, stored.Message)
			}
		}
		if strings.Contains(stored.Message, "429 body") {
			t.Fatalf("upstream body leaked into message")
		}
	}

	result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
	if err != nil || result.Success || result.Message != messageClaimed {
		t.Fatalf("terminal row must not be claimed again: %+v %v", result, err)
	}
	if f.queue.items[queueID].Attempts != domain.MaxProcessingAttempts {
		t.Fatalf("attempts must never exceed 3")
	}
}

func TestProcessByIDPermanentFailureSkipsRetries(t *testing.T) {
	f := newProcessFixture(waitingItem(), &extractorFake{text: "   \x01\x02 "})

	result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
	if f.queue.items[queueID].Status != domain.QueueFailed {
		t.Fatalf("unusable text must go straight to erro, got %s", f.queue.items[queueID].Status)
	}
	if f.llm.text != "" {
		t.Fatalf("model must not be called for unusable text")
	}
}

func TestProcessByIDDuplicateRequiresManual(t *testing.T) {
	item := waitingItem()
	item.Status = domain.QueueDuplicateWaiting
	item.IsDuplicate = true
	originalID := "file-1"
	item.OriginalFileID = &originalID
	extractor := &extractorFake{text: "texto do original"}
	f := newProcessFixture(item, extractor)
	f.docs.files["file-1"] = &domain.DocFile{ID: "file-1", StoragePath: "u1/original.pdf"}
	f.storage.objects["u1/original.pdf"] = []byte("original bytes")

	result, _ := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
	if result.Success || f.queue.items[queueID].Status != domain.QueueDuplicateWaiting {
		t.Fatalf("duplicate must not be processed automatically")
	}

	result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{Manual: true})
	if err != nil || !result.Success {
		t.Fatalf("manual processing failed: %+v %v", result, err)
	}
	if string(extractor.got.Body) != "original bytes" {
		t.Fatalf("duplicate must read the original file, got %q", extractor.got.Body)
	}
}

func TestProcessByIDLeaseLostIsNoOp(t *testing.T) {
	item := waitingItem()
	f := newProcessFixture(item, &extractorFake{text: "texto suficiente"})
	// The row is cancelled while the model call runs.
	f.uc.llm = llmFunc(func() error {
		delete(f.queue.items, queueID)
		return errors.New("boom")
	})

	result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("lease loss must not be an error: %v", err)
	}
	if result.Success || result.Message != messageLeaseLost {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, ok := f.queue.items[queueID]; ok {
		t.Fatalf("cancelled row must stay deleted")
	}
	if f.metrics.outcomes[0] != "lease_lost" {
		t.Fatalf("unexpected outcome %v", f.metrics.outcomes)
	}
}

type llmFunc func() error

func (fn llmFunc) ExtractEntities(context.Context, string, []domain.EntityType) (domain.ModelExtraction, error) {
	return domain.ModelExtraction{}, fn()
}

func TestProcessByIDRejectsInvalidID(t *testing.T) {
	f := newProcessFixture(waitingItem(), &extractorFake{})
	_, err := f.uc.ProcessByID(context.Background(), "not-a-uuid", domain.ProcessOptions{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if f.queue.items[queueID].Attempts != 0 {
		t.Fatalf("invalid id must not touch attempts")
	}
}

func TestProcessByIDCatalogErrorIsStageFailure(t *testing.T) {
	f := newProcessFixture(waitingItem(), &extractorFake{text: "texto suficiente"})
	f.entities.matchErr = errors.New("db down")
	f.llm.result = domain.ModelExtraction{Entities: []domain.ModelEntity{{TypeID: "pf", Name: "Ana", Identifier1: "1"}}}

	result, err := f.uc.ProcessByID(context.Background(), queueID, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if result.Success || f.queue.items[queueID].Status != domain.QueueWaiting {
		t.Fatalf("catalog failure must requeue, not classify as novo: %+v", result)
	}
}

func TestSweepReclaimsStuckRows(t *testing.T) {
	old := time.Now().UTC().Add(-10 * time.Minute)
	recent := time.Now().UTC().Add(-time.Minute)
	queue := newQueueRepoFake(
		&domain.QueueItem{ID: "a", UserID: "u1", Filename: "a.pdf", Status: domain.QueueProcessing, Attempts: 1, ProcessingSince: &old},
		&domain.QueueItem{ID: "b", UserID: "u1", Filename: "b.pdf", Status: domain.QueueProcessing, Attempts: 3, ProcessingSince: &old},
		&domain.QueueItem{ID: "c", UserID: "u1", Filename: "c.pdf", Status: domain.QueueProcessing, Attempts: 1, ProcessingSince: &recent},
	)
	bus := &busFake{}
	metrics := &metricsFake{}
	uc := NewSweepQueueUseCase(queue, bus, metrics, nil, 0)

	result, err := uc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if !result.Success || result.Count != 2 {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	if queue.items["a"].Status != domain.QueueWaiting || queue.items["b"].Status != domain.QueueFailed {
		t.Fatalf("unexpected statuses a=%s b=%s", queue.items["a"].Status, queue.items["b"].Status)
	}
	if queue.items["c"].Status != domain.QueueProcessing {
		t.Fatalf("recent lease must be left alone")
	}
	if metrics.reclaimed != 2 || len(bus.events) != 2 {
		t.Fatalf("expected 2 reclaim events, got %d/%d", metrics.reclaimed, len(bus.events))
	}

	again, err := uc.Sweep(context.Background())
	if err != nil || again.Count != 0 || again.Items == nil {
		t.Fatalf("second sweep must be a no-op with empty items: %+v %v", again, err)
	}
}
