package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type servicesFake struct {
	items     map[string]domain.QueueItem
	filters   []domain.QueueFilter
	processed []string
	manual    []bool
	entityErr error
}

func (f *servicesFake) ListQueue(_ context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	f.filters = append(f.filters, filter)
	text := "texto extraído"
	out := []domain.QueueItem{}
	for _, item := range f.items {
		item.ExtractedText = &text
		out = append(out, item)
	}
	return out, nil
}

func (f *servicesFake) GetQueueItem(_ context.Context, userID, queueID string) (*domain.QueueItem, error) {
	item, ok := f.items[queueID]
	if !ok || item.UserID != userID {
		return nil, domain.WrapError(domain.ErrNotFound, "get queue item", errors.New(queueID))
	}
	return &item, nil
}

func (f *servicesFake) ProcessByID(_ context.Context, queueID string, opts domain.ProcessOptions) (domain.ProcessResult, error) {
	f.processed = append(f.processed, queueID)
	f.manual = append(f.manual, opts.Manual)
	return domain.ProcessResult{Success: true, Attempt: 1}, nil
}

func (f *servicesFake) Sweep(context.Context) (domain.SweepResult, error) {
	return domain.SweepResult{Success: true, Count: 0}, nil
}

func (f *servicesFake) ListEntities(context.Context, string, string) ([]domain.Entity, error) {
	if f.entityErr != nil {
		return nil, f.entityErr
	}
	return []domain.Entity{{ID: "e-1", Name: "Acme Ltda"}}, nil
}

func (f *servicesFake) UpdateEntity(context.Context, string, domain.EntityUpdate) (*domain.Entity, error) {
	return nil, errors.New("not used")
}

func (f *servicesFake) ListEntityTypes(context.Context, string) ([]domain.EntityType, error) {
	return nil, nil
}

func newTestHandlers(f *servicesFake) *Handlers {
	return NewHandlers(Services{Queue: f, Processor: f, Sweeper: f, Entities: f}, Options{UserID: "user-1"})
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatalf("empty result content")
	}
	text, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", r.Content[0])
	}
	return text.Text
}

func TestToolRegistryNames(t *testing.T) {
	got := strings.Join(ToolNames(), ",")
	want := "queue_list,queue_get,queue_process,queue_health_sweep,entity_list"
	if got != want {
		t.Fatalf("ToolNames() = %s, want %s", got, want)
	}
	if s := NewServer(Services{}, Options{}, "test"); s == nil {
		t.Fatalf("NewServer() returned nil")
	}
}

func TestQueueListFiltersAndHidesText(t *testing.T) {
	f := &servicesFake{items: map[string]domain.QueueItem{"q-1": {ID: "q-1", UserID: "user-1", Status: domain.QueueDone}}}
	h := newTestHandlers(f)

	r, err := h.HandleQueueList(context.Background(), makeRequest(map[string]any{"status": []any{"finalizado"}}))
	if err != nil {
		t.Fatalf("HandleQueueList() error = %v", err)
	}
	if r.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, r))
	}
	if len(f.filters) != 1 || f.filters[0].UserID != "user-1" || f.filters[0].Statuses[0] != domain.QueueDone {
		t.Fatalf("unexpected filter %+v", f.filters)
	}
	if strings.Contains(resultText(t, r), "texto extraído") {
		t.Fatalf("extracted text should not be listed")
	}
}

func TestQueueListRejectsUnknownStatus(t *testing.T) {
	h := newTestHandlers(&servicesFake{})

	r, _ := h.HandleQueueList(context.Background(), makeRequest(map[string]any{"status": []any{"pronto"}}))
	if !r.IsError {
		t.Fatalf("expected error result")
	}
	if !strings.Contains(resultText(t, r), "INVALID_REQUEST") {
		t.Fatalf("unexpected error payload %s", resultText(t, r))
	}
}

func TestQueueProcessChecksOwnership(t *testing.T) {
	f := &servicesFake{items: map[string]domain.QueueItem{
		"mine":   {ID: "mine", UserID: "user-1", Status: domain.QueueDuplicateWaiting},
		"theirs": {ID: "theirs", UserID: "user-2", Status: domain.QueueWaiting},
	}}
	h := newTestHandlers(f)

	r, _ := h.HandleQueueProcess(context.Background(), makeRequest(map[string]any{"id": "theirs"}))
	if !r.IsError || !strings.Contains(resultText(t, r), "NOT_FOUND") {
		t.Fatalf("expected NOT_FOUND, got %s", resultText(t, r))
	}

	r, _ = h.HandleQueueProcess(context.Background(), makeRequest(map[string]any{"id": "mine", "manual": true}))
	if r.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, r))
	}
	if len(f.processed) != 1 || f.processed[0] != "mine" || !f.manual[0] {
		t.Fatalf("unexpected processing calls %v %v", f.processed, f.manual)
	}
}

func TestErrorResultHidesInternalDetails(t *testing.T) {
	h := newTestHandlers(&servicesFake{entityErr: errors.New("pq: connection refused to 10.0.0.5")})

	r, _ := h.HandleEntityList(context.Background(), makeRequest(nil))
	if !r.IsError {
		t.Fatalf("expected error result")
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, r)), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Error.Code != "INTERNAL" || strings.Contains(payload.Error.Message, "10.0.0.5") {
		t.Fatalf("internal details leaked: %+v", payload.Error)
	}
}
