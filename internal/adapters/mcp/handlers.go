package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type Handlers struct {
	svc  Services
	opts Options
}

func NewHandlers(svc Services, opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 5 * time.Minute
	}
	return &Handlers{svc: svc, opts: opts}
}

type QueueListRequest struct {
	Status []string `json:"status,omitempty"`
}

type QueueItemRequest struct {
	ID     string `json:"id"`
	Manual bool   `json:"manual,omitempty"`
}

type EntityListRequest struct {
	TypeID string `json:"tipo_id,omitempty"`
}

func (h *Handlers) HandleQueueList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[QueueListRequest](req)
	if err != nil {
		return errorResult(domain.WrapError(domain.ErrInvalidInput, "queue_list", err)), nil
	}
	filter := domain.QueueFilter{UserID: h.opts.UserID}
	for _, s := range in.Status {
		status := domain.QueueStatus(s)
		if !status.Valid() {
			return errorResult(domain.WrapError(domain.ErrInvalidInput, "queue_list", fmt.Errorf("unknown status %q", s))), nil
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	items, err := h.svc.Queue.ListQueue(ctx, filter)
	if err != nil {
		return errorResult(err), nil
	}
	// Extracted text is large and only useful through queue_get.
	for i := range items {
		items[i].ExtractedText = nil
	}
	return successResult(map[string]any{"items": items, "count": len(items)})
}

func (h *Handlers) HandleQueueGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[QueueItemRequest](req)
	if err != nil {
		return errorResult(domain.WrapError(domain.ErrInvalidInput, "queue_get", err)), nil
	}
	if in.ID == "" {
		return errorResult(domain.WrapError(domain.ErrInvalidInput, "queue_get", errors.New("id is required"))), nil
	}
	item, err := h.svc.Queue.GetQueueItem(ctx, h.opts.UserID, in.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(item)
}

func (h *Handlers) HandleQueueProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[QueueItemRequest](req)
	if err != nil {
		return errorResult(domain.WrapError(domain.ErrInvalidInput, "queue_process", err)), nil
	}
	if in.ID == "" {
		return errorResult(domain.WrapError(domain.ErrInvalidInput, "queue_process", errors.New("id is required"))), nil
	}
	if _, err := h.svc.Queue.GetQueueItem(ctx, h.opts.UserID, in.ID); err != nil {
		return errorResult(err), nil
	}

	processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.ProcessTimeout)
	defer cancel()
	result, err := h.svc.Processor.ProcessByID(processCtx, in.ID, domain.ProcessOptions{Manual: in.Manual})
	if err != nil {
		return errorResult(err), nil
	}
	h.opts.Logger.Info("mcp_queue_processed", "queue_id", in.ID, "success", result.Success)
	return successResult(result)
}

func (h *Handlers) HandleHealthSweep(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.svc.Sweeper.Sweep(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func (h *Handlers) HandleEntityList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[EntityListRequest](req)
	if err != nil {
		return errorResult(domain.WrapError(domain.ErrInvalidInput, "entity_list", err)), nil
	}
	entities, err := h.svc.Entities.ListEntities(ctx, h.opts.UserID, in.TypeID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": entities, "count": len(entities)})
}

type errorCode struct {
	kind   error
	code   string
	status int
}

var errorCodes = []errorCode{
	{kind: domain.ErrInvalidInput, code: "INVALID_REQUEST", status: 400},
	{kind: domain.ErrUnauthorized, code: "UNAUTHORIZED", status: 401},
	{kind: domain.ErrNotFound, code: "NOT_FOUND", status: 404},
	{kind: domain.ErrInvalidTransition, code: "CONFLICT", status: 409},
	{kind: domain.ErrAlreadyClaimed, code: "CONFLICT", status: 409},
	{kind: domain.ErrLeaseLost, code: "CONFLICT", status: 409},
	{kind: domain.ErrUnusableInput, code: "UNUSABLE_INPUT", status: 422},
	{kind: domain.ErrRateLimited, code: "RATE_LIMITED", status: 429},
	{kind: domain.ErrQuotaExceeded, code: "QUOTA_EXCEEDED", status: 402},
	{kind: domain.ErrTemporary, code: "UNAVAILABLE", status: 503},
}

// errorResult renders err as a tool error. Unclassified errors keep their
// details out of the response.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    "INTERNAL",
		"message": "an internal error occurred",
		"status":  500,
	}
	for _, ec := range errorCodes {
		if domain.IsKind(err, ec.kind) {
			errorObj["code"] = ec.code
			errorObj["status"] = ec.status
			errorObj["message"] = err.Error()
			break
		}
	}
	errorObj["user_message"] = domain.UserMessage(err)

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
