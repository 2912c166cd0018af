package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/reconcile"
)

const (
	messageExtracting = "Extraindo texto do documento..."
	messageAnalyzing  = "Analisando com IA..."
	messageFinished   = "Processamento concluído"
	messageClaimed    = "Documento já em processamento ou indisponível."
	messageLeaseLost  = "Processamento interrompido: o item foi alterado por outra operação."

	// failureWriteTimeout bounds the status write after a stage failure,
	// which may run after the invocation's own context expired.
	failureWriteTimeout = 10 * time.Second
)

type ProcessQueueUseCase struct {
	queue     ports.QueueRepository
	docs      ports.DocumentRepository
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	entities  ports.EntityRepository
	llm       ports.EntityExtractor
	engine    *reconcile.Engine
	events    ports.QueueEventBus
	metrics   ports.ProcessingMetrics
	logger    *slog.Logger
	now       func() time.Time
	clientID  func() string
}

func NewProcessQueueUseCase(
	queue ports.QueueRepository,
	docs ports.DocumentRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	entities ports.EntityRepository,
	llm ports.EntityExtractor,
	events ports.QueueEventBus,
	metrics ports.ProcessingMetrics,
	logger *slog.Logger,
) *ProcessQueueUseCase {
	return &ProcessQueueUseCase{
		queue:     queue,
		docs:      docs,
		storage:   storage,
		extractor: extractor,
		entities:  entities,
		llm:       llm,
		engine:    reconcile.NewEngine(entities),
		events:    events,
		metrics:   metrics,
		logger:    orDefault(logger),
		now:       func() time.Time { return time.Now().UTC() },
		clientID:  func() string { return ulid.Make().String() },
	}
}

func (uc *ProcessQueueUseCase) ProcessByID(ctx context.Context, queueID string, opts domain.ProcessOptions) (domain.ProcessResult, error) {
	if _, err := uuid.Parse(queueID); err != nil {
		return domain.ProcessResult{}, domain.WrapError(domain.ErrInvalidInput, "process queue item", fmt.Errorf("invalid id %q", queueID))
	}

	started := uc.now()
	item, err := uc.queue.Claim(ctx, queueID, domain.ClaimableStatuses(opts.Manual), started)
	if err != nil {
		if domain.IsKind(err, domain.ErrAlreadyClaimed) {
			uc.logger.Info("queue_item_not_claimed", "queue_id", queueID, "manual", opts.Manual)
			return domain.ProcessResult{Success: false, Message: messageClaimed}, nil
		}
		return domain.ProcessResult{}, fmt.Errorf("claim queue item: %w", err)
	}
	lease := item.Attempts

	if uc.metrics != nil {
		uc.metrics.StartItem()
		if lease == 1 {
			uc.metrics.ObserveQueueLag(started.Sub(item.CreatedAt))
		}
	}
	outcome := "success"
	defer func() {
		if uc.metrics != nil {
			uc.metrics.FinishItem(uc.now().Sub(started), outcome)
		}
	}()

	uc.logger.Info("queue_item_claimed", "queue_id", item.ID, "user_id", item.UserID, "attempt", lease)
	publish(ctx, uc.events, uc.logger, domain.EventUpdate, item, started)

	data, err := uc.runStage(ctx, item, lease)
	if err == nil {
		var finished *domain.QueueItem
		finished, err = uc.queue.Finish(ctx, item.ID, lease, data, messageFinished)
		if err == nil {
			publish(ctx, uc.events, uc.logger, domain.EventUpdate, finished, uc.now())
			uc.logger.Info("queue_item_finished", "queue_id", item.ID, "attempt", lease, "duration_ms", uc.now().Sub(started).Milliseconds())
			return domain.ProcessResult{Success: true, Message: messageFinished, Attempt: lease}, nil
		}
	}

	if domain.IsKind(err, domain.ErrLeaseLost) {
		outcome = "lease_lost"
		uc.logger.Warn("queue_lease_lost", "queue_id", item.ID, "attempt", lease, "error", err)
		return domain.ProcessResult{Success: false, Message: messageLeaseLost, Attempt: lease}, nil
	}

	result, failErr := uc.fail(ctx, item, lease, err)
	switch result.status {
	case domain.QueueWaiting:
		outcome = "retry"
	case domain.QueueFailed:
		outcome = "failed"
	default:
		outcome = string(result.status)
	}
	return result.ProcessResult, failErr
}

type failResult struct {
	domain.ProcessResult
	status domain.QueueStatus
}

func (uc *ProcessQueueUseCase) fail(ctx context.Context, item *domain.QueueItem, lease int, stageErr error) (failResult, error) {
	permanent := domain.IsPermanent(stageErr)
	next := domain.FailureTransition(lease, permanent)
	userMessage := domain.UserMessage(stageErr)

	var message string
	switch {
	case next == domain.QueueFailed && permanent:
		message = userMessage
	case next == domain.QueueFailed:
		message = fmt.Sprintf("Falha após %d tentativas: %s", lease, userMessage)
	default:
		message = fmt.Sprintf("Falha na tentativa %d/%d: %s. Nova tentativa automática.", lease, domain.MaxProcessingAttempts, userMessage)
	}

	uc.logger.Error("stage_failed",
		"queue_id", item.ID,
		"user_id", item.UserID,
		"attempt", lease,
		"permanent", permanent,
		"next_status", next,
		"error", stageErr,
	)

	result := failResult{
		ProcessResult: domain.ProcessResult{Success: false, Message: message, Attempt: lease, Error: userMessage},
		status:        next,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	updated, err := uc.queue.Fail(writeCtx, item.ID, lease, next, message)
	if err != nil {
		if domain.IsKind(err, domain.ErrLeaseLost) {
			uc.logger.Warn("queue_lease_lost", "queue_id", item.ID, "attempt", lease, "error", err)
			result.status = "lease_lost"
			result.Message = messageLeaseLost
			return result, nil
		}
		return result, fmt.Errorf("record stage failure: %w", err)
	}

	// An update to aguardando is what re-dispatches the row.
	publish(ctx, uc.events, uc.logger, domain.EventUpdate, updated, uc.now())
	return result, nil
}

func (uc *ProcessQueueUseCase) runStage(ctx context.Context, item *domain.QueueItem, lease int) (json.RawMessage, error) {
	progress := func(message string) {
		updated, err := uc.queue.UpdateProgress(ctx, item.ID, lease, message)
		if err != nil {
			uc.logger.Debug("queue_progress_skipped", "queue_id", item.ID, "error", err)
			return
		}
		publish(ctx, uc.events, uc.logger, domain.EventUpdate, updated, uc.now())
	}

	progress(messageExtracting)
	body, err := uc.readSource(ctx, item)
	if err != nil {
		return nil, err
	}

	extracted, err := uc.extractor.Extract(ctx, domain.ExtractionSource{
		Filename: item.Filename,
		MimeType: item.MimeType,
		Body:     body,
	}, progress)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	text := domain.SanitizeText(extracted.Combined)
	if err := domain.CheckUsable(text); err != nil {
		return nil, err
	}
	if err := uc.queue.SaveExtractedText(ctx, item.ID, lease, text); err != nil {
		return nil, fmt.Errorf("save extracted text: %w", err)
	}

	progress(messageAnalyzing)
	types, err := uc.entities.ListEntityTypes(ctx, item.UserID)
	if err != nil {
		return nil, fmt.Errorf("load entity types: %w", err)
	}
	extraction, err := uc.llm.ExtractEntities(ctx, text, types)
	if err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}

	payload, err := uc.buildPayload(ctx, item, extraction, types)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode extracted data: %w", err)
	}
	return data, nil
}

// readSource opens the stored file. Duplicates read the original upload.
func (uc *ProcessQueueUseCase) readSource(ctx context.Context, item *domain.QueueItem) ([]byte, error) {
	path := item.StoragePath
	if item.IsDuplicate && item.OriginalFileID != nil {
		original, err := uc.docs.GetFile(ctx, *item.OriginalFileID)
		switch {
		case err == nil:
			path = original.StoragePath
		case domain.IsKind(err, domain.ErrNotFound):
			uc.logger.Warn("original_file_missing", "queue_id", item.ID, "doc_file_id", *item.OriginalFileID)
		default:
			return nil, fmt.Errorf("load original file: %w", err)
		}
	}
	if path == "" {
		return nil, domain.WrapError(domain.ErrUnusableInput, "open stored file", errors.New("queue item has no storage path"))
	}

	rc, err := uc.storage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	return body, nil
}

func (uc *ProcessQueueUseCase) buildPayload(ctx context.Context, item *domain.QueueItem, extraction domain.ModelExtraction, types []domain.EntityType) (domain.ExtractionPayload, error) {
	payload := domain.ExtractionPayload{Description: strings.TrimSpace(extraction.Description)}

	if raw := strings.TrimSpace(extraction.ReferenceDate); raw != "" {
		date, err := domain.ParseReferenceDate(raw)
		if err != nil {
			uc.logger.Warn("reference_date_ignored", "queue_id", item.ID, "value", raw)
		} else {
			payload.ReferenceDate = &date
		}
	}
	if payload.ReferenceDate == nil && item.FileDate != nil {
		date := *item.FileDate
		payload.ReferenceDate = &date
	}

	known := make(map[string]struct{}, len(types))
	for _, t := range types {
		known[t.ID] = struct{}{}
	}
	candidates := make([]domain.CandidateEntity, 0, len(extraction.Entities))
	for _, e := range extraction.Entities {
		if _, ok := known[e.TypeID]; !ok {
			uc.logger.Debug("candidate_unknown_type", "queue_id", item.ID, "type_id", e.TypeID)
			continue
		}
		name := reconcile.TitleCase(e.Name)
		if name == "" {
			continue
		}
		candidates = append(candidates, domain.CandidateEntity{
			ClientID:    uc.clientID(),
			TypeID:      e.TypeID,
			Name:        name,
			Identifier1: e.Identifier1,
			Identifier2: e.Identifier2,
		})
	}

	reconciled, err := uc.engine.ReconcileAll(ctx, item.UserID, candidates, domain.ReconcileOptions{})
	if err != nil {
		return domain.ExtractionPayload{}, fmt.Errorf("reconcile entities: %w", err)
	}
	reconcile.SortCandidates(reconciled, types)
	payload.Entities = reconciled
	return payload, nil
}
