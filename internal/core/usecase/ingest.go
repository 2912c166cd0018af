package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

const (
	messageWaiting   = "Aguardando processamento"
	messageDuplicate = "Arquivo duplicado, aguardando decisão"
)

type IngestQueueUseCase struct {
	queue   ports.QueueRepository
	docs    ports.DocumentRepository
	storage ports.ObjectStorage
	events  ports.QueueEventBus
	logger  *slog.Logger
	now     func() time.Time
}

func NewIngestQueueUseCase(
	queue ports.QueueRepository,
	docs ports.DocumentRepository,
	storage ports.ObjectStorage,
	events ports.QueueEventBus,
	logger *slog.Logger,
) *IngestQueueUseCase {
	return &IngestQueueUseCase{
		queue:   queue,
		docs:    docs,
		storage: storage,
		events:  events,
		logger:  orDefault(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestQueueUseCase) Upload(ctx context.Context, session domain.Session, in domain.UploadInput) (*domain.QueueItem, error) {
	if session.UserID == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "upload", errors.New("missing user"))
	}
	if in.Body == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("file is required"))
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("empty file"))
	}

	sum := sha256.Sum256(data)
	now := uc.now()
	item := &domain.QueueItem{
		ID:        uuid.NewString(),
		Filename:  in.Filename,
		Hash:      hex.EncodeToString(sum[:]),
		MimeType:  in.MimeType,
		UserID:    session.UserID,
		FolderID:  pickFolder(in.FolderID, session.LastFolderID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if strings.TrimSpace(in.FileDate) != "" {
		fileDate, err := domain.ParseReferenceDate(in.FileDate)
		if err != nil {
			return nil, err
		}
		item.FileDate = &fileDate
	}

	original, err := uc.docs.FindFileByHash(ctx, session.UserID, item.Hash)
	switch {
	case err != nil:
		return nil, fmt.Errorf("lookup file hash: %w", err)
	case original != nil:
		item.Status = domain.QueueDuplicateWaiting
		item.Message = messageDuplicate
		item.IsDuplicate = true
		item.OriginalFileID = &original.ID
		item.StoragePath = original.StoragePath
	default:
		item.Status = domain.QueueWaiting
		item.Message = messageWaiting
		item.StoragePath = fmt.Sprintf("%s/%s_%s", session.UserID, item.ID, sanitizeFilename(in.Filename))
		if err := uc.storage.Save(ctx, item.StoragePath, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("save to object storage: %w", err)
		}
	}

	if err := uc.queue.Create(ctx, item); err != nil {
		if !item.IsDuplicate {
			if delErr := uc.storage.Delete(ctx, item.StoragePath); delErr != nil {
				uc.logger.Warn("storage_cleanup_failed", "queue_id", item.ID, "path", item.StoragePath, "error", delErr)
			}
		}
		return nil, fmt.Errorf("create queue item: %w", err)
	}

	// The startup scan and the health sweep pick the row up if the event is lost.
	publish(ctx, uc.events, uc.logger, domain.EventInsert, item, now)
	uc.logger.Info("queue_item_created", "queue_id", item.ID, "user_id", item.UserID, "status", item.Status)
	return item, nil
}

func pickFolder(requested string, last *string) *string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return &requested
	}
	if last != nil && *last != "" {
		folder := *last
		return &folder
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
