package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type SessionUseCase struct {
	store   ports.SessionStore
	folders ports.FolderRepository
	logger  *slog.Logger
}

func NewSessionUseCase(store ports.SessionStore, folders ports.FolderRepository, logger *slog.Logger) *SessionUseCase {
	return &SessionUseCase{store: store, folders: folders, logger: orDefault(logger)}
}

// Load never fails; a missing or unreachable store yields an empty session.
func (uc *SessionUseCase) Load(ctx context.Context, userID string) domain.Session {
	session := domain.Session{UserID: userID}
	folderID, err := uc.store.LastFolder(ctx, userID)
	if err != nil {
		uc.logger.Warn("session_load_failed", "user_id", userID, "error", err)
		return session
	}
	if folderID != "" {
		session.LastFolderID = &folderID
	}
	return session
}

func (uc *SessionUseCase) StoreLastFolder(ctx context.Context, userID, folderID string) error {
	if _, err := uc.folders.GetFolder(ctx, userID, folderID); err != nil {
		return err
	}
	return uc.store.SetLastFolder(ctx, userID, folderID)
}
