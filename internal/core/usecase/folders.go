package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type FolderUseCase struct {
	folders  ports.FolderRepository
	docs     ports.DocumentRepository
	entities ports.EntityRepository
	analyzer ports.FolderAnalyzer
	graph    ports.GraphProjector
	exporter ports.SpreadsheetExporter
	renderer ports.ReportRenderer
	logger   *slog.Logger
	now      func() time.Time
}

func NewFolderUseCase(
	folders ports.FolderRepository,
	docs ports.DocumentRepository,
	entities ports.EntityRepository,
	analyzer ports.FolderAnalyzer,
	graph ports.GraphProjector,
	exporter ports.SpreadsheetExporter,
	renderer ports.ReportRenderer,
	logger *slog.Logger,
) *FolderUseCase {
	return &FolderUseCase{
		folders:  folders,
		docs:     docs,
		entities: entities,
		analyzer: analyzer,
		graph:    graph,
		exporter: exporter,
		renderer: renderer,
		logger:   orDefault(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *FolderUseCase) CreateFolder(ctx context.Context, session domain.Session, name string) (*domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create folder", errors.New("name is required"))
	}
	now := uc.now()
	folder := &domain.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		UserID:    session.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.folders.CreateFolder(ctx, folder); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return folder, nil
}

func (uc *FolderUseCase) ListFolders(ctx context.Context, userID string) ([]domain.Folder, error) {
	return uc.folders.ListFolders(ctx, userID)
}

func (uc *FolderUseCase) contents(ctx context.Context, userID, folderID string) (domain.FolderContents, error) {
	folder, err := uc.folders.GetFolder(ctx, userID, folderID)
	if err != nil {
		return domain.FolderContents{}, err
	}
	docs, err := uc.docs.ListDocuments(ctx, userID, folderID)
	if err != nil {
		return domain.FolderContents{}, fmt.Errorf("list folder documents: %w", err)
	}
	types, err := uc.entities.ListEntityTypes(ctx, userID)
	if err != nil {
		return domain.FolderContents{}, fmt.Errorf("load entity types: %w", err)
	}
	return domain.FolderContents{Folder: *folder, Documents: docs, Types: types}, nil
}

// AnalyzeFolder asks the model for a folder summary and stores it.
func (uc *FolderUseCase) AnalyzeFolder(ctx context.Context, userID, folderID string) (domain.FolderAnalysis, error) {
	contents, err := uc.contents(ctx, userID, folderID)
	if err != nil {
		return domain.FolderAnalysis{}, err
	}
	if len(contents.Documents) == 0 {
		return domain.FolderAnalysis{}, domain.WrapError(domain.ErrInvalidInput, "analyze folder", errors.New("folder has no documents"))
	}

	analysis, err := uc.analyzer.AnalyzeFolder(ctx, contents)
	if err != nil {
		return domain.FolderAnalysis{}, fmt.Errorf("analyze folder: %w", err)
	}
	raw, err := json.Marshal(analysis)
	if err != nil {
		return domain.FolderAnalysis{}, fmt.Errorf("encode folder analysis: %w", err)
	}
	if err := uc.folders.SaveAnalysis(ctx, userID, folderID, raw); err != nil {
		return domain.FolderAnalysis{}, fmt.Errorf("save folder analysis: %w", err)
	}
	uc.logger.Info("folder_analyzed", "folder_id", folderID, "user_id", userID, "documents", len(contents.Documents))

	if uc.graph != nil {
		if err := uc.graph.ProjectAnalysis(ctx, contents.Folder, analysis); err != nil {
			uc.logger.Warn("graph_projection_failed", "folder_id", folderID, "error", err)
		}
	}
	return analysis, nil
}

func (uc *FolderUseCase) RenderAnalysisHTML(ctx context.Context, userID, folderID string) ([]byte, error) {
	folder, err := uc.folders.GetFolder(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}
	if len(folder.Analysis) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "render folder analysis", errors.New("folder has not been analyzed"))
	}
	var analysis domain.FolderAnalysis
	if err := json.Unmarshal(folder.Analysis, &analysis); err != nil {
		return nil, fmt.Errorf("decode folder analysis: %w", err)
	}
	return uc.renderer.RenderAnalysis(*folder, analysis)
}

func (uc *FolderUseCase) ExportFolder(ctx context.Context, userID, folderID string) ([]byte, error) {
	contents, err := uc.contents(ctx, userID, folderID)
	if err != nil {
		return nil, err
	}
	data, err := uc.exporter.ExportFolder(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("export folder: %w", err)
	}
	return data, nil
}
