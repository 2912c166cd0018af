package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/reconcile"
)

type ReviewUseCase struct {
	queue    ports.QueueRepository
	docs     ports.DocumentRepository
	entities ports.EntityRepository
	folders  ports.FolderRepository
	storage  ports.ObjectStorage
	sessions ports.SessionStore
	graph    ports.GraphProjector
	events   ports.QueueEventBus
	engine   *reconcile.Engine
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewReviewUseCase(
	queue ports.QueueRepository,
	docs ports.DocumentRepository,
	entities ports.EntityRepository,
	folders ports.FolderRepository,
	storage ports.ObjectStorage,
	sessions ports.SessionStore,
	graph ports.GraphProjector,
	events ports.QueueEventBus,
	logger *slog.Logger,
) *ReviewUseCase {
	return &ReviewUseCase{
		queue:    queue,
		docs:     docs,
		entities: entities,
		folders:  folders,
		storage:  storage,
		sessions: sessions,
		graph:    graph,
		events:   events,
		engine:   reconcile.NewEngine(entities),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   orDefault(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ReviewUseCase) loadFinished(ctx context.Context, userID, queueID, op string) (*domain.QueueItem, error) {
	item, err := loadOwnedItem(ctx, uc.queue, userID, queueID)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.QueueDone {
		return nil, domain.WrapError(domain.ErrInvalidTransition, op, fmt.Errorf("queue item is %s", item.Status))
	}
	return item, nil
}

// GetReview re-checks the stored candidates against the current catalog.
// Candidates already resolved by the reviewer keep their resolution.
func (uc *ReviewUseCase) GetReview(ctx context.Context, userID, queueID string) (*domain.Review, error) {
	item, err := uc.loadFinished(ctx, userID, queueID, "get review")
	if err != nil {
		return nil, err
	}
	var payload domain.ExtractionPayload
	if len(item.ExtractedData) > 0 {
		if err := json.Unmarshal(item.ExtractedData, &payload); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
	}

	types, err := uc.entities.ListEntityTypes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entity types: %w", err)
	}

	candidates := make([]domain.CandidateEntity, 0, len(payload.Entities))
	for _, c := range payload.Entities {
		if c.Status == domain.CandidateExisting && c.Resolution != "" {
			candidates = append(candidates, c)
			continue
		}
		reconciled, err := uc.engine.Reconcile(ctx, userID, c, domain.ReconcileOptions{})
		if err != nil {
			return nil, fmt.Errorf("reconcile candidate: %w", err)
		}
		reconciled.Edited = c.Edited
		candidates = append(candidates, reconciled)
	}
	reconcile.SortCandidates(candidates, types)
	reconcile.SortTypes(types)

	review := &domain.Review{
		QueueID:     item.ID,
		Filename:    item.Filename,
		Description: payload.Description,
		FolderID:    item.FolderID,
		IsDuplicate: item.IsDuplicate,
		Candidates:  candidates,
		EntityTypes: types,
	}
	if payload.ReferenceDate != nil && !payload.ReferenceDate.IsZero() {
		review.ReferenceDate = payload.ReferenceDate.ISO()
		review.ReferenceDateBR = payload.ReferenceDate.Display()
	}
	review.BlockingReasons = domain.BlockingReasons(item.FolderID, candidates)
	review.CanApprove = len(review.BlockingReasons) == 0
	return review, nil
}

// Revalidate re-runs classification for one candidate edited by the reviewer.
func (uc *ReviewUseCase) Revalidate(ctx context.Context, userID string, in domain.RevalidateInput) (domain.CandidateEntity, error) {
	if err := uc.validate.Struct(in); err != nil {
		return domain.CandidateEntity{}, domain.WrapError(domain.ErrInvalidInput, "revalidate candidate", err)
	}
	if _, err := uc.loadFinished(ctx, userID, in.QueueID, "revalidate candidate"); err != nil {
		return domain.CandidateEntity{}, err
	}
	candidate := in.Candidate
	candidate.Edited = true
	if !in.SkipUnicityCheck {
		candidate.Status = ""
	}
	return uc.engine.Reconcile(ctx, userID, candidate, domain.ReconcileOptions{
		ForceNoConflict:  in.ForceNoConflict,
		SkipUnicityCheck: in.SkipUnicityCheck,
	})
}

// Approve commits the reviewed row as a document in one transaction.
func (uc *ReviewUseCase) Approve(ctx context.Context, session domain.Session, in domain.ApproveInput) (*domain.Document, error) {
	if err := uc.validate.Struct(in); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "approve", err)
	}
	item, err := uc.loadFinished(ctx, session.UserID, in.QueueID, "approve")
	if err != nil {
		return nil, err
	}
	for _, c := range in.Candidates {
		if c.Status == domain.CandidateConflict {
			return nil, domain.WrapError(domain.ErrUnresolvedConflict, "approve", fmt.Errorf("candidate %s %q", c.ClientID, c.Name))
		}
	}
	if _, err := uc.folders.GetFolder(ctx, session.UserID, in.FolderID); err != nil {
		return nil, fmt.Errorf("load folder: %w", err)
	}

	plan, err := uc.buildPlan(ctx, session.UserID, item, in)
	if err != nil {
		return nil, err
	}
	doc, err := uc.docs.Commit(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("commit document: %w", err)
	}
	now := uc.now()
	publish(ctx, uc.events, uc.logger, domain.EventDelete, item, now)
	uc.logger.Info("document_approved",
		"queue_id", item.ID,
		"doc_id", doc.ID,
		"user_id", session.UserID,
		"new_entities", len(plan.NewEntities),
		"updated_entities", len(plan.Updates),
		"links", len(plan.LinkIDs),
	)

	if uc.sessions != nil {
		if err := uc.sessions.SetLastFolder(ctx, session.UserID, in.FolderID); err != nil {
			uc.logger.Warn("session_store_failed", "user_id", session.UserID, "error", err)
		}
	}
	if uc.graph != nil {
		if err := uc.graph.ProjectDocument(ctx, *doc); err != nil {
			uc.logger.Warn("graph_projection_failed", "doc_id", doc.ID, "error", err)
		}
	}
	return doc, nil
}

func (uc *ReviewUseCase) buildPlan(ctx context.Context, userID string, item *domain.QueueItem, in domain.ApproveInput) (domain.CommitPlan, error) {
	types, err := uc.entities.ListEntityTypes(ctx, userID)
	if err != nil {
		return domain.CommitPlan{}, fmt.Errorf("load entity types: %w", err)
	}
	byID := make(map[string]domain.EntityType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	now := uc.now()
	folderID := in.FolderID
	doc := domain.Document{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(in.Description),
		FolderID:    &folderID,
		UserID:      userID,
		Approved:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if raw := strings.TrimSpace(in.ReferenceDate); raw != "" {
		date, err := domain.ParseReferenceDate(raw)
		if err != nil {
			return domain.CommitPlan{}, err
		}
		doc.ReferenceDate = &date
	}

	plan := domain.CommitPlan{
		QueueID:  item.ID,
		Document: doc,
		File: domain.DocFile{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			StoragePath: item.StoragePath,
			Filename:    item.Filename,
			Hash:        item.Hash,
			MimeType:    item.MimeType,
			CreatedAt:   now,
		},
	}

	linked := make(map[string]struct{})
	link := func(id string) {
		if _, ok := linked[id]; ok {
			return
		}
		linked[id] = struct{}{}
		plan.LinkIDs = append(plan.LinkIDs, id)
	}

	for _, c := range in.Candidates {
		reconcile.Normalize(&c)
		entityType, ok := byID[c.TypeID]
		if !ok {
			return domain.CommitPlan{}, domain.WrapError(domain.ErrInvalidInput, "approve", fmt.Errorf("unknown entity type %q", c.TypeID))
		}
		entity := domain.Entity{
			TypeID:      c.TypeID,
			Name:        c.Name,
			Identifier1: c.Identifier1,
			Identifier2: c.Identifier2,
			UserID:      userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		switch c.Status {
		case domain.CandidateNew, "":
			if err := uc.checkNew(ctx, userID, c); err != nil {
				return domain.CommitPlan{}, err
			}
			entity.ID = uuid.NewString()
			entity.Name = reconcile.TitleCase(c.Name)
			if err := entity.Validate(entityType); err != nil {
				return domain.CommitPlan{}, err
			}
			plan.NewEntities = append(plan.NewEntities, entity)
			link(entity.ID)
		case domain.CandidateExisting:
			if c.EntityID == "" {
				return domain.CommitPlan{}, domain.WrapError(domain.ErrInvalidInput, "approve", errors.New("existing candidate without entity id"))
			}
			if err := uc.checkExisting(ctx, userID, c); err != nil {
				return domain.CommitPlan{}, err
			}
			if c.NeedsUpdate() {
				entity.ID = c.EntityID
				if err := entity.Validate(entityType); err != nil {
					return domain.CommitPlan{}, err
				}
				plan.Updates = append(plan.Updates, entity)
			}
			link(c.EntityID)
		default:
			return domain.CommitPlan{}, domain.WrapError(domain.ErrUnresolvedConflict, "approve", fmt.Errorf("candidate %s", c.ClientID))
		}
	}
	return plan, nil
}

// checkExisting makes sure the linked entity is the user's own and of the
// candidate's type.
func (uc *ReviewUseCase) checkExisting(ctx context.Context, userID string, c domain.CandidateEntity) error {
	entity, err := uc.entities.GetEntity(ctx, userID, c.EntityID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.WrapError(domain.ErrInvalidInput, "approve", fmt.Errorf("unknown entity %s", c.EntityID))
	}
	if err != nil {
		return fmt.Errorf("load entity %s: %w", c.EntityID, err)
	}
	if entity.TypeID != c.TypeID {
		return domain.WrapError(domain.ErrInvalidInput, "approve", fmt.Errorf("entity %s is not a %s", c.EntityID, c.TypeID))
	}
	return nil
}

// checkNew re-runs classification for a candidate sent as new. Creating it
// is refused when the catalog already holds it or holds its identifier.
// Namesakes without a shared identifier stay allowed.
func (uc *ReviewUseCase) checkNew(ctx context.Context, userID string, c domain.CandidateEntity) error {
	c.Status = ""
	r, err := uc.engine.Reconcile(ctx, userID, c, domain.ReconcileOptions{})
	if err != nil {
		return fmt.Errorf("reconcile candidate: %w", err)
	}
	if r.Status == domain.CandidateExisting {
		return domain.WrapError(domain.ErrUnresolvedConflict, "approve", fmt.Errorf("candidate %s %q already exists as %s", c.ClientID, c.Name, r.EntityID))
	}
	for _, m := range r.Conflicts {
		if m.ID1Match {
			return domain.WrapError(domain.ErrUnresolvedConflict, "approve", fmt.Errorf("candidate %s %q shares identifier with %s", c.ClientID, c.Name, m.Entity.ID))
		}
	}
	return nil
}

// Reject discards a finished row without committing it.
func (uc *ReviewUseCase) Reject(ctx context.Context, userID, queueID string) error {
	item, err := uc.loadFinished(ctx, userID, queueID, "reject")
	if err != nil {
		return err
	}
	return discardItem(ctx, uc.queue, uc.storage, uc.events, uc.logger, item, uc.now())
}
