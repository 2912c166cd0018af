package usecase

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/reconcile"
)

type EntityUseCase struct {
	entities ports.EntityRepository
	validate *validator.Validate
}

func NewEntityUseCase(entities ports.EntityRepository) *EntityUseCase {
	return &EntityUseCase{entities: entities, validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (uc *EntityUseCase) ListEntities(ctx context.Context, userID, typeID string) ([]domain.Entity, error) {
	entities, err := uc.entities.ListEntities(ctx, userID, typeID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	types, err := uc.entities.ListEntityTypes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entity types: %w", err)
	}
	reconcile.SortEntities(entities, types)
	return entities, nil
}

func (uc *EntityUseCase) ListEntityTypes(ctx context.Context, userID string) ([]domain.EntityType, error) {
	types, err := uc.entities.ListEntityTypes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}
	reconcile.SortTypes(types)
	return types, nil
}

// UpdateEntity edits a catalog entry. Writes are last-write-wins.
func (uc *EntityUseCase) UpdateEntity(ctx context.Context, userID string, in domain.EntityUpdate) (*domain.Entity, error) {
	if err := uc.validate.Struct(in); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update entity", err)
	}
	entity, err := uc.entities.GetEntity(ctx, userID, in.EntityID)
	if err != nil {
		return nil, err
	}
	types, err := uc.entities.ListEntityTypes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entity types: %w", err)
	}
	var entityType *domain.EntityType
	for i := range types {
		if types[i].ID == entity.TypeID {
			entityType = &types[i]
			break
		}
	}
	if entityType == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "update entity", fmt.Errorf("entity type %s", entity.TypeID))
	}

	entity.Name = reconcile.CleanName(in.Name)
	entity.Identifier1 = reconcile.NormalizeIdentifier(in.Identifier1)
	entity.Identifier2 = reconcile.NormalizeIdentifier(in.Identifier2)
	if err := entity.Validate(*entityType); err != nil {
		return nil, err
	}
	if err := uc.entities.UpdateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}
	return entity, nil
}
