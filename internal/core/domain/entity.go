package domain

import (
	"fmt"
	"strings"
	"time"
)

// Entity type categories drive validation and display order.
const (
	CategoryOrganization = "organizacao"
	CategoryPerson       = "pessoa"
	CategoryProperty     = "imovel"
)

// EntityType is a user-configurable schema for one category of extractable entity.
type EntityType struct {
	ID               string    `json:"id" yaml:"id"`
	Name             string    `json:"nome" yaml:"nome"`
	Category         string    `json:"categoria" yaml:"categoria"`
	Identifier1Label string    `json:"label_identificador_1" yaml:"label_identificador_1"`
	Identifier2Label string    `json:"label_identificador_2,omitempty" yaml:"label_identificador_2"`
	ExtractionPrompt string    `json:"prompt_extracao" yaml:"prompt_extracao"`
	Icon             string    `json:"icone,omitempty" yaml:"icone"`
	UserID           *string   `json:"usuario_id,omitempty" yaml:"-"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
}

// RequiresIdentifier1 reports whether identifier-1 is mandatory for the type.
// Properties may be identified by address alone.
func (t EntityType) RequiresIdentifier1() bool {
	return t.Category != CategoryProperty
}

// Entity is a reconciled real-world referent.
type Entity struct {
	ID          string    `json:"id"`
	TypeID      string    `json:"tipo_entidade_id"`
	Name        string    `json:"nome"`
	Identifier1 string    `json:"identificador_1"`
	Identifier2 string    `json:"identificador_2,omitempty"`
	UserID      string    `json:"usuario_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the identifier rule against the entity's type.
func (e Entity) Validate(entityType EntityType) error {
	if strings.TrimSpace(e.Name) == "" {
		return WrapError(ErrInvalidInput, "validate entity", fmt.Errorf("name is required"))
	}
	if entityType.RequiresIdentifier1() && e.Identifier1 == "" {
		return WrapError(ErrInvalidInput, "validate entity", fmt.Errorf("%s requires %s", entityType.Name, labelOr(entityType.Identifier1Label, "identificador_1")))
	}
	return nil
}

func labelOr(label, fallback string) string {
	if strings.TrimSpace(label) == "" {
		return fallback
	}
	return label
}

type CandidateStatus string

const (
	CandidateNew      CandidateStatus = "novo"
	CandidateExisting CandidateStatus = "existente"
	CandidateConflict CandidateStatus = "conflito"
)

type Resolution string

const (
	ResolutionKeep   Resolution = "manter"
	ResolutionUpdate Resolution = "atualizar"
)

func (r Resolution) Valid() bool {
	return r == "" || r == ResolutionKeep || r == ResolutionUpdate
}

type ConflictReason string

const (
	ReasonIdentifier ConflictReason = "identificador"
	ReasonName       ConflictReason = "nome"
	ReasonBoth       ConflictReason = "ambos"
)

// ConflictMatch describes one existing entity that loosely matches a candidate.
type ConflictMatch struct {
	Entity    Entity         `json:"entidade"`
	NameMatch bool           `json:"nomeMatch"`
	ID1Match  bool           `json:"id1Match"`
	ID2Match  bool           `json:"id2Match"`
	Reason    ConflictReason `json:"motivo"`
}

// CandidateEntity is an entity proposed by the model for one document. It is
// never stored as its own row.
type CandidateEntity struct {
	ClientID    string          `json:"client_id"`
	TypeID      string          `json:"tipo_entidade_id" validate:"required"`
	Name        string          `json:"nome" validate:"required"`
	Identifier1 string          `json:"identificador_1"`
	Identifier2 string          `json:"identificador_2,omitempty"`
	Status      CandidateStatus `json:"status" validate:"omitempty,oneof=novo existente conflito"`
	EntityID    string          `json:"entidade_id,omitempty"`
	Conflicts   []ConflictMatch `json:"conflitos,omitempty"`
	Resolution  Resolution      `json:"resolucao,omitempty" validate:"omitempty,oneof=manter atualizar"`
	Edited      bool            `json:"editado"`
}

// FieldSource picks where a resolved field value comes from.
type FieldSource string

const (
	FromCandidate FieldSource = "candidato"
	FromExisting  FieldSource = "existente"
)

// FieldChoices selects, per field, whether the resolved candidate keeps its own
// value or copies the existing entity's.
type FieldChoices struct {
	Name        FieldSource `json:"nome,omitempty"`
	Identifier1 FieldSource `json:"identificador_1,omitempty"`
	Identifier2 FieldSource `json:"identificador_2,omitempty"`
}

// Resolve settles a conflict against one of the surfaced matches. The
// candidate becomes a reference to the target entity; with ResolutionUpdate its
// values (after copying the chosen fields) overwrite the target on commit.
func (c *CandidateEntity) Resolve(resolution Resolution, targetEntityID string, choices FieldChoices) error {
	if c.Status != CandidateConflict {
		return WrapError(ErrInvalidInput, "resolve conflict", fmt.Errorf("candidate %s is %s", c.ClientID, c.Status))
	}
	if resolution == "" || !resolution.Valid() {
		return WrapError(ErrInvalidInput, "resolve conflict", fmt.Errorf("unknown resolution %q", resolution))
	}

	var target *Entity
	for i := range c.Conflicts {
		if c.Conflicts[i].Entity.ID == targetEntityID {
			target = &c.Conflicts[i].Entity
			break
		}
	}
	if target == nil {
		return WrapError(ErrInvalidInput, "resolve conflict", fmt.Errorf("entity %s is not among the conflicts", targetEntityID))
	}

	if choices.Name == FromExisting {
		c.Name = target.Name
	}
	if choices.Identifier1 == FromExisting {
		c.Identifier1 = target.Identifier1
	}
	if choices.Identifier2 == FromExisting {
		c.Identifier2 = target.Identifier2
	}

	c.Status = CandidateExisting
	c.EntityID = target.ID
	c.Resolution = resolution
	c.Conflicts = nil
	return nil
}

// NeedsUpdate reports whether committing the candidate rewrites its entity.
func (c CandidateEntity) NeedsUpdate() bool {
	return c.Status == CandidateExisting && c.Resolution == ResolutionUpdate && c.EntityID != ""
}
