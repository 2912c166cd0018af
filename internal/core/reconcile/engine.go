package reconcile

import (
	"context"
	"fmt"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// Engine classifies candidate entities against the user's catalog.
type Engine struct {
	catalog ports.EntityCatalog
}

func NewEngine(catalog ports.EntityCatalog) *Engine {
	return &Engine{catalog: catalog}
}

// Normalize cleans the candidate's fields in place.
func Normalize(c *domain.CandidateEntity) {
	c.Name = CleanName(c.Name)
	c.Identifier1 = NormalizeIdentifier(c.Identifier1)
	c.Identifier2 = NormalizeIdentifier(c.Identifier2)
}

// Reconcile classifies one candidate. Catalog errors are returned as is;
// a failed lookup never turns into "novo".
func (e *Engine) Reconcile(ctx context.Context, userID string, c domain.CandidateEntity, opts domain.ReconcileOptions) (domain.CandidateEntity, error) {
	return e.reconcile(ctx, NewNameMatcher(), userID, c, opts)
}

// ReconcileAll classifies every candidate independently.
func (e *Engine) ReconcileAll(ctx context.Context, userID string, candidates []domain.CandidateEntity, opts domain.ReconcileOptions) ([]domain.CandidateEntity, error) {
	matcher := NewNameMatcher()
	out := make([]domain.CandidateEntity, 0, len(candidates))
	for _, c := range candidates {
		reconciled, err := e.reconcile(ctx, matcher, userID, c, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, reconciled)
	}
	return out, nil
}

func (e *Engine) reconcile(ctx context.Context, matcher *NameMatcher, userID string, c domain.CandidateEntity, opts domain.ReconcileOptions) (domain.CandidateEntity, error) {
	Normalize(&c)
	// A skipped check keeps the previous classification, so it never applies
	// to a conflict or to a forced re-check.
	if opts.SkipUnicityCheck && !opts.ForceNoConflict && c.Status != domain.CandidateConflict {
		if c.Status == "" {
			c.Status = domain.CandidateNew
		}
		return c, nil
	}

	found, err := e.catalog.FindEntityMatches(ctx, domain.EntityMatchQuery{
		UserID:      userID,
		TypeID:      c.TypeID,
		FoldedName:  FoldName(c.Name),
		Identifier1: c.Identifier1,
	})
	if err != nil {
		return c, fmt.Errorf("lookup entity matches: %w", err)
	}

	matches := compare(matcher, c, found)
	c.Conflicts = nil
	c.EntityID = ""
	c.Resolution = ""

	switch {
	case len(matches) == 0:
		c.Status = domain.CandidateNew
		return c, nil
	case len(matches) == 1 && identical(c, matches[0]):
		c.Status = domain.CandidateExisting
		c.EntityID = matches[0].Entity.ID
		return c, nil
	case opts.ForceNoConflict:
		return forceResolve(c, matches), nil
	}

	c.Status = domain.CandidateConflict
	c.Conflicts = matches
	return c, nil
}

// identical reports whether the match agrees on every field. An identifier-1
// absent on both sides counts as agreement.
func identical(c domain.CandidateEntity, m domain.ConflictMatch) bool {
	return m.NameMatch && agrees(c.Identifier1, m.Entity.Identifier1) && m.ID2Match
}

// compare keeps the rows that match on name or identifier-1 and annotates them.
func compare(matcher *NameMatcher, c domain.CandidateEntity, found []domain.Entity) []domain.ConflictMatch {
	var matches []domain.ConflictMatch
	for _, entity := range found {
		id1 := NormalizeIdentifier(entity.Identifier1)
		id2 := NormalizeIdentifier(entity.Identifier2)
		m := domain.ConflictMatch{
			Entity:    entity,
			NameMatch: matcher.Equal(c.Name, entity.Name),
			ID1Match:  c.Identifier1 != "" && id1 == c.Identifier1,
			ID2Match:  id2 == c.Identifier2,
		}
		switch {
		case m.NameMatch && m.ID1Match:
			m.Reason = domain.ReasonBoth
		case m.ID1Match:
			m.Reason = domain.ReasonIdentifier
		case m.NameMatch:
			m.Reason = domain.ReasonName
		default:
			continue
		}
		matches = append(matches, m)
	}
	return matches
}

func agrees(candidate, existing string) bool {
	return candidate == NormalizeIdentifier(existing)
}

// forceResolve picks a non-conflict classification when the reviewer asked
// for one. An identical match links unchanged; an identifier match links and
// updates; a name-only match links unless both sides carry different
// identifiers.
func forceResolve(c domain.CandidateEntity, matches []domain.ConflictMatch) domain.CandidateEntity {
	for _, m := range matches {
		if identical(c, m) {
			c.Status = domain.CandidateExisting
			c.EntityID = m.Entity.ID
			return c
		}
	}
	for _, m := range matches {
		if m.ID1Match {
			return linkForUpdate(c, m.Entity.ID)
		}
	}
	for _, m := range matches {
		existing := NormalizeIdentifier(m.Entity.Identifier1)
		if c.Identifier1 != "" && existing != "" && existing != c.Identifier1 {
			continue
		}
		return linkForUpdate(c, m.Entity.ID)
	}
	c.Status = domain.CandidateNew
	return c
}

func linkForUpdate(c domain.CandidateEntity, entityID string) domain.CandidateEntity {
	c.Status = domain.CandidateExisting
	c.EntityID = entityID
	c.Resolution = domain.ResolutionUpdate
	return c
}
