package reconcile

import (
	"sort"

	"github.com/kirillkom/docvault/internal/core/domain"
)

var categoryRank = map[string]int{
	domain.CategoryOrganization: 0,
	domain.CategoryPerson:       1,
	domain.CategoryProperty:     2,
}

const otherRank = 3

type displayKey struct {
	rank     int
	typeName string
	name     string
}

func keyFor(typeID, name string, types map[string]domain.EntityType) displayKey {
	t, ok := types[typeID]
	if !ok {
		return displayKey{rank: otherRank, typeName: typeID, name: name}
	}
	rank, ok := categoryRank[t.Category]
	if !ok {
		rank = otherRank
	}
	return displayKey{rank: rank, typeName: t.Name, name: name}
}

func less(m *NameMatcher, a, b displayKey) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	if a.rank == otherRank {
		if c := m.Compare(a.typeName, b.typeName); c != 0 {
			return c < 0
		}
	}
	return m.Compare(a.name, b.name) < 0
}

func indexTypes(types []domain.EntityType) map[string]domain.EntityType {
	byID := make(map[string]domain.EntityType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}
	return byID
}

// SortCandidates orders candidates for display: organizations, people,
// properties, then other types by type name; names by pt-BR collation inside
// each group.
func SortCandidates(candidates []domain.CandidateEntity, types []domain.EntityType) {
	byID := indexTypes(types)
	m := NewNameMatcher()
	sort.SliceStable(candidates, func(i, j int) bool {
		return less(m, keyFor(candidates[i].TypeID, candidates[i].Name, byID), keyFor(candidates[j].TypeID, candidates[j].Name, byID))
	})
}

// SortEntities applies the candidate display order to catalog entities.
func SortEntities(entities []domain.Entity, types []domain.EntityType) {
	byID := indexTypes(types)
	m := NewNameMatcher()
	sort.SliceStable(entities, func(i, j int) bool {
		return less(m, keyFor(entities[i].TypeID, entities[i].Name, byID), keyFor(entities[j].TypeID, entities[j].Name, byID))
	})
}

// SortTypes orders entity types by the same category rank.
func SortTypes(types []domain.EntityType) {
	m := NewNameMatcher()
	sort.SliceStable(types, func(i, j int) bool {
		a := displayKey{rank: rankOf(types[i]), typeName: types[i].Name}
		b := displayKey{rank: rankOf(types[j]), typeName: types[j].Name}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return m.Compare(a.typeName, b.typeName) < 0
	})
}

func rankOf(t domain.EntityType) int {
	if rank, ok := categoryRank[t.Category]; ok {
		return rank
	}
	return otherRank
}
