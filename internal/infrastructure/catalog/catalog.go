package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docvault/internal/core/domain"
)

//go:embed entity_types.yaml
var defaultTypes []byte

type file struct {
	Types []domain.EntityType `yaml:"tipos"`
}

// Default returns the built-in entity types.
func Default() ([]domain.EntityType, error) {
	return Parse(defaultTypes)
}

// Load reads entity types from path, or the built-in set when path is empty.
func Load(path string) ([]domain.EntityType, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity types file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) ([]domain.EntityType, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse entity types", err)
	}
	if len(f.Types) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse entity types", errors.New("no types defined"))
	}

	seen := make(map[string]struct{}, len(f.Types))
	for i, t := range f.Types {
		t.ID = strings.TrimSpace(t.ID)
		t.Name = strings.TrimSpace(t.Name)
		t.ExtractionPrompt = strings.TrimSpace(t.ExtractionPrompt)
		if t.ID == "" || t.Name == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse entity types", fmt.Errorf("type %d: id and nome are required", i+1))
		}
		if _, dup := seen[t.ID]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse entity types", fmt.Errorf("duplicate type id %q", t.ID))
		}
		seen[t.ID] = struct{}{}
		f.Types[i] = t
	}
	return f.Types, nil
}
