package gateway

import (
	"context"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// EntityExtractor asks the model for a document description, reference date
// and candidate entities.
type EntityExtractor struct {
	client *Client
}

func NewEntityExtractor(client *Client) *EntityExtractor {
	return &EntityExtractor{client: client}
}

type extractionReply struct {
	Description   string               `json:"descricao"`
	ReferenceDate string               `json:"data_referencia"`
	Entities      []domain.ModelEntity `json:"entidades"`
}

func (e *EntityExtractor) ExtractEntities(ctx context.Context, text string, types []domain.EntityType) (domain.ModelExtraction, error) {
	raw, err := e.client.completeJSON(ctx, "extract_entities", extractionSystemPrompt, buildExtractionPrompt(text, types))
	if err != nil {
		return domain.ModelExtraction{}, err
	}

	var reply extractionReply
	if err := decodeObject(raw, &reply, "extract_entities"); err != nil {
		return domain.ModelExtraction{}, err
	}

	entities := make([]domain.ModelEntity, 0, len(reply.Entities))
	for _, ent := range reply.Entities {
		if strings.TrimSpace(ent.Name) == "" {
			continue
		}
		entities = append(entities, ent)
	}
	return domain.ModelExtraction{
		Description:   strings.TrimSpace(reply.Description),
		ReferenceDate: strings.TrimSpace(reply.ReferenceDate),
		Entities:      entities,
	}, nil
}

// FolderAnalyzer produces the folder summary.
type FolderAnalyzer struct {
	client *Client
}

func NewFolderAnalyzer(client *Client) *FolderAnalyzer {
	return &FolderAnalyzer{client: client}
}

func (a *FolderAnalyzer) AnalyzeFolder(ctx context.Context, contents domain.FolderContents) (domain.FolderAnalysis, error) {
	prompt, err := buildAnalysisPrompt(contents)
	if err != nil {
		return domain.FolderAnalysis{}, err
	}
	raw, err := a.client.completeJSON(ctx, "analyze_folder", analysisSystemPrompt, prompt)
	if err != nil {
		return domain.FolderAnalysis{}, err
	}

	var analysis domain.FolderAnalysis
	if err := decodeObject(raw, &analysis, "analyze_folder"); err != nil {
		return domain.FolderAnalysis{}, err
	}
	if analysis.Timeline == nil {
		analysis.Timeline = []domain.TimelineEntry{}
	}
	if analysis.KeyEntities == nil {
		analysis.KeyEntities = []domain.KeyEntity{}
	}
	if analysis.Relationships == nil {
		analysis.Relationships = []domain.EntityRelationship{}
	}
	if analysis.Insights == nil {
		analysis.Insights = []string{}
	}
	return analysis, nil
}
