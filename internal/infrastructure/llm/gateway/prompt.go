package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// maxPromptRunes bounds the document text sent in one request.
const maxPromptRunes = 60000

const extractionSystemPrompt = `Você extrai dados estruturados de documentos brasileiros.
Responda somente com um objeto JSON com as chaves:
descricao (string, resumo curto do documento),
data_referencia (string YYYY-MM-DD ou DD/MM/YYYY, ou vazio),
entidades (array de objetos com tipo_entidade_id, nome, identificador_1, identificador_2).
Use apenas os tipos de entidade listados. Não invente identificadores. Sem markdown.`

const analysisSystemPrompt = `Você analisa pastas de documentos e entidades.
Responda somente com um objeto JSON com as chaves:
resumo_executivo (string),
cronologia (array de {data, descricao}),
entidades_chave (array de {nome, tipo, papel}),
relacionamentos (array de {origem, destino, relacao}),
insights (array de strings). Sem markdown.`

func buildExtractionPrompt(text string, types []domain.EntityType) string {
	var b strings.Builder
	b.WriteString("Tipos de entidade:\n")
	for _, t := range types {
		fmt.Fprintf(&b, "- id=%s nome=%q categoria=%s identificador_1=%q", t.ID, t.Name, t.Category, t.Identifier1Label)
		if t.Identifier2Label != "" {
			fmt.Fprintf(&b, " identificador_2=%q", t.Identifier2Label)
		}
		if t.ExtractionPrompt != "" {
			fmt.Fprintf(&b, "\n  instruções: %s", t.ExtractionPrompt)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nDocumento:\n")
	b.WriteString(truncateRunes(text, maxPromptRunes))
	return b.String()
}

type folderDigest struct {
	Pasta      string           `json:"pasta"`
	Documentos []documentDigest `json:"documentos"`
}

type documentDigest struct {
	Descricao      string         `json:"descricao"`
	DataReferencia string         `json:"data_referencia,omitempty"`
	Arquivo        string         `json:"arquivo,omitempty"`
	Entidades      []entityDigest `json:"entidades"`
}

type entityDigest struct {
	Nome          string `json:"nome"`
	Tipo          string `json:"tipo"`
	Identificador string `json:"identificador,omitempty"`
}

func buildAnalysisPrompt(contents domain.FolderContents) (string, error) {
	typeNames := make(map[string]string, len(contents.Types))
	for _, t := range contents.Types {
		typeNames[t.ID] = t.Name
	}

	digest := folderDigest{Pasta: contents.Folder.Name, Documentos: make([]documentDigest, 0, len(contents.Documents))}
	for _, doc := range contents.Documents {
		d := documentDigest{Descricao: doc.Description, Entidades: make([]entityDigest, 0, len(doc.Entities))}
		if doc.ReferenceDate != nil {
			d.DataReferencia = doc.ReferenceDate.ISO()
		}
		if doc.File != nil {
			d.Arquivo = doc.File.Filename
		}
		for _, e := range doc.Entities {
			tipo := typeNames[e.TypeID]
			if tipo == "" {
				tipo = e.TypeID
			}
			d.Entidades = append(d.Entidades, entityDigest{Nome: e.Name, Tipo: tipo, Identificador: e.Identifier1})
		}
		digest.Documentos = append(digest.Documentos, d)
	}

	raw, err := json.Marshal(digest)
	if err != nil {
		return "", fmt.Errorf("marshal folder digest: %w", err)
	}
	return "Conteúdo da pasta:\n" + truncateRunes(string(raw), maxPromptRunes), nil
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
