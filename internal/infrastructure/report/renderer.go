package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kirillkom/docvault/internal/core/domain"
)

var page = template.Must(template.New("analysis").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>Análise: {{.Title}}</title>
</head>
<body>
<article>
{{.Body}}
</article>
</body>
</html>
`))

// Renderer turns a stored folder analysis into a standalone HTML page. The
// analysis is laid out as Markdown first; raw HTML coming from the model is
// dropped by goldmark's default renderer.
type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.Table))}
}

func (r *Renderer) RenderAnalysis(folder domain.Folder, analysis domain.FolderAnalysis) ([]byte, error) {
	var body bytes.Buffer
	if err := r.md.Convert([]byte(Markdown(folder, analysis)), &body); err != nil {
		return nil, fmt.Errorf("render analysis markdown: %w", err)
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: folder.Name, Body: template.HTML(body.String())})
	if err != nil {
		return nil, fmt.Errorf("render analysis page: %w", err)
	}
	return out.Bytes(), nil
}

// Markdown lays out the analysis sections in a fixed order. Empty sections
// are omitted.
func Markdown(folder domain.Folder, analysis domain.FolderAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", inline(folder.Name))

	if s := strings.TrimSpace(analysis.ExecutiveSummary); s != "" {
		b.WriteString("## Resumo executivo\n\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if len(analysis.Timeline) > 0 {
		b.WriteString("## Cronologia\n\n| Data | Evento |\n| --- | --- |\n")
		for _, e := range analysis.Timeline {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(e.Date), cell(e.Description))
		}
		b.WriteString("\n")
	}
	if len(analysis.KeyEntities) > 0 {
		b.WriteString("## Entidades-chave\n\n| Nome | Tipo | Papel |\n| --- | --- | --- |\n")
		for _, e := range analysis.KeyEntities {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(e.Name), cell(e.Type), cell(e.Role))
		}
		b.WriteString("\n")
	}
	if len(analysis.Relationships) > 0 {
		b.WriteString("## Relacionamentos\n\n")
		for _, r := range analysis.Relationships {
			fmt.Fprintf(&b, "- **%s** → **%s**: %s\n", inline(r.From), inline(r.To), inline(r.Relation))
		}
		b.WriteString("\n")
	}
	if len(analysis.Insights) > 0 {
		b.WriteString("## Insights\n\n")
		for _, s := range analysis.Insights {
			fmt.Fprintf(&b, "- %s\n", inline(s))
		}
	}
	return b.String()
}

func inline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", `\|`)
}
