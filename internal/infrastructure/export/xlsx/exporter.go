package xlsx

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/reconcile"
)

const (
	SheetDocuments = "Documentos"
	SheetEntities  = "Entidades"
)

var (
	documentHeader = []any{"ID", "Descrição", "Data de referência", "Arquivo", "Entidades", "Criado em"}
	entityHeader   = []any{"Tipo", "Nome", "Identificador 1", "Identificador 2", "Documentos"}
)

// Exporter writes a folder's documents and the entities they mention into a
// workbook with one sheet each.
type Exporter struct{}

func New() *Exporter {
	return &Exporter{}
}

func (e *Exporter) ExportFolder(_ context.Context, contents domain.FolderContents) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetDocuments); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetEntities); err != nil {
		return nil, fmt.Errorf("create entity sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	typeNames := make(map[string]string, len(contents.Types))
	for _, t := range contents.Types {
		typeNames[t.ID] = t.Name
	}

	docRows := make([][]any, 0, len(contents.Documents))
	for _, doc := range contents.Documents {
		docRows = append(docRows, documentRow(doc))
	}
	if err := writeSheet(f, SheetDocuments, header, documentHeader, docRows); err != nil {
		return nil, err
	}

	entities, counts := collectEntities(contents.Documents)
	reconcile.SortEntities(entities, contents.Types)
	entityRows := make([][]any, 0, len(entities))
	for _, ent := range entities {
		typeName := typeNames[ent.TypeID]
		if typeName == "" {
			typeName = ent.TypeID
		}
		entityRows = append(entityRows, []any{typeName, ent.Name, ent.Identifier1, ent.Identifier2, counts[ent.ID]})
	}
	if err := writeSheet(f, SheetEntities, header, entityHeader, entityRows); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func documentRow(doc domain.Document) []any {
	date := ""
	if doc.ReferenceDate != nil {
		date = doc.ReferenceDate.Display()
	}
	filename := ""
	if doc.File != nil {
		filename = doc.File.Filename
	}
	names := make([]string, 0, len(doc.Entities))
	for _, ent := range doc.Entities {
		names = append(names, ent.Name)
	}
	return []any{doc.ID, doc.Description, date, filename, strings.Join(names, "; "), doc.CreatedAt.Format("02/01/2006 15:04")}
}

// collectEntities dedupes the entities linked across documents and counts
// how many documents mention each.
func collectEntities(docs []domain.Document) ([]domain.Entity, map[string]int) {
	counts := make(map[string]int)
	out := make([]domain.Entity, 0)
	for _, doc := range docs {
		for _, ent := range doc.Entities {
			if counts[ent.ID] == 0 {
				out = append(out, ent)
			}
			counts[ent.ID]++
		}
	}
	return out, counts
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row cell: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
