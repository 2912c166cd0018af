package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type statement struct {
	cypher string
	params map[string]any
}

// writer runs a batch of statements in one write transaction.
type writer interface {
	write(ctx context.Context, stmts []statement) error
}

// Projector mirrors committed documents, their entities and folder analyses
// into a graph. Postgres stays the source of truth; the graph is rebuilt from
// it on every projection.
type Projector struct {
	w writer
}

func New(driver neo4j.DriverWithContext, database string) *Projector {
	return &Projector{w: &driverWriter{driver: driver, database: database}}
}

// Connect opens a driver and verifies it can reach the server.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return driver, nil
}

func (p *Projector) EnsureConstraints(ctx context.Context) error {
	return p.w.write(ctx, []statement{
		{cypher: `CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`},
		{cypher: `CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`},
		{cypher: `CREATE CONSTRAINT folder_id IF NOT EXISTS FOR (f:Folder) REQUIRE f.id IS UNIQUE`},
	})
}

func (p *Projector) ProjectDocument(ctx context.Context, doc domain.Document) error {
	if err := p.w.write(ctx, documentStatements(doc)); err != nil {
		return fmt.Errorf("project document %s: %w", doc.ID, err)
	}
	return nil
}

func (p *Projector) RemoveDocument(ctx context.Context, docID string) error {
	err := p.w.write(ctx, []statement{
		{
			cypher: `MATCH (d:Document {id: $id})
OPTIONAL MATCH (d)-[:MENCIONA]->(e:Entity)
DETACH DELETE d
WITH DISTINCT e
WHERE e IS NOT NULL AND NOT (e)<-[:MENCIONA]-(:Document)
DETACH DELETE e`,
			params: map[string]any{"id": docID},
		},
	})
	if err != nil {
		return fmt.Errorf("remove document %s: %w", docID, err)
	}
	return nil
}

func (p *Projector) ProjectAnalysis(ctx context.Context, folder domain.Folder, analysis domain.FolderAnalysis) error {
	if err := p.w.write(ctx, analysisStatements(folder, analysis)); err != nil {
		return fmt.Errorf("project analysis %s: %w", folder.ID, err)
	}
	return nil
}

func documentStatements(doc domain.Document) []statement {
	entities := make([]map[string]any, 0, len(doc.Entities))
	ids := make([]string, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		entities = append(entities, map[string]any{
			"id":              e.ID,
			"nome":            e.Name,
			"tipo":            e.TypeID,
			"identificador_1": e.Identifier1,
			"identificador_2": e.Identifier2,
		})
		ids = append(ids, e.ID)
	}

	docParams := map[string]any{
		"id":         doc.ID,
		"descricao":  doc.Description,
		"usuario_id": doc.UserID,
		"data":       "",
	}
	if doc.ReferenceDate != nil {
		docParams["data"] = doc.ReferenceDate.ISO()
	}

	stmts := []statement{
		{
			cypher: `MERGE (d:Document {id: $id})
SET d.descricao = $descricao, d.usuario_id = $usuario_id, d.data_referencia = $data`,
			params: docParams,
		},
	}
	if doc.FolderID != nil && *doc.FolderID != "" {
		stmts = append(stmts, statement{
			cypher: `MATCH (d:Document {id: $id})
MERGE (f:Folder {id: $folder})
MERGE (d)-[:EM_PASTA]->(f)`,
			params: map[string]any{"id": doc.ID, "folder": *doc.FolderID},
		})
	}
	stmts = append(stmts,
		statement{
			cypher: `MATCH (d:Document {id: $id})-[r:MENCIONA]->(e:Entity)
WHERE NOT e.id IN $ids
DELETE r`,
			params: map[string]any{"id": doc.ID, "ids": ids},
		},
		statement{
			cypher: `MATCH (d:Document {id: $id})
UNWIND $entities AS ent
MERGE (e:Entity {id: ent.id})
SET e.nome = ent.nome, e.tipo = ent.tipo, e.identificador_1 = ent.identificador_1, e.identificador_2 = ent.identificador_2
MERGE (d)-[:MENCIONA]->(e)`,
			params: map[string]any{"id": doc.ID, "entities": entities},
		},
	)
	return stmts
}

// analysisStatements replaces the folder's analysis subgraph. Analysis nodes
// are keyed by name within the folder because the model reports names, not
// catalog ids.
func analysisStatements(folder domain.Folder, analysis domain.FolderAnalysis) []statement {
	rels := make([]map[string]any, 0, len(analysis.Relationships))
	for _, r := range analysis.Relationships {
		if r.From == "" || r.To == "" {
			continue
		}
		rels = append(rels, map[string]any{"origem": r.From, "destino": r.To, "relacao": r.Relation})
	}
	return []statement{
		{
			cypher: `MERGE (f:Folder {id: $id})
SET f.nome = $nome, f.resumo = $resumo`,
			params: map[string]any{"id": folder.ID, "nome": folder.Name, "resumo": analysis.ExecutiveSummary},
		},
		{
			cypher: `MATCH (n:AnalysisNode {pasta_id: $id}) DETACH DELETE n`,
			params: map[string]any{"id": folder.ID},
		},
		{
			cypher: `MATCH (f:Folder {id: $id})
UNWIND $rels AS rel
MERGE (a:AnalysisNode {pasta_id: $id, nome: rel.origem})
MERGE (b:AnalysisNode {pasta_id: $id, nome: rel.destino})
MERGE (a)-[:RELACIONA {relacao: rel.relacao}]->(b)
MERGE (a)-[:DA_PASTA]->(f)
MERGE (b)-[:DA_PASTA]->(f)`,
			params: map[string]any{"id": folder.ID, "rels": rels},
		},
	}
}

type driverWriter struct {
	driver   neo4j.DriverWithContext
	database string
}

func (w *driverWriter) write(ctx context.Context, stmts []statement) error {
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: w.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, s := range stmts {
			res, err := tx.Run(ctx, s.cypher, s.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}
