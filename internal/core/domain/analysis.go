package domain

// FolderAnalysis is the model-generated summary of a folder.
type FolderAnalysis struct {
	ExecutiveSummary string               `json:"resumo_executivo"`
	Timeline         []TimelineEntry      `json:"cronologia"`
	KeyEntities      []KeyEntity          `json:"entidades_chave"`
	Relationships    []EntityRelationship `json:"relacionamentos"`
	Insights         []string             `json:"insights"`
}

type TimelineEntry struct {
	Date        string `json:"data"`
	Description string `json:"descricao"`
}

type KeyEntity struct {
	Name string `json:"nome"`
	Type string `json:"tipo"`
	Role string `json:"papel"`
}

type EntityRelationship struct {
	From     string `json:"origem"`
	To       string `json:"destino"`
	Relation string `json:"relacao"`
}

// FolderContents is the material an analysis or export is built from.
type FolderContents struct {
	Folder    Folder
	Documents []Document
	Types     []EntityType
}
