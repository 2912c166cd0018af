package domain

import (
	"encoding/json"
	"time"
)

// Document is a committed unit of content.
type Document struct {
	ID            string         `json:"id"`
	Description   string         `json:"descricao"`
	ReferenceDate *ReferenceDate `json:"data_referencia,omitempty"`
	FolderID      *string        `json:"pasta_id,omitempty"`
	UserID        string         `json:"usuario_criador_id"`
	Approved      bool           `json:"aprovado"`
	File          *DocFile       `json:"arquivo,omitempty"`
	Entities      []Entity       `json:"entidades,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// DocFile is the stored file record behind a document.
type DocFile struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"doc_id,omitempty"`
	StoragePath string    `json:"storage_path"`
	Filename    string    `json:"nome_arquivo"`
	Hash        string    `json:"hash"`
	MimeType    string    `json:"mime_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentDeletion reports what a document delete left behind for cleanup.
type DocumentDeletion struct {
	EntityIDs   []string
	StoragePath string
	// StorageShared is true when another doc_file still points at the object.
	StorageShared bool
}

// Folder is a named grouping of documents owned by one user.
type Folder struct {
	ID        string          `json:"id"`
	Name      string          `json:"nome"`
	UserID    string          `json:"usuario_id"`
	Analysis  json.RawMessage `json:"analise,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CommitPlan is everything one approval writes, executed atomically.
type CommitPlan struct {
	QueueID     string
	Document    Document
	File        DocFile
	NewEntities []Entity
	Updates     []Entity
	LinkIDs     []string
}
