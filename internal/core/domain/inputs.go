package domain

import "io"

// UploadInput is one uploaded file.
type UploadInput struct {
	Filename string
	MimeType string
	Body     io.Reader
	FolderID string
	FileDate string
}

type RevalidateInput struct {
	QueueID          string          `json:"-"`
	Candidate        CandidateEntity `json:"entidade" validate:"required"`
	ForceNoConflict  bool            `json:"force_no_conflict"`
	SkipUnicityCheck bool            `json:"skip_unicity_check"`
}

// ApproveInput is the reviewed payload submitted for commit.
type ApproveInput struct {
	QueueID       string            `json:"-" validate:"required,uuid"`
	FolderID      string            `json:"pasta_id" validate:"required,uuid"`
	Description   string            `json:"descricao" validate:"max=4000"`
	ReferenceDate string            `json:"data_referencia"`
	Candidates    []CandidateEntity `json:"entidades" validate:"dive"`
}

type EntityUpdate struct {
	EntityID    string `json:"-" validate:"required,uuid"`
	Name        string `json:"nome" validate:"required,max=300"`
	Identifier1 string `json:"identificador_1" validate:"max=64"`
	Identifier2 string `json:"identificador_2" validate:"max=64"`
}
