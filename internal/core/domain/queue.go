package domain

import (
	"encoding/json"
	"time"
)

type QueueStatus string

const (
	QueueWaiting          QueueStatus = "aguardando"
	QueueProcessing       QueueStatus = "processando"
	QueueDone             QueueStatus = "finalizado"
	QueueFailed           QueueStatus = "erro"
	QueueDuplicateWaiting QueueStatus = "duplicata_aguardando"
)

const (
	MaxProcessingAttempts = 3
	StuckAfter            = 5 * time.Minute
)

// Messages written by the health sweep.
const (
	SweepRequeueMessage = "Timeout: processamento excedeu o tempo limite. Nova tentativa (retry) automática."
	SweepFailMessage    = "Timeout: processamento excedeu o tempo limite após 3 tentativas."
)

// QueueItem is one ingestion job stored in doc_queue.
type QueueItem struct {
	ID              string          `json:"id"`
	Filename        string          `json:"nome_arquivo"`
	Hash            string          `json:"hash"`
	Status          QueueStatus     `json:"status"`
	Message         string          `json:"mensagem_atual"`
	ExtractedText   *string         `json:"extracted_text,omitempty"`
	ExtractedData   json.RawMessage `json:"dados_extraidos,omitempty"`
	StoragePath     string          `json:"storage_path,omitempty"`
	MimeType        string          `json:"mime_type,omitempty"`
	IsDuplicate     bool            `json:"is_duplicate"`
	OriginalFileID  *string         `json:"doc_file_id_original,omitempty"`
	Attempts        int             `json:"tentativas_processamento"`
	ProcessingSince *time.Time      `json:"processando_desde,omitempty"`
	LastAttemptAt   *time.Time      `json:"ultima_tentativa_em,omitempty"`
	FolderID        *string         `json:"pasta_id,omitempty"`
	UserID          string          `json:"usuario_criador_id"`
	FileDate        *ReferenceDate  `json:"file_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsTerminal reports whether no automatic transition leaves the status.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueDone || s == QueueFailed
}

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueWaiting, QueueProcessing, QueueDone, QueueFailed, QueueDuplicateWaiting:
		return true
	default:
		return false
	}
}

// ClaimableStatuses lists the statuses a processing invocation may claim from.
// Duplicates are only processed on explicit request.
func ClaimableStatuses(manual bool) []QueueStatus {
	if manual {
		return []QueueStatus{QueueWaiting, QueueDuplicateWaiting}
	}
	return []QueueStatus{QueueWaiting}
}

// FailureTransition decides where a failed processing attempt goes.
func FailureTransition(attempts int, permanent bool) QueueStatus {
	if permanent || attempts >= MaxProcessingAttempts {
		return QueueFailed
	}
	return QueueWaiting
}

// IsStuck reports whether a processing lease outlived the liveness threshold.
func (q *QueueItem) IsStuck(now time.Time, threshold time.Duration) bool {
	if q.Status != QueueProcessing || q.ProcessingSince == nil {
		return false
	}
	return now.Sub(*q.ProcessingSince) > threshold
}

// Cancellable reports whether a user may remove the row. Finished rows are
// consumed by approve or reject instead.
func (q *QueueItem) Cancellable() bool {
	return q.Status != QueueDone
}

// ExtractionPayload is what dados_extraidos holds once the AI stage finishes.
type ExtractionPayload struct {
	Description   string            `json:"descricao"`
	ReferenceDate *ReferenceDate    `json:"data_referencia,omitempty"`
	Entities      []CandidateEntity `json:"entidades"`
}

// ProcessOptions controls a processing invocation.
type ProcessOptions struct {
	Manual bool
}

// ProcessResult is the reply of a processing invocation. A non-success result
// tells the caller to show the row's mensagem_atual.
type ProcessResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SweptItem struct {
	Filename   string      `json:"nome"`
	Attempts   int         `json:"tentativas"`
	StuckSince time.Time   `json:"travado_desde"`
	ID         string      `json:"-"`
	UserID     string      `json:"-"`
	Status     QueueStatus `json:"-"`
}

type SweepResult struct {
	Success bool        `json:"success"`
	Count   int         `json:"count"`
	Items   []SweptItem `json:"items"`
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	UserID   string
	Statuses []QueueStatus
}

// QueueItem rebuilds the minimal row a swept item is announced with.
func (s SweptItem) QueueItem(at time.Time) QueueItem {
	return QueueItem{ID: s.ID, Filename: s.Filename, Status: s.Status, UserID: s.UserID, Attempts: s.Attempts, UpdatedAt: at}
}
