package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ExtractionSource is a stored file handed to the text extractor.
type ExtractionSource struct {
	Filename string
	MimeType string
	Body     []byte
}

// ExtractedText is the extractor output. Native and OCR carry
// "--- Página N ---" markers; Combined is what the model receives.
type ExtractedText struct {
	Native   string
	OCR      string
	Combined string
	Pages    int
}

// ProgressFunc receives user-facing progress messages during a stage.
type ProgressFunc func(message string)

// ModelExtraction is the raw structured answer of the language model before
// normalization and reconciliation.
type ModelExtraction struct {
	Description   string
	ReferenceDate string
	Entities      []ModelEntity
}

type ModelEntity struct {
	TypeID      string `json:"tipo_entidade_id"`
	Name        string `json:"nome"`
	Identifier1 string `json:"identificador_1"`
	Identifier2 string `json:"identificador_2"`
}

// EntityMatchQuery selects loose catalog matches for one candidate. FoldedName
// is compared against the stored nome_normalizado column; Identifier1 is
// ignored when empty.
type EntityMatchQuery struct {
	UserID      string
	TypeID      string
	FoldedName  string
	Identifier1 string
}

// MinUsableChars is the shortest sanitized text worth sending to the model.
const MinUsableChars = 10

// SanitizeText drops C0 control characters other than tab, newline and
// carriage return, plus DEL.
func SanitizeText(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, raw)
}

// CheckUsable fails permanently when the text has too little content.
func CheckUsable(text string) error {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinUsableChars {
		return WrapError(ErrUnusableInput, "check extracted text", fmt.Errorf("fewer than %d usable characters", MinUsableChars))
	}
	return nil
}
