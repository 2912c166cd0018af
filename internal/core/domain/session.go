package domain

// Session is the per-user state passed explicitly to operations that need it.
type Session struct {
	UserID       string  `json:"usuario_id"`
	LastFolderID *string `json:"ultima_pasta_id,omitempty"`
}
