package domain

// Review is the finished queue row prepared for human confirmation.
type Review struct {
	QueueID         string            `json:"queue_id"`
	Filename        string            `json:"nome_arquivo"`
	Description     string            `json:"descricao"`
	ReferenceDate   string            `json:"data_referencia,omitempty"`
	ReferenceDateBR string            `json:"data_referencia_br,omitempty"`
	FolderID        *string           `json:"pasta_id,omitempty"`
	IsDuplicate     bool              `json:"is_duplicate"`
	Candidates      []CandidateEntity `json:"entidades"`
	EntityTypes     []EntityType      `json:"tipos_entidade"`
	CanApprove      bool              `json:"can_approve"`
	BlockingReasons []string          `json:"blocking_reasons,omitempty"`
}

// ReconcileOptions relax classification during manual review.
type ReconcileOptions struct {
	ForceNoConflict  bool
	SkipUnicityCheck bool
}

// BlockingReasons lists why an approval cannot go through yet.
func BlockingReasons(folderID *string, candidates []CandidateEntity) []string {
	var reasons []string
	if folderID == nil || *folderID == "" {
		reasons = append(reasons, "Selecione uma pasta para o documento.")
	}
	conflicts := 0
	for _, c := range candidates {
		if c.Status == CandidateConflict {
			conflicts++
		}
	}
	if conflicts > 0 {
		reasons = append(reasons, "Resolva os conflitos de entidades antes de aprovar.")
	}
	return reasons
}
