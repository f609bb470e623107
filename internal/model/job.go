package model

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const JobTypeEmbedDocument = "embed_document"

type Job struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`
	Ctime       int64  `json:"ctime"`
	StartedAt   int64  `json:"started_at,omitempty"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

// EmbedDocumentPayload is the payload for JobTypeEmbedDocument jobs.
type EmbedDocumentPayload struct {
	DocumentID       string `json:"document_id"`
	FileKey          string `json:"file_key"`
	OriginalFilename string `json:"original_filename"`
}
