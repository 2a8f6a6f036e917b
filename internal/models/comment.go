package models

import "time"

// StepComment is a comment attached to a pipeline step. Return reasons are
// recorded as comments on the reopened step.
type StepComment struct {
	ID        int64     `json:"id"`
	StepID    int64     `json:"step_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is a file uploaded against a pipeline step. PageCount is
// populated for PDF uploads when preview extraction succeeds.
type Attachment struct {
	ID          int64     `json:"id"`
	StepID      int64     `json:"step_id"`
	UploaderID  int64     `json:"uploader_id"`
	FileName    string    `json:"file_name"`
	StoredPath  string    `json:"stored_path"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	PageCount   *int      `json:"page_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
