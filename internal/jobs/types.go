package jobs

import (
	"time"

	"github.com/MimeLyc/webp-autogen/internal/convert"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusRunning
}

type EnqueueRequest struct {
	Source  string
	Payload Payload
}

// Payload is one uploaded attachment waiting for its WebP siblings.
type Payload struct {
	AttachmentID string           `json:"attachment_id,omitempty"`
	AttachedFile string           `json:"attached_file"`
	Metadata     convert.Metadata `json:"metadata"`
}

// Result counts the files a finished job touched.
type Result struct {
	Converted int `json:"converted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type ConversionJob struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	DedupeKey string    `json:"dedupe_key"`
	Payload   Payload   `json:"payload"`
	Status    Status    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
