package models

import (
	"time"

	"github.com/google/uuid"
)

// Query is the immutable per-request value created at ingress and passed by
// value through the pipeline.
type Query struct {
	Raw       string    `json:"raw"`
	Sanitized string    `json:"sanitized"`
	Warnings  []string  `json:"warnings,omitempty"`
	ProcessID string    `json:"process_id"`
	CreatedAt time.Time `json:"created_at"`
	User      string    `json:"user,omitempty"`
}

// NewQuery creates a Query with a fresh correlation id. The sanitized text and
// warnings are filled in by the ingress sanitizer.
func NewQuery(raw, sanitized string, warnings []string) Query {
	return Query{
		Raw:       raw,
		Sanitized: sanitized,
		Warnings:  warnings,
		ProcessID: uuid.New().String(),
		CreatedAt: time.Now(),
	}
}
