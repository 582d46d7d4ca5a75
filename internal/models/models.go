// Package models defines the core data structures for Pixwave.
//
// It includes the generation workflow state, static content records, generation
// receipts and the JSON response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// GenerationState is the state of a prompt generation workflow.
type GenerationState string

const (
	// GenerationStateIdle means no generation is in flight.
	GenerationStateIdle GenerationState = "idle"
	// GenerationStateGenerating means a submission started and its delay has not elapsed.
	GenerationStateGenerating GenerationState = "generating"
)

// Validation constants for input validation
const (
	// MaxPromptLength is the largest prompt body, in bytes, accepted over HTTP.
	MaxPromptLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrPromptTooLong           = errors.New("prompt exceeds maximum length")
	ErrInvalidGenerationResult = errors.New("generator returned an empty image reference")
)

// Snapshot is a point-in-time view of a workflow, handed to the presentation layer.
type Snapshot struct {
	SessionID         string          `json:"session_id,omitempty"`
	PromptText        string          `json:"prompt"`
	State             GenerationState `json:"state"`
	GeneratedImageRef string          `json:"generated_image,omitempty"` // empty means absent
	LastError         string          `json:"last_error,omitempty"`
}

// HasImage reports whether a generated image reference is present.
func (s Snapshot) HasImage() bool {
	return s.GeneratedImageRef != ""
}

// Generating reports whether a generation is in flight.
func (s Snapshot) Generating() bool {
	return s.State == GenerationStateGenerating
}

// CanSubmit reports whether the submit affordance should be enabled.
func (s Snapshot) CanSubmit() bool {
	return !s.Generating() && !IsBlank(s.PromptText)
}

// GenerationOutcome records how a generation ended.
type GenerationOutcome string

const (
	// GenerationOutcomeCompleted indicates the image reference was produced.
	GenerationOutcomeCompleted GenerationOutcome = "completed"
	// GenerationOutcomeFailed indicates the generator returned an error.
	GenerationOutcomeFailed GenerationOutcome = "failed"
	// GenerationOutcomeCancelled indicates the workflow was closed mid-flight.
	GenerationOutcomeCancelled GenerationOutcome = "cancelled"
)

// IsValidGenerationOutcome checks if the given outcome is supported.
func IsValidGenerationOutcome(o GenerationOutcome) bool {
	switch o {
	case GenerationOutcomeCompleted, GenerationOutcomeFailed, GenerationOutcomeCancelled:
		return true
	default:
		return false
	}
}

// GenerationReceipt records one finished generation. It never carries the
// prompt text or the image reference.
type GenerationReceipt struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	Outcome      GenerationOutcome `json:"outcome"`
	PromptLength int               `json:"prompt_length"` // in code points
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at"`
}

// Validate checks a receipt before it is stored.
func (r GenerationReceipt) Validate() error {
	if r.ID == "" {
		return errors.New("receipt id is required")
	}
	if r.SessionID == "" {
		return errors.New("receipt session id is required")
	}
	if !IsValidGenerationOutcome(r.Outcome) {
		return errors.New("invalid receipt outcome")
	}
	if r.CompletedAt.Before(r.StartedAt) {
		return errors.New("receipt completes before it starts")
	}
	return nil
}

// ReceiptStats aggregates stored receipts.
type ReceiptStats struct {
	Total              int     `json:"total"`
	Completed          int     `json:"completed"`
	Failed             int     `json:"failed"`
	Cancelled          int     `json:"cancelled"`
	AvgPromptLength    float64 `json:"avg_prompt_length"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// ComputeReceiptStats aggregates a list of receipts.
func ComputeReceiptStats(receipts []GenerationReceipt) ReceiptStats {
	var stats ReceiptStats
	var sumLen int
	var sumDur time.Duration
	for _, r := range receipts {
		stats.Total++
		switch r.Outcome {
		case GenerationOutcomeCompleted:
			stats.Completed++
		case GenerationOutcomeFailed:
			stats.Failed++
		case GenerationOutcomeCancelled:
			stats.Cancelled++
		}
		sumLen += r.PromptLength
		sumDur += r.CompletedAt.Sub(r.StartedAt)
	}
	if stats.Total > 0 {
		stats.AvgPromptLength = float64(sumLen) / float64(stats.Total)
		stats.AvgDurationSeconds = sumDur.Seconds() / float64(stats.Total)
	}
	return stats
}

// TimerInfo represents timer information.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description"`
}
