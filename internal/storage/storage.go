// Package storage defines the interaction-recording collaborator the relay
// reports completed turns to. Recording is best-effort: a store failure is
// logged by the caller and never affects the client-visible response.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a turn record does not exist.
var ErrNotFound = errors.New("turn not found")

// TurnRecord is the summary of one completed question/answer turn.
type TurnRecord struct {
	CorrID         string        `json:"corr_id"`
	Question       string        `json:"question"`
	Answer         string        `json:"answer,omitempty"`
	Status         string        `json:"status"` // "ok" or an ErrorKind string
	Streaming      bool          `json:"streaming"`
	UpstreamStatus int           `json:"upstream_status,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ListOptions filters and bounds ListTurns results.
type ListOptions struct {
	UserID string
	Limit  int
}

// InteractionStore records completed turns for debugging and support.
type InteractionStore interface {
	// RecordTurn persists one turn summary. The corr id is the key; a second
	// record for the same id replaces the first.
	RecordTurn(ctx context.Context, rec *TurnRecord) error

	// GetTurn fetches one turn by correlation id.
	GetTurn(ctx context.Context, corrID string) (*TurnRecord, error)

	// ListTurns returns turns newest first.
	ListTurns(ctx context.Context, opts ListOptions) ([]*TurnRecord, error)
}
