package domain

import "strings"

// QueryRequest is one logical question/answer turn as sent to the relay.
type QueryRequest struct {
	// Question is the user's prompt. Required, non-empty after trimming.
	Question string `json:"question,omitempty"`

	// Query is accepted as an alias for Question on the wire.
	Query string `json:"query,omitempty"`

	// Context is an optional free-form payload forwarded to the upstream.
	Context string `json:"context,omitempty"`

	// UserID optionally identifies the asking user.
	UserID string `json:"user_id,omitempty"`

	// ThreadID groups turns into one conversation. Not sent on the wire;
	// the client uses it to enforce single-turn-per-thread ownership.
	ThreadID string `json:"-"`

	// CorrID is the correlation id for this turn. Generated when absent and
	// attached to every downstream call and every error for the turn.
	CorrID string `json:"-"`
}

// Prompt returns the effective prompt text, preferring Question over the
// Query alias, trimmed.
func (r *QueryRequest) Prompt() string {
	if s := strings.TrimSpace(r.Question); s != "" {
		return s
	}
	return strings.TrimSpace(r.Query)
}

// StreamEvent is one element of the ordered event sequence a turn yields.
// The sequence is finite and non-restartable: zero or more delta events
// followed by at most one terminal event with Done set.
type StreamEvent struct {
	// Text is the incremental answer delta. Empty on terminal events.
	Text string `json:"text,omitempty"`

	// Done marks the terminal event of the turn.
	Done bool `json:"done,omitempty"`

	// Meta carries aggregated metadata (correlation id, latency, origin)
	// when known. Values are primitives only.
	Meta map[string]any `json:"meta,omitempty"`

	// Err is set only on a terminal event produced by a failed turn.
	Err *RelayError `json:"error,omitempty"`
}

// NormalizedAnswer is the canonical result extracted from a buffered JSON
// envelope. It is derived per response and never stored independently.
type NormalizedAnswer struct {
	Text     string         `json:"text"`
	CorrID   string         `json:"corr_id,omitempty"`
	NoAnswer bool           `json:"no_answer,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}
