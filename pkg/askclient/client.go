// Package askclient drives question/answer turns against the relay proxy.
// A turn yields an ordered, finite sequence of StreamEvents: zero or more
// text deltas, then one terminal event. Every failure mode resolves into the
// event sequence; the API never reports errors on a second channel.
package askclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/askwise/askrelay/internal/domain"
	"github.com/askwise/askrelay/internal/normalize"
	"github.com/askwise/askrelay/internal/server"
)

const (
	// runPath always returns a buffered JSON answer.
	runPath = "/ask/run"

	// streamPath negotiates a streamed body when the upstream supports it.
	streamPath = "/ask/stream"

	// maxErrorMessage bounds the error text surfaced from a raw body.
	maxErrorMessage = 800

	// maxErrorBody bounds how much of a failed response is read at all.
	maxErrorBody = 64 << 10

	// defaultTurnTimeout is the wall-clock budget per turn.
	defaultTurnTimeout = 45 * time.Second
)

// Client issues turns against a relay base URL. Safe for concurrent use;
// independent conversation threads share nothing but the thread registry.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	turnTimeout time.Duration
	turns       *turnRegistry
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for relay calls. The client must
// not have its own Timeout set; turn timeouts are context-driven so streamed
// bodies aren't cut off mid-read by a transport-level deadline.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTurnTimeout sets the wall-clock budget per turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.turnTimeout = d
	}
}

// New creates a client for the relay at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  http.DefaultClient,
		turnTimeout: defaultTurnTimeout,
		turns:       newTurnRegistry(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Ask runs one buffered turn: the relay returns a single JSON envelope and
// the sequence is exactly two events, the full normalized text and the
// terminal event.
func (c *Client) Ask(ctx context.Context, req domain.QueryRequest) <-chan domain.StreamEvent {
	return c.start(ctx, req, runPath)
}

// AskStream runs one streamed turn: one delta event per received chunk in
// arrival order, then the terminal event. Falls back to buffered handling
// when the relay answers with a JSON document anyway.
func (c *Client) AskStream(ctx context.Context, req domain.QueryRequest) <-chan domain.StreamEvent {
	return c.start(ctx, req, streamPath)
}

// Cancel aborts the thread's in-flight turn, if any. Idempotent; cancelling
// a finished or unknown thread is a no-op.
func (c *Client) Cancel(threadID string) {
	c.turns.cancel(threadID)
}

func (c *Client) start(ctx context.Context, req domain.QueryRequest, path string) <-chan domain.StreamEvent {
	if req.CorrID == "" {
		req.CorrID = uuid.New().String()
	}

	turnCtx, cancel := context.WithTimeout(ctx, c.turnTimeout)

	// One in-flight turn per thread: registering this turn cancels any
	// still-running predecessor before the new request goes out.
	if req.ThreadID != "" {
		c.turns.begin(req.ThreadID, req.CorrID, cancel)
	}

	// Unbuffered on purpose: nothing is ever queued past a cancellation, so
	// a cancelled caller observes no further events.
	out := make(chan domain.StreamEvent)

	go func() {
		defer close(out)
		defer cancel()
		if req.ThreadID != "" {
			defer c.turns.end(req.ThreadID, req.CorrID)
		}
		c.run(turnCtx, req, path, out)
	}()

	return out
}

func (c *Client) run(ctx context.Context, req domain.QueryRequest, path string, out chan<- domain.StreamEvent) {
	if req.Prompt() == "" {
		c.emitTerminalError(ctx, out, domain.ErrInvalidRequest("question must not be empty").WithCorrID(req.CorrID))
		return
	}

	body, err := json.Marshal(domain.QueryRequest{
		Question: req.Prompt(),
		Context:  req.Context,
		UserID:   req.UserID,
	})
	if err != nil {
		c.emitTerminalError(ctx, out, domain.ErrInvalidRequest(err.Error()).WithCorrID(req.CorrID))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.emitTerminalError(ctx, out, domain.ErrUpstreamUnreachable(err.Error()).WithCorrID(req.CorrID))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(server.CorrIDHeader, req.CorrID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.emitTransportError(ctx, out, req.CorrID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := extractErrorMessage(io.LimitReader(resp.Body, maxErrorBody))
		relayErr := domain.ErrUpstreamHTTP(resp.StatusCode, message).WithCorrID(req.CorrID)
		c.emitTerminalError(ctx, out, relayErr)
		return
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		c.consumeJSON(ctx, req.CorrID, resp.Body, out)
		return
	}
	c.consumeStream(ctx, req.CorrID, resp.Body, out)
}

// consumeJSON handles the buffered envelope shape: parse once, normalize,
// yield the full text and then the terminal event.
func (c *Client) consumeJSON(ctx context.Context, corrID string, body io.Reader, out chan<- domain.StreamEvent) {
	raw, err := io.ReadAll(body)
	if err != nil {
		c.emitReadError(ctx, out, corrID, err)
		return
	}

	var env normalize.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.emitTerminalError(ctx, out, domain.ErrDecode("upstream returned malformed JSON").WithCorrID(corrID))
		return
	}

	ans := normalize.Answer(env)
	if ans.CorrID == "" {
		ans.CorrID = corrID
	}

	if !c.emit(ctx, out, domain.StreamEvent{Text: ans.Text, Meta: ans.Meta}) {
		return
	}
	c.emit(ctx, out, domain.StreamEvent{Done: true, Meta: map[string]any{"corr_id": ans.CorrID}})
}

// consumeStream handles the raw byte-stream shape: each received chunk is
// decoded incrementally as UTF-8 and yielded as one delta event, preserving
// arrival order. A rune split across chunks is held back until complete.
func (c *Client) consumeStream(ctx context.Context, corrID string, body io.Reader, out chan<- domain.StreamEvent) {
	buf := make([]byte, 4096)
	var pending []byte

	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, rest := splitCompleteRunes(pending)
			pending = rest
			if len(complete) > 0 {
				if !c.emit(ctx, out, domain.StreamEvent{Text: string(complete)}) {
					return
				}
			}
		}

		if err != nil {
			if err != io.EOF {
				c.emitReadError(ctx, out, corrID, err)
				return
			}
			if len(pending) > 0 {
				// The source ended mid-rune: the tail is not decodable text.
				c.emitTerminalError(ctx, out, domain.ErrDecode("stream ended with truncated UTF-8 sequence").WithCorrID(corrID))
				return
			}
			c.emit(ctx, out, domain.StreamEvent{Done: true, Meta: map[string]any{"corr_id": corrID}})
			return
		}
	}
}

// emit delivers one event unless the turn is already cancelled or timed out.
// Returns false when delivery was suppressed; the caller stops yielding.
func (c *Client) emit(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitTerminalError yields the single terminal event of a failed turn.
func (c *Client) emitTerminalError(ctx context.Context, out chan<- domain.StreamEvent, relayErr *domain.RelayError) {
	c.emit(ctx, out, domain.StreamEvent{
		Done: true,
		Err:  relayErr,
		Meta: map[string]any{"corr_id": relayErr.CorrID},
	})
}

// emitTransportError classifies a failed relay call: user cancellation ends
// the sequence silently, a deadline becomes a timeout event, anything else
// is upstream_unreachable.
func (c *Client) emitTransportError(ctx context.Context, out chan<- domain.StreamEvent, corrID string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// Aborted by the caller: no further events.
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.forceEmit(out, domain.ErrTimeout("turn exceeded its time budget").WithCorrID(corrID))
	default:
		c.emitTerminalError(ctx, out, domain.ErrUpstreamUnreachable(err.Error()).WithCorrID(corrID))
	}
}

// emitReadError classifies a mid-body read failure the same way.
func (c *Client) emitReadError(ctx context.Context, out chan<- domain.StreamEvent, corrID string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.forceEmit(out, domain.ErrTimeout("turn exceeded its time budget").WithCorrID(corrID))
	default:
		c.emitTerminalError(ctx, out, domain.ErrDecode("stream read failed: "+truncateMessage(err.Error())).WithCorrID(corrID))
	}
}

// forceEmit delivers a timeout terminal event even though the turn context
// is already dead, so callers can distinguish "took too long" from "you
// stopped it". Delivery is best-effort with a short grace period.
func (c *Client) forceEmit(out chan<- domain.StreamEvent, relayErr *domain.RelayError) {
	ev := domain.StreamEvent{
		Done: true,
		Err:  relayErr,
		Meta: map[string]any{"corr_id": relayErr.CorrID},
	}
	select {
	case out <- ev:
	case <-time.After(time.Second):
	}
}

// splitCompleteRunes splits b into a prefix of whole UTF-8 runes and a
// remainder holding at most one incomplete trailing sequence.
func splitCompleteRunes(b []byte) (complete, rest []byte) {
	// Walk back at most three bytes looking for a rune start whose sequence
	// runs past the end of the buffer.
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		idx := len(b) - i
		if utf8.RuneStart(b[idx]) {
			if !utf8.FullRune(b[idx:]) {
				return b[:idx], b[idx:]
			}
			break
		}
	}
	return b, nil
}

// extractErrorMessage derives a human-readable message from a failed
// response body: error.message, message, or a string error field when the
// body parses as JSON, else the raw body truncated to a bounded length.
func extractErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(body)
	if err != nil || len(raw) == 0 {
		return "upstream returned an error with no body"
	}

	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if len(parsed.Error) > 0 {
			var errStr string
			if json.Unmarshal(parsed.Error, &errStr) == nil && errStr != "" {
				return truncateMessage(errStr)
			}
			var errObj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &errObj) == nil && errObj.Message != "" {
				return truncateMessage(errObj.Message)
			}
		}
		if parsed.Message != "" {
			return truncateMessage(parsed.Message)
		}
	}

	return truncateMessage(strings.TrimSpace(string(raw)))
}

func truncateMessage(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	return s[:maxErrorMessage]
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}
