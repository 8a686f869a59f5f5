// Package relay implements the same-origin proxy between the dashboard and
// the upstream reasoning service. It attaches the server-held credential,
// forwards the request, and returns the upstream response verbatim, passing
// streamed bodies through unbuffered.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/askwise/askrelay/internal/domain"
	"github.com/askwise/askrelay/internal/normalize"
	"github.com/askwise/askrelay/internal/server"
	"github.com/askwise/askrelay/internal/storage"
)

// APIKeyHeader is the credential header injected on every upstream call. It
// never appears in a response to the browser.
const APIKeyHeader = "X-Api-Key"

const (
	// maxRequestBody bounds the buffered client request body.
	maxRequestBody = 1 << 20

	// maxRecordedAnswer bounds the answer text kept in a turn record.
	maxRecordedAnswer = 2000
)

// route declares one allow-listed mapping from a relay path to an upstream
// sub-path. Nothing outside this table is reachable through the relay.
type route struct {
	method       string
	path         string
	upstreamPath string
	streaming    bool
}

var routes = []route{
	{http.MethodPost, "/ask/run", "/ask", false},
	{http.MethodPost, "/ask/stream", "/ask/stream", true},
}

// Handler relays ask requests to the configured upstream.
type Handler struct {
	upstreamBase    string
	apiKey          string
	upstreamTimeout time.Duration
	httpClient      *http.Client
	logger          *slog.Logger
	store           storage.InteractionStore
}

// Option configures the handler.
type Option func(*Handler)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		h.httpClient = client
	}
}

// WithInteractionStore enables best-effort turn recording.
func WithInteractionStore(store storage.InteractionStore) Option {
	return func(h *Handler) {
		h.store = store
	}
}

// WithUpstreamTimeout bounds buffered upstream calls. Streamed calls are
// bounded by the server's request timeout instead.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.upstreamTimeout = d
	}
}

// NewHandler creates a relay handler. upstreamBase may be empty; every
// request then fails fast with config_missing without a network call.
// apiKey may be empty; the call is then forwarded without the credential
// header and the upstream applies its own policy.
func NewHandler(upstreamBase, apiKey string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		upstreamBase:    strings.TrimRight(upstreamBase, "/"),
		apiKey:          apiKey,
		upstreamTimeout: 60 * time.Second,
		httpClient:      http.DefaultClient,
		logger:          logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Mount registers the declared routes on the router.
func (h *Handler) Mount(r chi.Router) {
	for _, rt := range routes {
		rt := rt
		r.Method(rt.method, rt.path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h.relay(w, req, rt)
		}))
	}
}

func (h *Handler) relay(w http.ResponseWriter, r *http.Request, rt route) {
	start := time.Now()
	corrID := server.GetCorrID(r.Context())

	if h.upstreamBase == "" {
		h.writeError(w, r, domain.ErrConfigMissing("upstream base URL is not configured").WithCorrID(corrID))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("failed to read request body").WithCorrID(corrID))
		return
	}

	var query domain.QueryRequest
	if err := json.Unmarshal(body, &query); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("request body must be a JSON object").WithCorrID(corrID))
		return
	}
	if query.Prompt() == "" {
		h.writeError(w, r, domain.ErrInvalidRequest("question must not be empty").WithCorrID(corrID))
		return
	}

	ctx := r.Context()
	if !rt.streaming && h.upstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.upstreamTimeout)
		defer cancel()
	}

	// The original buffered bytes are forwarded, not a re-marshal, so the
	// upstream sees exactly what the client sent.
	upReq, err := http.NewRequestWithContext(ctx, rt.method, h.upstreamBase+rt.upstreamPath, bytes.NewReader(body))
	if err != nil {
		h.writeError(w, r, domain.ErrUpstreamUnreachable("failed to build upstream request").WithCorrID(corrID))
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	upReq.Header.Set(server.CorrIDHeader, corrID)
	if h.apiKey != "" {
		upReq.Header.Set(APIKeyHeader, h.apiKey)
	}

	resp, err := h.httpClient.Do(upReq)
	if err != nil {
		// Log the cause; the client gets a generic body with no config detail.
		h.logger.Error("upstream call failed",
			slog.String("corr_id", corrID),
			slog.String("path", rt.upstreamPath),
			slog.String("error", err.Error()),
		)
		relayErr := domain.ErrUpstreamUnreachable("upstream service is unreachable").WithCorrID(corrID)
		h.writeError(w, r, relayErr)
		h.recordTurn(&query, corrID, rt.streaming, "", 0, string(relayErr.Kind), time.Since(start))
		return
	}
	defer resp.Body.Close()

	if isStreaming(resp) {
		h.passThroughStream(w, r, resp)
		h.recordTurn(&query, corrID, true, "", resp.StatusCode, turnStatus(resp.StatusCode), time.Since(start))
		return
	}

	h.passThroughBuffered(w, r, resp, &query, corrID, start)
}

// passThroughStream copies the upstream body to the client as it arrives,
// flushing per read so partial answers render immediately.
func (h *Handler) passThroughStream(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	copyContentType(w, resp)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				server.AddError(r.Context(), err)
			}
			return
		}
	}
}

func (h *Handler) passThroughBuffered(w http.ResponseWriter, r *http.Request, resp *http.Response, query *domain.QueryRequest, corrID string, start time.Time) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.writeError(w, r, domain.ErrDecode("failed to read upstream response").WithCorrID(corrID))
		h.recordTurn(query, corrID, false, "", resp.StatusCode, string(domain.ErrKindDecode), time.Since(start))
		return
	}

	// Non-2xx statuses and bodies pass through unchanged so the client can
	// apply its own error extraction.
	copyContentType(w, resp)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)

	answer := ""
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var env normalize.Envelope
		if json.Unmarshal(body, &env) == nil {
			answer = truncate(normalize.ExtractFinalText(env), maxRecordedAnswer)
		}
	}
	h.recordTurn(query, corrID, false, answer, resp.StatusCode, turnStatus(resp.StatusCode), time.Since(start))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, relayErr *domain.RelayError) {
	server.AddError(r.Context(), relayErr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(relayErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(map[string]any{"error": relayErr})
}

// recordTurn reports the completed turn to the interaction store, if one is
// configured. Failures are logged and never reach the client.
func (h *Handler) recordTurn(query *domain.QueryRequest, corrID string, streaming bool, answer string, upstreamStatus int, status string, duration time.Duration) {
	if h.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &storage.TurnRecord{
		CorrID:         corrID,
		Question:       truncate(query.Prompt(), maxRecordedAnswer),
		Answer:         answer,
		Status:         status,
		Streaming:      streaming,
		UpstreamStatus: upstreamStatus,
		UserID:         query.UserID,
		Duration:       duration,
	}
	if err := h.store.RecordTurn(ctx, rec); err != nil {
		h.logger.Error("failed to record turn",
			slog.String("corr_id", corrID),
			slog.String("error", err.Error()),
		)
	}
}

// isStreaming reports whether the upstream response should be passed through
// unbuffered: an event-stream content type or chunked transfer encoding.
func isStreaming(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "text/event-stream") {
		return true
	}
	return slices.Contains(resp.TransferEncoding, "chunked")
}

// copyContentType forwards only the content type. No other upstream header
// reaches the browser, which keeps the credential invariant checkable here.
func copyContentType(w http.ResponseWriter, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
}

func turnStatus(upstreamStatus int) string {
	if upstreamStatus >= 200 && upstreamStatus < 300 {
		return "ok"
	}
	return string(domain.ErrKindUpstreamHTTP)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
