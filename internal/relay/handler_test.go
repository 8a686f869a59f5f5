package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/askwise/askrelay/internal/domain"
	"github.com/askwise/askrelay/internal/server"
	"github.com/askwise/askrelay/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRelayServer mounts the handler behind the correlation-id middleware the
// way the real router does.
func newRelayServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(server.CorrIDMiddleware)
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postAsk(t *testing.T, url, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestRelay_MissingBaseURL(t *testing.T) {
	// A transport that fails the test proves no network call is attempted.
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		t.Error("relay attempted a network call with no base URL configured")
		return nil, io.ErrUnexpectedEOF
	})}

	h := NewHandler("", "secret", testLogger(), WithHTTPClient(client))
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "hi"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}

	var body struct {
		Error domain.RelayError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error.Kind != domain.ErrKindConfigMissing {
		t.Errorf("error kind = %q, want config_missing", body.Error.Kind)
	}
	if body.Error.CorrID == "" {
		t.Error("error body is missing the correlation id")
	}
}

func TestRelay_UpstreamUnreachable(t *testing.T) {
	// A server that is already closed gives a real connection error.
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	h := NewHandler(upstream.URL, "super-secret-key", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "super-secret-key") {
		t.Error("502 body leaked the credential")
	}
	if strings.Contains(string(raw), upstream.URL) {
		t.Error("502 body leaked the upstream URL")
	}
}

func TestRelay_InvalidRequest(t *testing.T) {
	h := NewHandler("http://upstream.invalid", "k", testLogger())
	srv := newRelayServer(t, h)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"empty question", `{"question": "   "}`},
		{"no question field", `{"context": "c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postAsk(t, srv.URL, "/ask/run", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestRelay_QueryAliasAccepted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"final_text": "ok"}`))
	}))
	defer upstream.Close()

	h := NewHandler(upstream.URL, "k", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"query": "hi there"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRelay_CredentialInjection(t *testing.T) {
	var gotKey, gotCorrID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(APIKeyHeader)
		gotCorrID = r.Header.Get(server.CorrIDHeader)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(APIKeyHeader, "echoed-by-misbehaving-upstream")
		w.Write([]byte(`{"final_text": "hello"}`))
	}))
	defer upstream.Close()

	h := NewHandler(upstream.URL, "server-secret", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "hi"}`)

	if gotKey != "server-secret" {
		t.Errorf("upstream saw api key %q, want %q", gotKey, "server-secret")
	}
	if gotCorrID == "" {
		t.Error("upstream call is missing the correlation id header")
	}
	if got := resp.Header.Get(APIKeyHeader); got != "" {
		t.Errorf("client response leaked %s = %q", APIKeyHeader, got)
	}

	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "server-secret") {
		t.Error("client response body leaked the credential")
	}
}

func TestRelay_MissingCredentialDegrades(t *testing.T) {
	var keyPresent bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, keyPresent = r.Header[APIKeyHeader]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"final_text": "anonymous ok"}`))
	}))
	defer upstream.Close()

	h := NewHandler(upstream.URL, "", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if keyPresent {
		t.Error("relay sent an empty credential header")
	}
}

func TestRelay_UpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer upstream.Close()

	h := NewHandler(upstream.URL, "k", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "hi"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 passed through", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "slow down") {
		t.Errorf("upstream error body not passed through, got %q", raw)
	}
}

func TestRelay_StreamingPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"He", "llo", " world"} {
			w.Write([]byte(chunk))
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer upstream.Close()

	h := NewHandler(upstream.URL, "k", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/stream", `{"question": "hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("cache-control = %q, want no-cache", cc)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if string(raw) != "Hello world" {
		t.Errorf("stream body = %q, want %q", raw, "Hello world")
	}
}

func TestRelay_RecordsTurns(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"final_text": "recorded answer"}`))
	}))
	defer upstream.Close()

	store := memory.New()
	h := NewHandler(upstream.URL, "k", testLogger(), WithInteractionStore(store))
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "what happened?", "user_id": "u-7"}`)
	corrID := resp.Header.Get(server.CorrIDHeader)
	if corrID == "" {
		t.Fatal("response is missing the correlation id header")
	}

	rec, err := store.GetTurn(context.Background(), corrID)
	if err != nil {
		t.Fatalf("GetTurn(%s) error = %v", corrID, err)
	}
	if rec.Question != "what happened?" {
		t.Errorf("recorded question = %q", rec.Question)
	}
	if rec.Answer != "recorded answer" {
		t.Errorf("recorded answer = %q", rec.Answer)
	}
	if rec.Status != "ok" || rec.UserID != "u-7" || rec.Streaming {
		t.Errorf("recorded turn = %+v", rec)
	}
}

func TestRelay_RecordsFailedTurns(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	store := memory.New()
	h := NewHandler(upstream.URL, "k", testLogger(), WithInteractionStore(store))
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/run", `{"question": "hi"}`)
	corrID := resp.Header.Get(server.CorrIDHeader)

	rec, err := store.GetTurn(context.Background(), corrID)
	if err != nil {
		t.Fatalf("GetTurn(%s) error = %v", corrID, err)
	}
	if rec.Status != string(domain.ErrKindUpstreamHTTP) {
		t.Errorf("recorded status = %q, want upstream_http_error", rec.Status)
	}
	if rec.UpstreamStatus != http.StatusServiceUnavailable {
		t.Errorf("recorded upstream status = %d, want 503", rec.UpstreamStatus)
	}
}

func TestRelay_UnknownPathNotRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("upstream reached via undeclared path %s", r.URL.Path)
	}))
	defer upstream.Close()

	h := NewHandler(upstream.URL, "k", testLogger())
	srv := newRelayServer(t, h)

	resp := postAsk(t, srv.URL, "/ask/../admin", `{"question": "hi"}`)
	if resp.StatusCode == http.StatusOK {
		t.Error("undeclared path was relayed")
	}
}
