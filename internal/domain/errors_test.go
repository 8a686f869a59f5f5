package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *RelayError
		want int
	}{
		{"config missing", ErrConfigMissing("no base url"), http.StatusInternalServerError},
		{"invalid request", ErrInvalidRequest("empty question"), http.StatusBadRequest},
		{"unreachable", ErrUpstreamUnreachable("refused"), http.StatusBadGateway},
		{"upstream status passes through", ErrUpstreamHTTP(429, "slow down"), 429},
		{"upstream error without status", NewRelayError(ErrKindUpstreamHTTP, "x"), http.StatusBadGateway},
		{"timeout", ErrTimeout("too slow"), http.StatusGatewayTimeout},
		{"decode", ErrDecode("bad bytes"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRelayError_Error(t *testing.T) {
	err := ErrUpstreamHTTP(503, "overloaded")
	if got := err.Error(); got != "upstream_http_error (status 503): overloaded" {
		t.Errorf("Error() = %q", got)
	}

	plain := ErrDecode("bad bytes")
	if got := plain.Error(); got != "decode_error: bad bytes" {
		t.Errorf("Error() = %q", got)
	}
}

func TestToRelayError(t *testing.T) {
	original := ErrTimeout("late").WithCorrID("c-1")
	wrapped := fmt.Errorf("turn failed: %w", original)

	got := ToRelayError(wrapped)
	if got != original {
		t.Errorf("ToRelayError() did not unwrap to the original error")
	}

	generic := ToRelayError(errors.New("dial tcp: refused"))
	if generic.Kind != ErrKindUpstreamUnreachable {
		t.Errorf("ToRelayError() kind = %q, want upstream_unreachable", generic.Kind)
	}
}
