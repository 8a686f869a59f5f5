package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrIDKey is the context key for correlation ids
type contextKey string

const CorrIDKey contextKey = "corr_id"

// CorrIDHeader is the header carrying the turn's correlation id in both
// directions.
const CorrIDHeader = "X-Corr-Id"

// CorrIDMiddleware attaches a correlation id to each request. An inbound
// X-Corr-Id header is honored so a turn keeps one id across client, relay
// and upstream; otherwise a new id is generated. The id is stored in the
// context and echoed as the X-Corr-Id response header.
func CorrIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get(CorrIDHeader)
		if corrID == "" {
			corrID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), CorrIDKey, corrID)
		w.Header().Set(CorrIDHeader, corrID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrID retrieves the correlation id from context.
// Returns an empty string if none is set.
func GetCorrID(ctx context.Context) string {
	if corrID, ok := ctx.Value(CorrIDKey).(string); ok {
		return corrID
	}
	return ""
}
