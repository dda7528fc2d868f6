package middleware

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

const (
	RequestIDKey    contextKey = "request_id"
	requestStateKey contextKey = "request_state"
)

// requestState is shared by pointer so outer middleware can read what inner
// middleware resolved after next.ServeHTTP returns.
type requestState struct {
	requestID string
	teamID    string
}

func withRequestState(r *http.Request) (*http.Request, *requestState) {
	if st, ok := r.Context().Value(requestStateKey).(*requestState); ok {
		return r, st
	}
	st := &requestState{}
	return r.WithContext(context.WithValue(r.Context(), requestStateKey, st)), st
}

// RequestID propagates a caller supplied X-Request-ID or mints a new one.
// Oversized or non-printable ids are replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		r, st := withRequestState(r)
		st.requestID = id
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// BodyLimit caps request bodies at limit bytes. Requests that declare a larger
// Content-Length are refused up front; chunked bodies are cut off while being
// read and surface as http.MaxBytesError from the decoder.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
