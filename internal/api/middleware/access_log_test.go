package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestAccessLog_SeesTeamResolvedByAuth(t *testing.T) {
	validator := new(MockAuthValidator)
	validator.On("ValidateAPIKey", mock.Anything, "tok").Return("team-1", nil)

	var inner *requestState
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner, _ = r.Context().Value(requestStateKey).(*requestState)
		w.WriteHeader(http.StatusTeapot)
	})

	chain := AccessLog(logger.Nop())(RequestID(APIKeyAuth(validator)(handler)))

	req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	if assert.NotNil(t, inner) {
		assert.Equal(t, "team-1", inner.teamID)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", clientIP(req))
}

func TestSpanStatus(t *testing.T) {
	assert.Equal(t, sentry.SpanStatusOK, spanStatus(http.StatusAccepted))
	assert.Equal(t, sentry.SpanStatusResourceExhausted, spanStatus(http.StatusTooManyRequests))
	assert.Equal(t, sentry.SpanStatusAlreadyExists, spanStatus(http.StatusConflict))
}
