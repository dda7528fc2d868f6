package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.JobFinished("chunk", OutcomeSucceeded, time.Second)
		m.DispatcherPaused()
		m.PollerPass("rebuild", 3, nil)
		m.TokensBilled("text-embedding-3-small", "training", 10)
		m.HTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobFinished(t *testing.T) {
	m := New()

	m.JobFinished("chunk", OutcomeSucceeded, 200*time.Millisecond)
	m.JobFinished("chunk", OutcomeSucceeded, 300*time.Millisecond)
	m.JobFinished("qa", OutcomeRetried, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues("chunk", OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("qa", OutcomeRetried)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.jobDuration))
}

func TestPollerPass(t *testing.T) {
	m := New()

	m.PollerPass("rebuild", 5, nil)
	m.PollerPass("rebuild", 0, nil)
	m.PollerPass("rebuild", 2, errors.New("boom"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.drained.WithLabelValues("rebuild")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drainErrors.WithLabelValues("rebuild")))
}

func TestTokensBilled_IgnoresEmpty(t *testing.T) {
	m := New()

	m.TokensBilled("m1", "search", 0)
	m.TokensBilled("m1", "search", 40)
	m.TokensBilled("m1", "search", 2)

	assert.Equal(t, 42.0, testutil.ToFloat64(m.tokens.WithLabelValues("m1", "search")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.DispatcherPaused()
	m.HTTPRequest(http.MethodPost, "/search", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kbindex_training_dispatcher_pauses_total 1")
	assert.Contains(t, string(body), `kbindex_http_requests_total{method="POST",route="/search",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
