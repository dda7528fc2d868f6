package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs_RedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-123", "dataset_id", "ds1", "Authorization", "Bearer x"})

	assert.Equal(t, []interface{}{"api_key", "[REDACTED]", "dataset_id", "ds1", "Authorization", "[REDACTED]"}, out)
}

func TestSanitizeKVs_KeepsTokenCounts(t *testing.T) {
	out := sanitizeKVs([]interface{}{"tokens", 42, "bearer_token", "abc"})

	assert.Equal(t, []interface{}{"tokens", 42, "bearer_token", "[REDACTED]"}, out)
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"job_id", "j1", "dangling"})

	assert.Equal(t, []interface{}{"job_id", "j1", "dangling"}, out)
}

func TestLogger_WithAndInfo(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("worker_id", "w1").Info("claimed job", "job_id", "j1", "secret", "s")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "claimed job", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "w1", fields["worker_id"])
	assert.Equal(t, "j1", fields["job_id"])
	assert.Equal(t, "[REDACTED]", fields["secret"])
}

func TestNew(t *testing.T) {
	l, err := New("production")
	require.NoError(t, err)
	assert.NotNil(t, l.SugaredLogger)

	l, err = New("dev")
	require.NoError(t, err)
	assert.NotNil(t, l.SugaredLogger)

	Nop().Info("ignored")
}
