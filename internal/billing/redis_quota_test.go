package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedisQuota_Unlimited(t *testing.T) {
	q := NewRedisQuota(nil, 0, time.Hour)
	assert.NoError(t, q.Check(context.Background(), "team-1"))
	assert.NoError(t, q.Add(context.Background(), "team-1", 0))
}

func TestRedisQuota_KeyPerWindow(t *testing.T) {
	q := NewRedisQuota(nil, 10, time.Hour)
	q.now = func() time.Time { return time.Date(2026, 1, 1, 10, 59, 0, 0, time.UTC) }
	first := q.key("team-1")

	q.now = func() time.Time { return time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC) }
	second := q.key("team-1")

	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "kbindex:quota:team-1:")
}
