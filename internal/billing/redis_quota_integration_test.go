//go:build integration

package billing

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisQuota(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRedisContainer(ctx, t)
	defer rc.Terminate(ctx)

	client := redis.NewClient(&redis.Options{Addr: rc.Addr()})
	defer client.Close()

	q := NewRedisQuota(client, 100, time.Hour)
	fixed := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	require.NoError(t, q.Check(ctx, "team-1"))

	require.NoError(t, q.Add(ctx, "team-1", 60))
	require.NoError(t, q.Check(ctx, "team-1"))

	require.NoError(t, q.Add(ctx, "team-1", 40))
	err := q.Check(ctx, "team-1")
	assert.True(t, domain.IsResourceExhausted(err))

	used, err := q.Used(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)

	assert.NoError(t, q.Check(ctx, "team-2"))

	// next window starts from zero
	q.now = func() time.Time { return fixed.Add(time.Hour) }
	assert.NoError(t, q.Check(ctx, "team-1"))

	ttl, err := client.TTL(ctx, "kbindex:quota:team-1:"+strconv.FormatInt(fixed.Truncate(time.Hour).Unix(), 10)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)
}
