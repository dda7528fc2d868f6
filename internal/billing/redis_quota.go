package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisQuota counts tokens per team in fixed windows. A limit of zero or
// less disables enforcement.
type RedisQuota struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisQuota(client redis.UniversalClient, limit int64, window time.Duration) *RedisQuota {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RedisQuota{
		client: client,
		limit:  limit,
		window: window,
		prefix: "kbindex:quota",
		now:    time.Now,
	}
}

func (q *RedisQuota) key(teamID string) string {
	start := q.now().UTC().Truncate(q.window).Unix()
	return fmt.Sprintf("%s:%s:%d", q.prefix, teamID, start)
}

// Used returns the tokens counted for the team in the current window.
func (q *RedisQuota) Used(ctx context.Context, teamID string) (int64, error) {
	v, err := q.client.Get(ctx, q.key(teamID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (q *RedisQuota) Check(ctx context.Context, teamID string) error {
	if q.limit <= 0 {
		return nil
	}
	used, err := q.Used(ctx, teamID)
	if err != nil {
		// an unreachable counter must not stop training
		return nil
	}
	if used >= q.limit {
		return domain.Wrap(domain.ErrQuotaExhausted, fmt.Errorf("team %s used %d of %d tokens", teamID, used, q.limit))
	}
	return nil
}

func (q *RedisQuota) Add(ctx context.Context, teamID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	key := q.key(teamID)
	pipe := q.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(tokens))
	pipe.Expire(ctx, key, q.window+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
