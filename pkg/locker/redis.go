package locker

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const acquireRetryInterval = 50 * time.Millisecond

// releaseScript deletes the lock key only when the caller still holds it, so
// a lock that expired and was re-acquired by someone else is never released
// from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements both locker primitives on a Redis SET NX + TTL
// pattern. It is the production locker: locks survive across processes and
// die with their TTL if a holder crashes.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "stepflow"
	}

	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, workflowID string, ttl time.Duration) (ReleaseFunc, error) {
	key := l.prefix + ":lock:workflow:" + workflowID
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}

		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()

				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockBusy
		case <-time.After(acquireRetryInterval):
		}
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := l.prefix + ":lease:" + name

	return l.client.SetNX(ctx, key, "1", ttl).Result()
}
