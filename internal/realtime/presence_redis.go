package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "carelink:presence:"

// Entries carry a TTL so a crashed gateway instance cannot leave users
// marked online forever; live connections are re-registered by reconnects.
const presenceTTL = 24 * time.Hour

// guardedDeleteScript removes the presence key only when it still holds the
// caller's connection ID, making Unregister's stale-disconnect guard atomic
// across gateway instances.
var guardedDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisDirectory is the Directory for multi-instance deployments: every
// gateway shares one presence keyspace, so a call initiated on one instance
// can find a receiver connected to another.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

// OpenRedis connects a client from a redis:// URL and verifies it with a ping.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func presenceKey(userID uuid.UUID) string {
	return presenceKeyPrefix + userID.String()
}

func (d *RedisDirectory) Register(ctx context.Context, userID uuid.UUID, connID string) error {
	if err := d.client.Set(ctx, presenceKey(userID), connID, presenceTTL).Err(); err != nil {
		return fmt.Errorf("register presence for %s: %w", userID, err)
	}
	return nil
}

func (d *RedisDirectory) Lookup(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	connID, err := d.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup presence for %s: %w", userID, err)
	}
	return connID, true, nil
}

func (d *RedisDirectory) Unregister(ctx context.Context, userID uuid.UUID, connID string) error {
	if err := guardedDeleteScript.Run(ctx, d.client, []string{presenceKey(userID)}, connID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("unregister presence for %s: %w", userID, err)
	}
	return nil
}
