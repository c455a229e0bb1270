package presence

import (
	"context"
	"fmt"

	"github.com/Avicted/eventchat/internal/user"
	"github.com/redis/go-redis/v9"
)

// OnlineTracker mirrors per-process presence somewhere other processes can
// see it. Online is called when a user's first connection binds here and
// Offline when their last one goes away.
type OnlineTracker interface {
	Online(ctx context.Context, u user.ID) error
	Offline(ctx context.Context, u user.ID) error
	Lookup(ctx context.Context, ids []user.ID) (map[user.ID]bool, error)
}

type NopTracker struct{}

func (NopTracker) Online(context.Context, user.ID) error  { return nil }
func (NopTracker) Offline(context.Context, user.ID) error { return nil }

func (NopTracker) Lookup(context.Context, []user.ID) (map[user.ID]bool, error) {
	return map[user.ID]bool{}, nil
}

const DefaultOnlineKey = "chat:online"

// decrementScript drops the field once no process holds the user.
var decrementScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// RedisTracker keeps a hash of user id -> number of processes holding at
// least one connection for that user. Counts left by a process that exits
// without disconnecting its clients are never expired.
type RedisTracker struct {
	client *redis.Client
	key    string
}

func NewRedisTracker(ctx context.Context, redisURL string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisTracker{client: client, key: DefaultOnlineKey}, nil
}

func (t *RedisTracker) Online(ctx context.Context, u user.ID) error {
	if err := t.client.HIncrBy(ctx, t.key, u.String(), 1).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (t *RedisTracker) Offline(ctx context.Context, u user.ID) error {
	if err := decrementScript.Run(ctx, t.client, []string{t.key}, u.String()).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (t *RedisTracker) Lookup(ctx context.Context, ids []user.ID) (map[user.ID]bool, error) {
	out := make(map[user.ID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = id.String()
	}
	vals, err := t.client.HMGet(ctx, t.key, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup online: %w", err)
	}
	for i, v := range vals {
		out[ids[i]] = v != nil
	}
	return out, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
