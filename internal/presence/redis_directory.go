package presence

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineSetKey  = "chat:presence:online"
	lastActiveKey = "chat:presence:last_active"
)

// RedisDirectory mirrors the online set into Redis. It is written by this
// process and read by anything that needs presence without holding the
// connections.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func (d *RedisDirectory) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	pipe := d.client.Pipeline()
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.HSet(ctx, lastActiveKey, userID, at.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	pipe := d.client.Pipeline()
	pipe.SRem(ctx, onlineSetKey, userID)
	pipe.HSet(ctx, lastActiveKey, userID, at.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

// Online lists the users marked online, sorted.
func (d *RedisDirectory) Online(ctx context.Context) ([]string, error) {
	ids, err := d.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear empties the online set; called at startup since a restarted process
// holds no connections.
func (d *RedisDirectory) Clear(ctx context.Context) error {
	return d.client.Del(ctx, onlineSetKey).Err()
}
