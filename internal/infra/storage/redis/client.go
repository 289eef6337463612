// Package redis persists subscriptions, pending match state and scheduled
// tasks in Redis. Values are JSON documents; secondary indexes are sets and
// a sorted set of due times.
package redis

import (
	"context"
	"fmt"

	"github.com/gabapcia/xcmwatch/internal/matching"
	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/subscription"

	redis "github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key written by the service.
const keyPrefix = "xcmwatch"

type client struct {
	conn *redis.Client
}

var (
	_ subscription.Storage    = (*client)(nil)
	_ matching.PendingStorage = (*client)(nil)
	_ scheduler.Storage       = (*client)(nil)
)

func (c *client) Close() error {
	return c.conn.Close()
}

// NewClient connects to the Redis server at addr and checks it answers.
func NewClient(ctx context.Context, addr, username, password string, db int) (*client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})

	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	return &client{
		conn: conn,
	}, nil
}
