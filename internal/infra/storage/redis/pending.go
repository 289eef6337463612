package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gabapcia/xcmwatch/internal/matching"

	"github.com/redis/go-redis/v9"
)

// pendingKey holds one pending state.
//
// Format: "xcmwatch:pending:{family}:{key}"
func pendingKey(family matching.Family, key string) string {
	return fmt.Sprintf("%s:pending:%s:%s", keyPrefix, family, key)
}

// pendingIndexKey holds the "{family}:{key}" members of every pending state
// of a subscription.
//
// Format: "xcmwatch:pending:subscription:{subscriptionID}"
func pendingIndexKey(subscriptionID string) string {
	return fmt.Sprintf("%s:pending:subscription:%s", keyPrefix, subscriptionID)
}

func pendingMember(family matching.Family, key string) string {
	return string(family) + ":" + key
}

func (c *client) GetPending(ctx context.Context, family matching.Family, key string) (matching.Pending, error) {
	data, err := c.conn.Get(ctx, pendingKey(family, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return matching.Pending{}, fmt.Errorf("%w: %s %s", matching.ErrPendingNotFound, family, key)
	}
	if err != nil {
		return matching.Pending{}, err
	}

	var p matching.Pending
	return p, json.Unmarshal(data, &p)
}

func (c *client) PutPending(ctx context.Context, family matching.Family, key string, p matching.Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	_, err = c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, pendingKey(family, key), data, 0)
		pipe.SAdd(ctx, pendingIndexKey(p.SubscriptionID), pendingMember(family, key))
		return nil
	})
	return err
}

func (c *client) DeletePending(ctx context.Context, family matching.Family, key string) error {
	p, err := c.GetPending(ctx, family, key)
	if errors.Is(err, matching.ErrPendingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pendingKey(family, key))
		pipe.SRem(ctx, pendingIndexKey(p.SubscriptionID), pendingMember(family, key))
		return nil
	})
	return err
}

func (c *client) DeletePendingBySubscription(ctx context.Context, subscriptionID string) error {
	members, err := c.conn.SMembers(ctx, pendingIndexKey(subscriptionID)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		family, key, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		keys = append(keys, pendingKey(matching.Family(family), key))
	}
	keys = append(keys, pendingIndexKey(subscriptionID))

	return c.conn.Del(ctx, keys...).Err()
}
