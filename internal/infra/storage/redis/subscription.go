package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/gabapcia/xcmwatch/internal/subscription"

	"github.com/redis/go-redis/v9"
)

// subscriptionKey holds the JSON descriptor of id.
//
// Format: "xcmwatch:subscription:{id}"
func subscriptionKey(id string) string {
	return fmt.Sprintf("%s:subscription:%s", keyPrefix, id)
}

// originIndexKey holds the ids of the subscriptions watching chainID.
//
// Format: "xcmwatch:subscription:origin:{chainID}"
func originIndexKey(chainID string) string {
	return fmt.Sprintf("%s:subscription:origin:%s", keyPrefix, chainID)
}

func (c *client) GetByID(ctx context.Context, id string) (subscription.Subscription, error) {
	data, err := c.conn.Get(ctx, subscriptionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return subscription.Subscription{}, fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return subscription.Subscription{}, err
	}

	var sub subscription.Subscription
	return sub, json.Unmarshal(data, &sub)
}

// ListByOrigin returns the descriptors of chainID ordered by id. Index
// entries whose descriptor is gone are skipped.
func (c *client) ListByOrigin(ctx context.Context, chainID string) ([]subscription.Subscription, error) {
	ids, err := c.conn.SMembers(ctx, originIndexKey(chainID)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = subscriptionKey(id)
	}

	values, err := c.conn.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	subs := make([]subscription.Subscription, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}

		var sub subscription.Subscription
		if err := json.Unmarshal([]byte(data), &sub); err != nil {
			return nil, fmt.Errorf("decode subscription %s: %w", ids[i], err)
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

func (c *client) Insert(ctx context.Context, sub subscription.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	ok, err := c.conn.SetNX(ctx, subscriptionKey(sub.ID), data, 0).Result()
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", subscription.ErrSubscriptionExists, sub.ID)
	}

	return c.conn.SAdd(ctx, originIndexKey(sub.Origin), sub.ID).Err()
}

func (c *client) Save(ctx context.Context, sub subscription.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	previous, err := c.GetByID(ctx, sub.ID)
	if err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return err
	}

	_, err = c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous.Origin != "" && previous.Origin != sub.Origin {
			pipe.SRem(ctx, originIndexKey(previous.Origin), sub.ID)
		}
		pipe.Set(ctx, subscriptionKey(sub.ID), data, 0)
		pipe.SAdd(ctx, originIndexKey(sub.Origin), sub.ID)
		return nil
	})
	return err
}

func (c *client) Remove(ctx context.Context, id string) error {
	sub, err := c.GetByID(ctx, id)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, subscriptionKey(id))
		pipe.SRem(ctx, originIndexKey(sub.Origin), id)
		return nil
	})
	return err
}
