package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/gabapcia/xcmwatch/internal/scheduler"

	"github.com/redis/go-redis/v9"
)

// dueIndexKey is a sorted set of task keys scored by due time in milliseconds.
var dueIndexKey = keyPrefix + ":scheduler:due"

// taskKey holds one scheduled task.
//
// Format: "xcmwatch:scheduler:task:{key}"
func taskKey(key string) string {
	return fmt.Sprintf("%s:scheduler:task:%s", keyPrefix, key)
}

func (c *client) PutTask(ctx context.Context, task scheduler.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	_, err = c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.Key), data, 0)
		pipe.ZAdd(ctx, dueIndexKey, redis.Z{Score: float64(task.DueAt.UnixMilli()), Member: task.Key})
		return nil
	})
	return err
}

// DueTasks returns up to limit tasks due at or before now, in key order.
// Index entries whose task is gone are dropped from the index.
func (c *client) DueTasks(ctx context.Context, now time.Time, limit int) ([]scheduler.Task, error) {
	keys, err := c.conn.ZRangeByScore(ctx, dueIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return nil, nil
	}
	slices.Sort(keys)

	dataKeys := make([]string, len(keys))
	for i, key := range keys {
		dataKeys[i] = taskKey(key)
	}

	values, err := c.conn.MGet(ctx, dataKeys...).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]scheduler.Task, 0, len(values))
	var stale []any
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}

		var task scheduler.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", keys[i], err)
		}
		tasks = append(tasks, task)
	}

	if len(stale) > 0 {
		if err := c.conn.ZRem(ctx, dueIndexKey, stale...).Err(); err != nil {
			return nil, err
		}
	}

	return tasks, nil
}

func (c *client) DeleteTask(ctx context.Context, key string) error {
	_, err := c.conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, taskKey(key))
		pipe.ZRem(ctx, dueIndexKey, key)
		return nil
	})
	return err
}
