package memory

import (
	"context"
	"slices"
	"time"

	"github.com/gabapcia/xcmwatch/internal/scheduler"
)

func (s *storage) PutTask(_ context.Context, task scheduler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.Key] = task
	return nil
}

func (s *storage) DueTasks(_ context.Context, now time.Time, limit int) ([]scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.tasks))
	for key, task := range s.tasks {
		if !task.DueAt.After(now) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]scheduler.Task, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.tasks[key])
	}
	return out, nil
}

func (s *storage) DeleteTask(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, key)
	return nil
}
