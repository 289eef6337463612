// Package scheduler runs durable deferred tasks. Tasks are stored under a
// time ordered key so that the ones due first are read first; a ticker pulls
// due tasks and hands each one, on a bounded pool of workers, to the handler
// registered for its type. A task is deleted once its handler returns.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
)

// ErrServiceAlreadyStarted is returned when Start is called twice.
var ErrServiceAlreadyStarted = errors.New("scheduler already started")

const (
	// keyLayout is a fixed width timestamp so that keys sort by due time.
	keyLayout = "2006-01-02T15:04:05.000Z"

	defaultFrequency   = 5 * time.Second
	defaultBatchSize   = 100
	defaultConcurrency = 16
)

// Task is a deferred unit of work.
type Task struct {
	Key     string          `json:"key"`
	Type    string          `json:"type"`
	DueAt   time.Time       `json:"dueAt"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// TaskKey builds the time ordered key of a task due at dueAt.
func TaskKey(dueAt time.Time, id string) string {
	return dueAt.UTC().Format(keyLayout) + id
}

// NewTask builds a task of taskType due at dueAt. Scheduling two tasks with
// the same due time and id overwrites the first.
func NewTask(taskType, id string, dueAt time.Time, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", taskType, err)
	}

	return Task{
		Key:     TaskKey(dueAt, id),
		Type:    taskType,
		DueAt:   dueAt.UTC(),
		Payload: raw,
	}, nil
}

// Handler runs a due task. The task is deleted whatever it returns.
type Handler func(ctx context.Context, task Task) error

// Storage persists tasks.
type Storage interface {
	// PutTask stores task under its key, replacing any task with the same key.
	PutTask(ctx context.Context, task Task) error

	// DueTasks returns up to limit tasks due at or before now, in key order.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// DeleteTask removes the task stored under key. Missing keys are ignored.
	DeleteTask(ctx context.Context, key string) error
}

// Scheduler stores tasks and dispatches them when due.
type Scheduler interface {
	// Schedule stores task for later execution.
	Schedule(ctx context.Context, task Task) error

	// On registers the handler of taskType, replacing a previous one.
	On(taskType string, handler Handler)

	// Start begins polling for due tasks.
	Start(ctx context.Context) error

	// Close stops polling, cancels the running tasks and waits for them.
	Close()
}

type scheduler struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc context.CancelFunc
	wg        sync.WaitGroup

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// slots bounds the tasks running at once; inflight holds their keys so
	// that a task still running is not started again by the next poll.
	slots      chan struct{}
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	storage   Storage
	frequency time.Duration
	batchSize int
	now       func() time.Time
}

var _ Scheduler = (*scheduler)(nil)

func (s *scheduler) Schedule(ctx context.Context, task Task) error {
	if err := s.storage.PutTask(ctx, task); err != nil {
		return fmt.Errorf("schedule %s task: %w", task.Type, err)
	}

	logger.Debug(ctx, "task scheduled", "task.key", task.Key, "task.type", task.Type)
	return nil
}

func (s *scheduler) On(taskType string, handler Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	s.handlers[taskType] = handler
}

func (s *scheduler) handler(taskType string) (Handler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	h, ok := s.handlers[taskType]
	return h, ok
}

// run executes one task and removes it.
func (s *scheduler) run(ctx context.Context, task Task) {
	ctx = logger.WithFields(ctx, "task.key", task.Key, "task.type", task.Type)

	if h, ok := s.handler(task.Type); ok {
		if err := h(ctx, task); err != nil {
			logger.Error(ctx, "task failed", "error", err)
		}
	} else {
		logger.Warn(ctx, "no handler for task type")
	}

	if err := s.storage.DeleteTask(context.WithoutCancel(ctx), task.Key); err != nil {
		logger.Error(ctx, "could not delete task", "error", err)
	}
}

// launch runs task on its own goroutine unless it is already running. It
// waits for a free slot when wait is set and gives up otherwise. batch, when
// not nil, tracks the launched task.
func (s *scheduler) launch(ctx context.Context, task Task, wait bool, batch *sync.WaitGroup) bool {
	if wait {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return false
		}
	} else {
		select {
		case s.slots <- struct{}{}:
		default:
			return false
		}
	}

	s.inflightMu.Lock()
	if _, running := s.inflight[task.Key]; running {
		s.inflightMu.Unlock()
		<-s.slots
		return true
	}
	s.inflight[task.Key] = struct{}{}
	s.inflightMu.Unlock()

	s.wg.Add(1)
	if batch != nil {
		batch.Add(1)
	}

	go func() {
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, task.Key)
			s.inflightMu.Unlock()

			<-s.slots
			s.wg.Done()
			if batch != nil {
				batch.Done()
			}
		}()

		s.run(ctx, task)
	}()

	return true
}

// RunDue executes up to one batch of tasks due now and waits for them.
// Tasks start in key order; with a concurrency of one they also finish in it.
func (s *scheduler) RunDue(ctx context.Context) error {
	tasks, err := s.storage.DueTasks(ctx, s.now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("read due tasks: %w", err)
	}

	var batch sync.WaitGroup
	defer batch.Wait()

	for _, task := range tasks {
		if !s.launch(ctx, task, true, &batch) {
			return ctx.Err()
		}
	}

	return nil
}

// dispatchDue starts the due tasks that fit in the free slots without
// waiting for them. The rest are picked up by a later poll.
func (s *scheduler) dispatchDue(ctx context.Context) error {
	tasks, err := s.storage.DueTasks(ctx, s.now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("read due tasks: %w", err)
	}

	for _, task := range tasks {
		if !s.launch(ctx, task, false, nil) {
			break
		}
	}

	return nil
}

func (s *scheduler) poll(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.dispatchDue(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.closeFunc = cancel
	s.isStarted = true

	s.wg.Add(1)
	go s.poll(ctx)

	logger.Info(ctx, "scheduler started", "scheduler.frequency", s.frequency.String())
	return nil
}

func (s *scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isStarted {
		return
	}

	s.closeFunc()
	s.wg.Wait()
	s.isStarted = false
}

type config struct {
	frequency   time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
}

// Option configures a scheduler built by New.
type Option func(*config)

// WithFrequency sets how often due tasks are polled.
func WithFrequency(d time.Duration) Option {
	return func(c *config) {
		c.frequency = d
	}
}

// WithBatchSize caps how many tasks are read per storage call.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithConcurrency caps how many tasks run at once.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New returns a Scheduler persisting tasks in storage.
func New(storage Storage, opts ...Option) *scheduler {
	cfg := config{
		frequency:   defaultFrequency,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	return &scheduler{
		handlers:  make(map[string]Handler),
		slots:     make(chan struct{}, cfg.concurrency),
		inflight:  make(map[string]struct{}),
		storage:   storage,
		frequency: cfg.frequency,
		batchSize: cfg.batchSize,
		now:       cfg.now,
	}
}
