// Package chainstream shares one finalized-block stream per chain among every
// lane that watches it. The first subscriber of a chain opens the upstream
// stream, the last one to leave closes it, and late subscribers only see
// blocks finalized after they joined.
//
// Upstream failures are retried with truncated exponential backoff so that a
// flaky chain connection never tears down the subscriptions built on it.
package chainstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/resilience/retry"
	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/pkg/x/chflow"
)

var (
	// ErrUnknownChain is returned when subscribing to a chain that is not configured.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrMultiplexerClosed is returned by Subscribe after Close.
	ErrMultiplexerClosed = errors.New("multiplexer closed")

	// ErrStreamEnded is reported when a source closes its stream on its own.
	ErrStreamEnded = errors.New("block stream ended")
)

const subscriberBufferSize = 16

// Source opens finalized-block streams.
type Source interface {
	// FinalizedBlocks streams the finalized blocks of chainID in height order
	// until ctx is done. An event carrying Err ends the stream.
	FinalizedBlocks(ctx context.Context, chainID string) (<-chan BlockEvent, error)
}

// Observer is notified of stream activity.
type Observer interface {
	BlockSeen(ctx context.Context, chainID string, number uint64)
	StreamError(ctx context.Context, chainID string, err error)
}

type nopObserver struct{}

func (nopObserver) BlockSeen(context.Context, string, uint64)  {}
func (nopObserver) StreamError(context.Context, string, error) {}

// Multiplexer hands out shared per-chain block subscriptions.
type Multiplexer interface {
	// Subscribe attaches to the shared stream of chainID, opening it if needed.
	Subscribe(chainID string) (*Subscription, error)

	// Chains lists the configured chain ids.
	Chains() []string

	// Close detaches every subscriber and stops all upstream streams.
	Close()
}

// Subscription is one subscriber of a shared chain stream. Blocks are
// delivered in height order; the channel is never closed, Done is.
type Subscription struct {
	chainID string
	blocks  chan Block
	done    chan struct{}
	once    sync.Once
	release func()
}

// ChainID returns the chain the subscription is attached to.
func (s *Subscription) ChainID() string { return s.chainID }

// Blocks delivers finalized blocks.
func (s *Subscription) Blocks() <-chan Block { return s.blocks }

// Done is closed once the subscription is detached.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// detach closes the subscription without releasing it from its stream.
func (s *Subscription) detach() {
	s.once.Do(func() {
		close(s.done)
	})
}

type stream struct {
	cancel      context.CancelFunc
	subscribers map[uint64]*Subscription
}

type multiplexer struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	streams map[string]*stream
	nextID  uint64

	source     Source
	chains     types.Set[string]
	retryOpts  []retry.Option
	observer   Observer
	bufferSize int
}

var _ Multiplexer = (*multiplexer)(nil)

func (m *multiplexer) Subscribe(chainID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMultiplexerClosed
	}

	if !m.chains.Has(chainID) {
		return nil, ErrUnknownChain
	}

	st, ok := m.streams[chainID]
	if !ok {
		ctx, cancel := context.WithCancel(m.ctx)
		st = &stream{cancel: cancel, subscribers: make(map[uint64]*Subscription)}
		m.streams[chainID] = st
		m.startPump(ctx, chainID, st)
	}

	id := m.nextID
	m.nextID++

	sub := &Subscription{
		chainID: chainID,
		blocks:  make(chan Block, m.bufferSize),
		done:    make(chan struct{}),
	}
	sub.release = func() { m.release(chainID, id) }
	st.subscribers[id] = sub

	return sub, nil
}

func (m *multiplexer) Chains() []string {
	return types.Sorted(m.chains)
}

func (m *multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	m.cancel()

	for chainID, st := range m.streams {
		for _, sub := range st.subscribers {
			sub.detach()
		}
		delete(m.streams, chainID)
	}
}

// release removes a subscriber and stops the upstream when it was the last one.
func (m *multiplexer) release(chainID string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[chainID]
	if !ok {
		return
	}

	if _, ok := st.subscribers[id]; !ok {
		return
	}

	delete(st.subscribers, id)
	if len(st.subscribers) == 0 {
		st.cancel()
		delete(m.streams, chainID)
	}
}

// snapshot copies the current subscribers of st.
func (m *multiplexer) snapshot(st *stream) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := make([]*Subscription, 0, len(st.subscribers))
	for _, sub := range st.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// broadcast delivers block to every subscriber, waiting on slow ones unless
// they detach in the meantime.
func (m *multiplexer) broadcast(ctx context.Context, st *stream, block Block) {
	for _, sub := range m.snapshot(st) {
		if ok := chflow.SendOrDone(ctx, sub.done, sub.blocks, block); !ok && ctx.Err() != nil {
			return
		}
	}
}

// pump keeps the upstream of chainID open until ctx is canceled.
func (m *multiplexer) pump(ctx context.Context, chainID string, st *stream) {
	ctx = logger.WithFields(ctx, "chain.id", chainID)

	err := m.retrierFor(ctx, chainID).Execute(ctx, func() error {
		events, err := m.source.FinalizedBlocks(ctx, chainID)
		if err != nil {
			return err
		}

		for {
			ev, ok := chflow.Receive(ctx, events)
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamEnded
			}

			if ev.Err != nil {
				return ev.Err
			}

			m.observer.BlockSeen(ctx, chainID, ev.Block.Number)
			m.broadcast(ctx, st, ev.Block)
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Error(ctx, "chain stream stopped", "error", err)
	}
}

func (m *multiplexer) startPump(ctx context.Context, chainID string, st *stream) {
	go m.pump(ctx, chainID, st)
}

type config struct {
	retryOpts  []retry.Option
	observer   Observer
	bufferSize int
}

// Option configures a multiplexer built by New.
type Option func(*config)

// New returns a Multiplexer over source for the given chain ids. By default
// upstream failures are retried forever with delays growing from 1s up to 1m,
// except for chains the source does not serve.
func New(source Source, chains []string, opts ...Option) *multiplexer {
	cfg := config{
		observer:   nopObserver{},
		bufferSize: subscriberBufferSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &multiplexer{
		ctx:        ctx,
		cancel:     cancel,
		streams:    make(map[string]*stream),
		source:     source,
		chains:     types.NewSet(chains...),
		retryOpts:  cfg.retryOpts,
		observer:   cfg.observer,
		bufferSize: cfg.bufferSize,
	}
}

// retrierFor builds the upstream retry policy of chainID.
func (m *multiplexer) retrierFor(ctx context.Context, chainID string) retry.Retry {
	opts := []retry.Option{
		retry.WithAttempts(0),
		retry.WithDelay(time.Second),
		retry.WithMaxDelay(time.Minute),
		retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, ErrUnknownChain)
		}),
		retry.WithOnRetry(func(attempt uint, err error) {
			m.observer.StreamError(ctx, chainID, err)
			logger.Warn(ctx, "chain stream failed, retrying", "attempt", attempt+1, "error", err)
		}),
	}

	return retry.New(append(opts, m.retryOpts...)...)
}

// WithRetryOptions overrides the upstream retry policy.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *config) {
		c.retryOpts = append(c.retryOpts, opts...)
	}
}

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithBufferSize sets the per-subscriber block buffer.
func WithBufferSize(n int) Option {
	return func(c *config) {
		c.bufferSize = n
	}
}
