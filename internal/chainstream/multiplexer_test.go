package chainstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/resilience/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource hands out streams fed by the test.
type fakeSource struct {
	mu      sync.Mutex
	opened  atomic.Int32
	streams map[string]chan BlockEvent
	ctxs    map[string]context.Context
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		streams: make(map[string]chan BlockEvent),
		ctxs:    make(map[string]context.Context),
	}
}

func (f *fakeSource) FinalizedBlocks(ctx context.Context, chainID string) (<-chan BlockEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	ch := make(chan BlockEvent)
	f.streams[chainID] = ch
	f.ctxs[chainID] = ctx
	return ch, nil
}

func (f *fakeSource) stream(t *testing.T, chainID string) chan BlockEvent {
	t.Helper()

	var ch chan BlockEvent
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch = f.streams[chainID]
		return ch != nil
	}, time.Second, time.Millisecond)
	return ch
}

func (f *fakeSource) upstreamCtx(chainID string) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[chainID]
}

func receive(t *testing.T, sub *Subscription) Block {
	t.Helper()

	select {
	case b := <-sub.Blocks():
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for block")
		return Block{}
	}
}

func fastRetry() Option {
	return WithRetryOptions(retry.WithDelay(time.Millisecond), retry.WithMaxDelay(time.Millisecond))
}

func TestMultiplexer_Subscribe(t *testing.T) {
	t.Run("rejects unknown chains", func(t *testing.T) {
		m := New(newFakeSource(), []string{"0"})
		defer m.Close()

		_, err := m.Subscribe("2000")
		assert.ErrorIs(t, err, ErrUnknownChain)
	})

	t.Run("rejects subscriptions after close", func(t *testing.T) {
		m := New(newFakeSource(), []string{"0"})
		m.Close()

		_, err := m.Subscribe("0")
		assert.ErrorIs(t, err, ErrMultiplexerClosed)
	})

	t.Run("shares one upstream between subscribers", func(t *testing.T) {
		src := newFakeSource()
		m := New(src, []string{"1000"})
		defer m.Close()

		a, err := m.Subscribe("1000")
		require.NoError(t, err)
		b, err := m.Subscribe("1000")
		require.NoError(t, err)

		ch := src.stream(t, "1000")
		ch <- BlockEvent{Block: Block{ChainID: "1000", Number: 10}}
		ch <- BlockEvent{Block: Block{ChainID: "1000", Number: 11}}

		assert.Equal(t, uint64(10), receive(t, a).Number)
		assert.Equal(t, uint64(11), receive(t, a).Number)
		assert.Equal(t, uint64(10), receive(t, b).Number)
		assert.Equal(t, uint64(11), receive(t, b).Number)
		assert.Equal(t, int32(1), src.opened.Load())
	})

	t.Run("late subscribers only see new blocks", func(t *testing.T) {
		src := newFakeSource()
		m := New(src, []string{"0"})
		defer m.Close()

		a, err := m.Subscribe("0")
		require.NoError(t, err)

		ch := src.stream(t, "0")
		ch <- BlockEvent{Block: Block{Number: 1}}
		assert.Equal(t, uint64(1), receive(t, a).Number)

		b, err := m.Subscribe("0")
		require.NoError(t, err)

		ch <- BlockEvent{Block: Block{Number: 2}}
		assert.Equal(t, uint64(2), receive(t, a).Number)
		assert.Equal(t, uint64(2), receive(t, b).Number)
	})
}

func TestSubscription_Close(t *testing.T) {
	t.Run("last subscriber leaving stops the upstream", func(t *testing.T) {
		src := newFakeSource()
		m := New(src, []string{"0"})
		defer m.Close()

		a, err := m.Subscribe("0")
		require.NoError(t, err)
		b, err := m.Subscribe("0")
		require.NoError(t, err)

		src.stream(t, "0")
		upstream := src.upstreamCtx("0")

		a.Close()
		assert.NoError(t, upstream.Err())

		b.Close()
		b.Close()
		assert.Eventually(t, func() bool { return upstream.Err() != nil }, time.Second, time.Millisecond)

		select {
		case <-b.Done():
		default:
			t.Fatal("done should be closed")
		}
	})

	t.Run("resubscribing reopens the upstream", func(t *testing.T) {
		src := newFakeSource()
		m := New(src, []string{"0"})
		defer m.Close()

		a, err := m.Subscribe("0")
		require.NoError(t, err)
		src.stream(t, "0")
		a.Close()

		_, err = m.Subscribe("0")
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return src.opened.Load() == 2 }, time.Second, time.Millisecond)
	})
}

type recordingObserver struct {
	seen   atomic.Int32
	errors atomic.Int32
}

func (o *recordingObserver) BlockSeen(context.Context, string, uint64)  { o.seen.Add(1) }
func (o *recordingObserver) StreamError(context.Context, string, error) { o.errors.Add(1) }

func TestMultiplexer_Recovery(t *testing.T) {
	t.Run("reopens the upstream after a stream error", func(t *testing.T) {
		src := newFakeSource()
		obs := &recordingObserver{}
		m := New(src, []string{"0"}, fastRetry(), WithObserver(obs))
		defer m.Close()

		sub, err := m.Subscribe("0")
		require.NoError(t, err)

		ch := src.stream(t, "0")
		ch <- BlockEvent{Block: Block{Number: 1}}
		assert.Equal(t, uint64(1), receive(t, sub).Number)

		ch <- BlockEvent{Err: errors.New("connection reset")}

		require.Eventually(t, func() bool { return src.opened.Load() == 2 }, time.Second, time.Millisecond)
		ch = src.stream(t, "0")
		ch <- BlockEvent{Block: Block{Number: 2}}

		assert.Equal(t, uint64(2), receive(t, sub).Number)
		assert.Equal(t, int32(1), obs.errors.Load())
		assert.Equal(t, int32(2), obs.seen.Load())
	})

	t.Run("keeps retrying when the source cannot open", func(t *testing.T) {
		src := newFakeSource()
		src.err = errors.New("dial failed")

		m := New(src, []string{"0"}, fastRetry())
		defer m.Close()

		_, err := m.Subscribe("0")
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return src.opened.Load() >= 3 }, time.Second, time.Millisecond)
	})

	t.Run("gives up on chains the source does not serve", func(t *testing.T) {
		src := newFakeSource()
		src.err = fmt.Errorf("%w: 0", ErrUnknownChain)

		m := New(src, []string{"0"}, fastRetry())
		defer m.Close()

		_, err := m.Subscribe("0")
		require.NoError(t, err)

		require.Eventually(t, func() bool { return src.opened.Load() == 1 }, time.Second, time.Millisecond)
		assert.Never(t, func() bool { return src.opened.Load() > 1 }, 50*time.Millisecond, time.Millisecond)
	})
}

func TestMultiplexer_Close(t *testing.T) {
	t.Run("detaches every subscriber", func(t *testing.T) {
		src := newFakeSource()
		m := New(src, []string{"0", "1000"})

		a, err := m.Subscribe("0")
		require.NoError(t, err)
		b, err := m.Subscribe("1000")
		require.NoError(t, err)

		m.Close()
		m.Close()

		for _, sub := range []*Subscription{a, b} {
			select {
			case <-sub.Done():
			case <-time.After(time.Second):
				t.Fatal("subscription not detached")
			}
		}

		a.Close()
	})
}

func TestMultiplexer_Chains(t *testing.T) {
	m := New(newFakeSource(), []string{"2000", "0", "1000", "0"})
	defer m.Close()

	assert.Equal(t, []string{"0", "1000", "2000"}, m.Chains())
}
