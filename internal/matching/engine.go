// Package matching correlates the legs of cross-chain messages.
//
// Legs of the same message arrive on independent lanes in any order. The
// engine keys them by subscription and correlation key, keeps whichever leg
// comes first as pending state, and completes the match when its counterpart
// shows up. A sent leg is announced as soon as it is seen; a received leg
// completes the message exactly once; relay hops are placed on the leg that
// crosses the relay chain.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

// TaskTypeJanitor is the scheduler task type sweeping stale pending state.
const TaskTypeJanitor = "task:janitor"

const (
	keySeparator  = "|"
	defaultMaxAge = time.Hour
)

// Listener receives every notification the engine produces.
type Listener interface {
	OnMessage(ctx context.Context, msg xcm.Message)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, msg xcm.Message)

func (f ListenerFunc) OnMessage(ctx context.Context, msg xcm.Message) { f(ctx, msg) }

// Observer is notified of every leg and completed match.
type Observer interface {
	Outbound(ctx context.Context, ev xcm.SentEvent)
	Inbound(ctx context.Context, ev xcm.ReceivedEvent)
	Relayed(ctx context.Context, ev xcm.RelayedEvent)
	Matched(ctx context.Context, sent xcm.SentEvent, received xcm.ReceivedEvent)
}

type nopObserver struct{}

func (nopObserver) Outbound(context.Context, xcm.SentEvent)                   {}
func (nopObserver) Inbound(context.Context, xcm.ReceivedEvent)                {}
func (nopObserver) Relayed(context.Context, xcm.RelayedEvent)                 {}
func (nopObserver) Matched(context.Context, xcm.SentEvent, xcm.ReceivedEvent) {}

// Scheduler is the part of the task scheduler used by the janitor.
type Scheduler interface {
	Schedule(ctx context.Context, task scheduler.Task) error
	On(taskType string, handler scheduler.Handler)
}

// Engine correlates leg events.
type Engine interface {
	// OnOutboundMessage handles a leg leaving its origin.
	OnOutboundMessage(ctx context.Context, ev xcm.SentEvent) error

	// OnInboundMessage handles a leg executed at its destination.
	OnInboundMessage(ctx context.Context, ev xcm.ReceivedEvent) error

	// OnRelayedMessage handles a leg seen on the relay chain.
	OnRelayedMessage(ctx context.Context, ev xcm.RelayedEvent) error

	// ClearPendingStates drops every pending entry of subscriptionID.
	ClearPendingStates(ctx context.Context, subscriptionID string) error
}

type janitorPayload struct {
	Family Family `json:"family"`
	Key    string `json:"key"`
}

type engine struct {
	// mu serializes every read-then-write of pending state. Storage I/O runs
	// under it; listeners are called after it is released.
	mu sync.Mutex

	storage   PendingStorage
	listener  Listener
	observer  Observer
	scheduler Scheduler
	maxAge    time.Duration
	now       func() time.Time
}

var _ Engine = (*engine)(nil)

// pendingKey scopes a correlation key to its subscription.
func pendingKey(subscriptionID, key string) string {
	return subscriptionID + keySeparator + key
}

// relayKey scopes a relay hop to the chain it left from.
func relayKey(key, relayOrigin string) string {
	return key + keySeparator + relayOrigin
}

// relayOrigins lists the chains a message leaves from towards the relay chain.
func relayOrigins(legs []xcm.Leg) []string {
	var out []string
	for _, leg := range legs {
		if xcm.IsRelay(leg.To) && !xcm.IsRelay(leg.From) {
			out = append(out, leg.From)
		}
	}
	return out
}

// lookup returns the pending state under key, reporting whether it exists.
func (e *engine) lookup(ctx context.Context, family Family, key string) (Pending, bool, error) {
	p, err := e.storage.GetPending(ctx, family, key)
	if errors.Is(err, ErrPendingNotFound) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, fmt.Errorf("read %s pending state: %w", family, err)
	}
	return p, true, nil
}

func (e *engine) store(ctx context.Context, family Family, key string, p Pending) error {
	p.CreatedAt = e.now().UTC()
	if err := e.storage.PutPending(ctx, family, key, p); err != nil {
		return fmt.Errorf("store %s pending state: %w", family, err)
	}

	e.scheduleSweep(ctx, family, key)
	return nil
}

func (e *engine) drop(ctx context.Context, family Family, key string) error {
	if err := e.storage.DeletePending(ctx, family, key); err != nil {
		return fmt.Errorf("delete %s pending state: %w", family, err)
	}
	return nil
}

// scheduleSweep asks the janitor to remove key once it is too old. Failures are logged.
func (e *engine) scheduleSweep(ctx context.Context, family Family, key string) {
	if e.scheduler == nil {
		return
	}

	task, err := scheduler.NewTask(TaskTypeJanitor, string(family)+keySeparator+key, e.now().Add(e.maxAge), janitorPayload{Family: family, Key: key})
	if err == nil {
		err = e.scheduler.Schedule(ctx, task)
	}
	if err != nil {
		logger.Warn(ctx, "could not schedule pending state expiry", "pending.key", key, "error", err)
	}
}

// sweep removes a pending entry that outlived maxAge.
func (e *engine) sweep(ctx context.Context, task scheduler.Task) error {
	var payload janitorPayload
	if err := task.Decode(&payload); err != nil {
		return fmt.Errorf("decode janitor task: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok, err := e.lookup(ctx, payload.Family, payload.Key)
	if err != nil || !ok {
		return err
	}

	if e.now().Sub(p.CreatedAt) < e.maxAge {
		return nil
	}

	logger.Debug(ctx, "expiring pending state", "pending.family", string(payload.Family), "pending.key", payload.Key)
	return e.drop(ctx, payload.Family, payload.Key)
}

func (e *engine) emit(ctx context.Context, messages []xcm.Message) {
	for _, msg := range messages {
		e.listener.OnMessage(ctx, msg)
	}
}

func (e *engine) OnOutboundMessage(ctx context.Context, ev xcm.SentEvent) error {
	e.observer.Outbound(ctx, ev)

	messages, err := e.onOutbound(ctx, ev)
	e.emit(ctx, messages)
	return err
}

func (e *engine) onOutbound(ctx context.Context, ev xcm.SentEvent) ([]xcm.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pendingKey(ev.SubscriptionID, ev.Key())

	if _, dup, err := e.lookup(ctx, FamilyOutbound, key); err != nil || dup {
		return nil, err
	}

	inbound, matched, err := e.lookup(ctx, FamilyInbound, key)
	if err != nil {
		return nil, err
	}

	var messages []xcm.Message
	if !matched {
		if err := e.store(ctx, FamilyOutbound, key, Pending{SubscriptionID: ev.SubscriptionID, Outbound: &ev}); err != nil {
			return nil, err
		}
		messages = append(messages, xcm.NewSent(ev))
	}

	for _, origin := range relayOrigins(ev.Legs()) {
		rk := relayKey(key, origin)

		relayed, ok, err := e.lookup(ctx, FamilyRelay, rk)
		if err != nil {
			return messages, err
		}
		if !ok || relayed.Relay == nil {
			continue
		}

		if err := e.drop(ctx, FamilyRelay, rk); err != nil {
			return messages, err
		}
		messages = append(messages, xcm.NewRelayed(ev, *relayed.Relay))
	}

	if matched && inbound.Inbound != nil {
		if err := e.drop(ctx, FamilyInbound, key); err != nil {
			return messages, err
		}

		e.observer.Matched(ctx, ev, *inbound.Inbound)
		messages = append(messages, xcm.NewReceived(ev, *inbound.Inbound))
	}

	return messages, nil
}

func (e *engine) OnInboundMessage(ctx context.Context, ev xcm.ReceivedEvent) error {
	e.observer.Inbound(ctx, ev)

	messages, err := e.onInbound(ctx, ev)
	e.emit(ctx, messages)
	return err
}

func (e *engine) onInbound(ctx context.Context, ev xcm.ReceivedEvent) ([]xcm.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pendingKey(ev.SubscriptionID, ev.Key())

	outbound, ok, err := e.lookup(ctx, FamilyOutbound, key)
	if err != nil {
		return nil, err
	}

	if !ok || outbound.Outbound == nil {
		if _, dup, err := e.lookup(ctx, FamilyInbound, key); err != nil || dup {
			return nil, err
		}
		return nil, e.store(ctx, FamilyInbound, key, Pending{SubscriptionID: ev.SubscriptionID, Inbound: &ev})
	}

	if err := e.drop(ctx, FamilyOutbound, key); err != nil {
		return nil, err
	}

	e.observer.Matched(ctx, *outbound.Outbound, ev)
	return []xcm.Message{xcm.NewReceived(*outbound.Outbound, ev)}, nil
}

func (e *engine) OnRelayedMessage(ctx context.Context, ev xcm.RelayedEvent) error {
	e.observer.Relayed(ctx, ev)

	messages, err := e.onRelayed(ctx, ev)
	e.emit(ctx, messages)
	return err
}

// onRelayed matches a relay hop against the pending sent leg. The sent leg
// stays pending since its destination has not executed it yet.
func (e *engine) onRelayed(ctx context.Context, ev xcm.RelayedEvent) ([]xcm.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pendingKey(ev.SubscriptionID, ev.Key())

	outbound, ok, err := e.lookup(ctx, FamilyOutbound, key)
	if err != nil {
		return nil, err
	}

	if ok && outbound.Outbound != nil {
		return []xcm.Message{xcm.NewRelayed(*outbound.Outbound, ev)}, nil
	}

	rk := relayKey(key, ev.Origin)
	if _, dup, err := e.lookup(ctx, FamilyRelay, rk); err != nil || dup {
		return nil, err
	}

	return nil, e.store(ctx, FamilyRelay, rk, Pending{SubscriptionID: ev.SubscriptionID, Relay: &ev})
}

func (e *engine) ClearPendingStates(ctx context.Context, subscriptionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.storage.DeletePendingBySubscription(ctx, subscriptionID); err != nil {
		return fmt.Errorf("clear pending states of %s: %w", subscriptionID, err)
	}
	return nil
}

type config struct {
	observer  Observer
	scheduler Scheduler
	maxAge    time.Duration
	now       func() time.Time
}

// Option configures an engine built by New.
type Option func(*config)

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithJanitor expires pending state older than maxAge through s.
func WithJanitor(s Scheduler, maxAge time.Duration) Option {
	return func(c *config) {
		c.scheduler = s
		if maxAge > 0 {
			c.maxAge = maxAge
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New returns an Engine keeping pending state in storage and emitting
// notifications to listener.
func New(storage PendingStorage, listener Listener, opts ...Option) *engine {
	cfg := config{
		observer: nopObserver{},
		maxAge:   defaultMaxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &engine{
		storage:   storage,
		listener:  listener,
		observer:  cfg.observer,
		scheduler: cfg.scheduler,
		maxAge:    cfg.maxAge,
		now:       cfg.now,
	}

	if e.scheduler != nil {
		e.scheduler.On(TaskTypeJanitor, e.sweep)
	}

	return e
}
