// Package notifier delivers matched messages to the channels configured on
// a subscription. The hub routes each message to one notifier per channel
// type; the webhook notifier owns reliable delivery through the scheduler.
package notifier

import (
	"context"
	"errors"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

const defaultQueueSize = 256

var (
	// ErrNoNotifier is reported when a subscription uses a channel type nobody handles.
	ErrNoNotifier = errors.New("no notifier registered for channel")

	// ErrQueueFull is reported for messages dropped from a full subscription queue.
	ErrQueueFull = errors.New("notification queue full")

	// ErrHubClosed is returned by Notify after Close.
	ErrHubClosed = errors.New("notifier hub closed")
)

// Notifier delivers a message through one channel type.
type Notifier interface {
	Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error

func (f NotifierFunc) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	return f(ctx, sub, msg)
}

// Observer is notified of delivery outcomes.
type Observer interface {
	Notified(ctx context.Context, subscriptionID string, channel subscription.ChannelType, msg xcm.Message)
	NotifyFailed(ctx context.Context, subscriptionID string, channel subscription.ChannelType, msg xcm.Message, err error)
}

type nopObserver struct{}

func (nopObserver) Notified(context.Context, string, subscription.ChannelType, xcm.Message) {}
func (nopObserver) NotifyFailed(context.Context, string, subscription.ChannelType, xcm.Message, error) {
}

// Hub fans messages out to the channel notifiers.
type Hub interface {
	Notifier

	// Register routes channel t to n, replacing any previous notifier.
	Register(t subscription.ChannelType, n Notifier)

	// Close stops accepting messages and waits for the queued ones. Queued
	// messages are still handed to their notifiers, with a cancelled context.
	Close()
}

// delivery is one queued message of a subscription.
type delivery struct {
	ctx context.Context
	sub subscription.Subscription
	msg xcm.Message
}

// outbox holds the pending deliveries of one subscription. An outbox exists
// only while its worker runs.
type outbox struct {
	queue []delivery
}

type hub struct {
	mu        sync.RWMutex
	notifiers map[subscription.ChannelType]Notifier

	queueMu   sync.Mutex
	outboxes  map[string]*outbox
	closed    bool
	queueSize int
	observer  Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Hub = (*hub)(nil)

func (h *hub) Register(t subscription.ChannelType, n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.notifiers[t] = n
}

func (h *hub) notifier(t subscription.ChannelType) (Notifier, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n, ok := h.notifiers[t]
	return n, ok
}

// Notify queues msg for every channel type of sub and returns without
// waiting for delivery. Each subscription is delivered in order by its own
// worker, so a slow channel only delays its own subscription. When the queue
// of a subscription is full its oldest message is dropped.
func (h *hub) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	if !sub.Allows(msg.Type()) {
		return nil
	}

	h.queueMu.Lock()
	defer h.queueMu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	box, running := h.outboxes[sub.ID]
	if !running {
		box = &outbox{}
		h.outboxes[sub.ID] = box
	}

	if len(box.queue) >= h.queueSize {
		dropped := box.queue[0]
		box.queue = box.queue[1:]
		h.dropped(dropped)
	}
	box.queue = append(box.queue, delivery{ctx: ctx, sub: sub, msg: msg})

	if !running {
		h.wg.Add(1)
		go h.drain(sub.ID, box)
	}

	return nil
}

func (h *hub) dropped(d delivery) {
	logger.Warn(d.ctx, "notification queue full, dropping oldest message",
		"subscription.id", d.sub.ID,
		"message.type", string(d.msg.Type()),
		"message.id", d.msg.Base().MessageID,
	)
	for _, t := range d.sub.ChannelTypes() {
		h.observer.NotifyFailed(d.ctx, d.sub.ID, t, d.msg, ErrQueueFull)
	}
}

// drain delivers the queue of box until it is empty, then retires it.
func (h *hub) drain(subscriptionID string, box *outbox) {
	defer h.wg.Done()

	for {
		h.queueMu.Lock()
		if len(box.queue) == 0 {
			delete(h.outboxes, subscriptionID)
			h.queueMu.Unlock()
			return
		}
		d := box.queue[0]
		box.queue = box.queue[1:]
		h.queueMu.Unlock()

		h.deliver(d)
	}
}

// deliver sends d to every channel type of its subscription, once per type.
// A failing channel does not stop the others.
func (h *hub) deliver(d delivery) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(d.ctx))
	defer cancel()

	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	for _, t := range d.sub.ChannelTypes() {
		n, ok := h.notifier(t)
		if !ok {
			logger.Error(ctx, "notification failed", "subscription.id", d.sub.ID, "channel.type", string(t), "error", ErrNoNotifier)
			h.observer.NotifyFailed(ctx, d.sub.ID, t, d.msg, ErrNoNotifier)
			continue
		}

		if err := n.Notify(ctx, d.sub, d.msg); err != nil {
			logger.Error(ctx, "notification failed", "subscription.id", d.sub.ID, "channel.type", string(t), "error", err)
		}
	}
}

func (h *hub) Close() {
	h.queueMu.Lock()
	h.closed = true
	h.queueMu.Unlock()

	h.cancel()
	h.wg.Wait()
}

type hubConfig struct {
	queueSize int
	observer  Observer
}

// HubOption configures a hub built by NewHub.
type HubOption func(*hubConfig)

// WithQueueSize caps the pending messages of one subscription.
func WithQueueSize(n int) HubOption {
	return func(c *hubConfig) {
		c.queueSize = n
	}
}

// WithHubObserver reports messages dropped from a full queue.
func WithHubObserver(o Observer) HubOption {
	return func(c *hubConfig) {
		c.observer = o
	}
}

// NewHub returns a Hub with the given notifiers.
func NewHub(notifiers map[subscription.ChannelType]Notifier, opts ...HubOption) *hub {
	cfg := hubConfig{
		queueSize: defaultQueueSize,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.queueSize < 1 {
		cfg.queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &hub{
		notifiers: make(map[subscription.ChannelType]Notifier, len(notifiers)),
		outboxes:  make(map[string]*outbox),
		queueSize: cfg.queueSize,
		observer:  cfg.observer,
		ctx:       ctx,
		cancel:    cancel,
	}
	for t, n := range notifiers {
		h.notifiers[t] = n
	}
	return h
}
