// Package switchboard owns the live subscriptions. It persists descriptors,
// wires every subscription to the lanes of its origin, destinations and relay
// chain, hands extracted legs to the matching engine and forwards the
// resulting notifications to the notifier hub.
package switchboard

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/lanes"
	"github.com/gabapcia/xcmwatch/internal/matching"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

var (
	ErrServiceAlreadyStarted = errors.New("switchboard already started")

	// ErrCapacityExceeded is returned when a subscription limit is reached.
	ErrCapacityExceeded = errors.New("subscription capacity exceeded")

	// ErrSubscriptionNotFound is returned for ids with no live subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrImmutableField is returned when an update touches the origin or the
	// ephemeral flag.
	ErrImmutableField = errors.New("field cannot be updated")
)

const (
	defaultMaxPersistent = 5000
	defaultMaxEphemeral  = 1000
)

// Notifier delivers notifications to the channels of a subscription.
type Notifier interface {
	Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error
}

// Observer is told about lane failures.
type Observer interface {
	SubscriptionError(ctx context.Context, subscriptionID string, direction lanes.Direction, err error)
}

type nopObserver struct{}

func (nopObserver) SubscriptionError(context.Context, string, lanes.Direction, error) {}

// Switchboard manages the subscription lifecycle.
type Switchboard interface {
	matching.Listener
	lanes.Handler

	// Start recovers every persisted subscription of the configured chains.
	Start(ctx context.Context) error

	// Stop detaches every lane. Persisted descriptors are kept.
	Stop()

	// Subscribe validates, persists and starts monitoring sub.
	Subscribe(ctx context.Context, sub subscription.Subscription) error

	// Unsubscribe tears down a subscription. Unknown ids are ignored.
	Unsubscribe(ctx context.Context, id string)

	// UpdateSenders replaces the sender filter of a live subscription.
	UpdateSenders(ctx context.Context, id string, senders subscription.Senders) (subscription.Subscription, error)

	// UpdateDestinations replaces the destinations of a live subscription,
	// rewiring only the chains that were added or removed.
	UpdateDestinations(ctx context.Context, id string, destinations []string) (subscription.Subscription, error)

	// UpdateSubscription replaces a live descriptor with sub.
	UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)

	// FindSubscription returns the live descriptor of id.
	FindSubscription(id string) (subscription.Subscription, error)

	// GetSubscriptions lists every live descriptor ordered by id.
	GetSubscriptions() []subscription.Subscription
}

type switchboard struct {
	mu        sync.RWMutex
	isStarted bool
	handlers  map[string]*handler

	persistent int
	ephemeral  int

	chains        []string
	storage       subscription.Storage
	engine        matching.Engine
	notifier      Notifier
	observer      Observer
	open          opener
	maxPersistent int
	maxEphemeral  int
}

var _ Switchboard = (*switchboard)(nil)

func (s *switchboard) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	for _, chainID := range s.chains {
		subs, err := s.storage.ListByOrigin(ctx, chainID)
		if err != nil {
			return fmt.Errorf("load subscriptions of chain %s: %w", chainID, err)
		}

		for _, sub := range subs {
			if err := s.monitor(ctx, sub); err != nil {
				logger.Error(ctx, "unable to recover subscription", "subscription.id", sub.ID, "chain.id", chainID, "error", err)
			}
		}
	}

	logger.Info(ctx, "switchboard started", "subscriptions.persistent", s.persistent)

	s.isStarted = true
	return nil
}

func (s *switchboard) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, h := range s.handlers {
		h.close()
		delete(s.handlers, id)
	}

	s.persistent = 0
	s.ephemeral = 0
	s.isStarted = false
}

// checkCapacity fails when one more subscription like sub would exceed its limit.
func (s *switchboard) checkCapacity(sub subscription.Subscription) error {
	if sub.Ephemeral && s.ephemeral >= s.maxEphemeral {
		return fmt.Errorf("%w: %d ephemeral subscriptions", ErrCapacityExceeded, s.maxEphemeral)
	}

	if !sub.Ephemeral && s.persistent >= s.maxPersistent {
		return fmt.Errorf("%w: %d persistent subscriptions", ErrCapacityExceeded, s.maxPersistent)
	}

	return nil
}

func (s *switchboard) Subscribe(ctx context.Context, sub subscription.Subscription) error {
	sub = sub.Normalize()
	if err := sub.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[sub.ID]; ok {
		return subscription.ErrSubscriptionExists
	}

	if err := s.checkCapacity(sub); err != nil {
		return err
	}

	if !sub.Ephemeral {
		if err := s.storage.Insert(ctx, sub); err != nil {
			return err
		}
	}

	if err := s.monitor(ctx, sub); err != nil {
		if !sub.Ephemeral {
			if rerr := s.storage.Remove(ctx, sub.ID); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return err
	}

	logger.Info(ctx, "subscription created", "subscription.id", sub.ID, "subscription.ephemeral", sub.Ephemeral)
	return nil
}

// monitor opens every lane of sub and registers it. On failure the lanes
// already opened are closed and nothing is registered.
func (s *switchboard) monitor(ctx context.Context, sub subscription.Subscription) error {
	h := newHandler(sub)

	for _, kind := range lanes.OriginKinds(sub.Origin) {
		l, err := s.open(h.spec(kind, sub.Origin), s)
		if err != nil {
			h.close()
			return fmt.Errorf("monitor origin %s: %w", sub.Origin, err)
		}
		h.origin = append(h.origin, l)
	}

	for _, dest := range sub.Destinations {
		if err := s.openDestination(h, dest); err != nil {
			h.close()
			return err
		}
	}

	if err := s.syncRelay(ctx, h); err != nil {
		h.close()
		return err
	}

	s.handlers[sub.ID] = h
	if sub.Ephemeral {
		s.ephemeral++
	} else {
		s.persistent++
	}

	return nil
}

func (s *switchboard) openDestination(h *handler, dest string) error {
	kind := lanes.DestinationKind(h.descriptor.Origin, dest)

	l, err := s.open(h.spec(kind, dest), s)
	if err != nil {
		return fmt.Errorf("monitor destination %s: %w", dest, err)
	}

	h.destination[dest] = l
	return nil
}

// syncRelay opens or closes the relay lane to match the current destinations.
// Without a configured relay chain no relay lane is opened.
func (s *switchboard) syncRelay(ctx context.Context, h *handler) error {
	want := needsRelay(h.descriptor.Origin, h.descriptor.Destinations) && slices.Contains(s.chains, xcm.RelayChainID)

	switch {
	case want && h.relay == nil:
		l, err := s.open(h.spec(lanes.KindRelay, xcm.RelayChainID), s)
		if err != nil {
			return fmt.Errorf("monitor relay: %w", err)
		}
		h.relay = l
	case !want && h.relay != nil:
		h.relay.Close()
		h.relay = nil
	case !want && needsRelay(h.descriptor.Origin, h.descriptor.Destinations):
		logger.Debug(ctx, "relay chain not configured, skipping relay lane", "subscription.id", h.descriptor.ID)
	}

	return nil
}

func (s *switchboard) Unsubscribe(ctx context.Context, id string) {
	ctx = logger.WithFields(ctx, "subscription.id", id)

	s.mu.Lock()
	h, ok := s.handlers[id]
	if !ok {
		s.mu.Unlock()
		logger.Warn(ctx, "unsubscribe of unknown subscription")
		return
	}

	delete(s.handlers, id)
	if h.descriptor.Ephemeral {
		s.ephemeral--
	} else {
		s.persistent--
	}
	s.mu.Unlock()

	h.close()

	if err := s.engine.ClearPendingStates(ctx, id); err != nil {
		logger.Error(ctx, "unable to clear pending states", "error", err)
	}

	if !h.descriptor.Ephemeral {
		if err := s.storage.Remove(ctx, id); err != nil {
			logger.Error(ctx, "unable to remove subscription", "error", err)
		}
	}

	logger.Info(ctx, "subscription removed")
}

// live returns the handler of id. Callers hold mu.
func (s *switchboard) live(id string) (*handler, error) {
	h, ok := s.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return h, nil
}

// commit replaces the descriptor of h with next. Lanes of added destinations
// are opened and next is persisted before anything live changes, so a
// failure leaves the subscription as it was.
func (s *switchboard) commit(ctx context.Context, h *handler, next subscription.Subscription) (subscription.Subscription, error) {
	added, removed := diffDestinations(h.descriptor.Destinations, next.Destinations)

	opened := make([]string, 0, len(added))
	rollback := func() {
		for _, dest := range opened {
			h.destination[dest].Close()
			delete(h.destination, dest)
		}
	}

	for _, dest := range added {
		if err := s.openDestination(h, dest); err != nil {
			rollback()
			return subscription.Subscription{}, err
		}
		opened = append(opened, dest)
	}

	if !next.Ephemeral {
		if err := s.storage.Save(ctx, next); err != nil {
			rollback()
			return subscription.Subscription{}, err
		}
	}

	for _, dest := range removed {
		if l, ok := h.destination[dest]; ok {
			l.Close()
			delete(h.destination, dest)
		}
	}

	h.descriptor = next
	h.senders.Update(next.Senders.All, next.Senders.Addresses...)
	h.destinations.Update(false, next.Destinations...)

	if err := s.syncRelay(ctx, h); err != nil {
		logger.Error(ctx, "unable to update relay lane", "subscription.id", next.ID, "error", err)
	}

	return h.descriptor, nil
}

func (s *switchboard) UpdateSenders(ctx context.Context, id string, senders subscription.Senders) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.live(id)
	if err != nil {
		return subscription.Subscription{}, err
	}

	next := h.descriptor
	next.Senders = senders
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return subscription.Subscription{}, err
	}

	return s.commit(ctx, h, next)
}

func (s *switchboard) UpdateDestinations(ctx context.Context, id string, destinations []string) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.live(id)
	if err != nil {
		return subscription.Subscription{}, err
	}

	next := h.descriptor
	next.Destinations = destinations
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return subscription.Subscription{}, err
	}

	return s.commit(ctx, h, next)
}

func (s *switchboard) UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	sub = sub.Normalize()
	if err := sub.Validate(); err != nil {
		return subscription.Subscription{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.live(sub.ID)
	if err != nil {
		return subscription.Subscription{}, err
	}

	if sub.Origin != h.descriptor.Origin {
		return subscription.Subscription{}, fmt.Errorf("%w: origin", ErrImmutableField)
	}
	if sub.Ephemeral != h.descriptor.Ephemeral {
		return subscription.Subscription{}, fmt.Errorf("%w: ephemeral", ErrImmutableField)
	}

	next := h.descriptor
	next.Senders = sub.Senders
	next.Channels = sub.Channels
	next.Events = sub.Events
	if !slices.Equal(sortedCopy(sub.Destinations), sortedCopy(h.descriptor.Destinations)) {
		next.Destinations = sub.Destinations
	}

	updated, err := s.commit(ctx, h, next)
	if err != nil {
		return subscription.Subscription{}, err
	}

	logger.Info(ctx, "subscription updated", "subscription.id", sub.ID)
	return updated, nil
}

func sortedCopy(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}

func (s *switchboard) FindSubscription(id string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, err := s.live(id)
	if err != nil {
		return subscription.Subscription{}, err
	}
	return h.descriptor, nil
}

func (s *switchboard) GetSubscriptions() []subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]subscription.Subscription, 0, len(s.handlers))
	for _, id := range slices.Sorted(maps.Keys(s.handlers)) {
		out = append(out, s.handlers[id].descriptor)
	}
	return out
}

// HandleLeg routes a leg to the engine unless its subscription is gone.
func (s *switchboard) HandleLeg(ctx context.Context, spec lanes.Spec, ev xcm.LegEvent) error {
	if _, err := s.FindSubscription(spec.SubscriptionID); err != nil {
		logger.Debug(ctx, "dropping leg of removed subscription", "message.key", ev.Key())
		return nil
	}

	switch ev := ev.(type) {
	case xcm.SentEvent:
		return s.engine.OnOutboundMessage(ctx, ev)
	case xcm.ReceivedEvent:
		return s.engine.OnInboundMessage(ctx, ev)
	case xcm.RelayedEvent:
		return s.engine.OnRelayedMessage(ctx, ev)
	default:
		return fmt.Errorf("unexpected leg event %T", ev)
	}
}

func (s *switchboard) HandleError(ctx context.Context, spec lanes.Spec, err error) {
	logger.Error(ctx, "subscription lane error", "direction", string(spec.Kind.Direction()), "error", err)
	s.observer.SubscriptionError(ctx, spec.SubscriptionID, spec.Kind.Direction(), err)
}

// OnMessage forwards an engine notification to the notifier.
func (s *switchboard) OnMessage(ctx context.Context, msg xcm.Message) {
	env := msg.Base()
	ctx = logger.WithFields(ctx, "subscription.id", env.SubscriptionID, "message.type", string(msg.Type()), "message.id", env.MessageID)

	sub, err := s.FindSubscription(env.SubscriptionID)
	if err != nil {
		logger.Warn(ctx, "unable to find descriptor")
		return
	}

	if err := s.notifier.Notify(ctx, sub, msg); err != nil {
		logger.Error(ctx, "notification failed", "error", err)
	}
}

type config struct {
	observer      Observer
	maxPersistent int
	maxEphemeral  int
}

// Option configures a switchboard built by New.
type Option func(*config)

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithMaxPersistent caps the number of persistent subscriptions.
func WithMaxPersistent(n int) Option {
	return func(c *config) {
		c.maxPersistent = n
	}
}

// WithMaxEphemeral caps the number of ephemeral subscriptions.
func WithMaxEphemeral(n int) Option {
	return func(c *config) {
		c.maxEphemeral = n
	}
}

// New returns a Switchboard opening lanes on mux. Persisted subscriptions
// are recovered by Start for every chain of mux.
func New(
	mux chainstream.Multiplexer,
	queries chainstream.Queries,
	storage subscription.Storage,
	engine matching.Engine,
	notifier Notifier,
	opts ...Option,
) *switchboard {
	cfg := config{
		observer:      nopObserver{},
		maxPersistent: defaultMaxPersistent,
		maxEphemeral:  defaultMaxEphemeral,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &switchboard{
		handlers: make(map[string]*handler),
		chains:   mux.Chains(),
		storage:  storage,
		engine:   engine,
		notifier: notifier,
		observer: cfg.observer,
		open: func(spec lanes.Spec, h lanes.Handler) (lane, error) {
			return lanes.Open(mux, queries, spec, h)
		},
		maxPersistent: cfg.maxPersistent,
		maxEphemeral:  cfg.maxEphemeral,
	}
}
