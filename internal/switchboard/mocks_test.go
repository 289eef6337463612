package switchboard

import (
	"context"
	"errors"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/lanes"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/stretchr/testify/mock"
)

type EngineMock struct {
	mock.Mock
}

func NewEngineMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *EngineMock {
	m := &EngineMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EngineMock) OnOutboundMessage(ctx context.Context, ev xcm.SentEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *EngineMock) OnInboundMessage(ctx context.Context, ev xcm.ReceivedEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *EngineMock) OnRelayedMessage(ctx context.Context, ev xcm.RelayedEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *EngineMock) ClearPendingStates(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

type NotifierMock struct {
	mock.Mock
}

func NewNotifierMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *NotifierMock {
	m := &NotifierMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *NotifierMock) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	return m.Called(ctx, sub, msg).Error(0)
}

type ObserverMock struct {
	mock.Mock
}

func NewObserverMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *ObserverMock {
	m := &ObserverMock{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *ObserverMock) SubscriptionError(ctx context.Context, subscriptionID string, direction lanes.Direction, err error) {
	m.Called(ctx, subscriptionID, direction, err)
}

var errChainDown = errors.New("chain down")

// fakeLane records whether it was closed.
type fakeLane struct {
	spec   lanes.Spec
	mu     sync.Mutex
	closed bool
}

func (l *fakeLane) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *fakeLane) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// laneRecorder is an opener keeping every lane it opens. Opening a lane on
// a chain listed in failing fails.
type laneRecorder struct {
	mu      sync.Mutex
	lanes   []*fakeLane
	failing map[string]bool
}

func newLaneRecorder(failing ...string) *laneRecorder {
	r := &laneRecorder{failing: make(map[string]bool)}
	for _, chainID := range failing {
		r.failing[chainID] = true
	}
	return r
}

func (r *laneRecorder) open(spec lanes.Spec, _ lanes.Handler) (lane, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing[spec.ChainID] {
		return nil, errChainDown
	}

	l := &fakeLane{spec: spec}
	r.lanes = append(r.lanes, l)
	return l, nil
}

// active returns the kind and chain of every open lane of subscriptionID.
func (r *laneRecorder) active(subscriptionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, l := range r.lanes {
		if l.spec.SubscriptionID == subscriptionID && !l.isClosed() {
			out = append(out, string(l.spec.Kind)+"@"+l.spec.ChainID)
		}
	}
	return out
}

// spec returns the spec of the first lane of kind opened for subscriptionID.
func (r *laneRecorder) spec(subscriptionID string, kind lanes.Kind) (lanes.Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.lanes {
		if l.spec.SubscriptionID == subscriptionID && l.spec.Kind == kind {
			return l.spec, true
		}
	}
	return lanes.Spec{}, false
}

// saveFailer is a subscription storage whose Save fails with err when set.
type saveFailer struct {
	subscription.Storage
	err error
}

func (s *saveFailer) Save(ctx context.Context, sub subscription.Subscription) error {
	if s.err != nil {
		return s.err
	}
	return s.Storage.Save(ctx, sub)
}
