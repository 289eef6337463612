// Package lanes turns finalized blocks into subscription scoped leg events.
//
// A lane is one transport specific watch of a subscription on one chain:
// horizontal (HRMP), upward (UMP) or downward (DMP) messages, either leaving
// the origin or arriving at a destination, plus the relay lane that watches
// horizontal messages pass through the relay chain. Extractors are stateless;
// the only mutable state is the sender and destination criteria, which the
// switchboard updates in place so live lanes pick up new filters without
// resubscribing.
package lanes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/pkg/x/chflow"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

// ErrUnknownKind is returned when opening a lane of an unsupported kind.
var ErrUnknownKind = errors.New("unknown lane kind")

// Kind identifies the transport and direction of a lane.
type Kind string

const (
	KindHrmpSend    Kind = "hrmp-send"
	KindUmpSend     Kind = "ump-send"
	KindDmpSend     Kind = "dmp-send"
	KindHrmpReceive Kind = "hrmp-receive"
	KindUmpReceive  Kind = "ump-receive"
	KindDmpReceive  Kind = "dmp-receive"
	KindRelay       Kind = "relay"
)

// Direction is the telemetry direction of a lane.
type Direction string

const (
	DirectionOut   Direction = "out"
	DirectionIn    Direction = "in"
	DirectionRelay Direction = "relay"
)

// Direction returns whether the lane carries outbound, inbound or relayed legs.
func (k Kind) Direction() Direction {
	switch k {
	case KindHrmpSend, KindUmpSend, KindDmpSend:
		return DirectionOut
	case KindRelay:
		return DirectionRelay
	default:
		return DirectionIn
	}
}

// OriginKinds returns the outbound lanes of a subscription starting at origin.
func OriginKinds(origin string) []Kind {
	if xcm.IsRelay(origin) {
		return []Kind{KindDmpSend}
	}
	return []Kind{KindHrmpSend, KindUmpSend}
}

// DestinationKind returns the inbound lane watching destination for messages from origin.
func DestinationKind(origin, destination string) Kind {
	switch {
	case xcm.IsRelay(destination):
		return KindUmpReceive
	case xcm.IsRelay(origin):
		return KindDmpReceive
	default:
		return KindHrmpReceive
	}
}

// Criteria is a mutable membership filter shared between a subscription and its lanes.
type Criteria struct {
	mu     sync.RWMutex
	all    bool
	values types.Set[string]
}

// NewCriteria returns a filter admitting values, or everything when all is set.
func NewCriteria(all bool, values ...string) *Criteria {
	return &Criteria{
		all:    all,
		values: types.NewSet(values...),
	}
}

// Update replaces the filter in place.
func (c *Criteria) Update(all bool, values ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.all = all
	c.values = types.NewSet(values...)
}

// Matches reports whether v is admitted.
func (c *Criteria) Matches(v string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.all || c.values.Has(v)
}

// Spec describes one lane of a subscription.
type Spec struct {
	Kind           Kind
	SubscriptionID string
	// Origin is the origin chain of the subscription.
	Origin string
	// ChainID is the chain whose blocks the lane reads.
	ChainID      string
	Senders      *Criteria
	Destinations *Criteria
}

// Extractor derives leg events from one block.
type Extractor func(ctx context.Context, block chainstream.Block) ([]xcm.LegEvent, error)

// NewExtractor returns the extractor of spec.
func NewExtractor(spec Spec, queries chainstream.Queries) (Extractor, error) {
	switch spec.Kind {
	case KindHrmpSend:
		return hrmpSend(spec, queries), nil
	case KindUmpSend:
		return umpSend(spec, queries), nil
	case KindDmpSend:
		return dmpSend(spec, queries), nil
	case KindHrmpReceive:
		return hrmpReceive(spec), nil
	case KindUmpReceive:
		return umpReceive(spec), nil
	case KindDmpReceive:
		return dmpReceive(spec), nil
	case KindRelay:
		return relay(spec), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}
}

// Handler consumes what a lane produces.
type Handler interface {
	// HandleLeg receives every extracted leg in block order.
	HandleLeg(ctx context.Context, spec Spec, ev xcm.LegEvent) error

	// HandleError is told about extraction and handling failures. The lane keeps running.
	HandleError(ctx context.Context, spec Spec, err error)
}

// Lane is a running extractor attached to a shared chain stream.
type Lane struct {
	spec Spec
	sub  *chainstream.Subscription
}

// Spec returns the lane description.
func (l *Lane) Spec() Spec { return l.spec }

// Close detaches the lane from its chain stream. Blocks already being
// processed may still reach the handler.
func (l *Lane) Close() {
	l.sub.Close()
}

// Open subscribes spec to its chain and starts extracting legs into handler.
func Open(mux chainstream.Multiplexer, queries chainstream.Queries, spec Spec, handler Handler) (*Lane, error) {
	extract, err := NewExtractor(spec, queries)
	if err != nil {
		return nil, err
	}

	sub, err := mux.Subscribe(spec.ChainID)
	if err != nil {
		return nil, fmt.Errorf("open %s lane on chain %s: %w", spec.Kind, spec.ChainID, err)
	}

	l := &Lane{spec: spec, sub: sub}
	l.start(extract, handler)

	return l, nil
}

func (l *Lane) run(extract Extractor, handler Handler) {
	ctx := logger.WithFields(context.Background(),
		"subscription.id", l.spec.SubscriptionID,
		"chain.id", l.spec.ChainID,
		"lane.kind", string(l.spec.Kind),
	)

	for {
		block, ok := chflow.ReceiveOrDone(ctx, l.sub.Done(), l.sub.Blocks())
		if !ok {
			return
		}

		events, err := extract(ctx, block)
		if err != nil {
			handler.HandleError(ctx, l.spec, fmt.Errorf("extract block %d: %w", block.Number, err))
			continue
		}

		for _, ev := range events {
			if err := handler.HandleLeg(ctx, l.spec, ev); err != nil {
				handler.HandleError(ctx, l.spec, err)
			}
		}
	}
}

func (l *Lane) start(extract Extractor, handler Handler) {
	go l.run(extract, handler)
}
