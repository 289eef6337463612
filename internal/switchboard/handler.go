package switchboard

import (
	"slices"

	"github.com/gabapcia/xcmwatch/internal/lanes"
	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

// lane is a running lane, closed on teardown.
type lane interface {
	Close()
}

// opener starts a lane for spec.
type opener func(spec lanes.Spec, handler lanes.Handler) (lane, error)

// handler is the live state of one subscription.
type handler struct {
	descriptor subscription.Subscription

	senders      *lanes.Criteria
	destinations *lanes.Criteria

	origin      []lane
	destination map[string]lane
	relay       lane
}

func newHandler(sub subscription.Subscription) *handler {
	return &handler{
		descriptor:   sub,
		senders:      lanes.NewCriteria(sub.Senders.All, sub.Senders.Addresses...),
		destinations: lanes.NewCriteria(false, sub.Destinations...),
		destination:  make(map[string]lane),
	}
}

func (h *handler) spec(kind lanes.Kind, chainID string) lanes.Spec {
	return lanes.Spec{
		Kind:           kind,
		SubscriptionID: h.descriptor.ID,
		Origin:         h.descriptor.Origin,
		ChainID:        chainID,
		Senders:        h.senders,
		Destinations:   h.destinations,
	}
}

// close stops every lane of the handler.
func (h *handler) close() {
	for _, l := range h.origin {
		l.Close()
	}
	h.origin = nil

	for dest, l := range h.destination {
		l.Close()
		delete(h.destination, dest)
	}

	if h.relay != nil {
		h.relay.Close()
		h.relay = nil
	}
}

// needsRelay reports whether messages from origin to any of destinations
// hop through the relay chain.
func needsRelay(origin string, destinations []string) bool {
	if xcm.IsRelay(origin) {
		return false
	}
	return slices.ContainsFunc(destinations, func(d string) bool { return !xcm.IsRelay(d) })
}

// diffDestinations splits next against current into added and removed chains.
func diffDestinations(current, next []string) (added, removed []string) {
	cur := types.NewSet(current...)
	nxt := types.NewSet(next...)

	return types.Sorted(nxt.Difference(cur)), types.Sorted(cur.Difference(nxt))
}
