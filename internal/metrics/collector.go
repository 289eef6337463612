// Package metrics records pipeline activity as OpenTelemetry instruments.
// A single Collector observes the chain streams, the matching engine, the
// switchboard, the notifiers and the websocket sockets.
package metrics

import (
	"context"
	"errors"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/handlers/ws"
	"github.com/gabapcia/xcmwatch/internal/lanes"
	"github.com/gabapcia/xcmwatch/internal/matching"
	"github.com/gabapcia/xcmwatch/internal/notifier"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/switchboard"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every instrument.
const MeterName = "github.com/gabapcia/xcmwatch"

type Collector struct {
	blocks        metric.Int64Counter
	streamErrors  metric.Int64Counter
	legs          metric.Int64Counter
	matched       metric.Int64Counter
	laneErrors    metric.Int64Counter
	notifications metric.Int64Counter
	failures      metric.Int64Counter
	sockets       metric.Int64UpDownCounter
}

var (
	_ chainstream.Observer = (*Collector)(nil)
	_ matching.Observer    = (*Collector)(nil)
	_ switchboard.Observer = (*Collector)(nil)
	_ notifier.Observer    = (*Collector)(nil)
	_ ws.Observer          = (*Collector)(nil)
)

func (c *Collector) BlockSeen(ctx context.Context, chainID string, _ uint64) {
	c.blocks.Add(ctx, 1, metric.WithAttributes(attribute.String("chain.id", chainID)))
}

func (c *Collector) StreamError(ctx context.Context, chainID string, _ error) {
	c.streamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("chain.id", chainID)))
}

func (c *Collector) leg(ctx context.Context, kind, chainID string) {
	c.legs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("leg.kind", kind),
		attribute.String("chain.id", chainID),
	))
}

func (c *Collector) Outbound(ctx context.Context, ev xcm.SentEvent) {
	c.leg(ctx, "outbound", ev.Origin.ChainID)
}

func (c *Collector) Inbound(ctx context.Context, ev xcm.ReceivedEvent) {
	c.leg(ctx, "inbound", ev.Destination.ChainID)
}

func (c *Collector) Relayed(ctx context.Context, ev xcm.RelayedEvent) {
	c.leg(ctx, "relay", ev.Relay.ChainID)
}

func (c *Collector) Matched(ctx context.Context, sent xcm.SentEvent, received xcm.ReceivedEvent) {
	c.matched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("origin.id", sent.Origin.ChainID),
		attribute.String("destination.id", received.Destination.ChainID),
	))
}

func (c *Collector) SubscriptionError(ctx context.Context, _ string, direction lanes.Direction, _ error) {
	c.laneErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("lane.direction", string(direction))))
}

func deliveryAttributes(channel subscription.ChannelType, msg xcm.Message) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("channel.type", string(channel)),
		attribute.String("message.type", string(msg.Type())),
	)
}

func (c *Collector) Notified(ctx context.Context, _ string, channel subscription.ChannelType, msg xcm.Message) {
	c.notifications.Add(ctx, 1, deliveryAttributes(channel, msg))
}

func (c *Collector) NotifyFailed(ctx context.Context, _ string, channel subscription.ChannelType, msg xcm.Message, _ error) {
	c.failures.Add(ctx, 1, deliveryAttributes(channel, msg))
}

func (c *Collector) SocketOpened(ctx context.Context, _ string) {
	c.sockets.Add(ctx, 1)
}

func (c *Collector) SocketClosed(ctx context.Context, _ string) {
	c.sockets.Add(ctx, -1)
}

// New creates the instruments of a Collector on meter. A nil meter uses the
// globally registered provider.
func New(meter metric.Meter) (*Collector, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	var (
		c    Collector
		errs []error
	)

	counter := func(name, desc string) metric.Int64Counter {
		ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return ctr
	}

	c.blocks = counter("xcmwatch.blocks", "Finalized blocks received from chain gateways.")
	c.streamErrors = counter("xcmwatch.stream.errors", "Chain stream failures.")
	c.legs = counter("xcmwatch.legs", "Message legs handed to the matching engine.")
	c.matched = counter("xcmwatch.matched", "Sent messages matched with their execution.")
	c.laneErrors = counter("xcmwatch.lane.errors", "Failures while extracting legs for a subscription.")
	c.notifications = counter("xcmwatch.notifications", "Notifications delivered to a channel.")
	c.failures = counter("xcmwatch.notifications.failed", "Notifications that could not be delivered.")

	sockets, err := meter.Int64UpDownCounter("xcmwatch.sockets", metric.WithDescription("Open websocket connections."))
	errs = append(errs, err)
	c.sockets = sockets

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &c, nil
}
