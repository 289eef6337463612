package notifier

import (
	"context"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

type logNotifier struct {
	observer Observer
}

var _ Notifier = (*logNotifier)(nil)

func (n *logNotifier) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	env := msg.Base()

	logger.Info(ctx, "xcm notification",
		"subscription.id", sub.ID,
		"message.type", string(env.Type),
		"message.id", env.MessageID,
		"message.hash", env.MessageHash,
		"origin.chain.id", env.Origin.ChainID,
		"origin.block.number", env.Origin.BlockNumber,
		"destination.chain.id", env.Destination.ChainID,
		"waypoint.chain.id", env.Waypoint.ChainID,
		"waypoint.leg.index", env.Waypoint.LegIndex,
		"waypoint.outcome", string(env.Waypoint.Outcome),
	)

	n.observer.Notified(ctx, sub.ID, subscription.ChannelLog, msg)
	return nil
}

// NewLog returns a Notifier writing messages to the structured log.
func NewLog(observer Observer) *logNotifier {
	if observer == nil {
		observer = nopObserver{}
	}
	return &logNotifier{observer: observer}
}
