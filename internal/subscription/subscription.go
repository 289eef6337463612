// Package subscription defines the descriptor of what to watch and where to
// deliver notifications, together with its validation rules and the
// persistence boundary used to store non-ephemeral descriptors.
package subscription

import (
	"slices"

	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/pkg/validator"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

// ChannelType identifies a notification channel.
type ChannelType string

const (
	ChannelWebhook   ChannelType = "webhook"
	ChannelLog       ChannelType = "log"
	ChannelWebsocket ChannelType = "websocket"
)

// DefaultWebhookLimit is the number of built-in retries of a webhook POST.
const DefaultWebhookLimit = 5

// Channel is one delivery target. Only webhook channels carry configuration.
type Channel struct {
	Type        ChannelType `json:"type" validate:"required,oneof=webhook log websocket"`
	URL         string      `json:"url,omitempty" validate:"required_if=Type webhook,omitempty,min=5,max=2000,httpurl"`
	ContentType string      `json:"contentType,omitempty" validate:"omitempty,min=3,max=250"`
	Events      EventFilter `json:"events"`
	Template    string      `json:"template,omitempty" validate:"omitempty,min=5,max=32000"`
	Bearer      string      `json:"bearer,omitempty" validate:"omitempty,max=1000"`
	Limit       *int        `json:"limit,omitempty" validate:"omitempty,min=0,max=10"`
}

// RetryLimit returns the configured built-in retry limit of a webhook.
func (c Channel) RetryLimit() int {
	if c.Limit == nil {
		return DefaultWebhookLimit
	}
	return *c.Limit
}

// Subscription describes which messages to follow and how to notify them.
type Subscription struct {
	ID           string      `json:"id" validate:"required,safeid"`
	Origin       string      `json:"origin" validate:"required,chainid"`
	Senders      Senders     `json:"senders"`
	Destinations []string    `json:"destinations" validate:"required,min=1,dive,chainid"`
	Ephemeral    bool        `json:"ephemeral,omitempty"`
	Channels     []Channel   `json:"channels" validate:"required,min=1,dive"`
	Events       EventFilter `json:"events"`
}

func init() {
	validator.RegisterStructValidation(validateSubscription, Subscription{})
}

// validateSubscription holds the cross-field rules.
func validateSubscription(sl validator.StructLevel) {
	s := sl.Current().Interface().(Subscription)

	if !s.Senders.All && len(s.Senders.Addresses) == 0 {
		sl.ReportError(s.Senders, "senders", "Senders", "required", "")
	}

	if s.Ephemeral && (len(s.Channels) != 1 || s.Channels[0].Type != ChannelWebsocket) {
		sl.ReportError(s.Channels, "channels", "Channels", "ephemeral_websocket", "")
	}

	if !s.Events.valid() {
		sl.ReportError(s.Events, "events", "Events", "oneof", "xcm.sent xcm.received xcm.relayed")
	}

	urls := make(types.Set[string])
	for _, ch := range s.Channels {
		if !ch.Events.valid() {
			sl.ReportError(ch.Events, "events", "Events", "oneof", "xcm.sent xcm.received xcm.relayed")
		}

		if ch.Type != ChannelWebhook {
			continue
		}
		if urls.Has(ch.URL) {
			sl.ReportError(ch.URL, "channels", "Channels", "unique_webhook_url", "")
		}
		urls.Add(ch.URL)
	}
}

// Validate checks every field and cross-field rule.
func (s Subscription) Validate() error {
	return validator.Validate(s)
}

// Normalize returns a copy without duplicated destinations or senders.
func (s Subscription) Normalize() Subscription {
	s.Destinations = types.Distinct(s.Destinations)
	s.Senders.Addresses = types.Distinct(s.Senders.Addresses)
	s.Channels = slices.Clone(s.Channels)
	return s
}

// HasChannel reports whether a channel of type t is configured.
func (s Subscription) HasChannel(t ChannelType) bool {
	return slices.ContainsFunc(s.Channels, func(c Channel) bool { return c.Type == t })
}

// ChannelTypes lists the distinct channel types in configuration order.
func (s Subscription) ChannelTypes() []ChannelType {
	out := make([]ChannelType, 0, len(s.Channels))
	for _, c := range s.Channels {
		out = append(out, c.Type)
	}
	return types.Distinct(out)
}

// Webhooks returns the webhook channels.
func (s Subscription) Webhooks() []Channel {
	var out []Channel
	for _, c := range s.Channels {
		if c.Type == ChannelWebhook {
			out = append(out, c)
		}
	}
	return out
}

// WebhookByURL finds the webhook channel posting to url. Webhook URLs are
// unique within a valid subscription.
func (s Subscription) WebhookByURL(url string) (Channel, bool) {
	for _, c := range s.Webhooks() {
		if c.URL == url {
			return c, true
		}
	}
	return Channel{}, false
}

// Allows reports whether messages of type t are delivered for this subscription.
func (s Subscription) Allows(t xcm.MessageType) bool {
	return s.Events.Allows(t)
}
