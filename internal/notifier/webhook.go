package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	xhttp "github.com/gabapcia/xcmwatch/internal/pkg/transport/http"
	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// TaskTypeWebhook is the scheduler task type of webhook redeliveries.
const TaskTypeWebhook = "task:webhook"

const (
	defaultRetryDelay  = 5 * time.Minute
	defaultTimeout     = 10 * time.Second
	defaultContentType = "application/json"
	defaultUserAgent   = "xcmwatch/dev"
)

// ErrDeliveryFailed is returned when a webhook POST does not succeed.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// Scheduler is the part of the task scheduler used for redeliveries.
type Scheduler interface {
	Schedule(ctx context.Context, task scheduler.Task) error
	On(taskType string, handler scheduler.Handler)
}

// webhookTask is one delivery of a message to one webhook.
type webhookTask struct {
	ID             string       `json:"id"`
	SubscriptionID string       `json:"subscriptionId"`
	Webhook        string       `json:"webhook"`
	Message        xcm.Envelope `json:"message"`
}

type webhook struct {
	subscriptions subscription.Storage
	scheduler     Scheduler
	observer      Observer
	renderer      *renderer

	retryDelay   time.Duration
	timeout      time.Duration
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	userAgent    string
	now          func() time.Time
}

var _ Notifier = (*webhook)(nil)

// buildPostURL appends id to the webhook path, collapsing duplicate slashes.
func buildPostURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	return u.JoinPath(id).String(), nil
}

func (w *webhook) body(ch subscription.Channel, env xcm.Envelope) ([]byte, error) {
	if ch.Template != "" {
		return w.renderer.Render(ch.Template, env)
	}
	return json.Marshal(env)
}

func (w *webhook) client(ch subscription.Channel) *retryablehttp.Client {
	return xhttp.NewClient(
		xhttp.WithTimeout(w.timeout),
		xhttp.WithRetryMax(ch.RetryLimit()),
		xhttp.WithRetryWaitMin(w.retryWaitMin),
		xhttp.WithRetryWaitMax(w.retryWaitMax),
	)
}

// post delivers task to ch once, with the channel's built-in retries.
func (w *webhook) post(ctx context.Context, ch subscription.Channel, task webhookTask) error {
	target, err := buildPostURL(ch.URL, task.ID)
	if err != nil {
		return err
	}

	body, err := w.body(ch, task.Message)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}

	contentType := ch.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", w.userAgent)
	if ch.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+ch.Bearer)
	}

	res, err := w.client(ch).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: status %d from %s", ErrDeliveryFailed, res.StatusCode, target)
	}

	return nil
}

// dispatch posts task and, on failure, schedules exactly one redelivery.
func (w *webhook) dispatch(ctx context.Context, ch subscription.Channel, task webhookTask) error {
	ctx = logger.WithFields(ctx, "subscription.id", task.SubscriptionID, "webhook.url", ch.URL, "task.id", task.ID)

	msg, err := xcm.FromEnvelope(task.Message)
	if err != nil {
		return err
	}

	err = w.post(ctx, ch, task)
	if err == nil {
		logger.Info(ctx, "webhook notified", "message.type", string(msg.Type()), "message.id", task.Message.MessageID)
		w.observer.Notified(ctx, task.SubscriptionID, subscription.ChannelWebhook, msg)
		return nil
	}

	logger.Warn(ctx, "webhook delivery failed", "error", err)
	w.observer.NotifyFailed(ctx, task.SubscriptionID, subscription.ChannelWebhook, msg, err)

	retry, err := scheduler.NewTask(TaskTypeWebhook, task.ID, w.now().Add(w.retryDelay), task)
	if err != nil {
		return err
	}

	// Persisted even when ctx was cancelled by a shutdown.
	if err := w.scheduler.Schedule(context.WithoutCancel(ctx), retry); err != nil {
		return fmt.Errorf("reschedule webhook delivery: %w", err)
	}

	logger.Info(ctx, "webhook delivery rescheduled", "task.key", retry.Key)
	return nil
}

func (w *webhook) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	var errs []error

	for _, ch := range sub.Webhooks() {
		if !ch.Events.Allows(msg.Type()) {
			continue
		}

		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		task := webhookTask{
			ID:             id.String(),
			SubscriptionID: sub.ID,
			Webhook:        ch.URL,
			Message:        msg.Base(),
		}

		if err := w.dispatch(ctx, ch, task); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// redeliver runs a scheduled delivery against the current channel config.
// A subscription or webhook removed in the meantime ends the task.
func (w *webhook) redeliver(ctx context.Context, t scheduler.Task) error {
	var task webhookTask
	if err := t.Decode(&task); err != nil {
		return fmt.Errorf("decode webhook task: %w", err)
	}

	ctx = logger.WithFields(ctx, "subscription.id", task.SubscriptionID, "webhook.url", task.Webhook, "task.id", task.ID)

	sub, err := w.subscriptions.GetByID(ctx, task.SubscriptionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		logger.Warn(ctx, "dropping webhook delivery of removed subscription")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	ch, ok := sub.WebhookByURL(task.Webhook)
	if !ok || !ch.Events.Allows(task.Message.Type) {
		logger.Warn(ctx, "dropping webhook delivery of removed channel")
		return nil
	}

	return w.dispatch(ctx, ch, task)
}

type webhookConfig struct {
	observer     Observer
	retryDelay   time.Duration
	timeout      time.Duration
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	userAgent    string
	now          func() time.Time
}

// WebhookOption configures a webhook notifier built by NewWebhook.
type WebhookOption func(*webhookConfig)

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) WebhookOption {
	return func(c *webhookConfig) {
		c.observer = o
	}
}

// WithRetryDelay sets how far in the future failed deliveries are rescheduled.
func WithRetryDelay(d time.Duration) WebhookOption {
	return func(c *webhookConfig) {
		c.retryDelay = d
	}
}

// WithTimeout sets the timeout of a single POST attempt.
func WithTimeout(d time.Duration) WebhookOption {
	return func(c *webhookConfig) {
		c.timeout = d
	}
}

// WithRetryWait sets the bounds of the wait between built-in retries.
func WithRetryWait(minWait, maxWait time.Duration) WebhookOption {
	return func(c *webhookConfig) {
		c.retryWaitMin = minWait
		c.retryWaitMax = maxWait
	}
}

// WithUserAgent sets the User-Agent header of every POST.
func WithUserAgent(ua string) WebhookOption {
	return func(c *webhookConfig) {
		c.userAgent = ua
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WebhookOption {
	return func(c *webhookConfig) {
		c.now = now
	}
}

// NewWebhook returns the webhook Notifier and registers its redelivery
// handler on sched.
func NewWebhook(subscriptions subscription.Storage, sched Scheduler, opts ...WebhookOption) *webhook {
	cfg := webhookConfig{
		observer:     nopObserver{},
		retryDelay:   defaultRetryDelay,
		timeout:      defaultTimeout,
		retryWaitMin: time.Second,
		retryWaitMax: 30 * time.Second,
		userAgent:    defaultUserAgent,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &webhook{
		subscriptions: subscriptions,
		scheduler:     sched,
		observer:      cfg.observer,
		renderer:      newRenderer(),
		retryDelay:    cfg.retryDelay,
		timeout:       cfg.timeout,
		retryWaitMin:  cfg.retryWaitMin,
		retryWaitMax:  cfg.retryWaitMax,
		userAgent:     cfg.userAgent,
		now:           cfg.now,
	}

	sched.On(TaskTypeWebhook, w.redeliver)
	return w
}
