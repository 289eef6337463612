// Package ws streams notifications to websocket clients.
//
// A client either attaches to an existing subscription that has a websocket
// channel, or opens a socket and sends a subscription request as its first
// text frame, which creates an ephemeral subscription bound to the socket.
// Every socket of a subscription receives every notification; the ephemeral
// subscription is removed when its last socket closes.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gabapcia/xcmwatch/internal/notifier"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/validator"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrMalformedRequest is answered in-band when a subscription request cannot be decoded.
	ErrMalformedRequest = errors.New("malformed subscription request")

	// ErrNoWebsocketChannel is returned when streaming a subscription without a websocket channel.
	ErrNoWebsocketChannel = errors.New("subscription has no websocket channel")
)

const (
	readLimit  = 1 << 20
	writeWait  = 10 * time.Second
	closeWait  = time.Second
	maxClients = 10_000

	reasonServerBusy     = "server busy"
	reasonServerShutdown = "server shutdown"
)

// Switchboard is the part of the subscription switchboard used by sockets.
type Switchboard interface {
	Subscribe(ctx context.Context, sub subscription.Subscription) error
	Unsubscribe(ctx context.Context, id string)
	FindSubscription(id string) (subscription.Subscription, error)
}

// Observer is notified of socket activity and deliveries.
type Observer interface {
	notifier.Observer
	SocketOpened(ctx context.Context, subscriptionID string)
	SocketClosed(ctx context.Context, subscriptionID string)
}

type nopObserver struct{}

func (nopObserver) Notified(context.Context, string, subscription.ChannelType, xcm.Message) {}
func (nopObserver) NotifyFailed(context.Context, string, subscription.ChannelType, xcm.Message, error) {
}
func (nopObserver) SocketOpened(context.Context, string) {}
func (nopObserver) SocketClosed(context.Context, string) {}

// Protocol serves websocket clients and delivers notifications to them.
type Protocol interface {
	notifier.Notifier

	// Serve upgrades the request. With an empty subscriptionID the client
	// must send a subscription request first.
	Serve(w http.ResponseWriter, r *http.Request, subscriptionID string)

	// Close closes every socket.
	Close()
}

// subscriptionRequest is the first frame of a socket without a subscription.
type subscriptionRequest struct {
	Origin       string                   `json:"origin"`
	Senders      subscription.Senders     `json:"senders"`
	Destinations []string                 `json:"destinations"`
	Events       subscription.EventFilter `json:"events"`
}

func (r subscriptionRequest) descriptor(id string) subscription.Subscription {
	return subscription.Subscription{
		ID:           id,
		Origin:       r.Origin,
		Senders:      r.Senders,
		Destinations: r.Destinations,
		Ephemeral:    true,
		Channels:     []subscription.Channel{{Type: subscription.ChannelWebsocket}},
		Events:       r.Events,
	}
}

type errorFrame struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

type idFrame struct {
	ID string `json:"id"`
}

// conn serializes writes to one socket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *conn) closeWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWait))
	_ = c.ws.Close()
}

type protocol struct {
	mu      sync.Mutex
	clients int
	conns   map[string][]*conn

	switchboard Switchboard
	observer    Observer
	upgrader    websocket.Upgrader
	maxClients  int
}

var _ Protocol = (*protocol)(nil)

// acquire reserves a client slot.
func (p *protocol) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clients >= p.maxClients {
		return false
	}
	p.clients++
	return true
}

func (p *protocol) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients--
}

func (p *protocol) register(id string, c *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[id] = append(p.conns[id], c)
}

// unregister removes c and reports whether it was the last socket of id.
func (p *protocol) unregister(id string, c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := slices.DeleteFunc(p.conns[id], func(other *conn) bool { return other == c })
	if len(conns) == 0 {
		delete(p.conns, id)
		return true
	}

	p.conns[id] = conns
	return false
}

func (p *protocol) Serve(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws}
	ctx := logger.WithFields(context.WithoutCancel(r.Context()), "remote.addr", r.RemoteAddr)

	if !p.acquire() {
		logger.Warn(ctx, "rejecting websocket, too many clients")
		c.closeWith(websocket.CloseTryAgainLater, reasonServerBusy)
		return
	}
	defer p.release()

	ws.SetReadLimit(readLimit)

	var sub subscription.Subscription
	if subscriptionID == "" {
		if sub, err = p.awaitSubscription(ctx, c); err != nil {
			return
		}
	} else {
		if sub, err = p.attach(subscriptionID); err != nil {
			logger.Warn(ctx, "rejecting websocket", "subscription.id", subscriptionID, "error", err)
			c.closeWith(websocket.ClosePolicyViolation, err.Error())
			return
		}
		p.register(sub.ID, c)
	}

	p.stream(logger.WithFields(ctx, "subscription.id", sub.ID), c, sub)
}

// attach resolves an existing subscription with a websocket channel.
func (p *protocol) attach(subscriptionID string) (subscription.Subscription, error) {
	sub, err := p.switchboard.FindSubscription(subscriptionID)
	if err != nil {
		return subscription.Subscription{}, err
	}

	if !sub.HasChannel(subscription.ChannelWebsocket) {
		return subscription.Subscription{}, fmt.Errorf("%w: %s", ErrNoWebsocketChannel, subscriptionID)
	}

	return sub, nil
}

// awaitSubscription reads frames until a valid subscription request creates
// an ephemeral subscription. Invalid requests are answered in-band.
func (p *protocol) awaitSubscription(ctx context.Context, c *conn) (subscription.Subscription, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.ws.Close()
			return subscription.Subscription{}, err
		}

		var req subscriptionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			p.reply(ctx, c, errorFrame{Error: ErrMalformedRequest.Error(), Issues: []string{err.Error()}})
			continue
		}

		id, err := uuid.NewV7()
		if err != nil {
			c.closeWith(websocket.CloseInternalServerErr, err.Error())
			return subscription.Subscription{}, err
		}

		sub := req.descriptor(id.String()).Normalize()
		if err := sub.Validate(); err != nil {
			p.reply(ctx, c, errorFrame{Error: ErrMalformedRequest.Error(), Issues: validator.Issues(err)})
			continue
		}

		// Registered first so that nothing matched before the ack is lost.
		p.register(sub.ID, c)
		if err := p.switchboard.Subscribe(ctx, sub); err != nil {
			p.unregister(sub.ID, c)
			logger.Warn(ctx, "unable to subscribe websocket", "error", err)
			c.closeWith(websocket.CloseTryAgainLater, err.Error())
			return subscription.Subscription{}, err
		}

		p.reply(ctx, c, sub)
		return sub, nil
	}
}

func (p *protocol) reply(ctx context.Context, c *conn, v any) {
	if err := c.writeJSON(v); err != nil {
		logger.Warn(ctx, "websocket write failed", "error", err)
	}
}

// stream keeps reading from c, registered for sub, until the socket closes.
func (p *protocol) stream(ctx context.Context, c *conn, sub subscription.Subscription) {
	p.observer.SocketOpened(ctx, sub.ID)
	logger.Debug(ctx, "websocket streaming")

	defer func() {
		last := p.unregister(sub.ID, c)
		_ = c.ws.Close()
		p.observer.SocketClosed(ctx, sub.ID)

		if last && sub.Ephemeral {
			p.switchboard.Unsubscribe(ctx, sub.ID)
		}
	}()

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		p.reply(ctx, c, idFrame{ID: sub.ID})
	}
}

// Notify writes msg to every socket of sub. A failing socket does not
// affect the others.
func (p *protocol) Notify(ctx context.Context, sub subscription.Subscription, msg xcm.Message) error {
	p.mu.Lock()
	conns := slices.Clone(p.conns[sub.ID])
	p.mu.Unlock()

	for _, c := range conns {
		if err := c.writeJSON(msg.Base()); err != nil {
			logger.Warn(ctx, "websocket delivery failed", "subscription.id", sub.ID, "error", err)
			p.observer.NotifyFailed(ctx, sub.ID, subscription.ChannelWebsocket, msg, err)
			continue
		}
		p.observer.Notified(ctx, sub.ID, subscription.ChannelWebsocket, msg)
	}

	return nil
}

func (p *protocol) Close() {
	p.mu.Lock()
	var conns []*conn
	for _, cs := range p.conns {
		conns = append(conns, cs...)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, reasonServerShutdown)
	}
}

type config struct {
	observer    Observer
	maxClients  int
	checkOrigin func(r *http.Request) bool
}

// Option configures a protocol built by New.
type Option func(*config)

// WithObserver registers a telemetry observer.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithMaxClients caps the number of open sockets.
func WithMaxClients(n int) Option {
	return func(c *config) {
		c.maxClients = n
	}
}

// WithCheckOrigin sets the upgrade origin policy. By default every origin is accepted.
func WithCheckOrigin(f func(r *http.Request) bool) Option {
	return func(c *config) {
		c.checkOrigin = f
	}
}

// New returns a websocket Protocol backed by sw.
func New(sw Switchboard, opts ...Option) *protocol {
	cfg := config{
		observer:    nopObserver{},
		maxClients:  maxClients,
		checkOrigin: func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &protocol{
		conns:       make(map[string][]*conn),
		switchboard: sw,
		observer:    cfg.observer,
		upgrader:    websocket.Upgrader{CheckOrigin: cfg.checkOrigin},
		maxClients:  cfg.maxClients,
	}
}
