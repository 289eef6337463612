// Package http exposes the subscription API and mounts the websocket
// protocol on a chi router.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/subscription"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodySize = 1 << 20

// Switchboard is the part of the subscription switchboard exposed over HTTP.
type Switchboard interface {
	Subscribe(ctx context.Context, sub subscription.Subscription) error
	Unsubscribe(ctx context.Context, id string)
	UpdateSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error)
	FindSubscription(id string) (subscription.Subscription, error)
	GetSubscriptions() []subscription.Subscription
}

// Streamer upgrades websocket requests.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, subscriptionID string)
}

type handlers struct {
	switchboard Switchboard
	streamer    Streamer
}

// NewRouter returns the API handler.
func NewRouter(sw Switchboard, streamer Streamer) http.Handler {
	h := &handlers{switchboard: sw, streamer: streamer}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/subs", func(r chi.Router) {
		r.Use(requestLogger)
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/", h.listSubscriptions)
		r.Post("/", h.createSubscription)
		r.Get("/{id}", h.getSubscription)
		r.Patch("/{id}", h.updateSubscription)
		r.Delete("/{id}", h.deleteSubscription)
	})

	r.Route("/ws/subs", func(r chi.Router) {
		r.Get("/", h.stream)
		r.Get("/{id}", h.stream)
	})

	return r
}

// requestLogger logs every request once it is served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logger.Debug(r.Context(), "request served",
			"http.method", r.Method,
			"http.path", r.URL.Path,
			"http.status", ww.Status(),
			"http.duration", time.Since(start),
			"remote.addr", r.RemoteAddr,
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return nil
}
