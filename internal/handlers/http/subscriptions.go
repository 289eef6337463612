package http

import (
	"net/http"

	"github.com/gabapcia/xcmwatch/internal/subscription"

	"github.com/go-chi/chi/v5"
)

// subscriptionPatch carries the updatable fields of a descriptor. Absent
// fields keep their current value.
type subscriptionPatch struct {
	Senders      *subscription.Senders     `json:"senders"`
	Destinations []string                  `json:"destinations"`
	Channels     []subscription.Channel    `json:"channels"`
	Events       *subscription.EventFilter `json:"events"`
}

func (p subscriptionPatch) apply(sub subscription.Subscription) subscription.Subscription {
	if p.Senders != nil {
		sub.Senders = *p.Senders
	}
	if p.Destinations != nil {
		sub.Destinations = p.Destinations
	}
	if p.Channels != nil {
		sub.Channels = p.Channels
	}
	if p.Events != nil {
		sub.Events = *p.Events
	}
	return sub
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.switchboard.GetSubscriptions())
}

func (h *handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	var sub subscription.Subscription
	if err := decodeJSON(w, r, &sub); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	if sub.Ephemeral {
		writeError(r.Context(), w, ErrEphemeralOverHTTP)
		return
	}

	if err := h.switchboard.Subscribe(r.Context(), sub); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	created, err := h.switchboard.FindSubscription(sub.ID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.switchboard.FindSubscription(chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *handlers) updateSubscription(w http.ResponseWriter, r *http.Request) {
	current, err := h.switchboard.FindSubscription(chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var patch subscriptionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	updated, err := h.switchboard.UpdateSubscription(r.Context(), patch.apply(current))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	h.switchboard.Unsubscribe(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	h.streamer.Serve(w, r, chi.URLParam(r, "id"))
}
