package notifier

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/xcm"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path          string
	ContentType   string
	UserAgent     string
	Authorization string
	Body          []byte
}

// webhookServer answers every POST with the current status and keeps the requests.
type webhookServer struct {
	*httptest.Server

	status   atomic.Int32
	hits     atomic.Int32
	mu       sync.Mutex
	requests []capturedRequest
}

func newWebhookServer(t *testing.T, status int) *webhookServer {
	s := &webhookServer{}
	s.status.Store(int32(status))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			Path:          r.URL.Path,
			ContentType:   r.Header.Get("Content-Type"),
			UserAgent:     r.Header.Get("User-Agent"),
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		s.mu.Unlock()

		s.hits.Add(1)
		w.WriteHeader(int(s.status.Load()))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *webhookServer) last() capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func intPtr(v int) *int { return &v }

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestBuildPostURL(t *testing.T) {
	t.Run("appends the task id", func(t *testing.T) {
		got, err := buildPostURL("http://localhost:8080/hooks", "abc")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/hooks/abc", got)
	})

	t.Run("collapses trailing slashes", func(t *testing.T) {
		got, err := buildPostURL("http://localhost:8080/hooks/", "abc")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8080/hooks/abc", got)
	})

	t.Run("rejects malformed urls", func(t *testing.T) {
		_, err := buildPostURL("http://[::1", "abc")
		assert.Error(t, err)
	})
}

func TestWebhook_Notify(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	t.Run("posts the json envelope", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusOK)
		sched := newTaskRecorder()
		obs := &outcomeRecorder{}

		w := NewWebhook(NewSubscriptionStorageMock(t), sched, WithObserver(obs), WithUserAgent("xcmwatch/test"))

		sub := subscription.Subscription{
			ID:       "s1",
			Channels: []subscription.Channel{{Type: subscription.ChannelWebhook, URL: srv.URL + "/hooks", Bearer: "secret"}},
		}

		require.NoError(t, w.Notify(t.Context(), sub, sentMessage()))

		req := srv.last()
		assert.True(t, strings.HasPrefix(req.Path, "/hooks/"))
		assert.Len(t, strings.TrimPrefix(req.Path, "/hooks/"), 36)
		assert.Equal(t, "application/json", req.ContentType)
		assert.Equal(t, "xcmwatch/test", req.UserAgent)
		assert.Equal(t, "Bearer secret", req.Authorization)
		g.Assert(t, "webhook_envelope", req.Body)

		assert.Equal(t, 1, obs.notified)
		assert.Empty(t, sched.scheduled())
	})

	t.Run("renders the channel template", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusAccepted)
		w := NewWebhook(NewSubscriptionStorageMock(t), newTaskRecorder())

		sub := subscription.Subscription{
			ID: "s1",
			Channels: []subscription.Channel{{
				Type:        subscription.ChannelWebhook,
				URL:         srv.URL,
				ContentType: "text/plain",
				Template:    `{"id":"{{.messageId}}","type":"{{.type}}","from":"{{.origin.chainId}}","to":"{{.destination.chainId}}","legs":{{json .legs}},"leg":{{.waypoint.legIndex}}}`,
			}},
		}

		require.NoError(t, w.Notify(t.Context(), sub, sentMessage()))

		req := srv.last()
		assert.Equal(t, "text/plain", req.ContentType)
		assert.Empty(t, req.Authorization)
		g.Assert(t, "webhook_template", req.Body)
	})

	t.Run("skips channels filtering the message type", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusOK)
		w := NewWebhook(NewSubscriptionStorageMock(t), newTaskRecorder())

		sub := subscription.Subscription{
			ID: "s1",
			Channels: []subscription.Channel{{
				Type:   subscription.ChannelWebhook,
				URL:    srv.URL,
				Events: subscription.EventsOf(xcm.TypeReceived),
			}},
		}

		require.NoError(t, w.Notify(t.Context(), sub, sentMessage()))
		assert.Zero(t, srv.hits.Load())
	})

	t.Run("retries up to the channel limit", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusInternalServerError)
		sched := newTaskRecorder()
		w := NewWebhook(NewSubscriptionStorageMock(t), sched, WithRetryWait(time.Millisecond, time.Millisecond))

		sub := subscription.Subscription{
			ID:       "s1",
			Channels: []subscription.Channel{{Type: subscription.ChannelWebhook, URL: srv.URL, Limit: intPtr(2)}},
		}

		require.NoError(t, w.Notify(t.Context(), sub, sentMessage()))
		assert.EqualValues(t, 3, srv.hits.Load())
		assert.Len(t, sched.scheduled(), 1)
	})

	t.Run("schedules exactly one redelivery on failure", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusServiceUnavailable)
		sched := newTaskRecorder()
		obs := &outcomeRecorder{}
		now := fixedClock()

		w := NewWebhook(NewSubscriptionStorageMock(t), sched,
			WithObserver(obs),
			WithClock(now),
			WithRetryDelay(time.Minute),
		)

		sub := subscription.Subscription{
			ID:       "s1",
			Channels: []subscription.Channel{{Type: subscription.ChannelWebhook, URL: srv.URL, Limit: intPtr(0)}},
		}

		require.NoError(t, w.Notify(t.Context(), sub, sentMessage()))
		assert.EqualValues(t, 1, srv.hits.Load())
		assert.Equal(t, 1, obs.failed)

		tasks := sched.scheduled()
		require.Len(t, tasks, 1)
		assert.Equal(t, TaskTypeWebhook, tasks[0].Type)
		assert.True(t, now().Add(time.Minute).Equal(tasks[0].DueAt))

		var task webhookTask
		require.NoError(t, tasks[0].Decode(&task))
		assert.Equal(t, "s1", task.SubscriptionID)
		assert.Equal(t, srv.URL, task.Webhook)
		assert.Equal(t, xcm.TypeSent, task.Message.Type)
		assert.Equal(t, scheduler.TaskKey(now().Add(time.Minute), task.ID), tasks[0].Key)
	})
}

func TestWebhook_Redeliver(t *testing.T) {
	failOnce := func(t *testing.T, srv *webhookServer, sched *taskRecorder, subs *SubscriptionStorageMock) scheduler.Task {
		w := NewWebhook(subs, sched)
		sub := subscription.Subscription{
			ID:       "s1",
			Channels: []subscription.Channel{{Type: subscription.ChannelWebhook, URL: srv.URL, Limit: intPtr(0)}},
		}

		require.NoError(t, w.Notify(t.Context(), sub, sentMessage()))
		tasks := sched.scheduled()
		require.Len(t, tasks, 1)
		return tasks[0]
	}

	t.Run("delivers with the stored channel", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusBadGateway)
		sched := newTaskRecorder()
		subs := NewSubscriptionStorageMock(t)
		task := failOnce(t, srv, sched, subs)

		srv.status.Store(http.StatusOK)
		subs.On("GetByID", mock.Anything, "s1").Return(subscription.Subscription{
			ID: "s1",
			Channels: []subscription.Channel{{
				Type:   subscription.ChannelWebhook,
				URL:    srv.URL,
				Bearer: "rotated",
				Limit:  intPtr(0),
			}},
		}, nil).Once()

		require.NoError(t, sched.handlers[TaskTypeWebhook](t.Context(), task))
		assert.EqualValues(t, 2, srv.hits.Load())
		assert.Equal(t, "Bearer rotated", srv.last().Authorization)
		assert.Len(t, sched.scheduled(), 1)
	})

	t.Run("reschedules again while failing", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusBadGateway)
		sched := newTaskRecorder()
		subs := NewSubscriptionStorageMock(t)
		task := failOnce(t, srv, sched, subs)

		subs.On("GetByID", mock.Anything, "s1").Return(subscription.Subscription{
			ID:       "s1",
			Channels: []subscription.Channel{{Type: subscription.ChannelWebhook, URL: srv.URL, Limit: intPtr(0)}},
		}, nil).Once()

		require.NoError(t, sched.handlers[TaskTypeWebhook](t.Context(), task))
		assert.Len(t, sched.scheduled(), 2)
	})

	t.Run("drops deliveries of removed subscriptions", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusBadGateway)
		sched := newTaskRecorder()
		subs := NewSubscriptionStorageMock(t)
		task := failOnce(t, srv, sched, subs)

		subs.On("GetByID", mock.Anything, "s1").Return(subscription.Subscription{}, subscription.ErrSubscriptionNotFound).Once()

		require.NoError(t, sched.handlers[TaskTypeWebhook](t.Context(), task))
		assert.EqualValues(t, 1, srv.hits.Load())
	})

	t.Run("drops deliveries of removed channels", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusBadGateway)
		sched := newTaskRecorder()
		subs := NewSubscriptionStorageMock(t)
		task := failOnce(t, srv, sched, subs)

		subs.On("GetByID", mock.Anything, "s1").Return(subscription.Subscription{
			ID:       "s1",
			Channels: []subscription.Channel{{Type: subscription.ChannelLog}},
		}, nil).Once()

		require.NoError(t, sched.handlers[TaskTypeWebhook](t.Context(), task))
		assert.EqualValues(t, 1, srv.hits.Load())
	})

	t.Run("surfaces storage failures", func(t *testing.T) {
		srv := newWebhookServer(t, http.StatusBadGateway)
		sched := newTaskRecorder()
		subs := NewSubscriptionStorageMock(t)
		task := failOnce(t, srv, sched, subs)

		subs.On("GetByID", mock.Anything, "s1").Return(subscription.Subscription{}, errors.New("redis down")).Once()

		assert.ErrorContains(t, sched.handlers[TaskTypeWebhook](t.Context(), task), "redis down")
	})
}
