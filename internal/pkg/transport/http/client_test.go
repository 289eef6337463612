package http

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("uses default configuration when no options are provided", func(t *testing.T) {
		client := NewClient()

		require.NotNil(t, client)
		assert.Equal(t, 5*time.Second, client.HTTPClient.Timeout)
		assert.Equal(t, 1*time.Second, client.RetryWaitMin)
		assert.Equal(t, 5*time.Second, client.RetryWaitMax)
		assert.Equal(t, 2, client.RetryMax)
		assert.IsType(t, leveledLogger{}, client.Logger)
	})

	t.Run("applies provided options", func(t *testing.T) {
		client := NewClient(
			WithTimeout(10*time.Second),
			WithRetryWaitMin(200*time.Millisecond),
			WithRetryWaitMax(time.Second),
			WithRetryMax(5),
		)

		assert.Equal(t, 10*time.Second, client.HTTPClient.Timeout)
		assert.Equal(t, 200*time.Millisecond, client.RetryWaitMin)
		assert.Equal(t, time.Second, client.RetryWaitMax)
		assert.Equal(t, 5, client.RetryMax)
	})

	t.Run("retries server errors up to the limit", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewClient(WithRetryMax(2), WithRetryWaitMin(time.Millisecond), WithRetryWaitMax(time.Millisecond))

		req, err := retryablehttp.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL, []byte("{}"))
		require.NoError(t, err)

		_, err = client.Do(req)
		assert.Error(t, err)
		assert.Equal(t, int32(3), hits.Load())
	})
}

func TestNewStandardClient(t *testing.T) {
	t.Run("wraps a retrying transport", func(t *testing.T) {
		client := NewStandardClient()

		require.NotNil(t, client)
		assert.IsType(t, &retryablehttp.RoundTripper{}, client.Transport)
	})
}
