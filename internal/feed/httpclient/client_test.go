package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ocsync/internal/feed"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, attempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:      srv.URL + "/",
		LocaleHeader: "X-Locale",
		Locale:       "ja",
		UserAgent:    "ocsync-test",
		MaxAttempts:  attempts,
	}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestFetchPageBuildsRequestAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/category/17", r.URL.Path)
		assert.Equal(t, "RANKING", r.URL.Query().Get("sort"))
		assert.Equal(t, "40", r.URL.Query().Get("limit"))
		assert.Equal(t, "tok-1", r.URL.Query().Get("ct"))
		assert.Equal(t, "ja", r.Header.Get("X-Locale"))
		assert.Equal(t, "ocsync-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"squares":[{"emid":"e1","name":"n","desc":"d","profileImageObsHash":"h","memberCount":12,"badges":[1,2],"joinMethodType":1,"createdAt":1700000000000}],"continuationToken":"tok-2"}`))
	}, 1)

	page, err := c.FetchPage(context.Background(), feed.PageRequest{
		Partition: feed.Partition{Sort: feed.SortRanking, Category: 17},
		Token:     "tok-1",
		Limit:     40,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-2", page.Next)
	require.Len(t, page.Entities, 1)
	e := page.Entities[0]
	assert.Equal(t, "e1", e.EMID)
	assert.Equal(t, "d", e.Description)
	assert.Equal(t, 17, e.Category, "category falls back to the partition")
	assert.Equal(t, 2, e.Emblem())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), e.CreatedAt)
}

func TestFetchDetailNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/square/gone", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}, 3)

	_, err := c.FetchDetail(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, feed.ErrNotFound))
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"square":{"emid":"e9","name":"n"}}`))
	}, 3)

	e, err := c.FetchDetail(context.Background(), "e9")
	require.NoError(t, err)
	assert.Equal(t, "e9", e.EMID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, 3)

	_, err := c.FetchDetail(context.Background(), "e1")
	require.ErrorContains(t, err, "unexpected status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(3, 100*time.Millisecond, time.Second)
	status := &retryableStatusError{status: 429}

	assert.True(t, p.ShouldRetry(status, 1))
	assert.False(t, p.ShouldRetry(status, 3))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(errors.New("decode body"), 1))
	assert.False(t, p.ShouldRetry(nil, 1))

	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
