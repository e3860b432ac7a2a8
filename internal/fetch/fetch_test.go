package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_RevalidatesWithETag(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	t.Cleanup(srv.Close)

	f := New(t.TempDir(), WithHTTPClient(srv.Client()))

	first, err := f.Get(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, `{"events":[]}`, string(first.Body))

	second, err := f.Get(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_FallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR"))
	}))
	t.Cleanup(srv.Close)

	f := New(t.TempDir(), WithHTTPClient(srv.Client()))
	_, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "BEGIN:VCALENDAR", string(res.Body))
}

func TestGet_StatusErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	f := New("", WithHTTPClient(srv.Client()))
	_, err := f.Get(context.Background(), srv.URL)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestGet_SendsAccept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)

	f := New("", WithHTTPClient(srv.Client()), WithAccept("application/json"))
	_, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
}

func TestGet_EmptyURL(t *testing.T) {
	_, err := New("").Get(context.Background(), "")
	assert.Error(t, err)
}

func TestExpandURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/api/events/some%20one", ExpandURL("https://api.example.com/api/events/{username}", "some one"))
	assert.Equal(t, "https://x.test/static", ExpandURL("https://x.test/static", "rj"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", RedactURL("https://example.com/path/private.ics?token=abcd"))
	assert.Equal(t, "http://127.0.0.1:8080/...(redacted)", RedactURL("http://127.0.0.1:8080"))
	assert.Equal(t, "url://...(redacted)", RedactURL("not a url"))
}
