package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/resilience"
)

func testFetchConfig() config.FetchConfig {
	return config.FetchConfig{
		RequestDelayMs:    1,
		TimeoutSecs:       5,
		MaxRetries:        2,
		BackoffMultiplier: 2.0,
		UserAgents:        []string{"agent-one", "agent-two"},
	}
}

func TestFetchOneSuccess(t *testing.T) {
	var gotUA, gotReferer string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><h1>MSc Data Science</h1></html>"))
	}))
	defer ts.Close()

	f := New(testFetchConfig())
	res, err := f.FetchOne(context.Background(), ts.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Body, "MSc Data Science")
	assert.Contains(t, res.ContentType, "text/html")
	assert.Contains(t, []string{"agent-one", "agent-two"}, gotUA)
	assert.Equal(t, ts.URL, gotReferer)
	assert.False(t, res.FetchedAt.IsZero())
}

func TestFetchOneBlockedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	f := New(testFetchConfig())
	_, err := f.FetchOne(context.Background(), ts.URL)

	require.Error(t, err)
	assert.True(t, resilience.IsBlocked(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchOneRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer ts.Close()

	f := New(testFetchConfig())
	res, err := f.FetchOne(context.Background(), ts.URL)

	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchOneExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	f := New(testFetchConfig())
	_, err := f.FetchOne(context.Background(), ts.URL)

	require.Error(t, err)
	fe := resilience.AsFetchError(err)
	require.NotNil(t, fe)
	assert.Equal(t, model.CodeServerError, fe.Code)
	// MaxRetries=2 means 3 total attempts.
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchOneSkippableHTTPError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	f := New(testFetchConfig())
	_, err := f.FetchOne(context.Background(), ts.URL)

	require.Error(t, err)
	fe := resilience.AsFetchError(err)
	require.NotNil(t, fe)
	assert.Equal(t, model.CodeHTTPError, fe.Code)
	assert.False(t, fe.Retryable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchManyBlockedAbortsSequence(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/never", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("should not be reached"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := New(testFetchConfig())
	results, err := f.FetchMany(context.Background(), []string{
		ts.URL + "/ok",
		ts.URL + "/blocked",
		ts.URL + "/never",
	})

	require.Error(t, err)
	assert.True(t, resilience.IsBlocked(err))
	require.Len(t, results, 1)
	assert.Equal(t, "fine", results[0].Body)
	assert.Equal(t, int32(0), hits.Load(), "third url must never be attempted")
}

func TestFetchManyContinuesPastSkippableFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("a"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("b"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := New(testFetchConfig())
	results, err := f.FetchMany(context.Background(), []string{
		ts.URL + "/a",
		ts.URL + "/missing",
		ts.URL + "/b",
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Body)
	assert.Equal(t, "b", results[1].Body)
}

func TestFetchManyEmptyInput(t *testing.T) {
	f := New(testFetchConfig())
	results, err := f.FetchMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
