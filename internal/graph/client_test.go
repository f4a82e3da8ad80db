package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	return NewClient(url, StaticToken("test-token"), Options{
		MaxAttempts:    4,
		BaseDelay:      time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
		AttemptTimeout: time.Second,
		RequestsPerSec: 1000,
	})
}

func TestDoRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, _, next, err := c.ListChildrenPage(context.Background(), "d1", "root", "")
	assert.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRetriesServerFault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, _, _, err := c.ListChildrenPage(context.Background(), "d1", "root", "")
	assert.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoPermanentFailureNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, _, _, err := c.ListChildrenPage(context.Background(), "d1", "root", "")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(1), calls.Load(), "permanent 4xx must not be retried")
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, _, _, err := c.ListChildrenPage(context.Background(), "d1", "root", "")
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestGetDeltaExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetDelta(context.Background(), "d1", srv.URL+"/drives/d1/root/delta?token=stale")
	assert.ErrorIs(t, err, ErrDeltaExpired)
}

func TestGetDeltaClassifiesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"value": [
				{"id": "f1", "name": "a.pdf", "file": {"mimeType": "application/pdf", "hashes": {"sha256Hash": "abc"}}, "size": 10},
				{"id": "dir1", "name": "sub", "folder": {"childCount": 2}},
				{"id": "f2", "name": "gone.txt", "deleted": {"state": "deleted"}}
			],
			"@odata.deltaLink": "https://example.test/delta?token=new"
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	page, err := c.GetDelta(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	assert.False(t, page.Items[0].Deleted)
	require.NotNil(t, page.Items[0].File)
	assert.Equal(t, "abc", page.Items[0].File.ContentHash)

	assert.True(t, page.Items[1].IsFolder)
	assert.True(t, page.Items[2].Deleted)
	assert.Equal(t, "f2", page.Items[2].ItemID)

	assert.Equal(t, "https://example.test/delta?token=new", page.DeltaLink)
	assert.Empty(t, page.NextLink)
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	c := testClient("http://unused")
	err := &throttleError{APIError: &APIError{StatusCode: 429}, retryAfter: 5 * time.Millisecond}
	assert.Equal(t, 5*time.Millisecond, c.backoff(1, err))

	// hint above the cap is clamped
	err = &throttleError{APIError: &APIError{StatusCode: 429}, retryAfter: time.Hour}
	assert.Equal(t, c.maxDelay, c.backoff(1, err))
}

func TestBackoffExponentialCap(t *testing.T) {
	c := NewClient("http://unused", StaticToken("t"), Options{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	})
	assert.Equal(t, 100*time.Millisecond, c.backoff(1, nil))
	assert.Equal(t, 200*time.Millisecond, c.backoff(2, nil))
	assert.Equal(t, 400*time.Millisecond, c.backoff(3, nil))
	assert.Equal(t, 800*time.Millisecond, c.backoff(4, nil))
	assert.Equal(t, time.Second, c.backoff(5, nil))
}

func TestFileFingerprint(t *testing.T) {
	f := &File{ContentHash: "hash", ETag: "etag"}
	assert.Equal(t, "hash", f.Fingerprint())

	f = &File{ETag: "etag"}
	assert.Equal(t, "etag", f.Fingerprint())
}
