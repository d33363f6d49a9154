package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
)

func newTestStore(t *testing.T, gw *DevGateway, token string) *Store {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	s, err := New(Config{APIURL: srv.URL, Token: token, Timeout: time.Second}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return s
}

func TestUploadIsContentAddressed(t *testing.T) {
	gw := NewDevGateway()
	s := newTestStore(t, gw, "")
	ctx := context.Background()

	up, err := s.Upload(ctx, []byte("hello"), "text/plain", map[string]string{"kind": "banner"})
	require.NoError(t, err)
	assert.Equal(t, "ipfs://"+canonical.ContentHash([]byte("hello")), up.URI)
	assert.Equal(t, canonical.ContentHash([]byte("hello")), up.ContentHash)
	assert.Equal(t, int64(5), up.Size)

	again, err := s.Upload(ctx, []byte("hello"), "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, up.URI, again.URI)
	assert.Equal(t, 1, gw.Count())
}

func TestUploadJSONUsesCanonicalEncoding(t *testing.T) {
	gw := NewDevGateway()
	s := newTestStore(t, gw, "")
	ctx := context.Background()

	a, err := s.UploadJSON(ctx, map[string]any{"b": 1, "a": "x"}, nil)
	require.NoError(t, err)
	b, err := s.UploadJSON(ctx, map[string]any{"a": "x", "b": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.URI, b.URI)
	assert.Equal(t, canonical.ContentHash([]byte(`{"a":"x","b":1}`)), a.ContentHash)

	resp, err := http.Get(s.ResolveURL(a.URI))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"a":"x","b":1}`, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestUploadAuthFailureIsUploadError(t *testing.T) {
	gw := NewDevGateway()
	gw.Token = "secret"

	bad := newTestStore(t, gw, "wrong")
	_, err := bad.Upload(context.Background(), []byte("x"), "", nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeUploadFailed, model.StorageCode(err))
	assert.Contains(t, err.Error(), "credentials")

	good := newTestStore(t, gw, "secret")
	_, err = good.Upload(context.Background(), []byte("x"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "bearer", good.Config()["auth"])
	assert.NotContains(t, good.Config(), "token")
}

func TestUploadTransportFailure(t *testing.T) {
	s, err := New(Config{APIURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond}, WithLogger(logging.Discard()))
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), []byte("x"), "", nil)
	require.Error(t, err)
	assert.True(t, model.IsStorage(err))
	assert.Equal(t, model.StoreMedia, s.Name())
}

func TestUploadSendsTags(t *testing.T) {
	var gotTags string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTags = r.Header.Get("X-Pin-Tags")
		_, _ = w.Write([]byte(`{"cid":"bafy123"}`))
	}))
	defer srv.Close()

	s, err := New(Config{APIURL: srv.URL}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	up, err := s.Upload(context.Background(), []byte("abc"), "", map[string]string{"record_id": "r1", "kind": "metadata"})
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"metadata","record_id":"r1"}`, gotTags)
	assert.Equal(t, "ipfs://bafy123", up.URI)
	assert.Equal(t, int64(3), up.Size)
}

func TestDeleteIsNoOp(t *testing.T) {
	gw := NewDevGateway()
	s := newTestStore(t, gw, "")
	up, err := s.Upload(context.Background(), []byte("keep"), "", nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), up.URI))
	assert.Equal(t, 1, gw.Count())
	require.NoError(t, s.Reachable(context.Background(), s.ResolveURL(up.URI)))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "https://gw/ipfs/bafy", Resolve("https://gw/ipfs/", "ipfs://bafy"))
	assert.Equal(t, "https://gw/ipfs/bafy/meta.json", Resolve("https://gw/ipfs", "ipfs://bafy/meta.json"))
	assert.Equal(t, "https://gw/ipfs/bafy", Resolve("https://gw/ipfs/", "bafy"))
	assert.Equal(t, "https://other/x", Resolve("https://gw/ipfs/", "https://other/x"))
}

func TestReachableAndHealth(t *testing.T) {
	gw := NewDevGateway()
	s := newTestStore(t, gw, "")
	ctx := context.Background()

	up, err := s.Upload(ctx, []byte("gone soon"), "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Reachable(ctx, s.ResolveURL(up.URI)))

	gw.Unpin(up.URI)
	require.Error(t, s.Reachable(ctx, s.ResolveURL(up.URI)))

	assert.Equal(t, model.Healthy, s.HealthCheck(ctx).Status)

	down, err := New(Config{APIURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	st := down.HealthCheck(ctx)
	assert.Equal(t, model.Unhealthy, st.Status)
	assert.NotEmpty(t, st.Detail)
}

func TestNewRequiresAPIURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
