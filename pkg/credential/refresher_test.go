package credential

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtlink/internal/circuitbreaker"
	rthttp "rtlink/internal/http"
	"rtlink/pkg/core"
)

func newTestClient(t *testing.T) *rthttp.Client {
	t.Helper()
	config := rthttp.DefaultConfig()
	config.MaxRetries = 0
	client, err := rthttp.NewClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func refreshServer(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		data, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(data), `"token"`)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefresher_Refresh(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, http.StatusOK, `{"token":"renewed-token"}`, &calls)

	store := NewStore()
	require.NoError(t, store.Set("login-token"))
	var notified atomic.Int32
	store.OnCredentialRefreshed(func() { notified.Add(1) })

	refresher := NewRefresher(store, newTestClient(t), srv.URL)
	require.NoError(t, refresher.Refresh(context.Background()))

	assert.Equal(t, "renewed-token", store.Current().Value)
	assert.Equal(t, int32(1), notified.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefresher_RefreshWithoutToken(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, http.StatusOK, `{"token":"renewed-token"}`, &calls)

	refresher := NewRefresher(NewStore(), newTestClient(t), srv.URL)
	err := refresher.Refresh(context.Background())

	assert.ErrorIs(t, err, core.ErrNoCredential)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefresher_Rejected(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, http.StatusUnauthorized, `{"error":"jwt expired"}`, &calls)

	store := NewStore()
	require.NoError(t, store.Set("login-token"))

	refresher := NewRefresher(store, newTestClient(t), srv.URL)
	err := refresher.Refresh(context.Background())

	require.Error(t, err)
	assert.True(t, core.IsAuthError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeRefreshFailed))
	assert.Equal(t, "login-token", store.Current().Value)
}

func TestRefresher_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, http.StatusInternalServerError, `{}`, &calls)

	store := NewStore()
	require.NoError(t, store.Set("login-token"))

	refresher := NewRefresher(store, newTestClient(t), srv.URL)
	for i := 0; i < 5; i++ {
		assert.Error(t, refresher.Refresh(context.Background()))
	}
	assert.Equal(t, circuitbreaker.StateOpen, refresher.Breaker().State())

	var logs bytes.Buffer
	refresher.SetLogger(zerolog.New(&logs))

	err := refresher.Refresh(context.Background())
	assert.ErrorIs(t, err, core.ErrBreakerOpen)
	assert.Equal(t, int32(5), calls.Load())

	var entry map[string]any
	require.NoError(t, sonic.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "token refresh suspended", entry["message"])
	assert.Equal(t, "OPEN", entry["breaker"])
	assert.EqualValues(t, 1, entry["rejected"])
}

func TestRefresher_RunRenewsBeforeExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := refreshServer(t, http.StatusOK, `{"token":"renewed-token"}`, &calls)

	store := NewStore()
	store.SetToken(core.Token{Value: "login-token", ExpiresAt: time.Now().Add(200 * time.Millisecond)})

	refresher := NewRefresher(store, newTestClient(t), srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx, 150*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return store.Current().Value == "renewed-token"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
