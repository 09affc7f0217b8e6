package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/token"
	"github.com/thep200/release-crawler/pkg/log"
)

func newTestScheduler(t *testing.T, secrets []string) (*Scheduler, *token.Pool) {
	loader, err := cfg.NewMockLoader()
	require.NoError(t, err)
	config, err := loader.Load()
	require.NoError(t, err)
	config.GithubApi.MinRemaining = 10
	config.GithubApi.RequestIntervalMs = 0
	config.GithubApi.MaxRetries = 3
	config.GithubApi.RateLimitResetMin = 15

	logger, err := log.NewCslLogger()
	require.NoError(t, err)

	pool, err := token.NewPool(logger, secrets, config.GithubApi.MinRemaining)
	require.NoError(t, err)

	return NewScheduler(logger, config, pool), pool
}

func writeRateHeaders(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

func TestSubmitSuccess(t *testing.T) {
	var gotAuth, gotAccept, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		writeRateHeaders(w, 4000)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	sched, pool := newTestScheduler(t, []string{"aaa"})
	body, err := sched.Submit(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	assert.Equal(t, "token aaa", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
	assert.Equal(t, "release-crawler", gotAgent)

	usage := pool.Usage()
	assert.Equal(t, 4000, usage[0].Remaining)
	assert.Equal(t, 1, usage[0].SuccessCount)
}

func TestSubmitRetriesExhaustedOnServerError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeRateHeaders(w, 4000)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sched, _ := newTestScheduler(t, []string{"aaa"})
	_, err := sched.Submit(context.Background(), Request{URL: server.URL})

	var re *RetriesExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, http.StatusInternalServerError, re.LastStatus)
	assert.Equal(t, server.URL, re.URL)
	assert.Equal(t, int64(3), calls.Load())
}

func TestSubmitRotatesOnQuotaRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "token aaa" {
			writeRateHeaders(w, 0)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeRateHeaders(w, 4000)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sched, pool := newTestScheduler(t, []string{"aaa", "bbb"})
	body, err := sched.Submit(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(body))

	usage := pool.Usage()
	assert.True(t, usage[0].IsCoolingDown)
	assert.Equal(t, 1, usage[0].FailureCount)
	assert.Equal(t, 1, usage[1].SuccessCount)
}

func TestSubmitForceCooldownWithoutRateHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "token aaa" {
			// Bị từ chối vì quota nhưng không trả header reset
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeRateHeaders(w, 4000)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sched, pool := newTestScheduler(t, []string{"aaa", "bbb"})
	_, err := sched.Submit(context.Background(), Request{URL: server.URL})
	require.NoError(t, err)

	usage := pool.Usage()
	assert.True(t, usage[0].IsCoolingDown)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), usage[0].CooldownUntil, time.Minute)
}

func TestSubmitObservesHeadersEveryRequest(t *testing.T) {
	remaining := []int{4000, 3999}
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		writeRateHeaders(w, remaining[n-1])
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sched, pool := newTestScheduler(t, []string{"aaa"})
	for i := 0; i < 2; i++ {
		_, err := sched.Submit(context.Background(), Request{URL: server.URL})
		require.NoError(t, err)
	}

	usage := pool.Usage()
	assert.Equal(t, 3999, usage[0].Remaining)
	assert.Equal(t, 2, usage[0].SuccessCount)
}

func TestSubmitContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4000)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sched, _ := newTestScheduler(t, []string{"aaa"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sched.Submit(ctx, Request{URL: server.URL})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubmitCustomAcceptHeader(t *testing.T) {
	var gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		writeRateHeaders(w, 4000)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sched, _ := newTestScheduler(t, []string{"aaa"})
	_, err := sched.Submit(context.Background(), Request{URL: server.URL, Accept: "application/vnd.github.text+json"})
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.github.text+json", gotAccept)
}
