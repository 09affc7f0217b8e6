package token

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/pkg/log"
)

func newTestLogger(t *testing.T) log.Logger {
	logger, err := log.NewCslLogger()
	require.NoError(t, err)
	return logger
}

func newTestPool(t *testing.T, secrets []string, floor int) *Pool {
	pool, err := NewPool(newTestLogger(t), secrets, floor)
	require.NoError(t, err)
	return pool
}

func TestLoadSplitsTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("aaa, bbb ,\nccc"), 0o644))

	pool, err := Load(newTestLogger(t), path, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Size())
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.txt")
	require.NoError(t, os.WriteFile(path, []byte(" , "), 0o644))

	_, err := Load(newTestLogger(t), path, 10)
	var cfgErr *cfg.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(newTestLogger(t), filepath.Join(t.TempDir(), "missing.txt"), 10)
	var cfgErr *cfg.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCurrentReturnsFirstToken(t *testing.T) {
	pool := newTestPool(t, []string{"aaa", "bbb"}, 10)

	cur, ok := pool.Current()
	require.True(t, ok)
	assert.Equal(t, "aaa", cur.Token)
	assert.Equal(t, DefaultLimit, cur.Remaining)
}

func TestObserveFloorTriggersCooldownAndRotate(t *testing.T) {
	pool := newTestPool(t, []string{"aaa", "bbb"}, 10)
	resetAt := time.Now().Add(time.Hour)

	pool.Observe("aaa", Snapshot{Remaining: 5, Limit: 5000, ResetAt: resetAt})

	// Con trỏ phải đã được đẩy sang token còn quota
	cur, ok := pool.Current()
	require.True(t, ok)
	assert.Equal(t, "bbb", cur.Token)

	usage := pool.Usage()
	assert.True(t, usage[0].IsCoolingDown)
	assert.Equal(t, 5, usage[0].Remaining)
	assert.WithinDuration(t, resetAt, usage[0].CooldownUntil, time.Second)
}

func TestObserveClampsNegativeRemaining(t *testing.T) {
	pool := newTestPool(t, []string{"aaa"}, 10)

	pool.Observe("aaa", Snapshot{Remaining: -3, Limit: 5000, ResetAt: time.Now().Add(time.Hour)})

	usage := pool.Usage()
	assert.Equal(t, 0, usage[0].Remaining)
}

func TestObserveUnknownTokenIsNoop(t *testing.T) {
	pool := newTestPool(t, []string{"aaa"}, 10)

	pool.Observe("zzz", Snapshot{Remaining: 0, ResetAt: time.Now().Add(time.Hour)})

	usage := pool.Usage()
	assert.Equal(t, DefaultLimit, usage[0].Remaining)
	assert.False(t, usage[0].IsCoolingDown)
}

func TestRotateRoundRobin(t *testing.T) {
	pool := newTestPool(t, []string{"aaa", "bbb", "ccc"}, 10)
	ctx := context.Background()

	for _, want := range []string{"bbb", "ccc", "aaa"} {
		cur, err := pool.Rotate(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, cur.Token)
	}
}

func TestRotateSkipsCoolingToken(t *testing.T) {
	pool := newTestPool(t, []string{"aaa", "bbb", "ccc"}, 10)
	pool.ForceCooldown("bbb", time.Now().Add(time.Hour))

	cur, err := pool.Rotate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ccc", cur.Token)
}

func TestRotateBlocksUntilSoonestCooldownExpires(t *testing.T) {
	pool := newTestPool(t, []string{"aaa"}, 10)
	pool.ForceCooldown("aaa", time.Now().Add(60*time.Millisecond))

	start := time.Now()
	cur, err := pool.Rotate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "aaa", cur.Token)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRotateContextCanceled(t *testing.T) {
	pool := newTestPool(t, []string{"aaa"}, 10)
	pool.ForceCooldown("aaa", time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := pool.Rotate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExpiredCooldownClearedOnRead(t *testing.T) {
	pool := newTestPool(t, []string{"aaa"}, 10)
	pool.ForceCooldown("aaa", time.Now().Add(20*time.Millisecond))

	time.Sleep(40 * time.Millisecond)

	cur, ok := pool.Current()
	require.True(t, ok)
	assert.False(t, cur.IsCoolingDown)
}

func TestMarkSuccessAndFailureCounters(t *testing.T) {
	pool := newTestPool(t, []string{"aaa"}, 10)

	pool.MarkSuccess("aaa")
	pool.MarkSuccess("aaa")
	pool.MarkFailure("aaa")

	usage := pool.Usage()
	assert.Equal(t, 2, usage[0].SuccessCount)
	assert.Equal(t, 1, usage[0].FailureCount)
	assert.False(t, usage[0].LastUsed.IsZero())
}

func TestNewPoolRequiresSecrets(t *testing.T) {
	_, err := NewPool(newTestLogger(t), nil, 10)
	var cfgErr *cfg.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
