package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisAdapter(t *testing.T) *RedisAdapter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisAdapter(client, "depl1", 0, nil)
}

func TestRedisAdapter_SetGetDeleteExists(t *testing.T) {
	a := newTestRedisAdapter(t)
	ctx := context.Background()

	_, err := a.Get(ctx, CacheTranslation, "tt123_en")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.Set(ctx, CacheTranslation, "tt123_en", []byte("payload"), time.Minute))
	ok, err := a.Exists(ctx, CacheTranslation, "tt123_en")
	require.NoError(t, err)
	assert.True(t, ok)

	val, err := a.Get(ctx, CacheTranslation, "tt123_en")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(val))

	require.NoError(t, a.Delete(ctx, CacheTranslation, "tt123_en"))
	ok, err = a.Exists(ctx, CacheTranslation, "tt123_en")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAdapter_IsolationPreventsCollision(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	a1 := NewRedisAdapter(client, "deploy-a", 0, nil)
	a2 := NewRedisAdapter(client, "deploy-b", 0, nil)
	ctx := context.Background()

	require.NoError(t, a1.Set(ctx, CacheSession, "k", []byte("from-a"), time.Minute))
	_, err = a2.Get(ctx, CacheSession, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisAdapter_List(t *testing.T) {
	a := newTestRedisAdapter(t)
	ctx := context.Background()
	require.NoError(t, a.Set(ctx, CacheProviderMeta, "a", []byte("1"), time.Minute))
	require.NoError(t, a.Set(ctx, CacheProviderMeta, "b", []byte("2"), time.Minute))

	keys, err := a.List(ctx, CacheProviderMeta, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestFilesystemAdapter_SetGetDeleteExists(t *testing.T) {
	dir := t.TempDir()
	a := NewFilesystemAdapter(dir, "depl1", 0, nil)
	ctx := context.Background()

	_, err := a.Get(ctx, CacheAutosub, "movie1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.Set(ctx, CacheAutosub, "movie1", []byte("srt-bytes"), 0))
	ok, err := a.Exists(ctx, CacheAutosub, "movie1")
	require.NoError(t, err)
	assert.True(t, ok)

	val, err := a.Get(ctx, CacheAutosub, "movie1")
	require.NoError(t, err)
	assert.Equal(t, "srt-bytes", string(val))

	size, err := a.Size(ctx, CacheAutosub)
	require.NoError(t, err)
	assert.EqualValues(t, len("srt-bytes"), size)

	require.NoError(t, a.Delete(ctx, CacheAutosub, "movie1"))
	ok, err = a.Exists(ctx, CacheAutosub, "movie1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveIsolationKey_ExplicitWins(t *testing.T) {
	key, err := ResolveIsolationKey(Config{IsolationKey: "explicit-key"})
	require.NoError(t, err)
	assert.Equal(t, "explicit-key", key)
}

func TestResolveIsolationKey_DeterministicFromEncryptionHash(t *testing.T) {
	k1, err := ResolveIsolationKey(Config{EncryptionKeyHash: "secret"})
	require.NoError(t, err)
	k2, err := ResolveIsolationKey(Config{EncryptionKeyHash: "secret"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestResolveIsolationKey_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	k1, err := ResolveIsolationKey(Config{BaseDir: dir})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, ".instance-id"))

	k2, err := ResolveIsolationKey(Config{BaseDir: dir})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "isolation key must be deterministic across restarts")
}

func TestResolveIsolationKey_IgnoresEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".instance-id"), []byte(""), 0o600))
	key, err := ResolveIsolationKey(Config{BaseDir: dir})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}
