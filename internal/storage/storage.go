// Package storage implements the uniform Storage Adapter: Get/Set/Delete/
// Exists/List/Size over either Redis (shared across instances) or the local
// filesystem (single-instance fallback), with a deployment-wide isolation
// key prepended to every stored key so multiple deployments can safely share
// one Redis.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"submaker/pkg/lazy"
)

// CacheType discriminates the kind of object being stored, determining its
// TTL and size cap per spec §6's storage layout table.
type CacheType string

const (
	CacheSession        CacheType = "session"
	CacheTranslation    CacheType = "translation"
	CacheEmbedded       CacheType = "embedded"
	CacheAutosub        CacheType = "autosub"
	CacheProviderMeta   CacheType = "provider_meta"
	CacheStreamActivity CacheType = "stream_activity"
)

// TTL returns the default retention window for cacheType. Translation
// entries use the bypass (shorter) TTL; callers needing the permanent TTL
// should use TranslationTTLFor.
func (c CacheType) TTL() time.Duration {
	switch c {
	case CacheSession:
		return 30 * 24 * time.Hour
	case CacheTranslation:
		return 7 * 24 * time.Hour
	case CacheProviderMeta:
		return 30 * 24 * time.Hour
	case CacheAutosub:
		return 30 * 24 * time.Hour
	case CacheStreamActivity:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// TranslationTTLFor returns 90 days for permanent-scope translation entries
// and 7 days for bypass-scope ones.
func TranslationTTLFor(bypass bool) time.Duration {
	if bypass {
		return 7 * 24 * time.Hour
	}
	return 90 * 24 * time.Hour
}

// Default per-type size caps (bytes), overridable via Config.
const (
	DefaultRedisCapBytes      = 250 * 1024 * 1024
	DefaultFilesystemCapBytes = 5 * 1024 * 1024 * 1024
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Adapter is the uniform interface every backend implements.
type Adapter interface {
	Get(ctx context.Context, cacheType CacheType, key string) ([]byte, error)
	Set(ctx context.Context, cacheType CacheType, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, cacheType CacheType, key string) error
	Exists(ctx context.Context, cacheType CacheType, key string) (bool, error)
	List(ctx context.Context, cacheType CacheType, prefix string) ([]string, error)
	Size(ctx context.Context, cacheType CacheType) (int64, error)
}

// Config configures isolation-key resolution and backend selection.
type Config struct {
	// BaseDir roots both the filesystem backend's data directory and the
	// persisted .instance-id fallback file (see DESIGN.md Open Question 1).
	BaseDir string
	// IsolationKey, if set, is used verbatim and nothing is persisted.
	IsolationKey string
	// EncryptionKeyHash, if set and IsolationKey is empty, derives the
	// isolation key deterministically from a hash of the deployment's
	// encryption key.
	EncryptionKeyHash string
}

// ResolveIsolationKey implements the deterministic resolution order
// documented in DESIGN.md: explicit config value, then a hash of the
// encryption key, then a persisted `<BaseDir>/.instance-id`, generating and
// persisting a new UUID the first time none of the above exist.
func ResolveIsolationKey(cfg Config) (string, error) {
	if cfg.IsolationKey != "" {
		return cfg.IsolationKey, nil
	}
	if cfg.EncryptionKeyHash != "" {
		sum := sha256.Sum256([]byte(cfg.EncryptionKeyHash))
		return hex.EncodeToString(sum[:])[:32], nil
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create base dir: %w", err)
	}
	idPath := filepath.Join(baseDir, ".instance-id")

	if data, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("storage: read instance id: %w", err)
	}

	id := uuid.New().String()
	if err := os.WriteFile(idPath, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("storage: persist instance id: %w", err)
	}
	return id, nil
}

func prefixedKey(isolation string, cacheType CacheType, key string) string {
	return fmt.Sprintf("%s:%s:%s", isolation, cacheType, key)
}

// RedisAdapter implements Adapter over a shared Redis instance.
type RedisAdapter struct {
	client    *redis.Client
	isolation string
	capBytes  int64
	logger    *zap.Logger
}

// NewRedisAdapter wraps an existing *redis.Client (tests substitute a
// miniredis-backed client here).
func NewRedisAdapter(client *redis.Client, isolation string, capBytes int64, logger *zap.Logger) *RedisAdapter {
	if capBytes <= 0 {
		capBytes = DefaultRedisCapBytes
	}
	return &RedisAdapter{client: client, isolation: isolation, capBytes: capBytes, logger: logger}
}

func (r *RedisAdapter) Get(ctx context.Context, cacheType CacheType, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, prefixedKey(r.isolation, cacheType, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis get: %w", err)
	}
	return val, nil
}

func (r *RedisAdapter) Set(ctx context.Context, cacheType CacheType, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cacheType.TTL()
	}
	if err := r.client.Set(ctx, prefixedKey(r.isolation, cacheType, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("storage: redis set: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Delete(ctx context.Context, cacheType CacheType, key string) error {
	if err := r.client.Del(ctx, prefixedKey(r.isolation, cacheType, key)).Err(); err != nil {
		return fmt.Errorf("storage: redis delete: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Exists(ctx context.Context, cacheType CacheType, key string) (bool, error) {
	n, err := r.client.Exists(ctx, prefixedKey(r.isolation, cacheType, key)).Result()
	if err != nil {
		return false, fmt.Errorf("storage: redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisAdapter) List(ctx context.Context, cacheType CacheType, prefix string) ([]string, error) {
	pattern := prefixedKey(r.isolation, cacheType, prefix) + "*"
	var out []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	root := fmt.Sprintf("%s:%s:", r.isolation, cacheType)
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), root))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("storage: redis scan: %w", err)
	}
	return out, nil
}

func (r *RedisAdapter) Size(ctx context.Context, cacheType CacheType) (int64, error) {
	keys, err := r.List(ctx, cacheType, "")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		n, err := r.client.StrLen(ctx, prefixedKey(r.isolation, cacheType, k)).Result()
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// CapBytes returns the configured size cap for this backend.
func (r *RedisAdapter) CapBytes() int64 { return r.capBytes }

// FilesystemAdapter implements Adapter as a single-instance fallback over
// the local disk, one file per key under <BaseDir>/<isolation>/<cacheType>/.
type FilesystemAdapter struct {
	mu        sync.RWMutex
	baseDir   string
	isolation string
	capBytes  int64
	logger    *zap.Logger
}

// NewFilesystemAdapter creates a filesystem-backed adapter rooted at baseDir.
func NewFilesystemAdapter(baseDir, isolation string, capBytes int64, logger *zap.Logger) *FilesystemAdapter {
	if capBytes <= 0 {
		capBytes = DefaultFilesystemCapBytes
	}
	return &FilesystemAdapter{baseDir: baseDir, isolation: isolation, capBytes: capBytes, logger: logger}
}

func (f *FilesystemAdapter) dir(cacheType CacheType) string {
	return filepath.Join(f.baseDir, f.isolation, string(cacheType))
}

func safeFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (f *FilesystemAdapter) path(cacheType CacheType, key string) string {
	return filepath.Join(f.dir(cacheType), safeFileName(key))
}

func (f *FilesystemAdapter) Get(ctx context.Context, cacheType CacheType, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := os.ReadFile(f.path(cacheType, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: filesystem get: %w", err)
	}
	return data, nil
}

func (f *FilesystemAdapter) Set(ctx context.Context, cacheType CacheType, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(f.dir(cacheType), 0o755); err != nil {
		return fmt.Errorf("storage: filesystem mkdir: %w", err)
	}
	if err := os.WriteFile(f.path(cacheType, key), value, 0o644); err != nil {
		return fmt.Errorf("storage: filesystem set: %w", err)
	}
	return nil
}

func (f *FilesystemAdapter) Delete(ctx context.Context, cacheType CacheType, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(cacheType, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: filesystem delete: %w", err)
	}
	return nil
}

func (f *FilesystemAdapter) Exists(ctx context.Context, cacheType CacheType, key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, err := os.Stat(f.path(cacheType, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: filesystem stat: %w", err)
	}
	return true, nil
}

func (f *FilesystemAdapter) List(ctx context.Context, cacheType CacheType, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries, err := os.ReadDir(f.dir(cacheType))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: filesystem list: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (f *FilesystemAdapter) Size(ctx context.Context, cacheType CacheType) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries, err := os.ReadDir(f.dir(cacheType))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: filesystem size: %w", err)
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// CapBytes returns the configured size cap for this backend.
func (f *FilesystemAdapter) CapBytes() int64 { return f.capBytes }

// LazyRedisClient builds a *redis.Client on first use, matching the
// teacher-derived lazy-init pattern used across this repository so a
// misconfigured Redis URL doesn't fail startup before the filesystem
// fallback gets a chance to serve.
func LazyRedisClient(addr, password string, db int) *lazy.Value[*redis.Client] {
	return lazy.NewValue(func() (*redis.Client, error) {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("storage: redis ping: %w", err)
		}
		return client, nil
	})
}
