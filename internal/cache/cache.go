// Package cache implements the Translation Cache & Singleflight component
// (spec §4.8): key derivation for permanent vs. bypass (user-scoped) scopes,
// at-most-one in-flight builder per runtime key, and progressive batch
// persistence that publishes partial events on the Stream Activity Bus.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"submaker/internal/models"
	"submaker/internal/storage"
	"submaker/internal/translate"
)

// ErrNotFound mirrors storage.ErrNotFound at the cache's own abstraction
// level so callers don't need to import internal/storage just to compare
// sentinel errors.
var ErrNotFound = storage.ErrNotFound

// ErrConfigHashRequired is returned when a write is refused because the
// request needed a non-empty configHash and didn't have one (spec §4.8:
// "permanent writes require configHash to be allowed").
var ErrConfigHashRequired = errors.New("cache: configHash required for this write")

// DefaultLivenessTimeout bounds how long an in_flight marker may go without
// a progress update before it is considered abandoned by a crashed builder
// and garbage-collected on the next request for that key (spec §4.8).
const DefaultLivenessTimeout = 30 * time.Second

// Keys is the output of GenerateCacheKeys (spec §3/§8 property 3).
type Keys struct {
	BaseKey       string
	ScopedKey     string
	RuntimeKey    string
	BypassEnabled bool
}

// GenerateCacheKeys is the pure function from spec §8 property 3: equal
// inputs produce equal keys, and requesting bypass with an empty configHash
// silently degrades to the permanent scope (bypassEnabled=false, ScopedKey
// == BaseKey) rather than erroring — refusing the write entirely is a
// separate, policy-level decision made by BuildOrSubscribe, not by this
// function.
func GenerateCacheKeys(sourceFileID, targetLangCode string, bypassRequested bool, configHash string) Keys {
	base := sourceFileID + "_" + targetLangCode
	if bypassRequested && configHash != "" {
		scoped := base + "__u_" + configHash
		return Keys{BaseKey: base, ScopedKey: scoped, RuntimeKey: scoped, BypassEnabled: true}
	}
	return Keys{BaseKey: base, ScopedKey: base, RuntimeKey: base, BypassEnabled: false}
}

// Publisher is the narrow interface the Stream Activity Bus satisfies;
// cache depends on this instead of importing internal/stream directly so
// the two packages can be wired together at the composition root.
type Publisher interface {
	Publish(configHash string, event models.StreamEvent)
}

// Config tunes the bypass/permanent write policy (spec §4.8 Open Question
// about what happens when bypass is requested without a configHash).
type Config struct {
	// AllowPermanentFallback, when true, lets a bypass request with an
	// empty configHash silently use the permanent cache instead of being
	// refused outright. The zero value (false) refuses such a request.
	AllowPermanentFallback bool
	// RequireConfigHashForPermanentWrites, when true, refuses to build a
	// permanent entry at all without a configHash (the zero value, false,
	// allows it) —
	// per spec §4.8 "permanent writes require configHash to be allowed".
	RequireConfigHashForPermanentWrites bool
	LivenessTimeout                     time.Duration
}

func (c *Config) withDefaults() {
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
}

// Cache is the Translation Cache: a storage-backed key/value store of
// models.CacheEntry plus an in-process singleflight builder.
type Cache struct {
	storage    storage.Adapter
	translator translate.Translator
	publisher  Publisher
	logger     *zap.Logger
	cfg        Config
	group      singleflight.Group
}

// New builds a Cache. publisher may be nil to disable partial-event
// publishing (e.g. in unit tests that only care about the stored entry).
func New(store storage.Adapter, translator translate.Translator, publisher Publisher, logger *zap.Logger, cfg Config) *Cache {
	cfg.withDefaults()
	return &Cache{storage: store, translator: translator, publisher: publisher, logger: logger, cfg: cfg}
}

// Request describes one translate-and-cache operation.
type Request struct {
	SourceFileID string
	TargetLang   string
	Bypass       bool
	ConfigHash   string
	// StreamChannel overrides which Stream Activity Bus channel partial
	// events publish to; defaults to ConfigHash (the glossary's "Config
	// hash... used both as a cache scoping key and as the SSE channel
	// identifier").
	StreamChannel string
	Segments      []models.Segment
	ForceRefresh  bool
}

func (r Request) streamChannel() string {
	if r.StreamChannel != "" {
		return r.StreamChannel
	}
	return r.ConfigHash
}

// Get returns the current stored snapshot for keys, whatever its status.
func (c *Cache) Get(ctx context.Context, keys Keys) (*models.CacheEntry, error) {
	raw, err := c.storage.Get(ctx, storage.CacheTranslation, keys.ScopedKey)
	if err != nil {
		return nil, err
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("cache: unmarshal entry: %w", err)
	}
	return &entry, nil
}

func (c *Cache) persist(ctx context.Context, keys Keys, entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	ttl := storage.TranslationTTLFor(keys.BypassEnabled)
	if err := c.storage.Set(ctx, storage.CacheTranslation, keys.ScopedKey, raw, ttl); err != nil {
		return fmt.Errorf("cache: persist entry: %w", err)
	}
	return nil
}

func (c *Cache) publish(req Request, entry *models.CacheEntry) {
	if c.publisher == nil {
		return
	}
	eventType := models.EventPartial
	if entry.Status == models.StatusComplete {
		eventType = models.EventComplete
	}
	c.publisher.Publish(req.streamChannel(), models.StreamEvent{Type: eventType, Data: entry})
}

func isStale(entry *models.CacheEntry, timeout time.Duration) bool {
	if entry.Status != models.StatusInFlight {
		return false
	}
	return time.Since(entry.UpdatedAt) > timeout
}

// resolveBypass applies the write-time policy from Config on top of the
// pure GenerateCacheKeys classification.
func (c *Cache) resolveBypass(req Request) (bool, error) {
	if req.Bypass {
		if req.ConfigHash != "" {
			return true, nil
		}
		if c.cfg.AllowPermanentFallback {
			return false, nil
		}
		return false, ErrConfigHashRequired
	}
	if req.ConfigHash == "" && c.cfg.RequireConfigHashForPermanentWrites {
		return false, ErrConfigHashRequired
	}
	return false, nil
}

// BuildOrSubscribe is the Singleflight/Partial Delivery entry point (spec
// §4.8/§8 property 4). A forced refresh deletes any existing entry first
// (the "triple click" signal). Otherwise, a complete entry already on disk
// is returned immediately; any other state enters the singleflight builder,
// so concurrent same-process callers for the same runtimeKey share one
// build and receive the identical final entry.
func (c *Cache) BuildOrSubscribe(ctx context.Context, req Request) (*models.CacheEntry, error) {
	bypassEnabled, err := c.resolveBypass(req)
	if err != nil {
		return nil, err
	}
	keys := GenerateCacheKeys(req.SourceFileID, req.TargetLang, req.Bypass, req.ConfigHash)
	keys.BypassEnabled = bypassEnabled
	if !bypassEnabled {
		keys.ScopedKey = keys.BaseKey
		keys.RuntimeKey = keys.BaseKey
	}

	if req.ForceRefresh {
		if err := c.storage.Delete(ctx, storage.CacheTranslation, keys.ScopedKey); err != nil {
			return nil, fmt.Errorf("cache: delete for forced refresh: %w", err)
		}
	} else if existing, err := c.Get(ctx, keys); err == nil && existing.Status == models.StatusComplete {
		return existing, nil
	}

	v, err, _ := c.group.Do(keys.RuntimeKey, func() (interface{}, error) {
		return c.build(ctx, keys, req)
	})
	if v == nil {
		return nil, err
	}
	return v.(*models.CacheEntry), err
}

// build runs the actual batch-by-batch translation and progressive
// persistence. It always returns a non-nil entry (even on error or
// cancellation) so BuildOrSubscribe can hand the caller a consistent
// partial snapshot.
func (c *Cache) build(ctx context.Context, keys Keys, req Request) (*models.CacheEntry, error) {
	if existing, err := c.Get(ctx, keys); err == nil && isStale(existing, c.cfg.LivenessTimeout) {
		if c.logger != nil {
			c.logger.Warn("cache: garbage-collecting stale in-flight entry",
				zap.String("runtimeKey", keys.RuntimeKey))
		}
		_ = c.storage.Delete(ctx, storage.CacheTranslation, keys.ScopedKey)
	}

	batches := c.translator.Split(req.Segments)
	now := time.Now()
	entry := &models.CacheEntry{
		BaseKey:      keys.BaseKey,
		ScopedKey:    keys.ScopedKey,
		RuntimeKey:   keys.RuntimeKey,
		Segments:     make([]models.Segment, 0, len(req.Segments)),
		Status:       models.StatusInFlight,
		TotalBatches: len(batches),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if keys.BypassEnabled {
		entry.OwnerConfigHash = req.ConfigHash
	}
	if err := c.persist(context.Background(), keys, entry); err != nil {
		entry.Status = models.StatusFailed
		return entry, err
	}

	for i, batch := range batches {
		// Translation itself runs to completion on a background context:
		// spec §5 requires a cancelled builder to finish its current batch
		// boundary rather than abort mid-batch, so the request ctx is only
		// consulted between batches, never inside one.
		translated, err := c.translator.Translate(context.Background(), batch, req.TargetLang)
		if err != nil {
			entry.Status = models.StatusFailed
			entry.UpdatedAt = time.Now()
			_ = c.persist(context.Background(), keys, entry)
			return entry, fmt.Errorf("cache: translate batch %d/%d: %w", i+1, len(batches), err)
		}

		entry.Segments = append(entry.Segments, translated...)
		entry.CompletedBatches |= 1 << uint(i)
		entry.UpdatedAt = time.Now()
		if entry.IsComplete() {
			entry.Status = models.StatusComplete
		} else {
			entry.Status = models.StatusPartial
		}
		if err := c.persist(context.Background(), keys, entry); err != nil {
			return entry, err
		}
		c.publish(req, entry)

		if ctx.Err() != nil && !entry.IsComplete() {
			if c.logger != nil {
				c.logger.Info("cache: builder cancelled, stopping at batch boundary",
					zap.String("runtimeKey", keys.RuntimeKey), zap.Int("completedBatches", i+1))
			}
			break
		}
	}
	return entry, nil
}
