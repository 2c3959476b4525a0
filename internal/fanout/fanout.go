// Package fanout implements the Fan-Out Orchestrator (spec §4.6): it
// dispatches one bounded-concurrency task per enabled, healthy provider,
// merges whatever comes back, and degrades non-authentication provider
// failures to empty results rather than failing the whole request.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"submaker/internal/apierr"
	"submaker/internal/models"
	"submaker/internal/pool"
	"submaker/internal/providers"
	"submaker/pkg/semaphore"
)

// budgetSlack is added to the largest per-provider timeout to form the
// orchestrator's aggregate budget (spec §5: "per-request (orchestrator
// budget = max provider timeout + 2s)").
const budgetSlack = 2 * time.Second

// DefaultMaxConcurrent bounds how many provider tasks run at once.
const DefaultMaxConcurrent = 8

// SkippedProvider records why a provider never ran for this request.
type SkippedProvider struct {
	Name   models.Provider
	Reason string
}

// Result is the merged outcome of one fan-out search.
type Result struct {
	Descriptors []models.SubtitleDescriptor
	Skipped     []SkippedProvider
	// Warnings holds one user-facing message per provider whose
	// authentication configuration failed (spec §4.1/§4.6: only auth
	// errors propagate; everything else degrades silently to empty).
	Warnings []string
}

// Orchestrator is the Fan-Out Orchestrator.
type Orchestrator struct {
	registry      *providers.Registry
	pool          *pool.Pool
	logger        *zap.Logger
	maxConcurrent int
}

// New builds an Orchestrator. maxConcurrent <= 0 uses DefaultMaxConcurrent.
func New(registry *providers.Registry, p *pool.Pool, logger *zap.Logger, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Orchestrator{registry: registry, pool: p, logger: logger, maxConcurrent: maxConcurrent}
}

// Search dispatches req to every name in enabled that is registered and
// healthy, waits for all tasks to finish or the aggregate budget to
// elapse, and returns the merged Result. Cancelling ctx (client disconnect)
// propagates to every in-flight provider task, which MUST release its
// socket promptly (spec §5 scenario S6); Search itself always returns once
// every spawned goroutine has exited, leaving nothing orphaned.
func (o *Orchestrator) Search(ctx context.Context, req models.SearchRequest, enabled []models.Provider) Result {
	providerTimeout := time.Duration(req.ProviderTimeoutMs) * time.Millisecond
	if providerTimeout <= 0 {
		providerTimeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, providerTimeout+budgetSlack)
	defer cancel()

	sem := semaphore.New(o.maxConcurrent)
	defer sem.Close()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result Result
	)

	for _, name := range enabled {
		client, ok := o.registry.Get(name)
		if !ok {
			continue
		}
		if !o.pool.IsHealthy(string(name)) {
			mu.Lock()
			result.Skipped = append(result.Skipped, SkippedProvider{Name: name, Reason: o.pool.SkipReason(string(name))})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name models.Provider, client providers.Client) {
			defer wg.Done()

			if err := sem.Acquire(ctx); err != nil {
				return
			}
			defer sem.Release()

			taskCtx, taskCancel := context.WithTimeout(ctx, providerTimeout)
			defer taskCancel()

			descriptors, err := client.Search(taskCtx, req)
			if err != nil {
				o.recordFailure(name, err, &mu, &result)
				return
			}

			mu.Lock()
			result.Descriptors = append(result.Descriptors, descriptors...)
			mu.Unlock()
		}(name, client)
	}

	wg.Wait()
	return result
}

func (o *Orchestrator) recordFailure(name models.Provider, err error, mu *sync.Mutex, result *Result) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindAuthentication {
		mu.Lock()
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", name, apiErr.Kind.UserSignal()))
		mu.Unlock()
		if o.logger != nil && !apiErr.AlreadyLogged() {
			o.logger.Warn("fanout: provider authentication failed", zap.String("provider", string(name)))
			apiErr.MarkLogged()
		}
		return
	}
	// Non-auth failures degrade to empty results for this provider; the
	// user receives whatever the other providers produced (spec §4.6).
	if o.logger != nil {
		o.logger.Debug("fanout: provider search failed, degrading to empty", zap.String("provider", string(name)), zap.Error(err))
	}
}
