// Package pool implements the shared Connection Pool & Circuit Breaker
// component: one keep-alive HTTP client per host, a TTL'd DNS cache, startup
// warm-up probes, and a periodic health-check ticker that keeps circuit
// breakers honest between requests.
package pool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"submaker/internal/breaker"
)

const (
	maxIdlePerHost  = 20
	maxConnsPerHost = 100
	dnsCacheTTL     = 60 * time.Second
	healthInterval  = 45 * time.Second
	healthTimeout   = 5 * time.Second
)

// Endpoint describes one upstream provider's reachability configuration: its
// base URL, a cheap path to probe for warm-up/health checks, whether it is
// "critical" (pinged on the health-check ticker), and a per-provider header
// template — some providers reject generic HTTP clients and require
// browser-like headers (spec §9).
type Endpoint struct {
	Name           string
	BaseURL        string
	HealthPath     string
	Critical       bool
	HeaderTemplate http.Header
}

// dnsCacheEntry is a single cached resolution.
type dnsCacheEntry struct {
	addrs     []string
	expiresAt time.Time
}

// cachingResolver is a minimal positive-only DNS cache: misses always go to
// the system resolver, and entries simply expire after dnsCacheTTL rather
// than being actively invalidated (spec: "no negative caching").
type cachingResolver struct {
	mu      sync.Mutex
	entries map[string]dnsCacheEntry
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

func newCachingResolver() *cachingResolver {
	return &cachingResolver{
		entries: make(map[string]dnsCacheEntry),
		dial:    (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	}
}

func (r *cachingResolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return r.dial(ctx, network, addr)
	}
	if net.ParseIP(host) != nil {
		return r.dial(ctx, network, addr)
	}

	r.mu.Lock()
	entry, ok := r.entries[host]
	fresh := ok && time.Now().Before(entry.expiresAt)
	r.mu.Unlock()

	if !fresh {
		addrs, lookupErr := net.DefaultResolver.LookupHost(ctx, host)
		if lookupErr != nil || len(addrs) == 0 {
			return r.dial(ctx, network, addr)
		}
		entry = dnsCacheEntry{addrs: addrs, expiresAt: time.Now().Add(dnsCacheTTL)}
		r.mu.Lock()
		r.entries[host] = entry
		r.mu.Unlock()
	}

	var lastErr error
	for _, ip := range entry.addrs {
		conn, dialErr := r.dial(ctx, network, net.JoinHostPort(ip, port))
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
	}
	return nil, lastErr
}

// Pool is the shared Connection Pool & Circuit Breaker: every outbound
// provider request uses the one shared *http.Client returned by Client(),
// and each provider's breaker is reached separately through Breaker(name).
type Pool struct {
	logger   *zap.Logger
	breakers *breaker.Manager
	resolver *cachingResolver
	client   *http.Client

	mu        sync.RWMutex
	endpoints map[string]Endpoint

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a pool with one shared transport for all hosts (the transport
// itself multiplexes connections per-host via Go's internal idle-conn map,
// matching "one shared HTTP/HTTPS client per host" at the pool level).
func New(logger *zap.Logger) *Pool {
	resolver := newCachingResolver()
	transport := &http.Transport{
		DialContext:         resolver.DialContext,
		MaxIdleConnsPerHost: maxIdlePerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Pool{
		logger:    logger,
		breakers:  breaker.NewManager(logger),
		resolver:  resolver,
		client:    &http.Client{Transport: transport},
		endpoints: make(map[string]Endpoint),
		stopCh:    make(chan struct{}),
	}
}

// Register adds (or replaces) a provider endpoint and ensures its breaker
// exists.
func (p *Pool) Register(ep Endpoint) {
	p.mu.Lock()
	p.endpoints[ep.Name] = ep
	p.mu.Unlock()
	p.breakers.GetOrCreate(ep.Name, breaker.Config{Logger: p.logger})
}

// Client returns the shared HTTP client. All providers share one transport;
// per-host connection accounting is handled by the transport itself.
func (p *Pool) Client() *http.Client {
	return p.client
}

// Breaker returns the named provider's circuit breaker.
func (p *Pool) Breaker(name string) *breaker.CircuitBreaker {
	return p.breakers.GetOrCreate(name, breaker.Config{Logger: p.logger})
}

// Breakers returns the pool's underlying breaker manager, for callers that
// need an aggregate snapshot (e.g. /session-stats, /metrics sync) rather
// than one provider's breaker at a time.
func (p *Pool) Breakers() *breaker.Manager {
	return p.breakers
}

// IsHealthy is consulted by the Fan-Out Orchestrator before dispatching to a
// provider.
func (p *Pool) IsHealthy(name string) bool {
	return p.Breaker(name).IsHealthy()
}

// SkipReason formats the user-facing reason attached to response metadata
// when a provider is skipped because its circuit is open.
func (p *Pool) SkipReason(name string) string {
	cb := p.Breaker(name)
	secs := int(cb.RetryAfter().Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%s circuit breaker open, retry in %ds", name, secs)
}

// ApplyHeaders sets a registered provider's header template on req, letting
// providers that reject generic HTTP clients masquerade as a browser.
func (p *Pool) ApplyHeaders(name string, req *http.Request) {
	p.mu.RLock()
	ep, ok := p.endpoints[name]
	p.mu.RUnlock()
	if !ok {
		return
	}
	for k, vs := range ep.HeaderTemplate {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// WarmUp issues one probe per registered endpoint and records the result
// into that provider's circuit breaker, per spec §4.4 ("At startup: issue a
// warm-up request to each known provider base URL").
func (p *Pool) WarmUp(ctx context.Context) {
	p.mu.RLock()
	eps := make([]Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			p.probe(ctx, ep, healthTimeout)
		}(ep)
	}
	wg.Wait()
}

// StartHealthLoop begins the 45s ticker that re-pings critical providers to
// keep TLS sessions warm and refresh breaker health between user requests.
func (p *Pool) StartHealthLoop(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.pingCritical(ctx)
			}
		}
	}()
}

// Stop terminates the health-check loop. Safe to call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pool) pingCritical(ctx context.Context) {
	p.mu.RLock()
	var critical []Endpoint
	for _, ep := range p.endpoints {
		if ep.Critical {
			critical = append(critical, ep)
		}
	}
	p.mu.RUnlock()

	for _, ep := range critical {
		p.probe(ctx, ep, healthTimeout)
	}
}

func (p *Pool) probe(ctx context.Context, ep Endpoint, timeout time.Duration) {
	url := ep.BaseURL
	if ep.HealthPath != "" {
		url += ep.HealthPath
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		p.Breaker(ep.Name).RecordFailure()
		return
	}
	p.ApplyHeaders(ep.Name, req)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logWarn(ep.Name, err)
		p.Breaker(ep.Name).RecordFailure()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		p.Breaker(ep.Name).RecordFailure()
		return
	}
	p.Breaker(ep.Name).RecordSuccess()
}

func (p *Pool) logWarn(name string, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("provider warm-up probe failed", zap.String("provider", name), zap.Error(err))
}
