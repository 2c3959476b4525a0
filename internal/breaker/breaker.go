// Package breaker implements the per-provider circuit breaker state machine
// used by the Connection Pool to skip providers that are currently failing.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit breaker's current phase.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Defaults per spec: three consecutive failures trip the breaker, it stays
// open for a minute, and two consecutive successes while half-open close it
// again. Any failure observed while half-open reopens it and restarts the
// reset timer.
const (
	DefaultFailureThreshold      = 3
	DefaultResetTimeout          = 60 * time.Second
	DefaultHalfOpenSuccessThresh = 2
)

// Config configures a single named circuit breaker.
type Config struct {
	Name                     string
	FailureThreshold         int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
	Logger                   *zap.Logger
}

func (c *Config) withDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = DefaultHalfOpenSuccessThresh
	}
}

// CircuitBreaker is an in-process, per-provider failure tracker. It holds no
// distributed state — gossip between instances is explicitly out of scope.
type CircuitBreaker struct {
	mu sync.Mutex

	name          string
	failureThresh int
	resetTimeout  time.Duration
	halfOpenThr   int
	logger        *zap.Logger
	onStateChange func(name string, from, to State)

	state             State
	failures          int
	halfOpenSuccesses int
	lastFailure       time.Time
	openUntil         time.Time
}

// New creates a circuit breaker starting in the closed state.
func New(cfg Config) *CircuitBreaker {
	cfg.withDefaults()
	return &CircuitBreaker{
		name:          cfg.Name,
		failureThresh: cfg.FailureThreshold,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenThr:   cfg.HalfOpenSuccessThreshold,
		logger:        cfg.Logger,
		state:         StateClosed,
	}
}

// SetStateChangeCallback registers a hook invoked whenever the breaker
// transitions to a new state.
func (cb *CircuitBreaker) SetStateChangeCallback(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// IsHealthy reports whether a request should be attempted right now. It also
// performs the Open -> HalfOpen transition once resetTimeout has elapsed.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return cb.state != StateOpen
}

// RetryAfter returns how long until an open breaker will allow a half-open
// probe, for the "retry in <n>s" user-facing message in spec §4.4.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	d := time.Until(cb.openUntil)
	if d < 0 {
		return 0
	}
	return d
}

func (cb *CircuitBreaker) maybeTransitionToHalfOpenLocked() {
	if cb.state == StateOpen && !cb.openUntil.IsZero() && time.Now().After(cb.openUntil) {
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenSuccesses = 0
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.logger != nil {
		cb.logger.Info("circuit breaker state changed",
			zap.String("provider", cb.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Execute runs fn under the breaker's protection: it refuses to call fn at
// all while open, and records the outcome against the state machine
// otherwise.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.IsHealthy() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// RecordSuccess registers a successful call outside of Execute (used when
// the caller already performed the I/O, e.g. the startup warm-up probe).
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenThr {
			cb.transitionLocked(StateClosed)
			cb.failures = 0
			cb.halfOpenSuccesses = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure registers a failed call outside of Execute.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		// Any failure while probing reopens immediately and restarts the timer.
		cb.openLocked()
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThresh {
			cb.openLocked()
		}
	}
}

func (cb *CircuitBreaker) openLocked() {
	cb.openUntil = time.Now().Add(cb.resetTimeout)
	cb.transitionLocked(StateOpen)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.halfOpenSuccesses = 0
	cb.openUntil = time.Time{}
}

// Stats is a serializable snapshot of a breaker, used by /session-stats.
type Stats struct {
	Name       string  `json:"name"`
	State      string  `json:"state"`
	Failures   int     `json:"failures"`
	RetryAfter float64 `json:"retryAfterSeconds,omitempty"`
}

// GetStats returns a snapshot of the breaker's state.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	s := Stats{Name: cb.name, State: cb.state.String(), Failures: cb.failures}
	if cb.state == StateOpen {
		if d := time.Until(cb.openUntil); d > 0 {
			s.RetryAfter = d.Seconds()
		}
	}
	return s
}

// ErrCircuitOpen is returned by Execute when the breaker refuses the call.
var ErrCircuitOpen = circuitOpenError{}

type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "circuit breaker open" }

// Manager is a named registry of circuit breakers, one per provider.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   *zap.Logger
}

// NewManager creates an empty breaker registry.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker), logger: logger}
}

// GetOrCreate returns the named breaker, creating it with cfg on first use.
func (m *Manager) GetOrCreate(name string, cfg Config) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cfg.Name = name
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cb := New(cfg)
	m.breakers[name] = cb
	return cb
}

// Get returns the named breaker, or nil if it has not been created yet.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// GetStats returns a snapshot of every managed breaker, keyed by name.
func (m *Manager) GetStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetStats()
	}
	return out
}

// Reset resets every managed breaker to closed.
func (m *Manager) Reset() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
