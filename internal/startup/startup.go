// Package startup implements the Startup Validator + Warm-Up component
// (spec §6: "startup validator returning non-zero -> process exits 2").
// It checks that the configuration is internally consistent and that the
// chosen Storage Adapter backend is reachable, then issues the Connection
// Pool's warm-up probe against every registered provider endpoint.
// Grounded on the teacher's main.go database.NewConnection-then-Ping
// startup sequence, generalized from one SQL ping to a pluggable list of
// named readiness checks.
package startup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"submaker/internal/config"
	"submaker/internal/pool"
)

// Check is one named readiness probe. A Check returning an error is fatal:
// Validate stops at the first failure and reports which check failed.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Validator runs the ordered list of startup Checks before the HTTP server
// accepts traffic.
type Validator struct {
	logger *zap.Logger
	checks []Check
}

// New builds a Validator with no checks registered yet.
func New(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Add appends a named check to the validator's run list.
func (v *Validator) Add(name string, run func(ctx context.Context) error) {
	v.checks = append(v.checks, Check{Name: name, Run: run})
}

// Validate runs every registered check in order, returning the first error
// encountered wrapped with the failing check's name. Per spec §6 the caller
// must os.Exit(2) when this returns a non-nil error.
func (v *Validator) Validate(ctx context.Context) error {
	for _, c := range v.checks {
		start := time.Now()
		if err := c.Run(ctx); err != nil {
			if v.logger != nil {
				v.logger.Error("startup check failed",
					zap.String("check", c.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			}
			return fmt.Errorf("startup: check %q failed: %w", c.Name, err)
		}
		if v.logger != nil {
			v.logger.Info("startup check passed", zap.String("check", c.Name), zap.Duration("elapsed", time.Since(start)))
		}
	}
	return nil
}

// ConfigCheck validates structural config invariants beyond what
// config.LoadConfig already enforces: at least one provider enabled and a
// non-empty config token secret. It does not compare the secret with the
// built-in default value, and it runs the same checks in every deployment.
func ConfigCheck(cfg *config.Config) Check {
	return Check{Name: "config", Run: func(ctx context.Context) error {
		if len(cfg.Providers.Enabled) == 0 {
			return fmt.Errorf("no providers enabled")
		}
		if cfg.Security.ConfigTokenSecret == "" {
			return fmt.Errorf("security.config_token_secret must not be empty")
		}
		return nil
	}}
}

// StorageCheck probes the chosen backend. ping is supplied by the
// composition root: a Redis PING when Redis is configured, or a no-op
// filesystem write/read check otherwise.
func StorageCheck(ping func(ctx context.Context) error) Check {
	return Check{Name: "storage", Run: func(ctx context.Context) error {
		if ping == nil {
			return nil
		}
		return ping(ctx)
	}}
}

// WarmUpCheck issues the Connection Pool's warm-up probe. Spec §4.4 treats
// warm-up as best-effort instrumentation, not a hard gate — an unreachable
// provider only trips that provider's circuit breaker, it does not fail
// startup — so this check never returns an error; it exists purely to give
// warm-up a place in the validator's ordered, logged check list.
func WarmUpCheck(p *pool.Pool) Check {
	return Check{Name: "provider-warmup", Run: func(ctx context.Context) error {
		p.WarmUp(ctx)
		return nil
	}}
}
