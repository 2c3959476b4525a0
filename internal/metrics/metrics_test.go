package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submaker/internal/breaker"
)

func TestNewRegistry_RegistersEveryCollector(t *testing.T) {
	reg := NewRegistry()
	require.NotNil(t, reg)

	ProviderSearchDuration.WithLabelValues("opensubtitles", "ok").Observe(0.5)
	ProviderSkippedTotal.WithLabelValues("subdl").Inc()
	TranslationCacheHitsTotal.WithLabelValues("permanent").Inc()
	TranslationCacheMissesTotal.WithLabelValues("permanent").Inc()
	TranslationBuildersActive.Set(2)
	StreamListenersActive.Set(3)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestSyncBreakerStates_ReflectsManagerSnapshot(t *testing.T) {
	mgr := breaker.NewManager(nil)
	cb := mgr.GetOrCreate("addic7ed", breaker.Config{FailureThreshold: 1})
	cb.RecordFailure()

	SyncBreakerStates(mgr)

	value := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("addic7ed"))
	assert.Equal(t, stateValue(breaker.StateOpen), value)
}

func TestStateValue_OrdersClosedHalfOpenOpen(t *testing.T) {
	assert.Equal(t, 0.0, stateValue(breaker.StateClosed))
	assert.Equal(t, 1.0, stateValue(breaker.StateHalfOpen))
	assert.Equal(t, 2.0, stateValue(breaker.StateOpen))
}
