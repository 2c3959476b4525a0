package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WarmUpRecordsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil)
	p.Register(Endpoint{Name: "opensubtitles", BaseURL: srv.URL, Critical: true})

	p.WarmUp(context.Background())
	assert.True(t, p.IsHealthy("opensubtitles"))
}

func TestPool_WarmUpFailureOpensBreakerAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(nil)
	p.Register(Endpoint{Name: "subdl", BaseURL: srv.URL})

	for i := 0; i < 3; i++ {
		p.WarmUp(context.Background())
	}
	assert.False(t, p.IsHealthy("subdl"))
	assert.Contains(t, p.SkipReason("subdl"), "circuit breaker open")
}

func TestPool_ApplyHeadersUsesTemplate(t *testing.T) {
	p := New(nil)
	p.Register(Endpoint{
		Name:    "addic7ed",
		BaseURL: "https://example.invalid",
		HeaderTemplate: http.Header{
			"User-Agent": []string{"Mozilla/5.0"},
		},
	})

	req, err := http.NewRequest(http.MethodGet, "https://example.invalid", nil)
	require.NoError(t, err)
	p.ApplyHeaders("addic7ed", req)
	assert.Equal(t, "Mozilla/5.0", req.Header.Get("User-Agent"))
}

func TestPool_HealthLoopStopsCleanly(t *testing.T) {
	p := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.StartHealthLoop(ctx)
	cancel()
	done := make(chan struct{})
	go func() { p.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health loop did not stop")
	}
}
