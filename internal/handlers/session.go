package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"submaker/internal/breaker"
	"submaker/internal/metrics"
)

// SessionStats is the GET /session-stats payload. The base spec only
// requires {version, limits}; SPEC_FULL.md supplemented feature 1 adds the
// per-provider circuit breaker snapshot, grounded on
// recovery.CircuitBreakerManager.GetStats in the teacher repo.
type SessionStats struct {
	Version      string                   `json:"version"`
	Limits       SessionLimits            `json:"limits"`
	Breakers     map[string]breaker.Stats `json:"breakers"`
	KnownConfigs int64                    `json:"knownConfigs,omitempty"`
}

// SessionLimits mirrors the per-language/size caps the addon layer needs to
// render correctly.
type SessionLimits struct {
	PerLanguageCap    int   `json:"perLanguageCap"`
	RedisCapBytes     int64 `json:"redisCapBytes"`
	FilesystemCapBytes int64 `json:"filesystemCapBytes"`
}

// SessionStatsHandler handles GET /session-stats.
// @Summary Report build version, size limits, and circuit breaker health
// @Tags meta
// @Produce json
// @Success 200 {object} SessionStats
// @Router /session-stats [get]
func (h *Handlers) SessionStatsHandler(c *gin.Context) {
	stats := SessionStats{
		Version: h.version,
		Limits: SessionLimits{
			PerLanguageCap:     14,
			RedisCapBytes:      h.cfg.Storage.RedisCapBytes,
			FilesystemCapBytes: h.cfg.Storage.FilesystemCapBytes,
		},
		Breakers: h.pool.Breakers().GetStats(),
	}
	if h.sessions != nil {
		if n, err := h.sessions.KnownConfigCount(c.Request.Context()); err == nil {
			stats.KnownConfigs = n
		}
	}
	metrics.SyncBreakerStates(h.pool.Breakers())
	c.JSON(http.StatusOK, stats)
}

// Metrics exposes the Prometheus registry built by internal/metrics.
// @Summary Prometheus metrics
// @Tags meta
// @Router /metrics [get]
func Metrics(reg *prometheus.Registry) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
