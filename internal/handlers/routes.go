package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"submaker/internal/stream"
)

// RegisterRoutes wires every spec §6 endpoint plus the supplemented
// verify-sync/metrics endpoints and the WebSocket companion channel onto
// router, grounded on the teacher main.go's route-group registration
// style.
func RegisterRoutes(router *gin.Engine, h *Handlers, ws *stream.WebSocketChannel, metricsRegistry *prometheus.Registry) {
	router.GET("/subtitles/:type/:idparam", h.SearchSubtitles)
	router.GET("/subtitle/download", h.DownloadSubtitle)
	router.POST("/subtitle/verify-sync", h.VerifySubtitleSync)
	router.POST("/translate", h.StartTranslation)
	router.GET("/translation/:baseKey", h.GetTranslation)
	router.GET("/activity", h.StreamActivity)
	router.GET("/session-stats", h.SessionStatsHandler)
	router.GET("/metrics", Metrics(metricsRegistry))
	if ws != nil {
		router.GET("/ws/activity", ws.HandleConnection)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/subtitles/:type/:idparam", h.SearchSubtitles)
		v1.GET("/subtitle/download", h.DownloadSubtitle)
		v1.POST("/subtitle/verify-sync", h.VerifySubtitleSync)
		v1.POST("/translate", h.StartTranslation)
		v1.GET("/translation/:baseKey", h.GetTranslation)
		v1.GET("/activity", h.StreamActivity)
		v1.GET("/session-stats", h.SessionStatsHandler)
	}
}
