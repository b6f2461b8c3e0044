package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/collabforge/colabhub/pkg/metrics"
)

type metricsSnapshot struct {
	AIQueue struct {
		Pending                 int64   `json:"pending"`
		Processing              int64   `json:"processing"`
		Completed               int64   `json:"completed"`
		Failed                  int64   `json:"failed"`
		AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
	} `json:"aiQueue"`
	ActiveDocuments int `json:"activeDocuments"`
	ActiveSessions  int `json:"activeSessions"`
}

// handleMetrics serves either the prometheus exposition format (default, and
// when format=prometheus) or a plain JSON snapshot (format=json), per
// spec.md §6.
func (s *Server) handleMetrics(c *gin.Context) {
	if c.Query("format") == "json" {
		s.handleMetricsJSON(c)
		return
	}

	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleMetricsJSON(c *gin.Context) {
	stats := s.queue.Stats(c.Request.Context())

	var snap metricsSnapshot
	snap.AIQueue.Pending = stats.Pending
	snap.AIQueue.Processing = stats.Processing
	snap.AIQueue.Completed = stats.Completed
	snap.AIQueue.Failed = stats.Failed
	snap.AIQueue.AverageProcessingTimeMs = stats.AverageProcessingTimeMs
	snap.ActiveDocuments = s.docs.Count()
	snap.ActiveSessions = s.sessions.Count()

	c.JSON(http.StatusOK, snap)
}
