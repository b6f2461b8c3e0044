package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type checkResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

// handleHealth is the shallow liveness-style check: the process answers,
// nothing more.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).String(),
	})
}

// handleHealthDetailed runs every dependency check and reports status per
// spec.md §6: 200 on healthy/degraded, 503 on unhealthy.
func (s *Server) handleHealthDetailed(c *gin.Context) {
	checks := map[string]checkResult{
		"cache":    s.checkCache(c.Request.Context()),
		"document": {Status: "healthy", Message: fmt.Sprintf("%d active documents", s.docs.Count())},
		"session":  {Status: "healthy", Message: fmt.Sprintf("%d active sessions", s.sessions.Count())},
	}

	overall := "healthy"
	for _, chk := range checks {
		if chk.Status == "unhealthy" {
			overall = "unhealthy"
			break
		}
		if chk.Status == "degraded" {
			overall = "degraded"
		}
	}

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, healthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
	})
}

// handleHealthReady reports whether the process is ready to accept new
// connections — the cache must be reachable.
func (s *Server) handleHealthReady(c *gin.Context) {
	chk := s.checkCache(c.Request.Context())
	if chk.Status == "unhealthy" {
		c.JSON(http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Version:   s.version,
			Uptime:    time.Since(s.startTime).String(),
			Checks:    map[string]checkResult{"cache": chk},
		})
		return
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).String(),
	})
}

// handleHealthLive reports only that the process is alive and scheduling
// goroutines; it never touches the cache.
func (s *Server) handleHealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).String(),
	})
}

func (s *Server) checkCache(ctx context.Context) checkResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := s.cache.Exists(ctx, "colabhub:health:ping")
	elapsed := time.Since(start)
	if err != nil {
		return checkResult{Status: "unhealthy", Message: err.Error(), Duration: elapsed.String()}
	}
	return checkResult{Status: "healthy", Duration: elapsed.String()}
}
