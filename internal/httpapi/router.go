// Package httpapi is the HTTP surface spec.md §6 names: the one-shot
// /ai/edit endpoint, health checks, and metrics — served alongside the
// socket upgrade route, on gin in place of the teacher's bare
// http.ServeMux.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/collabforge/colabhub/internal/aiqueue"
	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/hub"
	"github.com/collabforge/colabhub/internal/session"
	"github.com/collabforge/colabhub/pkg/cache"
	"github.com/collabforge/colabhub/pkg/logger"
)

// Server wires the gin engine over every HTTP-facing component.
type Server struct {
	engine *gin.Engine

	hub       *hub.Hub
	docs      *document.Store
	sessions  *session.Store
	queue     *aiqueue.Queue
	completer aiqueue.AICompleter
	cache     cache.Cache

	startTime time.Time
	version   string
}

// New constructs the gin router and registers every route. completer is
// called directly by /ai/edit, bypassing AIQueue entirely, per spec.md §6's
// solo-editor single-shot path.
func New(h *hub.Hub, docs *document.Store, sessions *session.Store, queue *aiqueue.Queue, completer aiqueue.AICompleter, c cache.Cache, version string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		hub:       h,
		docs:      docs,
		sessions:  sessions,
		queue:     queue,
		completer: completer,
		cache:     c,
		startTime: time.Now(),
		version:   version,
	}

	engine.GET("/socket", s.handleSocket)
	engine.POST("/ai/edit", s.handleAIEdit)
	engine.GET("/health", s.handleHealth)
	engine.GET("/health/detailed", s.handleHealthDetailed)
	engine.GET("/health/ready", s.handleHealthReady)
	engine.GET("/health/live", s.handleHealthLive)
	engine.GET("/metrics", s.handleMetrics)

	return s
}

// Engine exposes the underlying gin engine (for http.ListenAndServe, or
// testing with httptest).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		logger.Warn("httpapi: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := s.hub.Handle(c.Request.Context(), conn); err != nil {
		logger.Debug("httpapi: connection closed: %v", err)
	}
}
