package broadcast

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"lookout/internal/core"
	"lookout/internal/event"
	"lookout/internal/filter"
	"lookout/internal/upstream"
	"lookout/pkg/logging"
	"lookout/pkg/middleware"
	"lookout/pkg/monitoring"
	"lookout/pkg/server"
	"lookout/pkg/version"
)

// Config configures the dashboard HTTP surface.
type Config struct {
	Port       string
	StaticDir  string
	RecentSize int
	AdminToken string
}

// Server glues the hub, the replay buffer and the stream core behind the
// dashboard HTTP routes.
type Server struct {
	cfg    Config
	hub    *Hub
	recent *RecentBuffer
	core   *core.Core
	logger logging.Logger
}

// NewServer creates the dashboard server. The hub's connect-time state
// snapshot and the connection-state push frames are wired here.
func NewServer(cfg Config, c *core.Core, hub *Hub, logger logging.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		recent: NewRecentBuffer(cfg.RecentSize),
		core:   c,
		logger: logger,
	}
	hub.Snapshot = s.statePayload
	c.OnStateChange(func(state upstream.State) {
		hub.Broadcast(FrameStatus, gin.H{"state": string(state)})
	})
	return s
}

// HandleEvent is the bus handler for the dashboard topic: record the
// event for replay and push it to every connected client.
func (s *Server) HandleEvent(e *event.Event) {
	s.recent.Add(e)
	s.hub.Broadcast(FrameEvent, e)
}

// Recent exposes the replay buffer.
func (s *Server) Recent() *RecentBuffer { return s.recent }

// Router builds the gin engine with the dashboard, admin and service
// routes.
func (s *Server) Router(hc *monitoring.HealthChecker, mc *monitoring.MetricsCollector) *gin.Engine {
	router := server.SetupServiceRouter(s.logger, "lookout", hc, mc)

	router.GET("/status", s.handleStatus)
	router.GET("/api/state", s.handleState)
	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	if s.cfg.AdminToken != "" {
		admin := router.Group("/admin", middleware.BearerAuthMiddleware(s.cfg.AdminToken))
		admin.GET("/subscription", s.handleGetSubscription)
		admin.POST("/subscription", s.handleUpdateSubscription)
		admin.POST("/filters", s.handleUpdateFilters)
		admin.POST("/dedup/clear", s.handleClearDedup)
	} else {
		s.logger.Warn("Admin token not set, admin endpoints disabled")
	}

	router.NoRoute(s.handleStatic)

	return router
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.core.Stats().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":    version.Version,
		"connection": string(s.core.ConnState()),
		"events": gin.H{
			"total":         snap.Total,
			"delivered":     snap.Delivered,
			"deduped":       snap.Deduped,
			"ratePerMinute": snap.RatePerMinute,
		},
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.statePayload())
}

func (s *Server) statePayload() any {
	return gin.H{
		"connection":   string(s.core.ConnState()),
		"subscription": s.core.Subscriptions().State(),
		"filters":      s.core.Filters().Snapshot(),
		"stats":        s.core.Stats().Snapshot(),
		"recentEvents": s.recent.Snapshot(),
		"clients":      s.hub.ClientCount(),
	}
}

type subscriptionRequest struct {
	Channels []string `json:"channels"`
	Users    []string `json:"users"`
}

func (s *Server) handleGetSubscription(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Subscriptions().State())
}

func (s *Server) handleUpdateSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	state, err := s.core.Subscriptions().Update(req.Channels, req.Users)
	switch {
	case errors.Is(err, core.ErrUpdateInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, state)
	}
}

func (s *Server) handleUpdateFilters(c *gin.Context) {
	var cfg filter.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.core.Filters().Replace(filter.PredicatesFromConfig(cfg)...)
	s.logger.WithField("filters", s.core.Filters().Snapshot()).Info("Filter pipeline replaced")
	c.JSON(http.StatusOK, gin.H{"filters": s.core.Filters().Snapshot()})
}

func (s *Server) handleClearDedup(c *gin.Context) {
	cleared := s.core.Dedup().Size()
	s.core.Dedup().Clear()
	s.logger.WithField("cleared", cleared).Info("Dedup cache cleared")
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// handleStatic serves the bundled dashboard, falling back to index.html
// for client-side routes.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet || s.cfg.StaticDir == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "service": "lookout"})
		return
	}
	path := c.Request.URL.Path
	for _, prefix := range []string{"/api", "/admin", "/ws", "/metrics", "/health"} {
		if strings.HasPrefix(path, prefix) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "service": "lookout"})
			return
		}
	}

	full := filepath.Join(s.cfg.StaticDir, filepath.Clean("/"+path))
	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		c.File(full)
		return
	}
	c.File(filepath.Join(s.cfg.StaticDir, "index.html"))
}
