package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"execution-core/internal/audit"
	"execution-core/internal/ledger"
	"execution-core/internal/lifecycle"
	"execution-core/internal/monitor"
	"execution-core/pkg/store"

	"github.com/gin-gonic/gin"
)

// Server exposes read-only views of the pipeline over HTTP.
type Server struct {
	Router  *gin.Engine
	Ledger  *ledger.Ledger
	Tracker *lifecycle.Tracker
	Audit   *audit.Recorder
	Metrics *monitor.Metrics
	Store   *store.Store
	Meta    SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	DryRun  bool
	Symbols []string
	Version string
	Started time.Time
}

// NewServer builds the router and middleware stack.
func NewServer(l *ledger.Ledger, t *lifecycle.Tracker, a *audit.Recorder, m *monitor.Metrics, st *store.Store, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(m))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Ledger:  l,
		Tracker: t,
		Audit:   a,
		Metrics: m,
		Store:   st,
		Meta:    meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/positions", s.getPositions)
		api.GET("/orders", s.getOrders)
		api.GET("/orders/:key/transitions", s.getOrderTransitions)
		api.GET("/trades", s.getTrades)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dry_run":        s.Meta.DryRun,
		"symbols":        s.Meta.Symbols,
		"version":        s.Meta.Version,
		"uptime_seconds": int(time.Since(s.Meta.Started).Seconds()),
		"open_positions": s.Ledger.OpenCount(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Ledger.Positions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getOrders(c *gin.Context) {
	orders := s.Tracker.Orders()
	sort.Slice(orders, func(i, j int) bool { return orders[i].LastTransition.After(orders[j].LastTransition) })
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrderTransitions(c *gin.Context) {
	key := c.Param("key")
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	ts, err := s.Store.ListTransitions(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": ts})
}

func (s *Server) getTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	trades := s.Ledger.Trades()
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// Start runs the HTTP server. Blocks until shutdown.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
