// Package api exposes the orchestration core over HTTP: the trade lifecycle
// routes, the WebSocket endpoint, health, and metrics. Authentication sits in
// front of this layer; the caller identity arrives in headers.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clearlane/tradeflow/internal/bus"
	"github.com/clearlane/tradeflow/internal/lifecycle"
	"github.com/clearlane/tradeflow/internal/ws"
	errs "github.com/clearlane/tradeflow/pkg/errors"
)

// Identity headers injected by the upstream auth layer.
const (
	HeaderUserID = "X-User-ID"
	HeaderOrgID  = "X-Org-ID"
)

// Server wires the HTTP routes to the orchestrator, bus, and registry.
type Server struct {
	router       *gin.Engine
	logger       *zap.Logger
	orchestrator *lifecycle.Orchestrator
	bus          *bus.Bus
	registry     *ws.Registry
}

// NewServer builds the router with its middleware and routes.
func NewServer(logger *zap.Logger, orchestrator *lifecycle.Orchestrator, b *bus.Bus, registry *ws.Registry) *Server {
	s := &Server{
		logger:       logger,
		orchestrator: orchestrator,
		bus:          b,
		registry:     registry,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", HeaderUserID, HeaderOrgID},
		ExposeHeaders: []string{"Content-Length"},
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleWS)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/trades", s.handleCapture)
		v1.GET("/trades", s.handleList)
		v1.GET("/trades/:id", s.handleGetStatus)
		v1.POST("/trades/:id/validate", s.handleValidate)
		v1.POST("/trades/:id/confirm", s.handleConfirm)
		v1.POST("/trades/:id/allocate", s.handleAllocate)
		v1.POST("/trades/:id/settle", s.handleSettle)
		v1.POST("/trades/:id/cancel", s.handleCancel)
		v1.GET("/analytics", s.handleAnalytics)
		v1.GET("/events", s.handleHistory)
	}

	s.router = router
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) handleWS(c *gin.Context) {
	userID, orgID, ok := identity(c)
	if !ok {
		return
	}
	s.registry.ServeWS(c.Writer, c.Request, userID, orgID)
}

// identity pulls the caller identity from headers, falling back to query
// parameters for WebSocket clients that cannot set headers.
func identity(c *gin.Context) (userID, orgID string, ok bool) {
	userID = c.GetHeader(HeaderUserID)
	if userID == "" {
		userID = c.Query("user_id")
	}
	orgID = c.GetHeader(HeaderOrgID)
	if orgID == "" {
		orgID = c.Query("org_id")
	}
	if userID == "" || orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"kind":    errs.KindBadRequest,
			"message": "user and organization identity headers are required",
		}})
		return "", "", false
	}
	return userID, orgID, true
}

func renderError(c *gin.Context, err error) {
	var e *errs.Error
	if errs.As(err, &e) {
		c.JSON(errs.HTTPStatus(e), gin.H{"error": e})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"kind":    errs.KindInternal,
		"message": err.Error(),
	}})
}
