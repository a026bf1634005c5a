package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clearlane/tradeflow/internal/bus"
	"github.com/clearlane/tradeflow/internal/lifecycle"
	errs "github.com/clearlane/tradeflow/pkg/errors"
)

type confirmRequest struct {
	Notes string `json:"notes"`
}

type allocateRequest struct {
	Allocation []lifecycle.AllocationLeg `json:"allocation" binding:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleCapture(c *gin.Context) {
	userID, orgID, ok := identity(c)
	if !ok {
		return
	}
	var req lifecycle.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	trade, err := s.orchestrator.Capture(c.Request.Context(), req, userID, orgID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) handleValidate(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	tradeID, ok := tradeID(c)
	if !ok {
		return
	}
	trade, err := s.orchestrator.Validate(c.Request.Context(), tradeID, userID)
	if err != nil {
		// A validation failure still committed a transition: return the
		// aggregate with its failed status and error list.
		if trade != nil && errs.Is(err, errs.New(errs.KindValidationFailed, "")) {
			c.JSON(http.StatusUnprocessableEntity, trade)
			return
		}
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleConfirm(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	tradeID, ok := tradeID(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	trade, err := s.orchestrator.Confirm(c.Request.Context(), tradeID, userID, req.Notes)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleAllocate(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	tradeID, ok := tradeID(c)
	if !ok {
		return
	}
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	trade, err := s.orchestrator.Allocate(c.Request.Context(), tradeID, userID, req.Allocation)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleSettle(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	tradeID, ok := tradeID(c)
	if !ok {
		return
	}
	var req lifecycle.Settlement
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	trade, err := s.orchestrator.Settle(c.Request.Context(), tradeID, userID, req)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleCancel(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	tradeID, ok := tradeID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	trade, err := s.orchestrator.Cancel(c.Request.Context(), tradeID, userID, req.Reason)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleGetStatus(c *gin.Context) {
	tradeID, ok := tradeID(c)
	if !ok {
		return
	}
	trade, err := s.orchestrator.GetStatus(tradeID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleList(c *gin.Context) {
	userID, orgID, ok := identity(c)
	if !ok {
		return
	}
	// Listing is organization-scoped; the user filter only applies when
	// explicitly requested.
	if c.Query("mine") == "" {
		userID = ""
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 50)

	trades, total, err := s.orchestrator.ListTrades(userID, orgID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":    trades,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	_, orgID, ok := identity(c)
	if !ok {
		return
	}
	from, err := timeQuery(c, "from")
	if err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		renderError(c, errs.Wrap(errs.KindBadRequest, err))
		return
	}
	analytics, err := s.orchestrator.Analytics(orgID, from, to)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

// handleHistory replays recent events scoped to the caller's organization,
// the same visibility rule the WebSocket sync applies.
func (s *Server) handleHistory(c *gin.Context) {
	_, orgID, ok := identity(c)
	if !ok {
		return
	}
	topic := c.Query("topic")
	limit := intQuery(c, "limit", 100)

	events := make([]bus.Event, 0)
	for _, evt := range s.bus.History(topic, 0) {
		if evt.Metadata.OrganizationID != orgID {
			continue
		}
		events = append(events, evt)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func tradeID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		renderError(c, errs.New(errs.KindBadRequest, "trade id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
