package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradeengine/config"
	"tradeengine/execution"
	"tradeengine/models"
	"tradeengine/store"
)

// createStrategyRequest is the client-supplied shape for a new strategy.
// Credentials are optional: a virtual/paper strategy needs none.
type createStrategyRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Exchange    config.ExchangeConfig  `json:"exchange" binding:"required"`
	Model       config.ModelConfig     `json:"model"`
	Trading     config.TradingConfig   `json:"trading" binding:"required"`
	RiskControl config.RiskControlConfig `json:"risk_control"`
	Grid        config.GridConfig     `json:"grid"`
	Credentials execution.Credentials `json:"credentials"`
}

func strategyJSON(rec store.StrategyRecord) gin.H {
	return gin.H{
		"id":          rec.ID,
		"name":        rec.Name,
		"exchange_id": rec.ExchangeID,
		"config":      rec.Config,
		"status":      rec.Status,
		"stop_reason": rec.StopReason,
		"created_at":  rec.CreatedAt,
		"updated_at":  rec.UpdatedAt,
	}
}

// handleCreateStrategy creates a strategy row in STOPPED status; the
// caller must hit /start to launch it.
func (s *Server) handleCreateStrategy(c *gin.Context) {
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	cfg := config.StrategyConfig{
		Exchange:    req.Exchange,
		Model:       req.Model,
		Trading:     req.Trading,
		RiskControl: req.RiskControl,
		Grid:        req.Grid,
	}

	rec := store.StrategyRecord{
		ID:          uuid.New().String(),
		Name:        req.Name,
		ExchangeID:  req.Exchange.ExchangeID,
		Config:      cfg,
		Credentials: req.Credentials,
		Status:      models.StatusStopped,
	}

	if err := s.store.CreateStrategy(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create strategy: " + err.Error()})
		return
	}

	rec, err := s.store.GetStrategy(c.Request.Context(), rec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "strategy created but re-read failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, strategyJSON(rec))
}

// handleListStrategies returns every strategy, newest first.
func (s *Server) handleListStrategies(c *gin.Context) {
	recs, err := s.store.ListStrategies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list strategies: " + err.Error()})
		return
	}

	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, strategyJSON(rec))
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

// handleGetStrategy returns one strategy's config/status/summary.
func (s *Server) handleGetStrategy(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.store.GetStrategy(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}

	summary, err := s.store.GetStrategySummary(c.Request.Context(), id)
	if err != nil && err != store.ErrNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load summary: " + err.Error()})
		return
	}

	resp := strategyJSON(rec)
	resp["summary"] = summary
	c.JSON(http.StatusOK, resp)
}

// handleDeleteStrategy removes a strategy and its history. Refuses to
// delete a running strategy — stop it first.
func (s *Server) handleDeleteStrategy(c *gin.Context) {
	id := c.Param("id")
	if s.store.StrategyRunning(c.Request.Context(), id) {
		c.JSON(http.StatusConflict, gin.H{"error": "strategy is running, stop it before deleting"})
		return
	}

	if err := s.store.DeleteStrategy(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete strategy: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// handleStartStrategy flips status to RUNNING and asks the launcher to
// spin up (or resume) the supervised coordinator goroutine.
func (s *Server) handleStartStrategy(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetStrategy(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}

	if err := s.store.SetStrategyStatus(c.Request.Context(), id, models.StatusRunning); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark strategy running: " + err.Error()})
		return
	}
	if err := s.launcher.Launch(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to launch strategy: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusRunning})
}

// handleStopStrategy signals the launcher to stop the strategy's loop.
// The loop itself records the final STOPPED status once it unwinds.
func (s *Server) handleStopStrategy(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetStrategy(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}

	if err := s.launcher.Stop(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop strategy: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "stopping"})
}

// handleGetPositions returns the strategy's current open positions.
func (s *Server) handleGetPositions(c *gin.Context) {
	id := c.Param("id")
	view, err := s.store.GetLatestPortfolioSnapshot(c.Request.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			c.JSON(http.StatusOK, gin.H{"positions": map[string]*models.PositionSnapshot{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": view.Positions})
}

// handleGetAccountInfo returns the full latest portfolio snapshot:
// balances, exposure, buying power, alongside positions.
func (s *Server) handleGetAccountInfo(c *gin.Context) {
	id := c.Param("id")
	view, err := s.store.GetLatestPortfolioSnapshot(c.Request.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "no portfolio snapshot yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account info: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleGetValueCurve returns the strategy's total-value time series,
// the curve the dashboard plots for "holding price" over time.
func (s *Server) handleGetValueCurve(c *gin.Context) {
	id := c.Param("id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}

	points, err := s.store.ValueCurve(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load value curve: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// handleGetTradeDetails returns the strategy's trade history, newest
// first.
func (s *Server) handleGetTradeDetails(c *gin.Context) {
	id := c.Param("id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}

	trades, err := s.store.ListTradeHistory(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trade history: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
