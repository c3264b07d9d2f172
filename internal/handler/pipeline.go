package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradecore/internal/lifecycle"
	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/internal/rules"
)

// PipelineHandler ingests recommendations and triggers processing runs.
// The debug evaluate endpoint exposes the evaluator's trace strategies
// without side effects; it must never submit orders.
type PipelineHandler struct {
	Repo    repository.Repository
	Manager *lifecycle.Manager
}

func (h *PipelineHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/recommendations", h.ingest)
	r.POST("/api/v1/process", h.process)
	r.POST("/api/v1/evaluate", h.evaluate)
}

type ingestRequest struct {
	ExpertID          uint64  `json:"expert_id"`
	UseCase           string  `json:"use_case"`
	Symbol            string  `json:"symbol"`
	Signal            string  `json:"signal"`
	Confidence        float64 `json:"confidence"`
	ExpectedProfitPct string  `json:"expected_profit_pct"`
	TargetPrice       string  `json:"target_price"`
	RiskLevel         string  `json:"risk_level"`
	TimeHorizon       string  `json:"time_horizon"`
}

func (h *PipelineHandler) ingest(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.UseCase = strings.TrimSpace(req.UseCase)
	if req.ExpertID == 0 || req.Symbol == "" || req.UseCase == "" {
		Error(c, http.StatusBadRequest, "expert_id, use_case and symbol required", nil)
		return
	}
	switch req.Signal {
	case models.SignalBuy, models.SignalSell, models.SignalHold:
	default:
		Error(c, http.StatusBadRequest, "invalid signal", nil)
		return
	}
	expected, err := decimal.NewFromString(defaultZero(req.ExpectedProfitPct))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid expected_profit_pct", nil)
		return
	}
	target, err := decimal.NewFromString(defaultZero(req.TargetPrice))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid target_price", nil)
		return
	}
	item := &models.Recommendation{
		ExpertID:          req.ExpertID,
		UseCase:           req.UseCase,
		Symbol:            req.Symbol,
		Signal:            req.Signal,
		Confidence:        req.Confidence,
		ExpectedProfitPct: expected,
		TargetPrice:       target,
		RiskLevel:         req.RiskLevel,
		TimeHorizon:       req.TimeHorizon,
	}
	if err := h.Repo.InsertRecommendation(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type processRequest struct {
	ExpertID uint64 `json:"expert_id"`
	UseCase  string `json:"use_case"`
}

func (h *PipelineHandler) process(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "manager unavailable", nil)
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.ExpertID == 0 || strings.TrimSpace(req.UseCase) == "" {
		Error(c, http.StatusBadRequest, "expert_id and use_case required", nil)
		return
	}
	out, err := h.Manager.ProcessRecommendationsAfterAnalysis(c.Request.Context(), req.ExpertID, req.UseCase)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoRuleset) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}

type evaluateRequest struct {
	ExpertID uint64                   `json:"expert_id"`
	UseCase  string                   `json:"use_case"`
	Strategy rules.EvaluationStrategy `json:"strategy"`
}

func (h *PipelineHandler) evaluate(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusServiceUnavailable, "manager unavailable", nil)
		return
	}
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.ExpertID == 0 || strings.TrimSpace(req.UseCase) == "" {
		Error(c, http.StatusBadRequest, "expert_id and use_case required", nil)
		return
	}
	out, err := h.Manager.DryRun(c.Request.Context(), req.ExpertID, req.UseCase, req.Strategy)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoRuleset) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}

func defaultZero(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
