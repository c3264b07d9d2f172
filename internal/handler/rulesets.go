package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/internal/rules"
)

type RulesetHandler struct {
	Repo repository.Repository
}

func (h *RulesetHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/rulesets")
	g.GET("", h.list)
	g.GET("/:expert_id/:use_case", h.get)
	g.PUT("/:expert_id/:use_case", h.put)
}

func (h *RulesetHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	expertID := parseUint64(c.Query("expert_id"))
	if expertID == 0 {
		Error(c, http.StatusBadRequest, "expert_id required", nil)
		return
	}
	items, err := h.Repo.ListRulesets(c.Request.Context(), expertID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *RulesetHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	expertID := uint64QueryParam(c, "expert_id")
	useCase := strings.TrimSpace(c.Param("use_case"))
	if expertID == 0 || useCase == "" {
		Error(c, http.StatusBadRequest, "invalid expert_id or use_case", nil)
		return
	}
	item, err := h.Repo.GetRuleset(c.Request.Context(), expertID, useCase)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "ruleset not found", nil)
		return
	}
	Ok(c, item, nil)
}

type putRulesetRequest struct {
	Name    string          `json:"name"`
	Enabled *bool           `json:"enabled"`
	Rules   json.RawMessage `json:"rules"`
}

func (h *RulesetHandler) put(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	expertID := uint64QueryParam(c, "expert_id")
	useCase := strings.TrimSpace(c.Param("use_case"))
	if expertID == 0 || useCase == "" {
		Error(c, http.StatusBadRequest, "invalid expert_id or use_case", nil)
		return
	}
	var req putRulesetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(req.Rules) == 0 {
		Error(c, http.StatusBadRequest, "rules required", nil)
		return
	}
	if _, err := rules.DecodeRules(req.Rules); err != nil {
		Error(c, http.StatusBadRequest, "invalid rules: "+err.Error(), nil)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	item := &models.Ruleset{
		ExpertID: expertID,
		UseCase:  useCase,
		Name:     strings.TrimSpace(req.Name),
		Enabled:  enabled,
		Rules:    datatypes.JSON(req.Rules),
	}
	if err := h.Repo.UpsertRuleset(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out, err := h.Repo.GetRuleset(c.Request.Context(), expertID, useCase)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, out, nil)
}
