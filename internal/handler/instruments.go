package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradecore/internal/models"
	"tradecore/internal/repository"
)

type InstrumentHandler struct {
	Repo repository.Repository
}

func (h *InstrumentHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/instruments")
	g.GET("", h.list)
	g.PUT("/:expert_id/:symbol", h.put)
}

func (h *InstrumentHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	expertID := parseUint64(c.Query("expert_id"))
	if expertID == 0 {
		Error(c, http.StatusBadRequest, "expert_id required", nil)
		return
	}
	items, err := h.Repo.ListInstrumentConfigs(c.Request.Context(), expertID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type putInstrumentRequest struct {
	Enabled *bool `json:"enabled"`
	Weight  *int  `json:"weight"`
}

func (h *InstrumentHandler) put(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	expertID := uint64QueryParam(c, "expert_id")
	symbol := strings.TrimSpace(c.Param("symbol"))
	if expertID == 0 || symbol == "" {
		Error(c, http.StatusBadRequest, "invalid expert_id or symbol", nil)
		return
	}
	var req putInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	weight := models.NeutralWeight
	if req.Weight != nil {
		weight = *req.Weight
	}
	if weight <= 0 {
		Error(c, http.StatusBadRequest, "weight must be positive", nil)
		return
	}
	item := &models.InstrumentConfig{
		ExpertID: expertID,
		Symbol:   symbol,
		Enabled:  enabled,
		Weight:   weight,
	}
	if err := h.Repo.UpsertInstrumentConfig(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
