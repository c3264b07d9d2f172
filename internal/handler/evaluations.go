package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradecore/internal/repository"
)

type EvaluationHandler struct {
	Repo repository.Repository
}

func (h *EvaluationHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/evaluations")
	g.GET("", h.list)
}

func (h *EvaluationHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListEvaluationsParams{
		Limit:    limit,
		Offset:   offset,
		ExpertID: uint64QueryPtr(c, "expert_id"),
		Symbol:   strQueryPtr(c, "symbol"),
		Since:    timeQueryPtr(c, "since"),
	}
	items, err := h.Repo.ListEvaluationRecords(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountEvaluationRecords(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
