package audit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/bloodbank-api/internal/handler"
	"github.com/jwalitptl/bloodbank-api/internal/model"
)

type Service interface {
	AuditLog(ctx context.Context, id model.Identity, unitID string, limit int) ([]*model.AuditEntry, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.ListLogs)
}

type listQuery struct {
	UnitID string `form:"unit_id"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
}

// ListLogs returns entries newest first; the limit is capped server side.
func (h *Handler) ListLogs(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}

	entries, err := h.service.AuditLog(c.Request.Context(), handler.IdentityFrom(c), q.UnitID, q.Limit)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}
