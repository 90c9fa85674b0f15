package handler

import (
	"net/http"

	"einvoice/internal/middleware"
	"einvoice/internal/service"
	"einvoice/pkg/pagination"
	"einvoice/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(middleware.RequireRole("admin", "manager"))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs returns the company's audit trail
// @Summary      Get audit logs
// @Description  Newest first. Status changes carry the axis with the old and new status.
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        entity_id  query     string  false  "Only entries for this invoice or regression run"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 20)"
// @Success      200        {object}  response.Response{data=response.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), actor, c.Query("entity_id"), p.Page, p.Limit)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Wrap(logs, total)))
}
