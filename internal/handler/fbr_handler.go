package handler

import (
	"net/http"

	"einvoice/internal/middleware"
	"einvoice/internal/service"
	"einvoice/pkg/response"

	"github.com/gin-gonic/gin"
)

type FBRHandler struct {
	fbrService service.FBRService
}

func NewFBRHandler(fbrService service.FBRService) *FBRHandler {
	return &FBRHandler{fbrService: fbrService}
}

func (h *FBRHandler) RegisterRoutes(router *gin.RouterGroup) {
	invoices := router.Group("/api/invoices/:id/fbr")
	{
		invoices.GET("/payload", h.PreviewPayload)
		invoices.POST("/validate", h.ValidateInvoice)
		invoices.POST("/post", h.PostInvoice)
		invoices.POST("/submit", h.SubmitInvoice)
	}

	fbr := router.Group("/api/fbr")
	{
		fbr.GET("/scenarios", h.ListScenarios)
		fbr.POST("/regression", middleware.RequireRole("admin", "manager"), h.RunRegression)
	}
}

// PreviewPayload returns the payload that would be sent for an invoice
// @Summary      Preview FBR payload
// @Tags         fbr
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=fbr.InvoicePayload}
// @Failure      400  {object}  response.Response
// @Router       /api/invoices/{id}/fbr/payload [get]
func (h *FBRHandler) PreviewPayload(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	payload, err := h.fbrService.PreviewPayload(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payload))
}

// ValidateInvoice dry-runs an invoice against the gateway
// @Summary      Validate invoice with FBR
// @Description  Nothing is persisted. An Invalid answer is a successful call with success=false in the result.
// @Tags         fbr
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.SubmissionResponse}
// @Failure      400  {object}  response.Response
// @Failure      502  {object}  response.Response{data=service.SubmissionResponse}
// @Router       /api/invoices/{id}/fbr/validate [post]
func (h *FBRHandler) ValidateInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	result, err := h.fbrService.ValidateInvoice(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err, submissionData(result))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// PostInvoice validates and posts an invoice
// @Summary      Post invoice to FBR
// @Description  Validates first; validation warnings stop the post unless override_warnings is set.
// @Description  On acceptance the invoice moves to fbr_posted and stores the FBR invoice number.
// @Tags         fbr
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string               true   "Invoice ID"
// @Param        payload  body      service.PostRequest  false  "Options"
// @Success      200      {object}  response.Response{data=service.SubmissionResponse}
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response{data=service.SubmissionResponse}
// @Failure      502      {object}  response.Response{data=service.SubmissionResponse}
// @Router       /api/invoices/{id}/fbr/post [post]
func (h *FBRHandler) PostInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req service.PostRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
			return
		}
	}

	result, err := h.fbrService.PostInvoice(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err, submissionData(result))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// SubmitInvoice validates and, when valid, posts an invoice
// @Summary      Submit invoice to FBR
// @Description  Validates, waits the configured delay and posts when FBR reports the invoice Valid.
// @Tags         fbr
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.SubmissionResponse}
// @Failure      422  {object}  response.Response{data=service.SubmissionResponse}
// @Failure      502  {object}  response.Response{data=service.SubmissionResponse}
// @Router       /api/invoices/{id}/fbr/submit [post]
func (h *FBRHandler) SubmitInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	result, err := h.fbrService.SubmitInvoice(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err, submissionData(result))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ListScenarios returns the regulatory scenario catalog
// @Summary      List FBR scenarios
// @Tags         fbr
// @Security     BearerAuth
// @Produce      json
// @Param        sort  query     string  false  "Set to id to order by scenario id instead of catalog order"
// @Success      200   {object}  response.Response{data=service.ScenarioListResponse}
// @Router       /api/fbr/scenarios [get]
func (h *FBRHandler) ListScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(http.StatusOK, h.fbrService.ListScenarios(c.Query("sort") == "id")))
}

// RunRegression validates every catalog scenario against the sandbox
// @Summary      Run FBR sandbox regression
// @Description  Runs sequentially with a fixed delay between scenarios. Progress is streamed over the websocket.
// @Tags         fbr
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=fbr.Report}
// @Failure      400  {object}  response.Response
// @Router       /api/fbr/regression [post]
func (h *FBRHandler) RunRegression(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	report, err := h.fbrService.RunRegression(c.Request.Context(), actor)
	if err != nil {
		var data interface{}
		if report != nil {
			data = report
		}
		respondError(c, err, data)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

func submissionData(r service.SubmissionResponse) interface{} {
	if r.Validation == nil && r.Post == nil {
		return nil
	}
	return r
}
