package handler

import (
	"net/http"

	"einvoice/internal/service"
	"einvoice/pkg/pagination"
	"einvoice/pkg/response"

	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	invoiceService service.InvoiceService
}

func NewInvoiceHandler(invoiceService service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

func (h *InvoiceHandler) RegisterRoutes(router *gin.RouterGroup) {
	invoices := router.Group("/api/invoices")
	{
		invoices.POST("", h.CreateInvoice)
		invoices.GET("", h.ListInvoices)
		invoices.GET("/:id", h.GetInvoice)
		invoices.PUT("/:id", h.UpdateInvoice)
		invoices.DELETE("/:id", h.DeleteInvoice)
		invoices.PUT("/:id/status", h.ChangeStatus)
		invoices.PUT("/:id/payment-status", h.ChangePaymentStatus)
		invoices.POST("/:id/payments", h.RecordPayment)
	}
}

// CreateInvoice creates a draft invoice
// @Summary      Create invoice
// @Description  Creates a draft invoice. Totals are computed from the items and the sales/further tax rates.
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.InvoiceRequest  true  "Invoice"
// @Success      201      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req service.InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	invoice, err := h.invoiceService.CreateInvoice(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, invoice))
}

// ListInvoices returns a paginated list of invoices
// @Summary      List invoices
// @Description  Lists the company's invoices, newest first. Deleted invoices only appear when status=deleted.
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        status          query     string  false  "Document status (draft, fbr_posted, verified, paid, deleted)"
// @Param        payment_status  query     string  false  "Payment status (pending, partial, paid, overdue, cancelled)"
// @Param        invoice_number  query     string  false  "Partial invoice number"
// @Param        page            query     int     false  "Page number (default 1)"
// @Param        limit           query     int     false  "Number of items per page (default 20)"
// @Success      200             {object}  response.Response{data=response.Page}
// @Failure      400             {object}  response.Response
// @Router       /api/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	invoices, total, err := h.invoiceService.ListInvoices(c.Request.Context(), actor, service.InvoiceFilter{
		Status:        c.Query("status"),
		PaymentStatus: c.Query("payment_status"),
		InvoiceNumber: c.Query("invoice_number"),
		Page:          p.Page,
		Limit:         p.Limit,
	})
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Wrap(invoices, total)))
}

// GetInvoice returns one invoice with its items
// @Summary      Get invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=service.InvoiceResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// UpdateInvoice replaces an invoice's fields and items
// @Summary      Update invoice
// @Description  Only draft and verified invoices can be edited. Items are replaced as a set and totals recomputed.
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Invoice ID"
// @Param        payload  body      service.InvoiceRequest  true  "Invoice"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/invoices/{id} [put]
func (h *InvoiceHandler) UpdateInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req service.InvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	invoice, err := h.invoiceService.UpdateInvoice(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// DeleteInvoice marks a draft invoice deleted
// @Summary      Delete invoice
// @Tags         invoices
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/invoices/{id} [delete]
func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.invoiceService.DeleteInvoice(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"id": c.Param("id")}))
}

// ChangeStatus applies a manual document status transition
// @Summary      Change document status
// @Description  fbr_posted -> verified, verified -> paid, verified -> draft. fbr_posted can only be reached by posting.
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Invoice ID"
// @Param        payload  body      service.StatusChangeRequest  true  "Target status"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/invoices/{id}/status [put]
func (h *InvoiceHandler) ChangeStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req service.StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	invoice, err := h.invoiceService.ChangeStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// ChangePaymentStatus applies a manual payment status transition
// @Summary      Change payment status
// @Description  Reset to pending, mark overdue, cancelled or paid in full. Use the payments endpoint for partial payments.
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Invoice ID"
// @Param        payload  body      service.StatusChangeRequest  true  "Target payment status"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/invoices/{id}/payment-status [put]
func (h *InvoiceHandler) ChangePaymentStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req service.StatusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	invoice, err := h.invoiceService.ChangePaymentStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// RecordPayment adds a payment to an invoice
// @Summary      Record payment
// @Description  Paying the balance settles the invoice; a smaller amount leaves it partial. Overpayment is rejected.
// @Tags         invoices
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Invoice ID"
// @Param        payload  body      service.RecordPaymentRequest  true  "Payment"
// @Success      200      {object}  response.Response{data=service.InvoiceResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/invoices/{id}/payments [post]
func (h *InvoiceHandler) RecordPayment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	invoice, err := h.invoiceService.RecordPayment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}
