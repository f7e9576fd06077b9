package handler

import (
	"errors"
	"net/http"
	"time"

	"invoicing/internal/model"
	"invoicing/internal/service"
	"invoicing/pkg/pagination"
	"invoicing/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
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
		invoices.GET("", h.ListInvoices)
		invoices.GET("/:id", h.GetInvoice)
		invoices.POST("", h.CreateInvoice)
		invoices.PUT("/:id", h.ReplaceInvoice)
		invoices.PATCH("/:id", h.PatchInvoice)
		invoices.DELETE("/:id", h.DeleteInvoice)
	}
}

// ListInvoices returns a paginated list of invoices
// @Summary      List invoices
// @Description  Retrieves a paginated list of invoices with their items, optionally filtered by customer name substring and status
// @Tags         invoices
// @Produce      json
// @Param        search  query     string  false  "Case-insensitive substring match on customer_name"
// @Param        status  query     string  false  "Filter by status (unpaid, paid, draft)"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 15)"
// @Success      200     {object}  response.Response{data=object}
// @Failure      400     {object}  response.Response
// @Router       /api/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	search := c.Query("search")
	status := c.Query("status")

	if status != "" && status != model.StatusUnpaid && status != model.StatusPaid && status != model.StatusDraft {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "status must be one of unpaid, paid, draft"))
		return
	}

	params := pagination.Parse(c)
	invoices, total, err := h.invoiceService.List(c.Request.Context(), service.InvoiceFilter{
		Search: search,
		Status: status,
		Page:   params.Page,
		Limit:  params.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Error fetching invoices"))
		return
	}

	meta := pagination.NewMeta(total, params, map[string]string{
		"search": search,
		"status": status,
	})
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"invoices": invoices,
		"meta":     meta,
	}))
}

// GetInvoice returns a single invoice with its items
// @Summary      Get invoice
// @Description  Retrieves an invoice and its line items by id
// @Tags         invoices
// @Produce      json
// @Param        id   path      string  true  "Invoice ID"
// @Success      200  {object}  response.Response{data=model.Invoice}
// @Failure      404  {object}  response.Response
// @Router       /api/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	invoice, err := h.invoiceService.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Invoice not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Error fetching invoice"))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// CreateInvoice creates an invoice together with its line items
// @Summary      Create invoice
// @Description  Creates an invoice with its items in one transaction; subtotal, vat and total are derived server-side
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateInvoiceRequest  true  "Create Invoice Payload"
// @Success      201      {object}  response.Response{data=model.Invoice}
// @Failure      400      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Failure      500      {object}  response.Response
// @Router       /api/invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req service.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ValidationError(http.StatusBadRequest, "Invalid request payload", fieldErrors(err)))
		return
	}
	if !dueDateAfterDate(req.Date, req.DueDate) {
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "due_date must be on or after date"))
		return
	}

	invoice, err := h.invoiceService.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateNumber) {
			c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "number has already been taken"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Error creating invoice"))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, invoice))
}

// ReplaceInvoice fully replaces an invoice and its item set
// @Summary      Replace invoice
// @Description  Replaces all invoice fields and discards the previous item set in favor of the provided one
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        id       path      string                         true  "Invoice ID"
// @Param        payload  body      service.ReplaceInvoiceRequest  true  "Replace Invoice Payload"
// @Success      200      {object}  response.Response{data=model.Invoice}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Failure      500      {object}  response.Response
// @Router       /api/invoices/{id} [put]
func (h *InvoiceHandler) ReplaceInvoice(c *gin.Context) {
	var req service.ReplaceInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ValidationError(http.StatusBadRequest, "Invalid request payload", fieldErrors(err)))
		return
	}
	if !dueDateAfterDate(req.Date, req.DueDate) {
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "due_date must be on or after date"))
		return
	}

	invoice, err := h.invoiceService.Replace(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvoiceNotFound):
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Invoice not found"))
		case errors.Is(err, service.ErrDuplicateNumber):
			c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "number has already been taken"))
		default:
			c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Error updating invoice"))
		}
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// PatchInvoice partially updates an invoice, reconciling its items
// @Summary      Patch invoice
// @Description  Updates the provided fields. When items is present it is the complete desired item list: ids are matched within the invoice, entries without an id are created, and omitted items are deleted. Totals are recomputed.
// @Tags         invoices
// @Accept       json
// @Produce      json
// @Param        id       path      string                       true  "Invoice ID"
// @Param        payload  body      service.PatchInvoiceRequest  true  "Patch Invoice Payload"
// @Success      200      {object}  response.Response{data=model.Invoice}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Failure      500      {object}  response.Response
// @Router       /api/invoices/{id} [patch]
func (h *InvoiceHandler) PatchInvoice(c *gin.Context) {
	var req service.PatchInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ValidationError(http.StatusBadRequest, "Invalid request payload", fieldErrors(err)))
		return
	}
	if req.Date != nil && req.DueDate != nil && !dueDateAfterDate(*req.Date, *req.DueDate) {
		c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "due_date must be on or after date"))
		return
	}

	invoice, err := h.invoiceService.Patch(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvoiceNotFound):
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Invoice not found"))
		case errors.Is(err, service.ErrDuplicateNumber):
			c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, "number has already been taken"))
		default:
			c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Error patching invoice"))
		}
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, invoice))
}

// DeleteInvoice soft-deletes an invoice
// @Summary      Delete invoice
// @Description  Soft-deletes the invoice; subsequent reads return 404
// @Tags         invoices
// @Produce      json
// @Param        id   path  string  true  "Invoice ID"
// @Success      204  "No Content"
// @Failure      404  {object}  response.Response
// @Router       /api/invoices/{id} [delete]
func (h *InvoiceHandler) DeleteInvoice(c *gin.Context) {
	if err := h.invoiceService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Invoice not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Error deleting invoice"))
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Validation helpers ---

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// fieldErrors extracts per-field detail from gin binding failures.
func fieldErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Namespace(), Rule: fe.Tag()})
	}
	return out
}

// dueDateAfterDate checks the cross-field date ordering rule. Both inputs
// have already passed the datetime binding tag.
func dueDateAfterDate(dateStr, dueDateStr string) bool {
	date, err := time.Parse(service.DateLayout, dateStr)
	if err != nil {
		return false
	}
	dueDate, err := time.Parse(service.DateLayout, dueDateStr)
	if err != nil {
		return false
	}
	return !dueDate.Before(date)
}
