package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"invoicing/internal/model"
	"invoicing/internal/repository"
	"invoicing/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Invoice{}, &model.InvoiceItem{}))

	repo := repository.NewInvoiceRepository(db)
	svc := service.NewInvoiceService(repo, repository.NewTransactionManager(db), nil)

	router := gin.New()
	NewInvoiceHandler(svc).RegisterRoutes(router.Group(""))
	return router
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createPayload(number string) gin.H {
	return gin.H{
		"number":         number,
		"customer_name":  "Acme Corp",
		"customer_email": "billing@acme.test",
		"date":           "2026-01-10",
		"due_date":       "2026-02-10",
		"status":         "unpaid",
		"items": []gin.H{
			{"description": "Widget", "quantity": 2, "unit_price": 10.00},
			{"description": "Gadget", "quantity": 1, "unit_price": 5.00},
		},
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func decodeInvoice(t *testing.T, w *httptest.ResponseRecorder) model.Invoice {
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var invoice model.Invoice
	require.NoError(t, json.Unmarshal(env.Data, &invoice))
	return invoice
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	router := setupRouter(t)

	t.Run("returns 201 with derived totals and embedded items", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/invoices", createPayload("H-1"))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		invoice := decodeInvoice(t, w)
		assert.Equal(t, "25.00", invoice.Subtotal.StringFixed(2))
		assert.Equal(t, "5.00", invoice.VAT.StringFixed(2))
		assert.Equal(t, "30.00", invoice.Total.StringFixed(2))
		assert.Len(t, invoice.Items, 2)
	})

	t.Run("returns 400 with field detail on invalid payload", func(t *testing.T) {
		payload := createPayload("H-2")
		payload["customer_email"] = "not-an-email"
		payload["status"] = "overdue"

		w := doJSON(router, http.MethodPost, "/api/invoices", payload)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "fields")
	})

	t.Run("returns 400 when items are missing", func(t *testing.T) {
		payload := createPayload("H-3")
		payload["items"] = []gin.H{}

		w := doJSON(router, http.MethodPost, "/api/invoices", payload)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns 422 when due_date precedes date", func(t *testing.T) {
		payload := createPayload("H-4")
		payload["due_date"] = "2025-12-31"

		w := doJSON(router, http.MethodPost, "/api/invoices", payload)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("returns 422 on duplicate number", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/invoices", createPayload("H-1"))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestGetInvoiceEndpoint(t *testing.T) {
	router := setupRouter(t)

	created := decodeInvoice(t, doJSON(router, http.MethodPost, "/api/invoices", createPayload("G-1")))

	t.Run("returns the invoice with items", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/invoices/"+created.ID.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		invoice := decodeInvoice(t, w)
		assert.Equal(t, created.ID, invoice.ID)
		assert.Len(t, invoice.Items, 2)
	})

	t.Run("returns 404 for an unknown id", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/invoices/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Invoice not found")
	})
}

func TestListInvoicesEndpoint(t *testing.T) {
	router := setupRouter(t)

	for i, name := range []string{"Acme Corp", "Globex Ltd", "Acme Sub"} {
		payload := createPayload(fmt.Sprintf("L-%d", i))
		payload["customer_name"] = name
		w := doJSON(router, http.MethodPost, "/api/invoices", payload)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	t.Run("returns invoices with page metadata", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/invoices?search=acme&limit=1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Data struct {
				Invoices []model.Invoice `json:"invoices"`
				Meta     struct {
					Total      int64             `json:"total"`
					TotalPages int               `json:"total_pages"`
					Filters    map[string]string `json:"filters"`
				} `json:"meta"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Data.Invoices, 1)
		assert.EqualValues(t, 2, body.Data.Meta.Total)
		assert.Equal(t, 2, body.Data.Meta.TotalPages)
		assert.Equal(t, "acme", body.Data.Meta.Filters["search"])
	})

	t.Run("rejects an unknown status filter", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/invoices?status=overdue", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReplaceInvoiceEndpoint(t *testing.T) {
	router := setupRouter(t)

	created := decodeInvoice(t, doJSON(router, http.MethodPost, "/api/invoices", createPayload("P-1")))

	t.Run("replaces the item set", func(t *testing.T) {
		payload := createPayload("P-1")
		payload["status"] = "paid"
		payload["items"] = []gin.H{{"description": "Consulting", "quantity": 1, "unit_price": 100.00}}

		w := doJSON(router, http.MethodPut, "/api/invoices/"+created.ID.String(), payload)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		invoice := decodeInvoice(t, w)
		assert.Equal(t, "paid", invoice.Status)
		require.Len(t, invoice.Items, 1)
		assert.Equal(t, "120.00", invoice.Total.StringFixed(2))
	})

	t.Run("returns 404 for an unknown id", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/api/invoices/"+uuid.NewString(), createPayload("P-404"))
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPatchInvoiceEndpoint(t *testing.T) {
	router := setupRouter(t)

	created := decodeInvoice(t, doJSON(router, http.MethodPost, "/api/invoices", createPayload("PA-1")))
	require.Len(t, created.Items, 2)

	t.Run("updates listed items and drops omitted ones", func(t *testing.T) {
		payload := gin.H{
			"items": []gin.H{
				{"id": created.Items[0].ID.String(), "quantity": 5},
			},
		}
		w := doJSON(router, http.MethodPatch, "/api/invoices/"+created.ID.String(), payload)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		invoice := decodeInvoice(t, w)
		require.Len(t, invoice.Items, 1)
		assert.Equal(t, created.Items[0].ID, invoice.Items[0].ID)
		assert.Equal(t, 5, invoice.Items[0].Quantity)
	})

	t.Run("returns 404 for an unknown id", func(t *testing.T) {
		w := doJSON(router, http.MethodPatch, "/api/invoices/"+uuid.NewString(), gin.H{"status": "paid"})
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteInvoiceEndpoint(t *testing.T) {
	router := setupRouter(t)

	created := decodeInvoice(t, doJSON(router, http.MethodPost, "/api/invoices", createPayload("D-1")))

	t.Run("returns 204 and hides the invoice afterwards", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/api/invoices/"+created.ID.String(), nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())

		w = doJSON(router, http.MethodGet, "/api/invoices/"+created.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns 404 when already deleted", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/api/invoices/"+created.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}
