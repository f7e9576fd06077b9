package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoicing/internal/model"
	"invoicing/internal/repository"
	ws "invoicing/internal/websocket"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DateLayout is the wire format for invoice dates.
const DateLayout = "2006-01-02"

// Sentinel errors the handler layer maps to client-visible statuses. Every
// other error from this service is an internal failure the handler should
// collapse to a generic 500.
var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrDuplicateNumber = errors.New("invoice number already in use")
)

// --- DTOs ---

type InvoiceItemInput struct {
	Description string  `json:"description" binding:"required,max=500"`
	Quantity    int     `json:"quantity" binding:"required,min=1"`
	UnitPrice   float64 `json:"unit_price" binding:"min=0"`
}

type CreateInvoiceRequest struct {
	Number        string             `json:"number" binding:"required,max=50"`
	CustomerName  string             `json:"customer_name" binding:"required,max=255"`
	CustomerEmail string             `json:"customer_email" binding:"required,email"`
	Date          string             `json:"date" binding:"required,datetime=2006-01-02"`
	DueDate       string             `json:"due_date" binding:"required,datetime=2006-01-02"`
	Status        string             `json:"status" binding:"required,oneof=unpaid paid draft"`
	Items         []InvoiceItemInput `json:"items" binding:"required,min=1,dive"`
}

// ReplaceInvoiceRequest carries the full new state for PUT. The previous
// item set is discarded wholesale.
type ReplaceInvoiceRequest struct {
	Number        string             `json:"number" binding:"required,max=50"`
	CustomerName  string             `json:"customer_name" binding:"required,max=255"`
	CustomerEmail string             `json:"customer_email" binding:"required,email"`
	Date          string             `json:"date" binding:"required,datetime=2006-01-02"`
	DueDate       string             `json:"due_date" binding:"required,datetime=2006-01-02"`
	Status        string             `json:"status" binding:"required,oneof=unpaid paid draft"`
	Items         []InvoiceItemInput `json:"items" binding:"required,min=1,dive"`
}

type PatchItemInput struct {
	ID          *string  `json:"id"`
	Description *string  `json:"description" binding:"omitempty,max=500"`
	Quantity    *int     `json:"quantity" binding:"omitempty,min=1"`
	UnitPrice   *float64 `json:"unit_price" binding:"omitempty,min=0"`
}

// PatchInvoiceRequest updates only the provided fields. When Items is
// present it is treated as the complete desired item list: ids are matched
// within the invoice, entries without an id are created, and existing items
// omitted from the list are deleted.
type PatchInvoiceRequest struct {
	Number        *string           `json:"number" binding:"omitempty,max=50"`
	CustomerName  *string           `json:"customer_name" binding:"omitempty,max=255"`
	CustomerEmail *string           `json:"customer_email" binding:"omitempty,email"`
	Date          *string           `json:"date" binding:"omitempty,datetime=2006-01-02"`
	DueDate       *string           `json:"due_date" binding:"omitempty,datetime=2006-01-02"`
	Status        *string           `json:"status" binding:"omitempty,oneof=unpaid paid draft"`
	Items         *[]PatchItemInput `json:"items" binding:"omitempty,min=1,dive"`
}

type InvoiceFilter struct {
	Search string
	Status string
	Page   int
	Limit  int
}

// --- Interface ---

type InvoiceService interface {
	List(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, int64, error)
	GetByID(ctx context.Context, id string) (*model.Invoice, error)
	Create(ctx context.Context, req CreateInvoiceRequest) (*model.Invoice, error)
	Replace(ctx context.Context, id string, req ReplaceInvoiceRequest) (*model.Invoice, error)
	Patch(ctx context.Context, id string, req PatchInvoiceRequest) (*model.Invoice, error)
	Delete(ctx context.Context, id string) error
}

type invoiceService struct {
	invoiceRepo repository.InvoiceRepository
	txManager   repository.TransactionManager
	hub         *ws.Hub
}

func NewInvoiceService(invoiceRepo repository.InvoiceRepository, txManager repository.TransactionManager, hub *ws.Hub) InvoiceService {
	return &invoiceService{
		invoiceRepo: invoiceRepo,
		txManager:   txManager,
		hub:         hub,
	}
}

// --- Implementation ---

func (s *invoiceService) List(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 15
	}

	invoices, total, err := s.invoiceRepo.List(ctx, repository.InvoiceListFilter{
		Search: filter.Search,
		Status: filter.Status,
		Page:   filter.Page,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch invoices: %w", err)
	}
	return invoices, total, nil
}

func (s *invoiceService) GetByID(ctx context.Context, id string) (*model.Invoice, error) {
	invoiceID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvoiceNotFound
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to fetch invoice: %w", err)
	}
	return invoice, nil
}

func (s *invoiceService) Create(ctx context.Context, req CreateInvoiceRequest) (*model.Invoice, error) {
	date, dueDate, err := parseDates(req.Date, req.DueDate)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}

	items := make([]model.InvoiceItem, 0, len(req.Items))
	for _, in := range req.Items {
		item := model.InvoiceItem{
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   decimal.NewFromFloat(in.UnitPrice),
		}
		item.ComputeTotal()
		items = append(items, item)
	}

	invoice := model.Invoice{
		Number:        req.Number,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Date:          date,
		DueDate:       dueDate,
		Status:        req.Status,
	}
	invoice.Subtotal, invoice.VAT, invoice.Total = computeTotals(items)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		taken, existsErr := s.invoiceRepo.ExistsByNumber(txCtx, invoice.Number, uuid.Nil)
		if existsErr != nil {
			return existsErr
		}
		if taken {
			return ErrDuplicateNumber
		}

		if createErr := s.invoiceRepo.Create(txCtx, &invoice); createErr != nil {
			return createErr
		}
		for i := range items {
			items[i].InvoiceID = invoice.ID
		}
		return s.invoiceRepo.CreateItems(txCtx, items)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateNumber) {
			return nil, ErrDuplicateNumber
		}
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	created, err := s.invoiceRepo.FindByID(ctx, invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload invoice: %w", err)
	}

	s.publish("invoice.created", created)
	return created, nil
}

func (s *invoiceService) Replace(ctx context.Context, id string, req ReplaceInvoiceRequest) (*model.Invoice, error) {
	invoiceID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvoiceNotFound
	}

	date, dueDate, err := parseDates(req.Date, req.DueDate)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %w", err)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		invoice, findErr := s.invoiceRepo.FindByID(txCtx, invoiceID)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return ErrInvoiceNotFound
			}
			return findErr
		}

		taken, existsErr := s.invoiceRepo.ExistsByNumber(txCtx, req.Number, invoiceID)
		if existsErr != nil {
			return existsErr
		}
		if taken {
			return ErrDuplicateNumber
		}

		invoice.Number = req.Number
		invoice.CustomerName = req.CustomerName
		invoice.CustomerEmail = req.CustomerEmail
		invoice.Date = date
		invoice.DueDate = dueDate
		invoice.Status = req.Status

		// The previous item set is discarded wholesale on PUT.
		if delErr := s.invoiceRepo.DeleteItems(txCtx, invoiceID); delErr != nil {
			return delErr
		}

		items := make([]model.InvoiceItem, 0, len(req.Items))
		for _, in := range req.Items {
			item := model.InvoiceItem{
				InvoiceID:   invoiceID,
				Description: in.Description,
				Quantity:    in.Quantity,
				UnitPrice:   decimal.NewFromFloat(in.UnitPrice),
			}
			item.ComputeTotal()
			items = append(items, item)
		}
		if createErr := s.invoiceRepo.CreateItems(txCtx, items); createErr != nil {
			return createErr
		}

		invoice.Subtotal, invoice.VAT, invoice.Total = computeTotals(items)
		return s.invoiceRepo.Update(txCtx, invoice)
	})
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) || errors.Is(err, ErrDuplicateNumber) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to replace invoice: %w", err)
	}

	updated, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload invoice: %w", err)
	}

	s.publish("invoice.updated", updated)
	return updated, nil
}

func (s *invoiceService) Patch(ctx context.Context, id string, req PatchInvoiceRequest) (*model.Invoice, error) {
	invoiceID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvoiceNotFound
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		invoice, findErr := s.invoiceRepo.FindByID(txCtx, invoiceID)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return ErrInvoiceNotFound
			}
			return findErr
		}

		if applyErr := s.applyScalarPatch(txCtx, invoice, req); applyErr != nil {
			return applyErr
		}

		if req.Items != nil {
			if reconcileErr := s.reconcileItems(txCtx, invoice, *req.Items); reconcileErr != nil {
				return reconcileErr
			}
		}

		return s.invoiceRepo.Update(txCtx, invoice)
	})
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) || errors.Is(err, ErrDuplicateNumber) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to patch invoice: %w", err)
	}

	patched, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload invoice: %w", err)
	}

	s.publish("invoice.updated", patched)
	return patched, nil
}

func (s *invoiceService) applyScalarPatch(ctx context.Context, invoice *model.Invoice, req PatchInvoiceRequest) error {
	if req.Number != nil && *req.Number != invoice.Number {
		taken, err := s.invoiceRepo.ExistsByNumber(ctx, *req.Number, invoice.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateNumber
		}
		invoice.Number = *req.Number
	}
	if req.CustomerName != nil {
		invoice.CustomerName = *req.CustomerName
	}
	if req.CustomerEmail != nil {
		invoice.CustomerEmail = *req.CustomerEmail
	}
	if req.Date != nil {
		date, err := time.Parse(DateLayout, *req.Date)
		if err != nil {
			return err
		}
		invoice.Date = date
	}
	if req.DueDate != nil {
		dueDate, err := time.Parse(DateLayout, *req.DueDate)
		if err != nil {
			return err
		}
		invoice.DueDate = dueDate
	}
	if req.Status != nil {
		invoice.Status = *req.Status
	}
	return nil
}

// reconcileItems applies the patch item list to the invoice. Entries with an
// id are matched strictly within this invoice (foreign ids are skipped, not
// applied); entries without an id become new items. Existing items whose id
// was not seen are deleted, then totals are recomputed over the survivors.
func (s *invoiceService) reconcileItems(ctx context.Context, invoice *model.Invoice, inputs []PatchItemInput) error {
	processed := make([]uuid.UUID, 0, len(inputs))

	for _, in := range inputs {
		if in.ID != nil {
			itemID, err := uuid.Parse(*in.ID)
			if err != nil {
				continue
			}
			item, err := s.invoiceRepo.FindItem(ctx, invoice.ID, itemID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// Unknown id, or an item owned by another invoice.
					continue
				}
				return err
			}
			if in.Description != nil {
				item.Description = *in.Description
			}
			if in.Quantity != nil {
				item.Quantity = *in.Quantity
			}
			if in.UnitPrice != nil {
				item.UnitPrice = decimal.NewFromFloat(*in.UnitPrice)
			}
			item.ComputeTotal()
			if err := s.invoiceRepo.UpdateItem(ctx, item); err != nil {
				return err
			}
			processed = append(processed, item.ID)
			continue
		}

		if in.Description == nil || in.Quantity == nil || in.UnitPrice == nil {
			return fmt.Errorf("new item requires description, quantity and unit_price")
		}
		// The id is assigned here so the delete-not-in step below keeps it.
		item := model.InvoiceItem{
			ID:          uuid.New(),
			InvoiceID:   invoice.ID,
			Description: *in.Description,
			Quantity:    *in.Quantity,
			UnitPrice:   decimal.NewFromFloat(*in.UnitPrice),
		}
		item.ComputeTotal()
		if err := s.invoiceRepo.CreateItems(ctx, []model.InvoiceItem{item}); err != nil {
			return err
		}
		processed = append(processed, item.ID)
	}

	// Omission from the patch list is how item removal is expressed.
	if err := s.invoiceRepo.DeleteItemsNotIn(ctx, invoice.ID, processed); err != nil {
		return err
	}

	remaining, err := s.invoiceRepo.ListItems(ctx, invoice.ID)
	if err != nil {
		return err
	}
	invoice.Subtotal, invoice.VAT, invoice.Total = computeTotals(remaining)
	return nil
}

func (s *invoiceService) Delete(ctx context.Context, id string) error {
	invoiceID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvoiceNotFound
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		invoice, findErr := s.invoiceRepo.FindByID(txCtx, invoiceID)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return ErrInvoiceNotFound
			}
			return findErr
		}
		return s.invoiceRepo.SoftDelete(txCtx, invoice)
	})
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return ErrInvoiceNotFound
		}
		return fmt.Errorf("failed to delete invoice: %w", err)
	}

	s.publishID("invoice.deleted", invoiceID)
	return nil
}

// --- Helpers ---

// computeTotals derives the invoice money columns from a full item set:
// subtotal is the sum of line totals, VAT is 20% of the subtotal rounded to
// two decimal places, and total is their sum.
func computeTotals(items []model.InvoiceItem) (subtotal, vat, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total)
	}
	vat = subtotal.Mul(model.VATRate).Round(2)
	total = subtotal.Add(vat)
	return subtotal, vat, total
}

func parseDates(dateStr, dueDateStr string) (time.Time, time.Time, error) {
	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	dueDate, err := time.Parse(DateLayout, dueDateStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return date, dueDate, nil
}

// Websocket payload
type InvoiceEvent struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func (s *invoiceService) publish(event string, invoice *model.Invoice) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(InvoiceEvent{
		Event: event,
		Data: map[string]interface{}{
			"id":     invoice.ID.String(),
			"number": invoice.Number,
			"status": invoice.Status,
			"total":  invoice.Total,
		},
	})
	if err != nil {
		return
	}
	s.hub.Broadcast <- payload
}

func (s *invoiceService) publishID(event string, id uuid.UUID) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(InvoiceEvent{
		Event: event,
		Data:  map[string]interface{}{"id": id.String()},
	})
	if err != nil {
		return
	}
	s.hub.Broadcast <- payload
}
