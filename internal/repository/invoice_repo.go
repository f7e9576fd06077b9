package repository

import (
	"context"

	"invoicing/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceListFilter narrows the invoice list. Search and Status are
// independent optional predicates.
type InvoiceListFilter struct {
	Search string // case-insensitive substring match on customer_name
	Status string // exact match: unpaid, paid, draft
	Page   int
	Limit  int
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *model.Invoice) error
	CreateItems(ctx context.Context, items []model.InvoiceItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	List(ctx context.Context, filter InvoiceListFilter) ([]model.Invoice, int64, error)
	Update(ctx context.Context, invoice *model.Invoice) error
	UpdateItem(ctx context.Context, item *model.InvoiceItem) error
	FindItem(ctx context.Context, invoiceID, itemID uuid.UUID) (*model.InvoiceItem, error)
	ListItems(ctx context.Context, invoiceID uuid.UUID) ([]model.InvoiceItem, error)
	DeleteItems(ctx context.Context, invoiceID uuid.UUID) error
	DeleteItemsNotIn(ctx context.Context, invoiceID uuid.UUID, keep []uuid.UUID) error
	SoftDelete(ctx context.Context, invoice *model.Invoice) error
	ExistsByNumber(ctx context.Context, number string, exclude uuid.UUID) (bool, error)
}

type invoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	// Items are inserted separately so the service controls their totals.
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(invoice).Error
}

func (r *invoiceRepository) CreateItems(ctx context.Context, items []model.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(&items).Error
}

func (r *invoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := GetDB(ctx, r.db).Preload("Items").First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) List(ctx context.Context, filter InvoiceListFilter) ([]model.Invoice, int64, error) {
	var invoices []model.Invoice
	var total int64

	db := GetDB(ctx, r.db)

	apply := func(q *gorm.DB) *gorm.DB {
		if filter.Search != "" {
			q = q.Where("LOWER(customer_name) LIKE LOWER(?)", "%"+filter.Search+"%")
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}

	if err := apply(db.Model(&model.Invoice{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := apply(db.Preload("Items")).Offset(offset).Limit(filter.Limit).Find(&invoices).Error; err != nil {
		return nil, 0, err
	}

	return invoices, total, nil
}

func (r *invoiceRepository) Update(ctx context.Context, invoice *model.Invoice) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(invoice).Error
}

func (r *invoiceRepository) UpdateItem(ctx context.Context, item *model.InvoiceItem) error {
	return GetDB(ctx, r.db).Save(item).Error
}

// FindItem looks the item up strictly within the given invoice, so an id
// belonging to another invoice behaves like a missing row.
func (r *invoiceRepository) FindItem(ctx context.Context, invoiceID, itemID uuid.UUID) (*model.InvoiceItem, error) {
	var item model.InvoiceItem
	if err := GetDB(ctx, r.db).First(&item, "id = ? AND invoice_id = ?", itemID, invoiceID).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *invoiceRepository) ListItems(ctx context.Context, invoiceID uuid.UUID) ([]model.InvoiceItem, error) {
	var items []model.InvoiceItem
	if err := GetDB(ctx, r.db).Where("invoice_id = ?", invoiceID).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *invoiceRepository) DeleteItems(ctx context.Context, invoiceID uuid.UUID) error {
	return GetDB(ctx, r.db).Where("invoice_id = ?", invoiceID).Delete(&model.InvoiceItem{}).Error
}

func (r *invoiceRepository) DeleteItemsNotIn(ctx context.Context, invoiceID uuid.UUID, keep []uuid.UUID) error {
	q := GetDB(ctx, r.db).Where("invoice_id = ?", invoiceID)
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	return q.Delete(&model.InvoiceItem{}).Error
}

// SoftDelete marks the invoice deleted; its items are left untouched and
// become unreachable because every item access goes through a live invoice.
func (r *invoiceRepository) SoftDelete(ctx context.Context, invoice *model.Invoice) error {
	return GetDB(ctx, r.db).Delete(invoice).Error
}

func (r *invoiceRepository) ExistsByNumber(ctx context.Context, number string, exclude uuid.UUID) (bool, error) {
	var count int64
	q := GetDB(ctx, r.db).Model(&model.Invoice{}).Where("number = ?", number)
	if exclude != uuid.Nil {
		q = q.Where("id <> ?", exclude)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
