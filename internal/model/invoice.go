package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStatus enum constants
const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
	StatusDraft  = "draft"
)

// VATRate is the fixed VAT rate applied to every invoice subtotal.
var VATRate = decimal.NewFromFloat(0.2)

// Invoice is a customer-facing bill composed of one or more line items.
// Subtotal, VAT and Total are always derived from the current item set,
// never accepted from the client.
type Invoice struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Number        string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"number"`
	CustomerName  string          `gorm:"type:varchar(255);not null;index" json:"customer_name"`
	CustomerEmail string          `gorm:"type:varchar(255);not null" json:"customer_email"`
	Date          time.Time       `gorm:"type:date;not null" json:"date"`
	DueDate       time.Time       `gorm:"type:date;not null" json:"due_date"`
	Status        string          `gorm:"type:varchar(20);not null;index" json:"status"` // unpaid, paid, draft
	Subtotal      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	VAT           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"vat"`
	Total         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"`
	Items         []InvoiceItem   `gorm:"foreignKey:InvoiceID" json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

// InvoiceItem is a single line on an invoice. Items are only ever reached
// through their owning invoice; there is no standalone item endpoint.
type InvoiceItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"invoice_id"`
	Description string          `gorm:"type:varchar(500);not null" json:"description"`
	Quantity    int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	Total       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total"` // quantity * unit_price
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BeforeCreate assigns the UUID in-process so the models work on any
// database backend, not just ones with gen_random_uuid().
func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (it *InvoiceItem) BeforeCreate(tx *gorm.DB) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return nil
}

// ComputeTotal derives the line total from quantity and unit price.
func (it *InvoiceItem) ComputeTotal() {
	it.Total = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}
