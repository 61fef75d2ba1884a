package domain

import "time"

const (
	PaymentMethodCash  = "cash"
	PaymentMethodCard  = "card"
	PaymentMethodUPI   = "upi"
	PaymentMethodOther = "other"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
)

const (
	StockOperationAdd      = "add"
	StockOperationSubtract = "subtract"
)

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	Cost        float64   `json:"cost"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	Price       float64 `json:"price" validate:"gte=0"`
	Cost        float64 `json:"cost" validate:"gte=0"`
	Stock       int     `json:"stock" validate:"gte=0"`
	Category    string  `json:"category"`
	SKU         string  `json:"sku"`
}

type ProductUpdateRequest struct {
	Name        *string  `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Cost        *float64 `json:"cost,omitempty" validate:"omitempty,gte=0"`
	Stock       *int     `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Category    *string  `json:"category,omitempty"`
	SKU         *string  `json:"sku,omitempty"`
}

type StockAdjustRequest struct {
	Operation string `json:"operation" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

// SaleItem is the line-item snapshot stored with a sale. Name and Price are
// captured from the product at sale time so later catalog edits do not
// rewrite history.
type SaleItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Total     float64 `json:"total"`
}

type SaleItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

type SaleCreateRequest struct {
	CustomerName    string            `json:"customer_name"`
	CustomerContact string            `json:"customer_contact"`
	Items           []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	Tax             float64           `json:"tax" validate:"gte=0"`
	Discount        float64           `json:"discount" validate:"gte=0"`
	PaymentMethod   string            `json:"payment_method"`
	PaymentStatus   string            `json:"payment_status"`
	Notes           string            `json:"notes"`
}

type Sale struct {
	ID              string     `json:"id"`
	InvoiceNumber   string     `json:"invoice_number"`
	CustomerName    string     `json:"customer_name,omitempty"`
	CustomerContact string     `json:"customer_contact,omitempty"`
	Items           []SaleItem `json:"items"`
	Subtotal        float64    `json:"subtotal"`
	Tax             float64    `json:"tax"`
	Discount        float64    `json:"discount"`
	Total           float64    `json:"total"`
	PaymentMethod   string     `json:"payment_method"`
	PaymentStatus   string     `json:"payment_status"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type RevenueStats struct {
	TotalRevenue float64 `json:"total_revenue"`
	TotalSales   int     `json:"total_sales"`
	AverageSale  float64 `json:"average_sale"`
}

type ProductRevenue struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Revenue   float64 `json:"revenue"`
}

type DailyRevenue struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Sales   int     `json:"sales"`
}
