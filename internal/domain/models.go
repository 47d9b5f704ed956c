package domain

import "time"

type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Barcode     string    `json:"barcode"`
	Name        string    `json:"name"`
	PriceCents  int64     `json:"price_cents"`
	CostCents   int64     `json:"cost_cents"`
	ProfitPctBp int64     `json:"profit_pct_bp"`
	Stock       int       `json:"stock"`
	StockMin    int       `json:"stock_min"`
	StockMax    int       `json:"stock_max"`
	Active      bool      `json:"active"`
	ImageRef    string    `json:"image_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductInput is the create payload. ProfitPctBp is optional; when absent it
// is derived from cost and price.
type ProductInput struct {
	SKU         string `json:"sku" validate:"required,max=64"`
	Barcode     string `json:"barcode,omitempty" validate:"max=64"`
	Name        string `json:"name" validate:"required,max=200"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
	CostCents   int64  `json:"cost_cents" validate:"gte=0"`
	ProfitPctBp *int64 `json:"profit_pct_bp,omitempty"`
	Stock       int    `json:"stock" validate:"gte=0"`
	StockMin    int    `json:"stock_min" validate:"gte=0"`
	StockMax    int    `json:"stock_max" validate:"gte=0"`
	ImageRef    string `json:"image_ref,omitempty" validate:"max=512"`
}

type ProductPatch struct {
	SKU         *string `json:"sku,omitempty"`
	Barcode     *string `json:"barcode,omitempty"`
	Name        *string `json:"name,omitempty"`
	PriceCents  *int64  `json:"price_cents,omitempty"`
	CostCents   *int64  `json:"cost_cents,omitempty"`
	ProfitPctBp *int64  `json:"profit_pct_bp,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	StockMin    *int    `json:"stock_min,omitempty"`
	StockMax    *int    `json:"stock_max,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	ImageRef    *string `json:"image_ref,omitempty"`
}

type ProductQuery struct {
	Page     int
	PageSize int
	Search   string
}

type ProductPage struct {
	Items    []Product `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

type ProductResult struct {
	Product  Product  `json:"product"`
	Warnings []string `json:"warnings,omitempty"`
}

type SaleStatus string

const (
	SaleStatusOpen     SaleStatus = "OPEN"
	SaleStatusSettled  SaleStatus = "SETTLED"
	SaleStatusCanceled SaleStatus = "CANCELED"
	SaleStatusRefunded SaleStatus = "REFUNDED"
)

type Sale struct {
	ID            int64      `json:"id"`
	Folio         string     `json:"folio"`
	CashierID     int64      `json:"cashier_id"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	TotalCents    int64      `json:"total_cents"`
	Status        SaleStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

type SaleItem struct {
	ID             int64 `json:"id"`
	SaleID         int64 `json:"sale_id"`
	ProductID      int64 `json:"product_id"`
	Qty            int   `json:"qty"`
	PriceCents     int64 `json:"price_cents"`
	DiscountCents  int64 `json:"discount_cents"`
	LineTotalCents int64 `json:"line_total_cents"`
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentOther    PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentOther:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID          int64         `json:"id"`
	SaleID      int64         `json:"sale_id"`
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
	Reference   string        `json:"reference,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type PaymentInput struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type AddItemRequest struct {
	Identifier string `json:"identifier"`
	Qty        int    `json:"qty"`
}

type SettleRequest struct {
	Payments []PaymentInput `json:"payments"`
}

type SaleDetail struct {
	Sale     Sale       `json:"sale"`
	Items    []SaleItem `json:"items"`
	Payments []Payment  `json:"payments"`
}

const (
	RoleAdmin   = "ADMIN"
	RoleCashier = "CASHIER"
)

// User is the persistence model for cashier credentials.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	PINHash   string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the authenticated cashier context threaded through every
// ledger call.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && s.UserID > 0 && now.Before(s.ExpiresAt)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	PIN      string `json:"pin" validate:"required,min=4,max=12,numeric"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	UserID      int64  `json:"user_id"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	WarningProfitNegative = "profit_negative"
	WarningStockBelowMin  = "stock_below_min"
)
