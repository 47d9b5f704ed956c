package store

import (
	"context"
	"errors"

	"kasirinaja/ledger/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a uniqueness violation (sku, barcode, username, folio).
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ProductRepository
	UserRepository
	SaleRepository
	Close() error
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, int, error)
	// FindActiveProductByIdentifier matches sku or barcode exactly; the lowest
	// id wins when both match different products.
	FindActiveProductByIdentifier(ctx context.Context, identifier string) (*domain.Product, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// SetUserActive also drops every session of a deactivated user.
	SetUserActive(ctx context.Context, id int64, active bool) (*domain.User, error)
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, token string) (*domain.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

type SaleRepository interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)
	ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error)
	// InTx runs fn in a single transaction. Any error returned by fn, or a
	// context that is done before commit, rolls everything back.
	InTx(ctx context.Context, fn func(tx SaleTx) error) error
}

// SaleTx is the set of writes a ledger operation composes atomically.
type SaleTx interface {
	// LockSale loads the sale and holds it exclusively until the transaction ends.
	LockSale(ctx context.Context, saleID int64) (*domain.Sale, error)
	AppendSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	// RecomputeAndPersistTotals sums line totals over every item of the sale.
	RecomputeAndPersistTotals(ctx context.Context, saleID int64) (*domain.Sale, error)
	CreatePayments(ctx context.Context, payments []domain.Payment) ([]domain.Payment, error)
	UpdateSaleStatus(ctx context.Context, saleID int64, status domain.SaleStatus) (*domain.Sale, error)
}
