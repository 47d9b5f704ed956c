// Package catalog is the single authoritative write path for products.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/pricing"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/validate"
)

const (
	defaultPageSize = 20
	minPageSize     = 5
	maxPageSize     = 100
)

type Service struct {
	products store.ProductRepository
	log      zerolog.Logger
}

func NewService(products store.ProductRepository, logger zerolog.Logger) *Service {
	return &Service{
		products: products,
		log:      logger.With().Str("component", "catalog").Logger(),
	}
}

func (s *Service) Create(ctx context.Context, in domain.ProductInput) (domain.ProductResult, error) {
	in = normalizeInput(in)
	if err := validateInput(in); err != nil {
		return domain.ProductResult{}, err
	}

	product := domain.Product{
		SKU:        in.SKU,
		Barcode:    in.Barcode,
		Name:       in.Name,
		PriceCents: in.PriceCents,
		CostCents:  in.CostCents,
		Stock:      in.Stock,
		StockMin:   in.StockMin,
		StockMax:   in.StockMax,
		Active:     true,
		ImageRef:   in.ImageRef,
	}
	if in.ProfitPctBp != nil && in.PriceCents == 0 {
		if price, ok := pricing.SellPriceCents(in.CostCents, *in.ProfitPctBp); ok {
			product.PriceCents = price
		}
	}
	bp, err := resolveProfitBp(in.CostCents, product.PriceCents, in.ProfitPctBp)
	if err != nil {
		return domain.ProductResult{}, err
	}
	product.ProfitPctBp = bp

	created, err := s.products.CreateProduct(ctx, product)
	if err != nil {
		return domain.ProductResult{}, mapStoreError(err)
	}
	s.log.Info().Int64("product_id", created.ID).Str("sku", created.SKU).Msg("product created")
	return domain.ProductResult{Product: *created, Warnings: warningsFor(*created)}, nil
}

// Update applies a partial edit. The profit percentage is re-derived when
// price or cost change and the patch does not carry one.
func (s *Service) Update(ctx context.Context, id int64, patch domain.ProductPatch) (domain.ProductResult, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return domain.ProductResult{}, err
	}

	in := domain.ProductInput{
		SKU:        pick(patch.SKU, existing.SKU),
		Barcode:    pick(patch.Barcode, existing.Barcode),
		Name:       pick(patch.Name, existing.Name),
		PriceCents: pick(patch.PriceCents, existing.PriceCents),
		CostCents:  pick(patch.CostCents, existing.CostCents),
		Stock:      pick(patch.Stock, existing.Stock),
		StockMin:   pick(patch.StockMin, existing.StockMin),
		StockMax:   pick(patch.StockMax, existing.StockMax),
		ImageRef:   pick(patch.ImageRef, existing.ImageRef),
	}
	switch {
	case patch.ProfitPctBp != nil:
		in.ProfitPctBp = patch.ProfitPctBp
		// A percentage without a price drives the price, as in the pricing form.
		if patch.PriceCents == nil {
			if price, ok := pricing.SellPriceCents(in.CostCents, *patch.ProfitPctBp); ok {
				in.PriceCents = price
			}
		}
	case patch.PriceCents == nil && patch.CostCents == nil:
		bp := existing.ProfitPctBp
		in.ProfitPctBp = &bp
	}

	in = normalizeInput(in)
	if err := validateInput(in); err != nil {
		return domain.ProductResult{}, err
	}

	product := *existing
	product.SKU = in.SKU
	product.Barcode = in.Barcode
	product.Name = in.Name
	product.PriceCents = in.PriceCents
	product.CostCents = in.CostCents
	product.ProfitPctBp, err = resolveProfitBp(in.CostCents, in.PriceCents, in.ProfitPctBp)
	if err != nil {
		return domain.ProductResult{}, err
	}
	product.Stock = in.Stock
	product.StockMin = in.StockMin
	product.StockMax = in.StockMax
	product.ImageRef = in.ImageRef
	product.Active = pick(patch.Active, existing.Active)

	updated, err := s.products.UpdateProduct(ctx, product)
	if err != nil {
		return domain.ProductResult{}, mapStoreError(err)
	}
	return domain.ProductResult{Product: *updated, Warnings: warningsFor(*updated)}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Product, error) {
	if id < 1 {
		return nil, domain.NewValidationError("id", "must be positive")
	}
	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return product, nil
}

// List returns active products, newest first. Out of range paging values
// are clamped rather than rejected.
func (s *Service) List(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	query = NormalizeQuery(query)
	items, total, err := s.products.ListProducts(ctx, query)
	if err != nil {
		return domain.ProductPage{}, err
	}
	return domain.ProductPage{Items: items, Total: total, Page: query.Page, PageSize: query.PageSize}, nil
}

// Deactivate is a soft delete; sale items keep referencing the product.
func (s *Service) Deactivate(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return product, nil
	}
	product.Active = false
	updated, err := s.products.UpdateProduct(ctx, *product)
	if err != nil {
		return nil, mapStoreError(err)
	}
	s.log.Info().Int64("product_id", id).Msg("product deactivated")
	return updated, nil
}

func NormalizeQuery(query domain.ProductQuery) domain.ProductQuery {
	if query.Page < 1 {
		query.Page = 1
	}
	switch {
	case query.PageSize == 0:
		query.PageSize = defaultPageSize
	case query.PageSize < minPageSize:
		query.PageSize = minPageSize
	case query.PageSize > maxPageSize:
		query.PageSize = maxPageSize
	}
	query.Search = strings.TrimSpace(query.Search)
	return query
}

func normalizeInput(in domain.ProductInput) domain.ProductInput {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	in.Barcode = strings.TrimSpace(in.Barcode)
	if in.Barcode == "" {
		in.Barcode = in.SKU
	}
	in.ImageRef = strings.TrimSpace(in.ImageRef)
	return in
}

func validateInput(in domain.ProductInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.StockMax > 0 && in.StockMin > in.StockMax {
		return domain.NewValidationError("stock_min", "must not exceed stock_max")
	}
	return nil
}

// resolveProfitBp derives the percentage from cost and price when it is not
// given. A given percentage must agree with them: within 1bp of the derived
// value, or reproducing the price within 1 cent.
func resolveProfitBp(costCents, priceCents int64, given *int64) (int64, error) {
	derived, ok := pricing.ProfitPctBp(costCents, priceCents)
	if given == nil {
		if ok {
			return derived, nil
		}
		return 0, nil
	}
	if !ok {
		return *given, nil
	}
	if abs(derived-*given) <= 1 {
		return *given, nil
	}
	if price, ok := pricing.SellPriceCents(costCents, *given); ok && abs(price-priceCents) <= 1 {
		return *given, nil
	}
	return 0, domain.NewValidationError("profit_pct_bp", fmt.Sprintf("does not match cost and price (expected %d)", derived))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func warningsFor(p domain.Product) []string {
	var warnings []string
	if p.ProfitPctBp < 0 {
		warnings = append(warnings, domain.WarningProfitNegative)
	}
	if p.StockMin > 0 && p.Stock < p.StockMin {
		warnings = append(warnings, domain.WarningStockBelowMin)
	}
	return warnings
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrProductNotFound
	case errors.Is(err, store.ErrConflict):
		return domain.ErrDuplicateIdentifier
	default:
		return fmt.Errorf("product store: %w", err)
	}
}

func pick[T any](patched *T, current T) T {
	if patched != nil {
		return *patched
	}
	return current
}
