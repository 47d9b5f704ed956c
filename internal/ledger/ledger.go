// Package ledger composes sales and reconciles their payments.
//
// Every mutating operation follows the same sequence: validate input, take
// the per-sale lock, then run a single store transaction that locks the sale
// row, checks its status, writes, and recomputes totals from all items. The
// whole sequence is bounded by the configured operation timeout; a timeout
// rolls the transaction back and surfaces domain.ErrOperationTimedOut.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/lock"
	"kasirinaja/ledger/internal/metrics"
	"kasirinaja/ledger/internal/money"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/xid"
)

const (
	defaultTimeout  = 5 * time.Second
	maxFolioRetries = 3
	maxReferenceLen = 120
)

type Repository interface {
	store.SaleRepository
	FindActiveProductByIdentifier(ctx context.Context, identifier string) (*domain.Product, error)
}

type Options struct {
	Timeout time.Duration
	Locker  lock.Locker
	Metrics *metrics.Ledger
	Logger  zerolog.Logger
}

type Ledger struct {
	repo    Repository
	timeout time.Duration
	locker  lock.Locker
	metrics *metrics.Ledger
	log     zerolog.Logger
	now     func() time.Time
}

func New(repo Repository, opts Options) *Ledger {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	return &Ledger{
		repo:    repo,
		timeout: opts.Timeout,
		locker:  opts.Locker,
		metrics: opts.Metrics,
		log:     opts.Logger.With().Str("component", "ledger").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open creates an empty sale owned by the session's cashier.
func (l *Ledger) Open(ctx context.Context, session domain.Session) (*domain.Sale, error) {
	if !session.Valid(l.now()) {
		return nil, domain.ErrUnauthenticated
	}

	started := time.Now()
	defer l.metrics.ObserveOperation("open", started)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var (
		created *domain.Sale
		err     error
	)
	for attempt := 0; attempt < maxFolioRetries; attempt++ {
		now := l.now()
		created, err = l.repo.CreateSale(ctx, domain.Sale{
			Folio:     xid.Folio(now),
			CashierID: session.UserID,
			Status:    domain.SaleStatusOpen,
			CreatedAt: now,
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, l.translate(ctx, err)
	}

	l.metrics.SaleOpened()
	l.log.Info().Int64("sale_id", created.ID).Str("folio", created.Folio).Int64("cashier_id", session.UserID).Msg("sale opened")
	return created, nil
}

// AddItemByIdentifier appends qty units of the active product whose sku or
// barcode equals identifier, snapshotting its current price.
func (l *Ledger) AddItemByIdentifier(ctx context.Context, session domain.Session, saleID int64, identifier string, qty int) (*domain.Sale, error) {
	if !session.Valid(l.now()) {
		return nil, domain.ErrUnauthenticated
	}
	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.NewValidationError("identifier", "is required")
	}
	if saleID < 1 {
		return nil, domain.ErrSaleNotFound
	}

	started := time.Now()
	defer l.metrics.ObserveOperation("add_item", started)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var updated *domain.Sale
	err := l.locker.WithLock(ctx, saleKey(saleID), func(ctx context.Context) error {
		product, err := l.repo.FindActiveProductByIdentifier(ctx, identifier)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.ErrProductNotFound
			}
			return err
		}
		lineTotal, ok := money.LineTotal(qty, product.PriceCents)
		if !ok {
			return domain.NewValidationError("qty", "line total overflows")
		}

		return l.repo.InTx(ctx, func(tx store.SaleTx) error {
			sale, err := tx.LockSale(ctx, saleID)
			if err != nil {
				return saleError(err)
			}
			if sale.Status != domain.SaleStatusOpen {
				return domain.ErrAlreadySettled
			}
			if _, ok := money.CheckedSum(sale.SubtotalCents, lineTotal); !ok {
				return domain.NewValidationError("qty", "sale subtotal overflows")
			}
			if _, err := tx.AppendSaleItem(ctx, domain.SaleItem{
				SaleID:         saleID,
				ProductID:      product.ID,
				Qty:            qty,
				PriceCents:     product.PriceCents,
				DiscountCents:  0,
				LineTotalCents: lineTotal,
			}); err != nil {
				return err
			}
			updated, err = tx.RecomputeAndPersistTotals(ctx, saleID)
			return err
		})
	})
	if err != nil {
		return nil, l.translate(ctx, err)
	}

	l.metrics.ItemAdded()
	l.log.Debug().Int64("sale_id", saleID).Str("identifier", identifier).Int("qty", qty).Int64("total_cents", updated.TotalCents).Msg("item added")
	return updated, nil
}

// Settle records the payments and closes the sale when, and only when, they
// add up to the sale total exactly. On any failure nothing is written.
func (l *Ledger) Settle(ctx context.Context, session domain.Session, saleID int64, inputs []domain.PaymentInput) (*domain.Sale, error) {
	if !session.Valid(l.now()) {
		return nil, domain.ErrUnauthenticated
	}
	if len(inputs) == 0 {
		return nil, domain.ErrEmptyPayments
	}
	payments, paid, err := normalizePayments(saleID, inputs, l.now())
	if err != nil {
		return nil, err
	}
	if saleID < 1 {
		return nil, domain.ErrSaleNotFound
	}

	started := time.Now()
	defer l.metrics.ObserveOperation("settle", started)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var settled *domain.Sale
	err = l.locker.WithLock(ctx, saleKey(saleID), func(ctx context.Context) error {
		return l.repo.InTx(ctx, func(tx store.SaleTx) error {
			sale, err := tx.LockSale(ctx, saleID)
			if err != nil {
				return saleError(err)
			}
			if sale.Status != domain.SaleStatusOpen {
				return domain.ErrAlreadySettled
			}
			if paid != sale.TotalCents {
				return &domain.AmountMismatchError{Expected: sale.TotalCents, Received: paid}
			}
			if _, err := tx.CreatePayments(ctx, payments); err != nil {
				return err
			}
			settled, err = tx.UpdateSaleStatus(ctx, saleID, domain.SaleStatusSettled)
			return err
		})
	})
	if err != nil {
		err = l.translate(ctx, err)
		l.metrics.Settlement(settleResult(err), 0)
		var mismatch *domain.AmountMismatchError
		if errors.As(err, &mismatch) {
			l.log.Warn().Int64("sale_id", saleID).Int64("expected_cents", mismatch.Expected).Int64("received_cents", mismatch.Received).Msg("settlement amount mismatch")
		}
		return nil, err
	}

	l.metrics.Settlement("settled", settled.TotalCents)
	l.log.Info().Int64("sale_id", saleID).Str("folio", settled.Folio).Int64("total_cents", settled.TotalCents).Int("payments", len(payments)).Msg("sale settled")
	return settled, nil
}

// Get returns the sale with its items and payments in insertion order.
func (l *Ledger) Get(ctx context.Context, session domain.Session, saleID int64) (*domain.SaleDetail, error) {
	if !session.Valid(l.now()) {
		return nil, domain.ErrUnauthenticated
	}
	if saleID < 1 {
		return nil, domain.ErrSaleNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	sale, err := l.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, l.translate(ctx, saleError(err))
	}
	items, err := l.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return nil, l.translate(ctx, err)
	}
	payments, err := l.repo.ListPayments(ctx, saleID)
	if err != nil {
		return nil, l.translate(ctx, err)
	}
	return &domain.SaleDetail{Sale: *sale, Items: items, Payments: payments}, nil
}

func normalizePayments(saleID int64, inputs []domain.PaymentInput, now time.Time) ([]domain.Payment, int64, error) {
	payments := make([]domain.Payment, 0, len(inputs))
	amounts := make([]int64, 0, len(inputs))
	for i, in := range inputs {
		method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(in.Method)))
		if !method.Valid() {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("payments[%d].method", i), "must be CASH, CARD, TRANSFER or OTHER")
		}
		if in.AmountCents < 0 {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("payments[%d].amount", i), "must not be negative")
		}
		reference := strings.TrimSpace(in.Reference)
		if len(reference) > maxReferenceLen {
			return nil, 0, domain.NewValidationError(fmt.Sprintf("payments[%d].reference", i), fmt.Sprintf("must be at most %d characters", maxReferenceLen))
		}
		payments = append(payments, domain.Payment{
			SaleID:      saleID,
			Method:      method,
			AmountCents: in.AmountCents,
			Reference:   reference,
			CreatedAt:   now,
		})
		amounts = append(amounts, in.AmountCents)
	}
	paid, ok := money.CheckedSum(amounts...)
	if !ok {
		return nil, 0, domain.NewValidationError("payments", "sum overflows")
	}
	return payments, paid, nil
}

// translate maps an expired operation deadline onto the domain taxonomy.
func (l *Ledger) translate(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", domain.ErrOperationTimedOut, l.timeout)
	}
	return err
}

func saleError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ErrSaleNotFound
	}
	return err
}

func settleResult(err error) string {
	var mismatch *domain.AmountMismatchError
	switch {
	case errors.As(err, &mismatch):
		return "amount_mismatch"
	case errors.Is(err, domain.ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, domain.ErrSaleNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrOperationTimedOut):
		return "timeout"
	default:
		return "error"
	}
}

func saleKey(saleID int64) string {
	return fmt.Sprintf("sale:%d", saleID)
}
