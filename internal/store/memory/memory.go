package memory

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/money"
	"kasirinaja/ledger/internal/store"
)

var errSubtotalOverflow = errors.New("memory: sale subtotal overflows")

type Store struct {
	mu sync.RWMutex

	products   map[int64]domain.Product
	productSeq int64

	users    map[int64]domain.User
	userSeq  int64
	sessions map[string]domain.Session

	sales          map[int64]domain.Sale
	saleSeq        int64
	itemsBySale    map[int64][]domain.SaleItem
	itemSeq        int64
	paymentsBySale map[int64][]domain.Payment
	paymentSeq     int64
}

func New() *Store {
	return &Store{
		products:       make(map[int64]domain.Product),
		users:          make(map[int64]domain.User),
		sessions:       make(map[string]domain.Session),
		sales:          make(map[int64]domain.Sale),
		itemsBySale:    make(map[int64][]domain.SaleItem),
		paymentsBySale: make(map[int64][]domain.Payment),
	}
}

// NewSeeded returns a store with demo products and two accounts. PINs come
// from SEED_ADMIN_PIN and SEED_CASHIER_PIN; dev defaults are used otherwise.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	adminPIN := envOr("SEED_ADMIN_PIN", "482916")
	cashierPIN := envOr("SEED_CASHIER_PIN", "275031")
	if os.Getenv("SEED_ADMIN_PIN") == "" || os.Getenv("SEED_CASHIER_PIN") == "" {
		log.Warn().Msg("memory store: using default dev PINs; set SEED_ADMIN_PIN and SEED_CASHIER_PIN to override")
	}
	for _, u := range []struct {
		username string
		name     string
		role     string
		pin      string
	}{
		{"admin", "Administrador", domain.RoleAdmin, adminPIN},
		{"cajero", "Cajero 1", domain.RoleCashier, cashierPIN},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.pin), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("memory store: hash seed pin")
		}
		s.userSeq++
		s.users[s.userSeq] = domain.User{
			ID:        s.userSeq,
			Username:  u.username,
			Name:      u.name,
			Role:      u.role,
			PINHash:   string(hash),
			Active:    true,
			CreatedAt: now,
		}
	}

	for _, p := range []domain.Product{
		{SKU: "SKU1", Barcode: "7501000000011", Name: "Agua natural 600ml", PriceCents: 500, CostCents: 320, ProfitPctBp: 5625, Stock: 120, StockMin: 24, StockMax: 240},
		{SKU: "SKU2", Barcode: "7501000000028", Name: "Galletas de avena", PriceCents: 1850, CostCents: 1300, ProfitPctBp: 4231, Stock: 60, StockMin: 12, StockMax: 120},
		{SKU: "SKU3", Barcode: "7501000000035", Name: "Cafe soluble 100g", PriceCents: 7400, CostCents: 5600, ProfitPctBp: 3214, Stock: 30, StockMin: 6, StockMax: 60},
		{SKU: "SKU4", Barcode: "7501000000042", Name: "Leche entera 1L", PriceCents: 2790, CostCents: 2300, ProfitPctBp: 2130, Stock: 48, StockMin: 12, StockMax: 96},
		{SKU: "SKU5", Barcode: "7501000000059", Name: "Pan de caja", PriceCents: 4550, CostCents: 3500, ProfitPctBp: 3000, Stock: 20, StockMin: 5, StockMax: 40},
	} {
		s.productSeq++
		p.ID = s.productSeq
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identifierTaken(product.SKU, product.Barcode, 0) {
		return nil, store.ErrConflict
	}

	now := time.Now().UTC()
	s.productSeq++
	product.ID = s.productSeq
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.identifierTaken(product.SKU, product.Barcode, product.ID) {
		return nil, store.ErrConflict
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, query domain.ProductQuery) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(query.Search))
	matched := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.SKU), search) &&
			!strings.Contains(strings.ToLower(p.Barcode), search) {
			continue
		}
		matched = append(matched, p)
	}
	slices.SortFunc(matched, func(a, b domain.Product) int {
		return cmpInt64(b.ID, a.ID)
	})

	total := len(matched)
	start := (query.Page - 1) * query.PageSize
	if start >= total {
		return []domain.Product{}, total, nil
	}
	end := min(start+query.PageSize, total)
	return slices.Clone(matched[start:end]), total, nil
}

func (s *Store) FindActiveProductByIdentifier(_ context.Context, identifier string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Product
	for _, p := range s.products {
		if !p.Active || (p.SKU != identifier && p.Barcode != identifier) {
			continue
		}
		if found == nil || p.ID < found.ID {
			match := p
			found = &match
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) identifierTaken(sku, barcode string, exceptID int64) bool {
	for id, p := range s.products {
		if id == exceptID {
			continue
		}
		if p.SKU == sku || (barcode != "" && p.Barcode == barcode) {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return nil, store.ErrConflict
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.userSeq++
	user.ID = s.userSeq
	s.users[user.ID] = user
	created := user
	return &created, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			found := user
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetUserActive(_ context.Context, id int64, active bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Active = active
	s.users[id] = user
	if !active {
		for token, session := range s.sessions {
			if session.UserID == id {
				delete(s.sessions, token)
			}
		}
	}
	return &user, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[session.UserID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := s.sessions[session.Token]; exists {
		return store.ErrConflict
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sale.CashierID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.sales {
		if existing.Folio == sale.Folio {
			return nil, store.ErrConflict
		}
	}
	s.saleSeq++
	sale.ID = s.saleSeq
	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID int64) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.itemsBySale[saleID]), nil
}

func (s *Store) ListPayments(_ context.Context, saleID int64) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.paymentsBySale[saleID]), nil
}

// InTx holds the write lock for the whole callback, so transactions are
// serialized. Writes are staged and applied only on success.
func (s *Store) InTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		sales:      make(map[int64]domain.Sale),
		itemSeq:    s.itemSeq,
		paymentSeq: s.paymentSeq,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s          *Store
	sales      map[int64]domain.Sale
	items      []domain.SaleItem
	payments   []domain.Payment
	itemSeq    int64
	paymentSeq int64
}

func (t *memTx) sale(id int64) (domain.Sale, bool) {
	if sale, ok := t.sales[id]; ok {
		return sale, true
	}
	sale, ok := t.s.sales[id]
	return sale, ok
}

func (t *memTx) LockSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sale, ok := t.sale(saleID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (t *memTx) AppendSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := t.sale(item.SaleID); !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := t.s.products[item.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	t.itemSeq++
	item.ID = t.itemSeq
	t.items = append(t.items, item)
	created := item
	return &created, nil
}

func (t *memTx) RecomputeAndPersistTotals(ctx context.Context, saleID int64) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sale, ok := t.sale(saleID)
	if !ok {
		return nil, store.ErrNotFound
	}

	lines := make([]int64, 0, len(t.s.itemsBySale[saleID])+len(t.items))
	for _, item := range t.s.itemsBySale[saleID] {
		lines = append(lines, item.LineTotalCents)
	}
	for _, item := range t.items {
		if item.SaleID == saleID {
			lines = append(lines, item.LineTotalCents)
		}
	}
	subtotal, ok := money.CheckedSum(lines...)
	if !ok {
		return nil, errSubtotalOverflow
	}
	sale.SubtotalCents = subtotal
	sale.TaxCents = 0
	sale.TotalCents = sale.SubtotalCents + sale.TaxCents
	t.sales[saleID] = sale
	return &sale, nil
}

func (t *memTx) CreatePayments(ctx context.Context, payments []domain.Payment) ([]domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	created := make([]domain.Payment, 0, len(payments))
	for _, payment := range payments {
		if _, ok := t.sale(payment.SaleID); !ok {
			return nil, store.ErrNotFound
		}
		t.paymentSeq++
		payment.ID = t.paymentSeq
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = time.Now().UTC()
		}
		created = append(created, payment)
	}
	t.payments = append(t.payments, created...)
	return created, nil
}

func (t *memTx) UpdateSaleStatus(ctx context.Context, saleID int64, status domain.SaleStatus) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sale, ok := t.sale(saleID)
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Status = status
	if status == domain.SaleStatusSettled {
		at := time.Now().UTC()
		sale.SettledAt = &at
	}
	t.sales[saleID] = sale
	return &sale, nil
}

func (t *memTx) commit() {
	s := t.s
	for id, sale := range t.sales {
		s.sales[id] = sale
	}
	for _, item := range t.items {
		s.itemsBySale[item.SaleID] = append(s.itemsBySale[item.SaleID], item)
	}
	for _, payment := range t.payments {
		s.paymentsBySale[payment.SaleID] = append(s.paymentsBySale[payment.SaleID], payment)
	}
	s.itemSeq = t.itemSeq
	s.paymentSeq = t.paymentSeq
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
