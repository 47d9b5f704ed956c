package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, sku, COALESCE(barcode, ''), name, price_cents, cost_cents, profit_pct_bp,
	stock, stock_min, stock_max, active, COALESCE(image_ref, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.PriceCents, &p.CostCents, &p.ProfitPctBp,
		&p.Stock, &p.StockMin, &p.StockMax, &p.Active, &p.ImageRef, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO products (sku, barcode, name, price_cents, cost_cents, profit_pct_bp,
			stock, stock_min, stock_max, active, image_ref, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		RETURNING `+productColumns,
		product.SKU, nullIfEmpty(product.Barcode), product.Name, product.PriceCents, product.CostCents,
		product.ProfitPctBp, product.Stock, product.StockMin, product.StockMax, product.Active,
		nullIfEmpty(product.ImageRef),
	)
	created, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET sku = $2, barcode = $3, name = $4, price_cents = $5, cost_cents = $6, profit_pct_bp = $7,
			stock = $8, stock_min = $9, stock_max = $10, active = $11, image_ref = $12, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.SKU, nullIfEmpty(product.Barcode), product.Name, product.PriceCents,
		product.CostCents, product.ProfitPctBp, product.Stock, product.StockMin, product.StockMax,
		product.Active, nullIfEmpty(product.ImageRef),
	)
	updated, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, int, error) {
	search := strings.TrimSpace(query.Search)
	pattern := "%" + escapeLike(search) + "%"

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM products
		WHERE active = true
			AND ($1 = '' OR name ILIKE $2 OR sku ILIKE $2 OR barcode ILIKE $2)
	`, search, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
			AND ($1 = '' OR name ILIKE $2 OR sku ILIKE $2 OR barcode ILIKE $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, search, pattern, query.PageSize, (query.Page-1)*query.PageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, query.PageSize)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *Store) FindActiveProductByIdentifier(ctx context.Context, identifier string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND (sku = $1 OR barcode = $1)
		ORDER BY id ASC
		LIMIT 1
	`, identifier))
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_users (username, name, role, pin_hash, active, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING id, created_at
	`, user.Username, user.Name, user.Role, user.PINHash, user.Active).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.findUser(ctx, "id", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, "username", username)
}

func (s *Store) findUser(ctx context.Context, column string, value any) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, username, name, role, pin_hash, active, created_at
		FROM app_users
		WHERE %s = $1
	`, column), value).Scan(&user.ID, &user.Username, &user.Name, &user.Role, &user.PINHash, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) (*domain.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var user domain.User
	err = tx.QueryRowContext(ctx, `
		UPDATE app_users SET active = $2
		WHERE id = $1
		RETURNING id, username, name, role, pin_hash, active, created_at
	`, id, active).Scan(&user.ID, &user.Username, &user.Name, &user.Role, &user.PINHash, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !active {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, role, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, session.Token, session.UserID, session.Role, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, role, expires_at, created_at
		FROM sessions
		WHERE token = $1
	`, token).Scan(&session.Token, &session.UserID, &session.Role, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

const saleColumns = `id, folio, cashier_id, subtotal_cents, tax_cents, total_cents, status, created_at, settled_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var settledAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.Folio, &sale.CashierID, &sale.SubtotalCents, &sale.TaxCents,
		&sale.TotalCents, &sale.Status, &sale.CreatedAt, &settledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if settledAt.Valid {
		at := settledAt.Time.UTC()
		sale.SettledAt = &at
	}
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sales (folio, cashier_id, subtotal_cents, tax_cents, total_cents, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+saleColumns,
		sale.Folio, sale.CashierID, sale.SubtotalCents, sale.TaxCents, sale.TotalCents, string(sale.Status), sale.CreatedAt,
	)
	created, err := scanSale(row)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, store.ErrConflict
		case isForeignKeyViolation(err):
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, qty, price_cents, discount_cents, line_total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 16)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Qty, &item.PriceCents,
			&item.DiscountCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, method, amount_cents, COALESCE(reference, ''), created_at
		FROM payments
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var payment domain.Payment
		if err := rows.Scan(&payment.ID, &payment.SaleID, &payment.Method, &payment.AmountCents,
			&payment.Reference, &payment.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&saleTx{tx: pgTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return pgTx.Commit()
}

type saleTx struct {
	tx *sql.Tx
}

func (t *saleTx) LockSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	return scanSale(t.tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID))
}

func (t *saleTx) AppendSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sale_items (sale_id, product_id, qty, price_cents, discount_cents, line_total_cents)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, item.SaleID, item.ProductID, item.Qty, item.PriceCents, item.DiscountCents, item.LineTotalCents).Scan(&item.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (t *saleTx) RecomputeAndPersistTotals(ctx context.Context, saleID int64) (*domain.Sale, error) {
	return scanSale(t.tx.QueryRowContext(ctx, `
		UPDATE sales
		SET subtotal_cents = totals.subtotal,
			tax_cents = 0,
			total_cents = totals.subtotal
		FROM (
			SELECT COALESCE(SUM(line_total_cents), 0)::BIGINT AS subtotal
			FROM sale_items
			WHERE sale_id = $1
		) AS totals
		WHERE sales.id = $1
		RETURNING sales.id, sales.folio, sales.cashier_id, sales.subtotal_cents, sales.tax_cents,
			sales.total_cents, sales.status, sales.created_at, sales.settled_at
	`, saleID))
}

func (t *saleTx) CreatePayments(ctx context.Context, payments []domain.Payment) ([]domain.Payment, error) {
	created := make([]domain.Payment, 0, len(payments))
	for _, payment := range payments {
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = time.Now().UTC()
		}
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO payments (sale_id, method, amount_cents, reference, created_at)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, payment.SaleID, string(payment.Method), payment.AmountCents, nullIfEmpty(payment.Reference), payment.CreatedAt).Scan(&payment.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		created = append(created, payment)
	}
	return created, nil
}

func (t *saleTx) UpdateSaleStatus(ctx context.Context, saleID int64, status domain.SaleStatus) (*domain.Sale, error) {
	return scanSale(t.tx.QueryRowContext(ctx, `
		UPDATE sales
		SET status = $2,
			settled_at = CASE WHEN $2 = 'SETTLED' THEN now() ELSE settled_at END
		WHERE id = $1
		RETURNING `+saleColumns,
		saleID, string(status),
	))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}
