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

	"shoptally/backend/internal/domain"
	"shoptally/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			category TEXT NOT NULL DEFAULT '',
			sku TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS products_sku_unique
			ON products (lower(sku)) WHERE sku <> ''`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			invoice_number TEXT NOT NULL UNIQUE,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_contact TEXT NOT NULL DEFAULT '',
			subtotal DOUBLE PRECISION NOT NULL,
			tax DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount DOUBLE PRECISION NOT NULL DEFAULT 0,
			total DOUBLE PRECISION NOT NULL,
			payment_method TEXT NOT NULL DEFAULT 'cash',
			payment_status TEXT NOT NULL DEFAULT 'paid',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			name TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 1),
			total DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (sale_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS sales_created_at_idx ON sales (created_at)`,
		`CREATE TABLE IF NOT EXISTS invoice_counters (
			day TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, price, cost, stock, category, sku, created_at, updated_at
		FROM products
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, product)
	}
	return result, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, cost, stock, category, sku, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id)

	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, cost, stock, category, sku, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, product.ID, product.Name, product.Description, product.Price, product.Cost,
		product.Stock, product.Category, product.SKU, product.CreatedAt, product.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateSKU
	}
	if err != nil {
		return nil, err
	}
	clone := product
	return &clone, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id string, patch domain.ProductUpdateRequest) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, description, price, cost, stock, category, sku, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		product.Name = *patch.Name
	}
	if patch.Description != nil {
		product.Description = *patch.Description
	}
	if patch.Price != nil {
		product.Price = *patch.Price
	}
	if patch.Cost != nil {
		product.Cost = *patch.Cost
	}
	if patch.Stock != nil {
		product.Stock = *patch.Stock
	}
	if patch.Category != nil {
		product.Category = *patch.Category
	}
	if patch.SKU != nil {
		product.SKU = *patch.SKU
	}
	product.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, cost = $5, stock = $6,
			category = $7, sku = $8, updated_at = $9
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.Price, product.Cost,
		product.Stock, product.Category, product.SKU, product.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateSKU
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	// Conditional update: the guard runs inside the statement so two
	// concurrent adjustments can never drive stock below zero.
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = $3
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING id, name, description, price, cost, stock, category, sku, created_at, updated_at
	`, id, delta, time.Now().UTC())

	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInsufficientStock
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	query := `
		SELECT id, invoice_number, customer_name, customer_contact,
			subtotal, tax, discount, total, payment_method, payment_status, notes, created_at
		FROM sales
		ORDER BY created_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales, err := collectSales(rows)
	if err != nil {
		return nil, err
	}
	return s.attachItems(ctx, sales)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, customer_name, customer_contact,
			subtotal, tax, discount, total, payment_method, payment_status, notes, created_at
		FROM sales
		WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	withItems, err := s.attachItems(ctx, []domain.Sale{sale})
	if err != nil {
		return nil, err
	}
	return &withItems[0], nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	productIDs := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		productIDs = append(productIDs, item.ProductID)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	type lockedProduct struct {
		name  string
		price float64
		stock int
	}
	locked := make(map[string]lockedProduct, len(productIDs))
	for rows.Next() {
		var id string
		var p lockedProduct
		if err := rows.Scan(&id, &p.name, &p.price, &p.stock); err != nil {
			rows.Close()
			return nil, err
		}
		locked[id] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Verify stock against the summed quantity per product, not per
	// line, so duplicate lines for one product cannot oversell it.
	required := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if _, ok := locked[item.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
		required[item.ProductID] += item.Quantity
	}
	for id, qty := range required {
		if locked[id].stock < qty {
			return nil, store.ErrInsufficientStock
		}
	}

	items := make([]domain.SaleItem, 0, len(sale.Items))
	subtotal := 0.0
	for _, item := range sale.Items {
		product := locked[item.ProductID]
		lineTotal := product.price * float64(item.Quantity)
		items = append(items, domain.SaleItem{
			ProductID: item.ProductID,
			Name:      product.name,
			Price:     product.price,
			Quantity:  item.Quantity,
			Total:     lineTotal,
		})
		subtotal += lineTotal
	}

	now := time.Now().UTC()
	for id, qty := range required {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = $3
			WHERE id = $1
		`, id, qty, now); err != nil {
			return nil, err
		}
	}

	sale.Items = items
	sale.Subtotal = subtotal
	total := subtotal + subtotal*sale.Tax/100 - sale.Discount
	if total < 0 {
		total = 0
	}
	sale.Total = total

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, invoice_number, customer_name, customer_contact,
			subtotal, tax, discount, total, payment_method, payment_status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sale.ID, sale.InvoiceNumber, sale.CustomerName, sale.CustomerContact,
		sale.Subtotal, sale.Tax, sale.Discount, sale.Total,
		sale.PaymentMethod, sale.PaymentStatus, sale.Notes, sale.CreatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicateInvoice
	}
	if err != nil {
		return nil, err
	}

	for position, item := range sale.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, name, price, quantity, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sale.ID, position, item.ProductID, item.Name, item.Price, item.Quantity, item.Total); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	clone := sale
	return &clone, nil
}

func (s *Store) ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, customer_name, customer_contact,
			subtotal, tax, discount, total, payment_method, payment_status, notes, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales, err := collectSales(rows)
	if err != nil {
		return nil, err
	}
	return s.attachItems(ctx, sales)
}

func (s *Store) NextInvoiceSequence(ctx context.Context, day string) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (day, seq)
		VALUES ($1, 1)
		ON CONFLICT (day)
		DO UPDATE SET seq = invoice_counters.seq + 1
		RETURNING seq
	`, day).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) attachItems(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, 0, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
		sales[i].Items = []domain.SaleItem{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, name, price, quantity, total
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Total); err != nil {
			return nil, err
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return sales, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(&product.ID, &product.Name, &product.Description, &product.Price,
		&product.Cost, &product.Stock, &product.Category, &product.SKU,
		&product.CreatedAt, &product.UpdatedAt)
	return product, err
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.InvoiceNumber, &sale.CustomerName, &sale.CustomerContact,
		&sale.Subtotal, &sale.Tax, &sale.Discount, &sale.Total,
		&sale.PaymentMethod, &sale.PaymentStatus, &sale.Notes, &sale.CreatedAt)
	return sale, err
}

func collectSales(rows *sql.Rows) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}
