package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/farm-checkout/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection keeps the
	// conditional updates serialised instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query := `SELECT id, seller_id, name, price, stock FROM products WHERE id = ?`

	var p domain.Product
	var price string
	err := s.db.QueryRowContext(ctx, query, productID).Scan(&p.ID, &p.SellerID, &p.Name, &price, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product %s: %w", productID, err)
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price of product %s: %w", productID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) DecrementStock(ctx context.Context, key, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decrement tx: %w", err)
	}
	defer tx.Rollback()

	var released int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM released_reservations WHERE reservation_key = ?`, key).Scan(&released)
	if err != nil {
		return fmt.Errorf("check reservation %s: %w", key, err)
	}
	if released > 0 {
		return ErrReservationReleased
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO stock_reservations (reservation_key, product_id, quantity) VALUES (?, ?, ?)`,
		key, productID, qty)
	if err != nil {
		return fmt.Errorf("record reservation %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already applied under this key
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`,
		qty, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock of %s: %w", productID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock of %s: %w", productID, err)
	}
	if affected == 1 {
		return tx.Commit()
	}

	// Nothing matched: tell a missing product apart from a short one.
	var available int
	err = tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("read stock of %s: %w", productID, err)
	}
	return &domain.InsufficientStockError{ProductID: productID, Available: available, Requested: qty}
}

func (s *SQLiteStore) ReleaseReservation(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO released_reservations (reservation_key) VALUES (?)`, key)
	if err != nil {
		return fmt.Errorf("record release %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already released
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + (
			SELECT r.quantity FROM stock_reservations r
			WHERE r.reservation_key = ? AND r.product_id = products.id)
		WHERE id IN (SELECT product_id FROM stock_reservations WHERE reservation_key = ?)`,
		key, key); err != nil {
		return fmt.Errorf("release reservation %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stock_reservations WHERE reservation_key = ?`, key); err != nil {
		return fmt.Errorf("clear reservation %s: %w", key, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) RestoreStock(ctx context.Context, key string, lines []domain.StockLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO stock_restorations (restore_key) VALUES (?)`, key)
	if err != nil {
		return fmt.Errorf("record restore %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already applied
	}

	for _, line := range lines {
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock = stock + ? WHERE id = ?`,
			line.Quantity, line.ProductID); err != nil {
			return fmt.Errorf("restore stock of %s: %w", line.ProductID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) PutProduct(ctx context.Context, p domain.Product) error {
	query := `
		INSERT INTO products (id, seller_id, name, price, stock)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seller_id = excluded.seller_id,
			name = excluded.name,
			price = excluded.price,
			stock = excluded.stock
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.SellerID, p.Name, p.Price.StringFixed(2), p.Stock); err != nil {
		return fmt.Errorf("put product %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteProduct(ctx context.Context, productID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, productID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
