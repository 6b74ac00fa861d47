package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used by Migrate.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		unit_price NUMERIC(14,2) NOT NULL CHECK (unit_price >= 0),
		disabled BOOLEAN NOT NULL DEFAULT false,
		allow_sell_without_stock BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS payment_methods (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_methods_user_id ON payment_methods(user_id)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		payment_method_ref TEXT,
		transaction_id TEXT NOT NULL DEFAULT '',
		payment_screenshot_ref TEXT,
		idempotency_key TEXT,
		total_amount NUMERIC(14,2) NOT NULL CHECK (total_amount >= 0),
		ship_name TEXT NOT NULL,
		ship_address TEXT NOT NULL,
		ship_phone TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_user_idempotency ON orders(user_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		qty INTEGER NOT NULL CHECK (qty > 0),
		unit_price_at_order NUMERIC(14,2) NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_order_items_order_line ON order_items(order_id, line_no)`,

	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		delta_qty INTEGER NOT NULL CHECK (delta_qty <> 0),
		unit_cost NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (unit_cost >= 0),
		kind TEXT NOT NULL,
		order_id TEXT REFERENCES orders(id),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product_id ON stock_movements(product_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_order_id ON stock_movements(order_id)`,

	`CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		reason TEXT NOT NULL CHECK (reason <> ''),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_order_id ON refunds(order_id)`,
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
