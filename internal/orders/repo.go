package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/postgres"
)

const idempotencyIndex = "ux_orders_user_idempotency"

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct {
	DB               *pgxpool.Pool
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	Attempts         int
	OnRetry          func(attempt int, err error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := postgres.RunInTx(ctx, s.DB, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	},
		postgres.WithLockTimeout(s.LockTimeout),
		postgres.WithStatementTimeout(s.StatementTimeout),
		postgres.WithTxAttempts(s.Attempts),
		postgres.OnRetry(s.OnRetry),
	)
	if errors.Is(err, postgres.ErrContention) {
		return fmt.Errorf("%w: %w", ErrContention, err)
	}
	return err
}

func (s *PGStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return loadOrder(ctx, s.DB, orderID, false)
}

func (s *PGStore) ListRefunds(ctx context.Context, orderID string) ([]Refund, error) {
	if err := mustExist(ctx, s.DB, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID, ErrOrderNotFound); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, amount::text, reason, created_at
		FROM refunds WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Refund
	for rows.Next() {
		var (
			r      Refund
			amount string
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &amount, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("refund %s amount: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) CurrentStock(ctx context.Context, productID string) (int, error) {
	if err := mustExist(ctx, s.DB, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID, ErrProductNotFound); err != nil {
		return 0, err
	}
	return sumLedger(ctx, s.DB, productID)
}

func (s *PGStore) ListMovements(ctx context.Context, productID string, limit int) ([]StockMovement, error) {
	if err := mustExist(ctx, s.DB, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID, ErrProductNotFound); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, product_id, delta_qty, unit_cost::text, kind, order_id, created_at
		FROM stock_movements WHERE product_id=$1
		ORDER BY created_at DESC, id DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockMovement
	for rows.Next() {
		var (
			m    StockMovement
			cost string
			kind string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.DeltaQty, &cost, &kind, &m.OrderID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("movement %s unit cost: %w", m.ID, err)
		}
		m.Kind = MovementKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// pgTx implements Tx on top of one pgx transaction.
type pgTx struct{ q querier }

func (t *pgTx) LockProduct(ctx context.Context, productID string) (Product, error) {
	var (
		p     Product
		price string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, sku, name, unit_price::text, disabled, allow_sell_without_stock
		FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.SKU, &p.Name, &price, &p.Disabled, &p.AllowSellWithoutStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return Product{}, err
	}
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return Product{}, fmt.Errorf("product %s unit price: %w", productID, err)
	}
	return p, nil
}

func (t *pgTx) CurrentStock(ctx context.Context, productID string) (int, error) {
	return sumLedger(ctx, t.q, productID)
}

func (t *pgTx) InsertMovement(ctx context.Context, m StockMovement) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO stock_movements(id, product_id, delta_qty, unit_cost, kind, order_id, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		m.ID, m.ProductID, m.DeltaQty, m.UnitCost.String(), string(m.Kind), m.OrderID, m.CreatedAt)
	return err
}

// LockIdempotencyKey takes a transaction-scoped advisory lock on (user, key).
func (t *pgTx) LockIdempotencyKey(ctx context.Context, userID, key string) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`, userID, key)
	return err
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, bool, error) {
	var orderID string
	err := t.q.QueryRow(ctx, `SELECT id FROM orders WHERE user_id=$1 AND idempotency_key=$2`, userID, key).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	o, err := loadOrder(ctx, t.q, orderID, false)
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_type, payment_method_ref, transaction_id,
			payment_screenshot_ref, idempotency_key, total_amount, ship_name, ship_address, ship_phone,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14)`,
		o.ID, o.UserID, string(o.Status), string(o.PaymentType), o.PaymentMethodRef, o.TransactionID,
		o.PaymentScreenshotRef, o.IdempotencyKey, o.TotalAmount.String(),
		o.ShippingAddress.Name, o.ShippingAddress.Address, o.ShippingAddress.Phone,
		o.CreatedAt, o.UpdatedAt)
	if postgres.IsUniqueViolation(err, idempotencyIndex) {
		return errIdempotencyRace
	}
	if err != nil {
		return err
	}

	// insert items
	for i, it := range o.Items {
		if _, err := t.q.Exec(ctx, `
			INSERT INTO order_items(id, order_id, line_no, product_id, qty, unit_price_at_order)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			it.ID, o.ID, i, it.ProductID, it.Qty, it.UnitPriceAtOrder.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID string) (Order, error) {
	return loadOrder(ctx, t.q, orderID, true)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, o Order) error {
	ct, err := t.q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, o.ID, string(o.Status), o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, o.ID)
	}
	return nil
}

func (t *pgTx) InsertRefund(ctx context.Context, r Refund) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO refunds(id, order_id, amount, reason, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)`,
		r.ID, r.OrderID, r.Amount.String(), r.Reason, r.CreatedAt)
	return err
}

const orderColumns = `id, user_id, status, payment_type, payment_method_ref, transaction_id,
	payment_screenshot_ref, idempotency_key, total_amount::text, ship_name, ship_address, ship_phone,
	created_at, updated_at`

func loadOrder(ctx context.Context, q querier, orderID string, lock bool) (Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		o                   Order
		status, paymentType string
		total               string
	)
	err := q.QueryRow(ctx, sql, orderID).Scan(
		&o.ID, &o.UserID, &status, &paymentType, &o.PaymentMethodRef, &o.TransactionID,
		&o.PaymentScreenshotRef, &o.IdempotencyKey, &total,
		&o.ShippingAddress.Name, &o.ShippingAddress.Address, &o.ShippingAddress.Phone,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return Order{}, err
	}
	// stored values that no longer parse are storage corruption, not bad input
	if o.Status, err = ParseStatus(status); err != nil {
		return Order{}, fmt.Errorf("order %s: stored status %q", orderID, status)
	}
	if o.PaymentType, err = ParsePaymentType(paymentType); err != nil {
		return Order{}, fmt.Errorf("order %s: stored payment type %q", orderID, paymentType)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("order %s total: %w", orderID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_at_order::text
		FROM order_items WHERE order_id=$1 ORDER BY line_no`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it    OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &price); err != nil {
			return Order{}, err
		}
		if it.UnitPriceAtOrder, err = decimal.NewFromString(price); err != nil {
			return Order{}, fmt.Errorf("order item %s price: %w", it.ID, err)
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// stok = SUM(delta_qty), tidak pernah di-cache.
func sumLedger(ctx context.Context, q querier, productID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(delta_qty), 0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&n)
	return n, err
}

func mustExist(ctx context.Context, q querier, sql, id string, notFound error) error {
	var ok bool
	if err := q.QueryRow(ctx, sql, id).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
