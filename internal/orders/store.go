package orders

import "context"

// Store is the transactional boundary of the order core. RunInTx executes fn
// in one atomic unit of work: either everything fn wrote commits, or nothing.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListRefunds(ctx context.Context, orderID string) ([]Refund, error)
	CurrentStock(ctx context.Context, productID string) (int, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]StockMovement, error)
}

// Tx is the set of reads and writes allowed inside a unit of work.
// Movements and refunds are insert-only.
type Tx interface {
	// LockProduct loads the product and holds a row lock on it until the
	// unit of work ends. Every ledger writer for a product takes this lock.
	LockProduct(ctx context.Context, productID string) (Product, error)
	CurrentStock(ctx context.Context, productID string) (int, error)
	InsertMovement(ctx context.Context, m StockMovement) error

	// LockIdempotencyKey serialises creates that share (user, key) until the
	// unit of work ends, so a retry waits for the in-flight original.
	LockIdempotencyKey(ctx context.Context, userID, key string) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, bool, error)
	InsertOrder(ctx context.Context, o Order) error
	// LockOrder loads the order with its items and holds a row lock on it.
	LockOrder(ctx context.Context, orderID string) (Order, error)
	UpdateOrderStatus(ctx context.Context, o Order) error

	InsertRefund(ctx context.Context, r Refund) error
}

// PaymentMethods answers ownership questions about stored payment methods.
type PaymentMethods interface {
	OwnsPaymentMethod(ctx context.Context, userID, ref string) (bool, error)
}
