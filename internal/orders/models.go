package orders

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                    string
	SKU                   string
	Name                  string
	UnitPrice             decimal.Decimal
	Disabled              bool
	AllowSellWithoutStock bool
}

type ShippingAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type Order struct {
	ID                   string
	UserID               string
	Status               Status // lihat status.go
	PaymentType          PaymentType
	PaymentMethodRef     *string
	TransactionID        string
	PaymentScreenshotRef *string
	IdempotencyKey       *string
	TotalAmount          decimal.Decimal
	ShippingAddress      ShippingAddress
	Items                []OrderItem
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderItem is a point-in-time snapshot of price and quantity; it never
// follows later product changes.
type OrderItem struct {
	ID               string
	OrderID          string
	ProductID        string
	Qty              int
	UnitPriceAtOrder decimal.Decimal
}

func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPriceAtOrder.Mul(decimal.NewFromInt(int64(it.Qty)))
}

type MovementKind string

const (
	MovementSale         MovementKind = "SALE"
	MovementCancellation MovementKind = "CANCELLATION"
	MovementReturn       MovementKind = "RETURN"
	MovementRefund       MovementKind = "REFUND"
	MovementRestock      MovementKind = "RESTOCK"
	MovementAdjustment   MovementKind = "ADJUSTMENT"
)

// StockMovement is one immutable ledger row. Stock for a product is the sum
// of DeltaQty over its rows.
type StockMovement struct {
	ID        string
	ProductID string
	DeltaQty  int
	UnitCost  decimal.Decimal
	Kind      MovementKind
	OrderID   *string
	CreatedAt time.Time
}

type Refund struct {
	ID        string
	OrderID   string
	Amount    decimal.Decimal
	Reason    string
	CreatedAt time.Time
}

// Money columns are NUMERIC(14,2); quantity columns are INTEGER.
const (
	moneyPlaces = 2
	maxQty      = math.MaxInt32
)

// maxMoney is the first value NUMERIC(14,2) cannot hold.
var maxMoney = decimal.New(1, 12)

// fitsMoney reports whether d is representable in cents without rounding.
func fitsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyPlaces))
}
