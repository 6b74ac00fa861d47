package httpx

import (
	"time"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
)

// Money leaves the API as fixed two-decimal strings.

type itemResp struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type orderResp struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"user_id"`
	Status               string                 `json:"status"`
	PaymentType          string                 `json:"payment_type"`
	PaymentMethodRef     *string                `json:"payment_method_ref,omitempty"`
	TransactionID        string                 `json:"transaction_id,omitempty"`
	PaymentScreenshotRef *string                `json:"payment_screenshot_ref,omitempty"`
	TotalAmount          string                 `json:"total_amount"`
	ShippingAddress      orders.ShippingAddress `json:"shipping_address"`
	Items                []itemResp             `json:"items"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	Idempotent           bool                   `json:"idempotent"`
}

type refundResp struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    string    `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type movementResp struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	DeltaQuantity int       `json:"delta_quantity"`
	UnitCost      string    `json:"unit_cost"`
	Kind          string    `json:"kind"`
	OrderID       *string   `json:"order_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type statusChangeResp struct {
	Order     orderResp      `json:"order"`
	From      string         `json:"from"`
	Refund    *refundResp    `json:"refund,omitempty"`
	Restocked []movementResp `json:"restocked"`
}

type statusResp struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"` // cache | db
}

type stockResp struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func toOrderResp(o orders.Order, idempotent bool) orderResp {
	items := make([]itemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResp{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Qty,
			UnitPrice: it.UnitPriceAtOrder.StringFixed(2),
			Subtotal:  it.Subtotal().StringFixed(2),
		})
	}
	return orderResp{
		ID:                   o.ID,
		UserID:               o.UserID,
		Status:               string(o.Status),
		PaymentType:          string(o.PaymentType),
		PaymentMethodRef:     o.PaymentMethodRef,
		TransactionID:        o.TransactionID,
		PaymentScreenshotRef: o.PaymentScreenshotRef,
		TotalAmount:          o.TotalAmount.StringFixed(2),
		ShippingAddress:      o.ShippingAddress,
		Items:                items,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
		Idempotent:           idempotent,
	}
}

func toRefundResp(r orders.Refund) refundResp {
	return refundResp{ID: r.ID, OrderID: r.OrderID, Amount: r.Amount.StringFixed(2), Reason: r.Reason, CreatedAt: r.CreatedAt}
}

func toMovementResp(m orders.StockMovement) movementResp {
	return movementResp{
		ID:            m.ID,
		ProductID:     m.ProductID,
		DeltaQuantity: m.DeltaQty,
		UnitCost:      m.UnitCost.StringFixed(2),
		Kind:          string(m.Kind),
		OrderID:       m.OrderID,
		CreatedAt:     m.CreatedAt,
	}
}

func toMovementResps(ms []orders.StockMovement) []movementResp {
	out := make([]movementResp, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMovementResp(m))
	}
	return out
}
