package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockMovement      = "StockMovementRecorded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

// ---- Payload tipe per event ----

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Status      string      `json:"status"`
	PaymentType string      `json:"payment_type"`
	Items       []ItemPrice `json:"items"`
	TotalAmount string      `json:"total_amount"`
	CreatedAt   time.Time   `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID      string    `json:"order_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	RefundID     string    `json:"refund_id,omitempty"`
	RefundAmount string    `json:"refund_amount,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StockMovementPayload struct {
	MovementID string `json:"movement_id"`
	ProductID  string `json:"product_id"`
	DeltaQty   int    `json:"delta_qty"`
	UnitCost   string `json:"unit_cost"`
	Kind       string `json:"kind"`
	OrderID    string `json:"order_id,omitempty"`
}

// EventPublisher delivers envelopes to downstream consumers. Publishing
// happens after commit; a failure is logged and never undoes the operation.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, env Envelope) error
}

func (s *Service) envelope(eventType, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

func (s *Service) publish(ctx context.Context, topic, key, eventType string, payload any) {
	if s.events == nil {
		return
	}
	env, err := s.envelope(eventType, key, payload)
	if err == nil {
		err = s.events.Publish(ctx, topic, PartitionKey(key), env)
	}
	if err != nil {
		s.log.Warn("event publish failed",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (s *Service) publishOrderCreated(ctx context.Context, res CreateOrderResult) {
	o := res.Order
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Qty: it.Qty, UnitPrice: it.UnitPriceAtOrder.StringFixed(2)})
	}
	s.publish(ctx, TopicOrderCreated, o.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		PaymentType: string(o.PaymentType),
		Items:       items,
		TotalAmount: o.TotalAmount.StringFixed(2),
		CreatedAt:   o.CreatedAt,
	})
	s.publishMovements(ctx, res.Movements)
}

func (s *Service) publishStatusChanged(ctx context.Context, res UpdateStatusResult) {
	p := OrderStatusChangedPayload{
		OrderID:   res.Order.ID,
		From:      string(res.From),
		To:        string(res.Order.Status),
		UpdatedAt: res.Order.UpdatedAt,
	}
	if res.Refund != nil {
		p.RefundID = res.Refund.ID
		p.RefundAmount = res.Refund.Amount.StringFixed(2)
	}
	s.publish(ctx, TopicOrderStatusChanged, res.Order.ID, EventOrderStatusChanged, p)
	s.publishMovements(ctx, res.Movements)
}

func (s *Service) publishMovements(ctx context.Context, ms []StockMovement) {
	for _, m := range ms {
		p := StockMovementPayload{
			MovementID: m.ID,
			ProductID:  m.ProductID,
			DeltaQty:   m.DeltaQty,
			UnitCost:   m.UnitCost.StringFixed(2),
			Kind:       string(m.Kind),
		}
		if m.OrderID != nil {
			p.OrderID = *m.OrderID
		}
		s.publish(ctx, TopicStockMovement, m.ProductID, EventStockMovement, p)
	}
}
