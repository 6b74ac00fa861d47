package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"quantity"`
}

type CreateOrderCommand struct {
	UserID               string
	IdempotencyKey       string
	Items                []LineRequest
	ShippingAddress      ShippingAddress
	PaymentType          PaymentType
	PaymentMethodRef     *string
	TransactionID        string
	PaymentScreenshotRef *string
}

type CreateOrderResult struct {
	Order     Order
	Movements []StockMovement
	Replayed  bool // true when the idempotency key matched an existing order
}

type UpdateStatusCommand struct {
	OrderID string
	Target  Status
	Refund  *RefundRequest
}

type UpdateStatusResult struct {
	Order     Order
	From      Status
	Refund    *Refund
	Movements []StockMovement
}

type StockMovementCommand struct {
	ProductID string
	DeltaQty  int
	UnitCost  decimal.Decimal
}

// Metrics receives counters for the core operations. All methods must be
// safe for concurrent use.
type Metrics interface {
	OrderCreated(paymentType string)
	OperationFailed(op, kind string)
	StatusChanged(from, to string)
	MovementRecorded(kind string, delta int)
}

type ServiceDeps struct {
	Store    Store
	Payments PaymentMethods
	Events   EventPublisher
	Metrics  Metrics
	Logger   *zap.Logger
	Clock    func() time.Time
	NewID    func() string
	Producer string // envelope producer name, e.g. "order-api"
}

// Service is the only entry point that creates orders, drives status
// transitions or writes to the stock ledger.
type Service struct {
	store    Store
	payments PaymentMethods
	events   EventPublisher
	metrics  Metrics
	log      *zap.Logger
	clock    func() time.Time
	newID    func() string
	producer string
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("order service: store is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment method lookup is required")
	}
	s := &Service{
		store:    deps.Store,
		payments: deps.Payments,
		events:   deps.Events,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		clock:    deps.Clock,
		newID:    deps.NewID,
		producer: deps.Producer,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.producer == "" {
		s.producer = "order-api"
	}
	return s, nil
}

// CreateOrder validates the request and, in one unit of work, checks stock
// against the ledger, writes the order with its lines and appends one SALE
// movement per line. No partial order is ever persisted.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	res, err := s.createOrder(ctx, cmd)
	if err != nil {
		s.failed("create_order", err, zap.String("user_id", cmd.UserID))
		return CreateOrderResult{}, err
	}
	if res.Replayed {
		s.log.Info("order create replayed",
			zap.String("order_id", res.Order.ID),
			zap.String("idempotency_key", cmd.IdempotencyKey))
		return res, nil
	}

	s.metrics.OrderCreated(string(res.Order.PaymentType))
	for _, m := range res.Movements {
		s.metrics.MovementRecorded(string(m.Kind), m.DeltaQty)
	}
	s.log.Info("order created",
		zap.String("order_id", res.Order.ID),
		zap.String("user_id", res.Order.UserID),
		zap.String("status", string(res.Order.Status)),
		zap.String("total_amount", res.Order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(res.Order.Items)))

	s.publishOrderCreated(ctx, res)
	return res, nil
}

func (s *Service) createOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if err := cmd.validate(); err != nil {
		return CreateOrderResult{}, err
	}
	if ref := trimmedRef(cmd.PaymentMethodRef); ref != "" {
		owns, err := s.payments.OwnsPaymentMethod(ctx, cmd.UserID, ref)
		if err != nil {
			return CreateOrderResult{}, persistence("verify payment method", err)
		}
		if !owns {
			return CreateOrderResult{}, fmt.Errorf("%w: %s", ErrForeignPayment, ref)
		}
	}

	now := s.now()
	order := Order{
		ID:                   s.newID(),
		UserID:               strings.TrimSpace(cmd.UserID),
		Status:               cmd.PaymentType.EntryStatus(),
		PaymentType:          cmd.PaymentType,
		PaymentMethodRef:     optionalRef(cmd.PaymentMethodRef),
		TransactionID:        strings.TrimSpace(cmd.TransactionID),
		PaymentScreenshotRef: optionalRef(cmd.PaymentScreenshotRef),
		IdempotencyKey:       optionalRef(&cmd.IdempotencyKey),
		ShippingAddress:      cmd.ShippingAddress,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	lineIDs := make([]string, len(cmd.Items))
	moveIDs := make([]string, len(cmd.Items))
	for i := range cmd.Items {
		lineIDs[i] = s.newID()
		moveIDs[i] = s.newID()
	}

	var res CreateOrderResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		res = CreateOrderResult{}

		if order.IdempotencyKey != nil {
			if err := tx.LockIdempotencyKey(ctx, order.UserID, *order.IdempotencyKey); err != nil {
				return err
			}
			existing, found, err := tx.FindByIdempotencyKey(ctx, order.UserID, *order.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				res = CreateOrderResult{Order: existing, Replayed: true}
				return nil
			}
		}

		ids, demand := demandByProduct(cmd.Items)
		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		// the original may have committed while we waited on the product locks
		if order.IdempotencyKey != nil {
			existing, found, err := tx.FindByIdempotencyKey(ctx, order.UserID, *order.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				res = CreateOrderResult{Order: existing, Replayed: true}
				return nil
			}
		}
		if err := checkAvailability(ctx, tx, products, ids, demand); err != nil {
			return err
		}

		placed := order
		placed.Items = make([]OrderItem, 0, len(cmd.Items))
		total := decimal.Zero
		for i, l := range cmd.Items {
			it := OrderItem{
				ID:               lineIDs[i],
				OrderID:          placed.ID,
				ProductID:        l.ProductID,
				Qty:              l.Qty,
				UnitPriceAtOrder: products[l.ProductID].UnitPrice,
			}
			total = total.Add(it.Subtotal())
			placed.Items = append(placed.Items, it)
		}
		if total.GreaterThanOrEqual(maxMoney) {
			return fmt.Errorf("%w: order total %s too large", ErrInvalidLineItems, total.StringFixed(moneyPlaces))
		}
		placed.TotalAmount = total

		if err := tx.InsertOrder(ctx, placed); err != nil {
			return err
		}
		movements := make([]StockMovement, 0, len(placed.Items))
		for i, it := range placed.Items {
			m := StockMovement{
				ID:        moveIDs[i],
				ProductID: it.ProductID,
				DeltaQty:  -it.Qty,
				UnitCost:  decimal.Zero,
				Kind:      MovementSale,
				OrderID:   &placed.ID,
				CreatedAt: now,
			}
			if err := tx.InsertMovement(ctx, m); err != nil {
				return err
			}
			movements = append(movements, m)
		}
		res = CreateOrderResult{Order: placed, Movements: movements}
		return nil
	})
	if errors.Is(err, errIdempotencyRace) {
		// another request with the same key committed first
		return s.replay(ctx, order.UserID, *order.IdempotencyKey)
	}
	if err != nil {
		return CreateOrderResult{}, persistence("create order", err)
	}
	return res, nil
}

func (s *Service) replay(ctx context.Context, userID, key string) (CreateOrderResult, error) {
	var res CreateOrderResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, found, err := tx.FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: idempotency key %q vanished", ErrContention, key)
		}
		res = CreateOrderResult{Order: existing, Replayed: true}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, persistence("replay order", err)
	}
	return res, nil
}

// UpdateStatus moves an order to cmd.Target. The status write, any refund
// row and any restorative movements commit together or not at all.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (UpdateStatusResult, error) {
	res, err := s.updateStatus(ctx, cmd)
	if err != nil {
		s.failed("update_status", err,
			zap.String("order_id", cmd.OrderID),
			zap.String("target", string(cmd.Target)))
		return UpdateStatusResult{}, err
	}

	s.metrics.StatusChanged(string(res.From), string(res.Order.Status))
	for _, m := range res.Movements {
		s.metrics.MovementRecorded(string(m.Kind), m.DeltaQty)
	}
	fields := []zap.Field{
		zap.String("order_id", res.Order.ID),
		zap.String("from", string(res.From)),
		zap.String("to", string(res.Order.Status)),
		zap.Int("restocked_lines", len(res.Movements)),
	}
	if res.Refund != nil {
		fields = append(fields, zap.String("refund_id", res.Refund.ID), zap.String("refund_amount", res.Refund.Amount.StringFixed(2)))
	}
	s.log.Info("order status changed", fields...)

	s.publishStatusChanged(ctx, res)
	return res, nil
}

func (s *Service) updateStatus(ctx context.Context, cmd UpdateStatusCommand) (UpdateStatusResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return UpdateStatusResult{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if _, ok := validNext[cmd.Target]; !ok {
		return UpdateStatusResult{}, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, cmd.Target)
	}

	refundID := s.newID()
	var res UpdateStatusResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		res = UpdateStatusResult{}

		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		plan, err := Transition(order, cmd.Target, cmd.Refund)
		if err != nil {
			return err
		}
		if err := refundPolicy(order, plan); err != nil {
			return err
		}

		now := s.now()
		var movements []StockMovement
		if len(plan.Restocks) > 0 {
			ids := make([]string, 0, len(plan.Restocks))
			for _, r := range plan.Restocks {
				ids = append(ids, r.ProductID)
			}
			if _, err := lockProducts(ctx, tx, ids); err != nil {
				return err
			}
			movements = make([]StockMovement, 0, len(plan.Restocks))
			for _, r := range plan.Restocks {
				m := StockMovement{
					ID:        s.newID(),
					ProductID: r.ProductID,
					DeltaQty:  r.Qty,
					UnitCost:  decimal.Zero,
					Kind:      r.Kind,
					OrderID:   &order.ID,
					CreatedAt: now,
				}
				if err := tx.InsertMovement(ctx, m); err != nil {
					return err
				}
				movements = append(movements, m)
			}
		}

		var refund *Refund
		if plan.Refund != nil {
			refund = &Refund{
				ID:        refundID,
				OrderID:   order.ID,
				Amount:    plan.Refund.Amount,
				Reason:    plan.Refund.Reason,
				CreatedAt: now,
			}
			if err := tx.InsertRefund(ctx, *refund); err != nil {
				return err
			}
		}

		order.Status = plan.To
		order.UpdatedAt = now
		if err := tx.UpdateOrderStatus(ctx, order); err != nil {
			return err
		}

		res = UpdateStatusResult{Order: order, From: plan.From, Refund: refund, Movements: movements}
		return nil
	})
	if err != nil {
		return UpdateStatusResult{}, persistence("update status", err)
	}
	return res, nil
}

// refundPolicy: a canceled cash-on-delivery order was never paid, so there
// is nothing to refund.
func refundPolicy(order Order, plan Plan) error {
	if plan.To == StatusRefunded && plan.From == StatusCanceled && order.PaymentType != PaymentOnlineTransfer {
		return fmt.Errorf("%w: canceled %s order", ErrRefundNotApplicable, order.PaymentType)
	}
	return nil
}

// RecordStockMovement appends a manual ledger entry: RESTOCK for positive
// deltas, ADJUSTMENT for negative ones.
func (s *Service) RecordStockMovement(ctx context.Context, cmd StockMovementCommand) (StockMovement, error) {
	m, err := s.recordStockMovement(ctx, cmd)
	if err != nil {
		s.failed("record_movement", err, zap.String("product_id", cmd.ProductID))
		return StockMovement{}, err
	}
	s.metrics.MovementRecorded(string(m.Kind), m.DeltaQty)
	s.log.Info("stock movement recorded",
		zap.String("movement_id", m.ID),
		zap.String("product_id", m.ProductID),
		zap.Int("delta", m.DeltaQty),
		zap.String("kind", string(m.Kind)))
	s.publishMovements(ctx, []StockMovement{m})
	return m, nil
}

func (s *Service) recordStockMovement(ctx context.Context, cmd StockMovementCommand) (StockMovement, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	switch {
	case productID == "":
		return StockMovement{}, fmt.Errorf("%w: product id is required", ErrInvalidMovement)
	case cmd.DeltaQty == 0:
		return StockMovement{}, fmt.Errorf("%w: delta quantity must not be zero", ErrInvalidMovement)
	case cmd.DeltaQty > maxQty || cmd.DeltaQty < -maxQty:
		return StockMovement{}, fmt.Errorf("%w: delta quantity beyond ±%d", ErrInvalidMovement, maxQty)
	case cmd.UnitCost.IsNegative():
		return StockMovement{}, fmt.Errorf("%w: unit cost must not be negative", ErrInvalidMovement)
	case !fitsMoney(cmd.UnitCost):
		return StockMovement{}, fmt.Errorf("%w: unit cost %s has more than %d decimal places", ErrInvalidMovement, cmd.UnitCost, moneyPlaces)
	}

	m := StockMovement{
		ID:        s.newID(),
		ProductID: productID,
		DeltaQty:  cmd.DeltaQty,
		UnitCost:  cmd.UnitCost,
		Kind:      MovementRestock,
	}
	if cmd.DeltaQty < 0 {
		m.Kind = MovementAdjustment
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if cmd.DeltaQty < 0 && !p.AllowSellWithoutStock {
			stock, err := tx.CurrentStock(ctx, productID)
			if err != nil {
				return err
			}
			if stock+cmd.DeltaQty < 0 {
				return fmt.Errorf("%w: product %s has %d, adjustment %d", ErrInsufficientStock, productID, stock, cmd.DeltaQty)
			}
		}
		m.CreatedAt = s.now()
		return tx.InsertMovement(ctx, m)
	})
	if err != nil {
		return StockMovement{}, persistence("record movement", err)
	}
	return m, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, s.readFailed("get_order", persistence("get order", err))
	}
	return o, nil
}

func (s *Service) ListRefunds(ctx context.Context, orderID string) ([]Refund, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	rs, err := s.store.ListRefunds(ctx, orderID)
	if err != nil {
		return nil, s.readFailed("list_refunds", persistence("list refunds", err))
	}
	return rs, nil
}

// CurrentStock is a point-in-time sum over the ledger; it is never cached.
func (s *Service) CurrentStock(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	n, err := s.store.CurrentStock(ctx, productID)
	if err != nil {
		return 0, s.readFailed("current_stock", persistence("current stock", err))
	}
	return n, nil
}

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]StockMovement, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultMovementLimit
	case limit > maxMovementLimit:
		limit = maxMovementLimit
	}
	ms, err := s.store.ListMovements(ctx, productID, limit)
	if err != nil {
		return nil, s.readFailed("list_movements", persistence("list movements", err))
	}
	return ms, nil
}

func (cmd CreateOrderCommand) validate() error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidLineItems)
	}
	for i, l := range cmd.Items {
		if strings.TrimSpace(l.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidLineItems, i)
		}
		if l.Qty <= 0 || l.Qty > maxQty {
			return fmt.Errorf("%w: item %d quantity must be between 1 and %d", ErrInvalidLineItems, i, maxQty)
		}
	}
	addr := cmd.ShippingAddress
	if strings.TrimSpace(addr.Name) == "" || strings.TrimSpace(addr.Address) == "" || strings.TrimSpace(addr.Phone) == "" {
		return fmt.Errorf("%w: shipping name, address and phone are required", ErrInvalidInput)
	}
	switch cmd.PaymentType {
	case PaymentCOD:
	case PaymentOnlineTransfer:
		if trimmedRef(cmd.PaymentMethodRef) == "" && strings.TrimSpace(cmd.TransactionID) == "" {
			return fmt.Errorf("%w: online transfer needs a payment method or transaction id", ErrPaymentRequired)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPayment, cmd.PaymentType)
	}
	return nil
}

func (s *Service) failed(op string, err error, fields ...zap.Field) {
	kind := KindOf(err)
	s.metrics.OperationFailed(op, kind.String())
	fields = append(fields, zap.String("op", op), zap.String("code", CodeOf(err)), zap.Error(err))
	switch kind {
	case KindPersistence:
		s.log.Error("order operation failed", fields...)
	case KindContention:
		s.log.Warn("order operation contended", fields...)
	default:
		s.log.Info("order operation rejected", fields...)
	}
}

func (s *Service) readFailed(op string, err error) error {
	if KindOf(err) == KindPersistence {
		s.failed(op, err)
	}
	return err
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func trimmedRef(ref *string) string {
	if ref == nil {
		return ""
	}
	return strings.TrimSpace(*ref)
}

func optionalRef(ref *string) *string {
	v := trimmedRef(ref)
	if v == "" {
		return nil
	}
	return &v
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated(string)           {}
func (noopMetrics) OperationFailed(string, string) {}
func (noopMetrics) StatusChanged(string, string)   {}
func (noopMetrics) MovementRecorded(string, int)   {}
