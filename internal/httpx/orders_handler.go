package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/redisx"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 3 * time.Second
)

type OrderService interface {
	CreateOrder(ctx context.Context, cmd orders.CreateOrderCommand) (orders.CreateOrderResult, error)
	UpdateStatus(ctx context.Context, cmd orders.UpdateStatusCommand) (orders.UpdateStatusResult, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	ListRefunds(ctx context.Context, orderID string) ([]orders.Refund, error)
}

// OrderCache is satisfied by *redisx.OrderCache.
type OrderCache interface {
	RememberOrder(ctx context.Context, userID, key, orderID string) error
	LookupOrder(ctx context.Context, userID, key string) (string, bool, error)
	SetStatus(ctx context.Context, orderID string, e redisx.StatusEntry) (bool, error)
	GetStatus(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
}

type OrdersHandler struct {
	Orders       OrderService
	Cache        OrderCache // optional
	Log          *zap.Logger
	WriteTimeout time.Duration // default 5s; must cover every tx retry
}

type createOrderReq struct {
	UserID               string                 `json:"user_id"`
	Items                []orders.LineRequest   `json:"items"`
	ShippingAddress      orders.ShippingAddress `json:"shipping_address"`
	PaymentType          string                 `json:"payment_type"`
	PaymentMethodRef     *string                `json:"payment_method_ref"`
	TransactionID        string                 `json:"transaction_id"`
	PaymentScreenshotRef *string                `json:"payment_screenshot_ref"`
}

type updateStatusReq struct {
	Status string                `json:"status"`
	Refund *orders.RefundRequest `json:"refund"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Get("/orders/{id}/refunds", h.listRefunds)
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	paymentType, err := orders.ParsePaymentType(req.PaymentType)
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	ctx, cancel := context.WithTimeout(r.Context(), orDefault(h.WriteTimeout, writeTimeout))
	defer cancel()

	// Fast-path idempotency via Redis (optional, DB tetap jadi kebenaran)
	if idemKey != "" && h.Cache != nil {
		if orderID, ok, err := h.Cache.LookupOrder(ctx, strings.TrimSpace(req.UserID), idemKey); err == nil && ok {
			if o, err := h.Orders.GetOrder(ctx, orderID); err == nil {
				writeJSON(w, http.StatusOK, toOrderResp(o, true))
				return
			}
		} else if err != nil {
			h.log().Warn("idempotency cache lookup failed", zap.Error(err))
		}
	}

	res, err := h.Orders.CreateOrder(ctx, orders.CreateOrderCommand{
		UserID:               req.UserID,
		IdempotencyKey:       idemKey,
		Items:                req.Items,
		ShippingAddress:      req.ShippingAddress,
		PaymentType:          paymentType,
		PaymentMethodRef:     req.PaymentMethodRef,
		TransactionID:        req.TransactionID,
		PaymentScreenshotRef: req.PaymentScreenshotRef,
	})
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}

	if h.Cache != nil {
		if idemKey != "" {
			if err := h.Cache.RememberOrder(ctx, res.Order.UserID, idemKey, res.Order.ID); err != nil {
				h.log().Warn("idempotency cache write failed", zap.String("order_id", res.Order.ID), zap.Error(err))
			}
		}
		h.cacheStatus(ctx, res.Order)
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, toOrderResp(res.Order, res.Replayed))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o, false))
}

// getStatus serves the display status from the cache, falling back to the
// database on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	// 1) coba cache
	if h.Cache != nil {
		if e, ok, err := h.Cache.GetStatus(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, statusResp{OrderID: orderID, Status: e.Status, UpdatedAt: e.UpdatedAt, Source: "cache"})
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	if h.Cache != nil {
		h.cacheStatus(ctx, o)
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt, Source: "db"})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	target, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), orDefault(h.WriteTimeout, writeTimeout))
	defer cancel()

	res, err := h.Orders.UpdateStatus(ctx, orders.UpdateStatusCommand{
		OrderID: chi.URLParam(r, "id"),
		Target:  target,
		Refund:  req.Refund,
	})
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	if h.Cache != nil {
		h.cacheStatus(ctx, res.Order)
	}

	resp := statusChangeResp{
		Order:     toOrderResp(res.Order, false),
		From:      string(res.From),
		Restocked: toMovementResps(res.Movements),
	}
	if res.Refund != nil {
		rr := toRefundResp(*res.Refund)
		resp.Refund = &rr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	rs, err := h.Orders.ListRefunds(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	out := make([]refundResp, 0, len(rs))
	for _, rf := range rs {
		out = append(out, toRefundResp(rf))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if _, err := h.Cache.SetStatus(ctx, o.ID, redisx.StatusEntry{Status: string(o.Status), UpdatedAt: o.UpdatedAt}); err != nil {
		h.log().Warn("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
