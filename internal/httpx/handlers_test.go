package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/metrics"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/redisx"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func sampleOrder(id string, status orders.Status) orders.Order {
	return orders.Order{
		ID:          id,
		UserID:      "alice",
		Status:      status,
		PaymentType: orders.PaymentCOD,
		TotalAmount: decimal.RequireFromString("15"),
		ShippingAddress: orders.ShippingAddress{
			Name: "Alice", Address: "1 Main St", Phone: "555-0100",
		},
		Items: []orders.OrderItem{
			{ID: "i-1", OrderID: id, ProductID: "p-mug", Qty: 2, UnitPriceAtOrder: decimal.RequireFromString("7.5")},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

type fakeOrders struct {
	createCmd orders.CreateOrderCommand
	createRes orders.CreateOrderResult
	createErr error
	creates   int

	updateCmd orders.UpdateStatusCommand
	updateRes orders.UpdateStatusResult
	updateErr error

	byID    map[string]orders.Order
	refunds []orders.Refund
	gets    int
}

func (f *fakeOrders) CreateOrder(_ context.Context, cmd orders.CreateOrderCommand) (orders.CreateOrderResult, error) {
	f.creates++
	f.createCmd = cmd
	return f.createRes, f.createErr
}

func (f *fakeOrders) UpdateStatus(_ context.Context, cmd orders.UpdateStatusCommand) (orders.UpdateStatusResult, error) {
	f.updateCmd = cmd
	return f.updateRes, f.updateErr
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (orders.Order, error) {
	f.gets++
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return o, nil
}

func (f *fakeOrders) ListRefunds(_ context.Context, id string) ([]orders.Refund, error) {
	if _, ok := f.byID[id]; !ok {
		return nil, orders.ErrOrderNotFound
	}
	return f.refunds, nil
}

type fakeCache struct {
	idem     map[string]string
	statuses map[string]redisx.StatusEntry
	lookErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{idem: map[string]string{}, statuses: map[string]redisx.StatusEntry{}}
}

func (c *fakeCache) RememberOrder(_ context.Context, userID, key, orderID string) error {
	c.idem[userID+"/"+key] = orderID
	return nil
}

func (c *fakeCache) LookupOrder(_ context.Context, userID, key string) (string, bool, error) {
	if c.lookErr != nil {
		return "", false, c.lookErr
	}
	id, ok := c.idem[userID+"/"+key]
	return id, ok, nil
}

func (c *fakeCache) SetStatus(_ context.Context, orderID string, e redisx.StatusEntry) (bool, error) {
	c.statuses[orderID] = e
	return true, nil
}

func (c *fakeCache) GetStatus(_ context.Context, orderID string) (redisx.StatusEntry, bool, error) {
	e, ok := c.statuses[orderID]
	return e, ok, nil
}

type fakeStock struct {
	cmd       orders.StockMovementCommand
	recordErr error
	stock     map[string]int
	limit     int
}

func (f *fakeStock) RecordStockMovement(_ context.Context, cmd orders.StockMovementCommand) (orders.StockMovement, error) {
	f.cmd = cmd
	if f.recordErr != nil {
		return orders.StockMovement{}, f.recordErr
	}
	return orders.StockMovement{ID: "m-1", ProductID: cmd.ProductID, DeltaQty: cmd.DeltaQty, UnitCost: cmd.UnitCost, Kind: orders.MovementRestock, CreatedAt: t0}, nil
}

func (f *fakeStock) CurrentStock(_ context.Context, productID string) (int, error) {
	n, ok := f.stock[productID]
	if !ok {
		return 0, orders.ErrProductNotFound
	}
	return n, nil
}

func (f *fakeStock) ListMovements(_ context.Context, productID string, limit int) ([]orders.StockMovement, error) {
	f.limit = limit
	return []orders.StockMovement{{ID: "m-9", ProductID: productID, DeltaQty: -1, UnitCost: decimal.Zero, Kind: orders.MovementSale, CreatedAt: t0}}, nil
}

type testServer struct {
	mux    *chi.Mux
	orders *fakeOrders
	cache  *fakeCache
	stock  *fakeStock
	logs   *observer.ObservedLogs
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)
	reg := prometheus.NewRegistry()

	ts := &testServer{
		orders: &fakeOrders{byID: map[string]orders.Order{}},
		cache:  newFakeCache(),
		stock:  &fakeStock{stock: map[string]int{"p-mug": 8}},
		logs:   logs,
		reg:    reg,
	}
	ts.mux = NewRouter(RouterDeps{Logger: log, Metrics: metrics.New("api", reg), Gatherer: reg, Timeout: time.Second})
	(&OrdersHandler{Orders: ts.orders, Cache: ts.cache, Log: log}).Register(ts.mux)
	(&StockHandler{Stock: ts.stock, Log: log}).Register(ts.mux)
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const createBody = `{
	"user_id": "alice",
	"items": [{"product_id": "p-mug", "quantity": 2}],
	"shipping_address": {"name": "Alice", "address": "1 Main St", "phone": "555-0100"},
	"payment_type": "cod"
}`

func TestCreateOrderReturns201(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.createRes = orders.CreateOrderResult{Order: sampleOrder("o-1", orders.StatusProcessing)}

	rec := ts.do(http.MethodPost, "/orders", createBody, "Idempotency-Key", " key-1 ")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[orderResp](t, rec)
	assert.Equal(t, "o-1", body.ID)
	assert.Equal(t, "15.00", body.TotalAmount)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "7.50", body.Items[0].UnitPrice)
	assert.Equal(t, "15.00", body.Items[0].Subtotal)
	assert.False(t, body.Idempotent)

	cmd := ts.orders.createCmd
	assert.Equal(t, "key-1", cmd.IdempotencyKey)
	assert.Equal(t, orders.PaymentCOD, cmd.PaymentType)
	assert.Equal(t, []orders.LineRequest{{ProductID: "p-mug", Qty: 2}}, cmd.Items)

	assert.Equal(t, "o-1", ts.cache.idem["alice/key-1"])
	assert.Equal(t, "PROCESSING", ts.cache.statuses["o-1"].Status)
}

func TestCreateOrderReplayReturns200(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.createRes = orders.CreateOrderResult{Order: sampleOrder("o-1", orders.StatusProcessing), Replayed: true}

	rec := ts.do(http.MethodPost, "/orders", createBody, "Idempotency-Key", "key-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[orderResp](t, rec).Idempotent)
}

func TestCreateOrderCacheFastPath(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.byID["o-7"] = sampleOrder("o-7", orders.StatusShipped)
	ts.cache.idem["alice/key-7"] = "o-7"

	rec := ts.do(http.MethodPost, "/orders", createBody, "Idempotency-Key", "key-7")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[orderResp](t, rec)
	assert.Equal(t, "o-7", body.ID)
	assert.True(t, body.Idempotent)
	assert.Zero(t, ts.orders.creates)
}

func TestCreateOrderFallsBackWhenCacheFails(t *testing.T) {
	ts := newTestServer(t)
	ts.cache.lookErr = errors.New("redis: connection refused")
	ts.orders.createRes = orders.CreateOrderResult{Order: sampleOrder("o-2", orders.StatusProcessing)}

	rec := ts.do(http.MethodPost, "/orders", createBody, "Idempotency-Key", "key-2")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, ts.orders.creates)
	assert.Equal(t, 1, ts.logs.FilterMessage("idempotency cache lookup failed").Len())
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/orders", `{"user_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorResp](t, rec).Error)

	rec = ts.do(http.MethodPost, "/orders", `{"user_id":"alice","payment_type":"CARD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payment_type", decode[errorResp](t, rec).Error)

	big := `{"user_id":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec = ts.do(http.MethodPost, "/orders", big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ts.orders.creates)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: item 0", orders.ErrInvalidLineItems), http.StatusBadRequest, "invalid_line_items"},
		{orders.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
		{fmt.Errorf("%w: p-1", orders.ErrInsufficientStock), http.StatusConflict, "insufficient_stock"},
		{orders.ErrForeignPayment, http.StatusConflict, "foreign_payment_method"},
		{orders.ErrContention, http.StatusServiceUnavailable, "contention"},
		{errors.New("pq: connection lost"), http.StatusInternalServerError, "persistence"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			ts := newTestServer(t)
			ts.orders.createErr = tc.err

			rec := ts.do(http.MethodPost, "/orders", createBody, "X-Request-Id", "req-42")
			require.Equal(t, tc.status, rec.Code)
			body := decode[errorResp](t, rec)
			assert.Equal(t, tc.code, body.Error)
			assert.Equal(t, "req-42", body.RequestID)

			switch tc.status {
			case http.StatusServiceUnavailable:
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			case http.StatusInternalServerError:
				assert.Equal(t, "internal error", body.Message)
				assert.Equal(t, 1, ts.logs.FilterMessage("request failed").Len())
			default:
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestGetOrderAndRefunds(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.byID["o-1"] = sampleOrder("o-1", orders.StatusRefunded)
	ts.orders.refunds = []orders.Refund{{ID: "r-1", OrderID: "o-1", Amount: decimal.RequireFromString("10"), Reason: "damaged", CreatedAt: t0}}

	rec := ts.do(http.MethodGet, "/orders/o-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "REFUNDED", decode[orderResp](t, rec).Status)

	rec = ts.do(http.MethodGet, "/orders/o-1/refunds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	refunds := decode[[]refundResp](t, rec)
	require.Len(t, refunds, 1)
	assert.Equal(t, "10.00", refunds[0].Amount)

	rec = ts.do(http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodGet, "/orders/missing/refunds", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatusPrefersCache(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.byID["o-1"] = sampleOrder("o-1", orders.StatusProcessing)

	rec := ts.do(http.MethodGet, "/orders/o-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[statusResp](t, rec)
	assert.Equal(t, "db", first.Source)
	assert.Equal(t, "PROCESSING", first.Status)
	assert.Equal(t, 1, ts.orders.gets)

	rec = ts.do(http.MethodGet, "/orders/o-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[statusResp](t, rec)
	assert.Equal(t, "cache", second.Source)
	assert.True(t, second.UpdatedAt.Equal(t0))
	assert.Equal(t, 1, ts.orders.gets, "served without touching the database")
}

func TestUpdateStatus(t *testing.T) {
	ts := newTestServer(t)
	o := sampleOrder("o-1", orders.StatusRefunded)
	o.UpdatedAt = t0.Add(time.Minute)
	orderID := o.ID
	ts.orders.updateRes = orders.UpdateStatusResult{
		Order:  o,
		From:   orders.StatusDelivered,
		Refund: &orders.Refund{ID: "r-1", OrderID: "o-1", Amount: decimal.RequireFromString("15"), Reason: "broken", CreatedAt: o.UpdatedAt},
		Movements: []orders.StockMovement{
			{ID: "m-2", ProductID: "p-mug", DeltaQty: 2, UnitCost: decimal.Zero, Kind: orders.MovementRefund, OrderID: &orderID, CreatedAt: o.UpdatedAt},
		},
	}

	rec := ts.do(http.MethodPatch, "/orders/o-1/status", `{"status":"refunded","refund":{"amount":"15.00","reason":"broken"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cmd := ts.orders.updateCmd
	assert.Equal(t, "o-1", cmd.OrderID)
	assert.Equal(t, orders.StatusRefunded, cmd.Target)
	require.NotNil(t, cmd.Refund)
	assert.True(t, decimal.RequireFromString("15").Equal(cmd.Refund.Amount))

	body := decode[statusChangeResp](t, rec)
	assert.Equal(t, "DELIVERED", body.From)
	assert.Equal(t, "REFUNDED", body.Order.Status)
	require.NotNil(t, body.Refund)
	assert.Equal(t, "15.00", body.Refund.Amount)
	require.Len(t, body.Restocked, 1)
	assert.Equal(t, "REFUND", body.Restocked[0].Kind)

	assert.Equal(t, "REFUNDED", ts.cache.statuses["o-1"].Status)
}

func TestUpdateStatusErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPatch, "/orders/o-1/status", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_status", decode[errorResp](t, rec).Error)

	ts.orders.updateErr = fmt.Errorf("%w: PROCESSING -> DELIVERED", orders.ErrInvalidTransition)
	rec = ts.do(http.MethodPatch, "/orders/o-1/status", `{"status":"DELIVERED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorResp](t, rec).Error)
	assert.Empty(t, ts.cache.statuses)
}

func TestStockEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/stock/movements", `{"product_id":"p-mug","delta_quantity":12,"unit_cost":"3.25"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	mv := decode[movementResp](t, rec)
	assert.Equal(t, "RESTOCK", mv.Kind)
	assert.Equal(t, "3.25", mv.UnitCost)
	assert.Equal(t, 12, ts.stock.cmd.DeltaQty)

	ts.stock.recordErr = orders.ErrInsufficientStock
	rec = ts.do(http.MethodPost, "/stock/movements", `{"product_id":"p-mug","delta_quantity":-99}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/products/p-mug/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stockResp{ProductID: "p-mug", Quantity: 8}, decode[stockResp](t, rec))

	rec = ts.do(http.MethodGet, "/products/p-ghost/stock", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/products/p-mug/movements?limit=25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, ts.stock.limit)
	assert.Len(t, decode[[]movementResp](t, rec), 1)

	rec = ts.do(http.MethodGet, "/products/p-mug/movements?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orders_api_http_requests_total{handler="GET /healthz",status="200"} 1`)
}
