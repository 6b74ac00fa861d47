package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
)

type StockService interface {
	RecordStockMovement(ctx context.Context, cmd orders.StockMovementCommand) (orders.StockMovement, error)
	CurrentStock(ctx context.Context, productID string) (int, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]orders.StockMovement, error)
}

type StockHandler struct {
	Stock        StockService
	Log          *zap.Logger
	WriteTimeout time.Duration
}

type movementReq struct {
	ProductID     string          `json:"product_id"`
	DeltaQuantity int             `json:"delta_quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
}

func (h *StockHandler) Register(r chi.Router) {
	r.Post("/stock/movements", h.recordMovement)
	r.Get("/products/{id}/stock", h.currentStock)
	r.Get("/products/{id}/movements", h.listMovements)
}

func (h *StockHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *StockHandler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), orDefault(h.WriteTimeout, writeTimeout))
	defer cancel()

	m, err := h.Stock.RecordStockMovement(ctx, orders.StockMovementCommand{
		ProductID: req.ProductID,
		DeltaQty:  req.DeltaQuantity,
		UnitCost:  req.UnitCost,
	})
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementResp(m))
}

func (h *StockHandler) currentStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	productID := chi.URLParam(r, "id")
	n, err := h.Stock.CurrentStock(ctx, productID)
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{ProductID: productID, Quantity: n})
}

func (h *StockHandler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, h.log(), orders.ErrInvalidInput)
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()

	ms, err := h.Stock.ListMovements(ctx, chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementResps(ms))
}
