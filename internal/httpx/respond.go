package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
)

const maxBodyBytes = 1 << 20

type errorResp struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind orders.Kind) int {
	switch kind {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindConflict:
		return http.StatusConflict
	case orders.KindContention:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps the error kind to a status code. Persistence failures are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := orders.KindOf(err)
	body := errorResp{
		Error:     orders.CodeOf(err),
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	switch kind {
	case orders.KindContention:
		w.Header().Set("Retry-After", "1")
	case orders.KindPersistence:
		log.Error("request failed",
			zap.String("request_id", body.RequestID),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		body.Message = "internal error"
	}
	writeJSON(w, statusFor(kind), body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body larger than %d bytes", orders.ErrInvalidInput, maxErr.Limit)
		}
		return fmt.Errorf("%w: invalid json: %v", orders.ErrInvalidInput, err)
	}
	return nil
}
