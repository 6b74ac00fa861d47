package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RefundRequest is the payload required to enter REFUNDED.
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// validate checks 0 < amount <= total in whole cents and a non-empty reason.
func (r *RefundRequest) validate(total decimal.Decimal) (RefundRequest, error) {
	if r == nil {
		return RefundRequest{}, ErrRefundDataRequired
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		return RefundRequest{}, fmt.Errorf("%w: reason is required", ErrRefundDataRequired)
	}
	if !fitsMoney(r.Amount) {
		return RefundRequest{}, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrRefundOutOfRange, r.Amount, moneyPlaces)
	}
	if !r.Amount.IsPositive() || r.Amount.GreaterThan(total) {
		return RefundRequest{}, fmt.Errorf("%w: amount %s not in (0, %s]", ErrRefundOutOfRange, r.Amount, total)
	}
	return RefundRequest{Amount: r.Amount, Reason: reason}, nil
}
