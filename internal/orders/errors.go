package orders

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	// KindPersistence is an unexpected storage failure.
	KindPersistence Kind = iota
	// KindValidation means the input was malformed; retry with corrected input.
	KindValidation
	// KindNotFound means the referenced order or product does not exist.
	KindNotFound
	// KindConflict is a business rule violation; not retryable as-is.
	KindConflict
	// KindContention is a lock timeout or serialization conflict; safe to retry.
	KindContention
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindContention:
		return "contention"
	default:
		return "persistence"
	}
}

// Error is a typed failure with a machine readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidLineItems = newError(KindValidation, "invalid_line_items", "order: invalid line items")
	ErrInvalidInput     = newError(KindValidation, "invalid_input", "order: invalid input")
	ErrInvalidStatus    = newError(KindValidation, "invalid_status", "order: invalid status")
	ErrInvalidPayment   = newError(KindValidation, "invalid_payment_type", "order: invalid payment type")
	ErrPaymentRequired  = newError(KindValidation, "payment_info_required", "order: payment info required")
	ErrInvalidMovement  = newError(KindValidation, "invalid_movement", "stock: invalid movement")

	ErrOrderNotFound   = newError(KindNotFound, "order_not_found", "order: not found")
	ErrProductNotFound = newError(KindNotFound, "product_not_found", "product: not found")

	ErrInvalidTransition   = newError(KindConflict, "invalid_transition", "order: invalid status transition")
	ErrInsufficientStock   = newError(KindConflict, "insufficient_stock", "stock: insufficient")
	ErrProductUnavailable  = newError(KindConflict, "product_unavailable", "product: unavailable")
	ErrForeignPayment      = newError(KindConflict, "foreign_payment_method", "order: payment method belongs to another user")
	ErrRefundDataRequired  = newError(KindConflict, "refund_data_required", "refund: amount and reason required")
	ErrRefundOutOfRange    = newError(KindConflict, "refund_amount_out_of_range", "refund: amount out of range")
	ErrRefundNotApplicable = newError(KindConflict, "refund_not_applicable", "refund: not applicable to this order")

	ErrContention  = newError(KindContention, "contention", "order: concurrent update, retry")
	ErrPersistence = newError(KindPersistence, "persistence", "order: storage failure")
)

// errIdempotencyRace is returned by a Store when inserting an order loses a
// unique-key race on (user, idempotency key).
var errIdempotencyRace = errors.New("idempotency race")

// KindOf reports the kind of err. Errors that carry no *Error are treated as
// persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// CodeOf returns the machine code of err, or "persistence" when unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrPersistence.Code
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
