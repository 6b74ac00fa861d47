package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusOnHold     Status = "ON_HOLD"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCanceled   Status = "CANCELED"
	StatusReturned   Status = "RETURNED"
	StatusRefunded   Status = "REFUNDED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusOnHold,
	StatusShipped,
	StatusDelivered,
	StatusCanceled,
	StatusReturned,
	StatusRefunded,
}

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusOnHold: true, StatusCanceled: true},
	StatusProcessing: {StatusShipped: true, StatusOnHold: true, StatusCanceled: true},
	StatusOnHold:     {StatusProcessing: true, StatusCanceled: true},
	StatusShipped:    {StatusDelivered: true, StatusReturned: true},
	StatusDelivered:  {StatusReturned: true, StatusRefunded: true},
	StatusCanceled:   {StatusRefunded: true},
	StatusReturned:   {StatusRefunded: true},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusRefunded:
		return true
	case StatusPending, StatusProcessing, StatusOnHold, StatusShipped,
		StatusDelivered, StatusCanceled, StatusReturned:
		return false
	default:
		panic(fmt.Sprintf("orders: unknown status %q", string(s)))
	}
}

type PaymentType string

const (
	PaymentCOD            PaymentType = "COD"
	PaymentOnlineTransfer PaymentType = "ONLINE_TRANSFER"
)

func ParsePaymentType(s string) (PaymentType, error) {
	switch pt := PaymentType(strings.ToUpper(strings.TrimSpace(s))); pt {
	case PaymentCOD, PaymentOnlineTransfer:
		return pt, nil
	default:
		return "", fmt.Errorf("%w: unknown payment type %q", ErrInvalidPayment, s)
	}
}

// EntryStatus is where a freshly created order starts. Online transfers wait
// for verification in PENDING.
func (p PaymentType) EntryStatus() Status {
	switch p {
	case PaymentCOD:
		return StatusProcessing
	case PaymentOnlineTransfer:
		return StatusPending
	default:
		panic(fmt.Sprintf("orders: unknown payment type %q", string(p)))
	}
}
