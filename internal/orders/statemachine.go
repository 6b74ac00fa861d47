package orders

import "fmt"

// Restock is one restorative ledger credit planned by a transition.
type Restock struct {
	ProductID string
	Qty       int
	Kind      MovementKind
}

// Plan is the outcome of a validated transition: the new status plus every
// side effect that has to be committed together with it.
type Plan struct {
	From     Status
	To       Status
	Refund   *RefundRequest
	Restocks []Restock
}

// Transition decides whether order may move to target and which ledger and
// refund effects that implies. It performs no I/O.
func Transition(order Order, target Status, refund *RefundRequest) (Plan, error) {
	from := order.Status
	if !CanTransition(from, target) {
		return Plan{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	plan := Plan{From: from, To: target}

	if target == StatusRefunded {
		r, err := refund.validate(order.TotalAmount)
		if err != nil {
			return Plan{}, err
		}
		plan.Refund = &r
	}

	if kind, ok := restoresStock(from, target); ok {
		plan.Restocks = make([]Restock, 0, len(order.Items))
		for _, it := range order.Items {
			plan.Restocks = append(plan.Restocks, Restock{ProductID: it.ProductID, Qty: it.Qty, Kind: kind})
		}
	}
	return plan, nil
}

// restoresStock reports whether the edge from -> to puts the order's units
// back into saleable inventory. CANCELED and RETURNED already credited the
// ledger on entry, so leaving them for REFUNDED must not credit again.
func restoresStock(from, to Status) (MovementKind, bool) {
	switch to {
	case StatusCanceled:
		return MovementCancellation, true
	case StatusReturned:
		return MovementReturn, true
	case StatusRefunded:
		switch from {
		case StatusDelivered:
			return MovementRefund, true
		case StatusCanceled, StatusReturned:
			return "", false
		default:
			panic(fmt.Sprintf("orders: unexpected refund edge %s -> %s", from, to))
		}
	case StatusPending, StatusProcessing, StatusOnHold, StatusShipped, StatusDelivered:
		return "", false
	default:
		panic(fmt.Sprintf("orders: unknown status %q", string(to)))
	}
}
