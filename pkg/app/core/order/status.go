package order

import (
	"time"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
)

// Status is the lifecycle state of an order.
//
//	PendingAdmission -> Open -> PartiallyFilled* -> Filled
//	Open | PartiallyFilled -> Cancelled
//	PendingAdmission -> Rejected
type Status int8

const (
	PendingAdmission Status = iota
	Open
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case PendingAdmission:
		return "pending_admission"
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Filled, Cancelled and Rejected.
func (s Status) IsTerminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Cancellable returns true for states a cancel request may act on.
func (s Status) Cancellable() bool {
	return s == Open || s == PartiallyFilled
}

var transitions = map[Status][]Status{
	PendingAdmission: {Open, Rejected},
	Open:             {PartiallyFilled, Filled, Cancelled},
	PartiallyFilled:  {PartiallyFilled, Filled, Cancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (o *Order) transition(to Status) error {
	if !CanTransition(o.Status, to) {
		return errs.New(errs.InvalidTransition, "order.transition",
			"order %s: %s -> %s not allowed", o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}

// Admit moves a pending order to Open.
func (o *Order) Admit(at time.Time) error {
	if err := o.transition(Open); err != nil {
		return err
	}
	o.UpdatedAt = at
	return nil
}

// Reject moves a pending order to Rejected. Rejected orders never hold a
// reservation.
func (o *Order) Reject(at time.Time) error {
	if err := o.transition(Rejected); err != nil {
		return err
	}
	o.Reserved = 0
	o.UpdatedAt = at
	return nil
}

// Cancel moves an Open or PartiallyFilled order to Cancelled. The caller is
// responsible for releasing o.Reserved before clearing it.
func (o *Order) Cancel(at time.Time) error {
	if err := o.transition(Cancelled); err != nil {
		return err
	}
	o.UpdatedAt = at
	return nil
}
