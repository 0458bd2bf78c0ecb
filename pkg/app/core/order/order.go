package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side a resting counterparty sits on.
func (s Side) Opposite() Side { return -s }

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, errs.New(errs.Validation, "order.parse_side", "unknown side %q", v)
}

type Kind int8

const (
	Limit Kind = iota + 1
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool { return k == Limit || k == Market }

// ParseKind accepts "limit"/"market" in any case.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(v) {
	case "limit":
		return Limit, nil
	case "market":
		return Market, nil
	}
	return 0, errs.New(errs.Validation, "order.parse_kind", "unknown order kind %q", v)
}

// Order is a request to buy or sell shares of one instrument.
// Prices are integer ticks, quantities whole shares.
type Order struct {
	ID           string
	InstrumentID string
	OwnerID      string
	Side         Side
	Kind         Kind
	LimitPrice   int64 // zero for Market orders
	Quantity     int64
	Filled       int64
	Status       Status

	SubmittedAt time.Time
	UpdatedAt   time.Time
	Sequence    uint64 // arrival order within the engine, ties broken on this

	// Reserved is the admission-time reservation not yet consumed by fills:
	// cash for a Buy, shares for a Sell. Released when the order terminates.
	Reserved int64
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// IsTerminal returns true once the order can no longer change.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Crosses reports whether this order, as a taker, may trade against a resting
// order priced at makerPrice. Market orders cross any price.
func (o *Order) Crosses(makerPrice int64) bool {
	if o.Kind == Market {
		return true
	}
	if o.Side == Buy {
		return o.LimitPrice >= makerPrice
	}
	return o.LimitPrice <= makerPrice
}

// Fill records an execution of qty shares and moves the order to
// PartiallyFilled or Filled.
func (o *Order) Fill(qty int64, at time.Time) error {
	if qty <= 0 || qty > o.Remaining() {
		return errs.New(errs.InvariantViolation, "order.fill",
			"order %s: fill %d outside remaining %d", o.ID, qty, o.Remaining())
	}
	next := PartiallyFilled
	if o.Filled+qty == o.Quantity {
		next = Filled
	}
	if err := o.transition(next); err != nil {
		return err
	}
	o.Filled += qty
	o.UpdatedAt = at
	return nil
}

// Clone returns a copy safe to hand to callers outside the matching path.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

func (o *Order) String() string {
	if o.Kind == Market {
		return fmt.Sprintf("%s[%s %s %s %d/%d %s]", o.ID, o.InstrumentID, o.Side, o.Kind, o.Filled, o.Quantity, o.Status)
	}
	return fmt.Sprintf("%s[%s %s %s %d/%d@%d %s]", o.ID, o.InstrumentID, o.Side, o.Kind, o.Filled, o.Quantity, o.LimitPrice, o.Status)
}
