package order

import (
	"math"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
)

// Static admission failures. Balance and holding checks live in the ledger.
var (
	ErrMissingInstrument = errs.New(errs.Validation, "order.validate", "instrument id is required")
	ErrMissingOwner      = errs.New(errs.Validation, "order.validate", "owner id is required")
	ErrInvalidSide       = errs.New(errs.Validation, "order.validate", "side must be buy or sell")
	ErrInvalidKind       = errs.New(errs.Validation, "order.validate", "kind must be limit or market")
	ErrInvalidQuantity   = errs.New(errs.Validation, "order.validate", "quantity must be positive")
	ErrInvalidPrice      = errs.New(errs.Validation, "order.validate", "limit price must be positive")
	ErrMarketWithPrice   = errs.New(errs.Validation, "order.validate", "market orders carry no limit price")
	ErrNotionalOverflow  = errs.New(errs.Validation, "order.validate", "limit price x quantity overflows")
)

// Validate performs the input checks of admission. It has no side effects.
func Validate(o *Order) error {
	switch {
	case o.InstrumentID == "":
		return ErrMissingInstrument
	case o.OwnerID == "":
		return ErrMissingOwner
	case !o.Side.Valid():
		return ErrInvalidSide
	case !o.Kind.Valid():
		return ErrInvalidKind
	case o.Quantity <= 0:
		return ErrInvalidQuantity
	}

	if o.Kind == Market {
		if o.LimitPrice != 0 {
			return ErrMarketWithPrice
		}
		return nil
	}
	if o.LimitPrice <= 0 {
		return ErrInvalidPrice
	}
	if o.LimitPrice > math.MaxInt64/o.Quantity {
		return ErrNotionalOverflow
	}
	return nil
}
