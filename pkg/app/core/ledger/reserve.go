package ledger

import (
	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// Reserve takes o.Reserved from its owner's free balance: cash for a Buy,
// unencumbered shares for a Sell. o is the admitted order snapshot and is
// persisted with the reservation. Fails with InsufficientResource when the
// free balance is too low; no state changes.
func (l *Ledger) Reserve(o *order.Order) error {
	const op = "ledger.reserve"
	if o == nil || o.OwnerID == "" || o.InstrumentID == "" {
		return errs.New(errs.Validation, op, "order with owner and instrument is required")
	}
	if o.Reserved < 0 {
		return errs.New(errs.Validation, op, "reserve amount cannot be negative: %d", o.Reserved)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.newBatch(op)
	if o.Side == order.Buy {
		acc := b.account(o.OwnerID)
		if acc.Available < o.Reserved {
			return errs.New(errs.InsufficientResource, op,
				"insufficient balance: have %d, need %d", acc.Available, o.Reserved)
		}
		acc.Available -= o.Reserved
		acc.Reserved += o.Reserved
	} else {
		pos := b.position(o.OwnerID, o.InstrumentID)
		if pos.Unencumbered() < o.Reserved {
			return errs.New(errs.InsufficientResource, op,
				"insufficient holding of %s: unencumbered %d, need %d", o.InstrumentID, pos.Unencumbered(), o.Reserved)
		}
		pos.Reserved += o.Reserved
	}
	return b.commit(nil, []*order.Order{o})
}

// Release returns the reservation a terminal order no longer needs (cancel,
// Market remainder) and persists the order with the released balance.
// o.Reserved is zero afterwards.
func (l *Ledger) Release(o *order.Order) error {
	const op = "ledger.release"
	if o == nil {
		return errs.New(errs.Validation, op, "order is required")
	}
	if !o.IsTerminal() {
		return l.violation(op, "release of live order %s", o.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap := o.Clone()
	b := l.newBatch(op)
	if err := b.release(snap); err != nil {
		return err
	}
	if err := b.commit(nil, []*order.Order{snap}); err != nil {
		return err
	}
	o.Reserved = 0
	return nil
}
