package ledger

import (
	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// batch collects scratch copies of the balances one operation touches.
// Nothing is visible until commit succeeds. The ledger mutex must be held.
type batch struct {
	l         *Ledger
	op        string
	accounts  map[string]*CashAccount
	positions map[positionKey]*Position
}

func (l *Ledger) newBatch(op string) *batch {
	return &batch{
		l:         l,
		op:        op,
		accounts:  make(map[string]*CashAccount),
		positions: make(map[positionKey]*Position),
	}
}

func (b *batch) account(owner string) *CashAccount {
	if a, ok := b.accounts[owner]; ok {
		return a
	}
	a := b.l.accountLocked(owner)
	b.accounts[owner] = &a
	return &a
}

func (b *batch) position(owner, instrument string) *Position {
	k := keyOf(owner, instrument)
	if p, ok := b.positions[k]; ok {
		return p
	}
	p := b.l.positionLocked(owner, instrument)
	b.positions[k] = &p
	return &p
}

// release returns an order's unconsumed reservation to its owner and zeroes
// it on the snapshot
func (b *batch) release(o *order.Order) error {
	if o.Reserved == 0 {
		return nil
	}
	if o.Side == order.Buy {
		acc := b.account(o.OwnerID)
		if acc.Reserved < o.Reserved {
			return b.l.violation(b.op, "cannot release more than reserved for %s: reserved=%d, release=%d (order %s)",
				o.OwnerID, acc.Reserved, o.Reserved, o.ID)
		}
		acc.Reserved -= o.Reserved
		acc.Available += o.Reserved
	} else {
		pos := b.position(o.OwnerID, o.InstrumentID)
		if pos.Reserved < o.Reserved {
			return b.l.violation(b.op, "cannot release more than reserved for %s/%s: reserved=%d, release=%d (order %s)",
				o.OwnerID, o.InstrumentID, pos.Reserved, o.Reserved, o.ID)
		}
		pos.Reserved -= o.Reserved
	}
	o.Reserved = 0
	return nil
}

// commit validates every scratch copy, hands them to the store with the
// trade and orders, then makes them visible
func (b *batch) commit(t *order.Trade, orders []*order.Order) error {
	accList := make([]CashAccount, 0, len(b.accounts))
	for _, a := range b.accounts {
		if err := a.Validate(); err != nil {
			return b.l.violation(b.op, "%v", err)
		}
		accList = append(accList, *a)
	}
	posList := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		if err := p.Validate(); err != nil {
			return b.l.violation(b.op, "%v", err)
		}
		posList = append(posList, *p)
	}

	if b.l.store != nil {
		if err := b.l.store.CommitBatch(t, accList, posList, orders); err != nil {
			b.l.log.Error("batch_persist_failed", zap.String("op", b.op), zap.Error(err))
			return errs.Wrap(errs.InvariantViolation, b.op, err)
		}
	}

	for owner, a := range b.accounts {
		b.l.accounts[owner] = a
	}
	for k, p := range b.positions {
		b.l.positions[k] = p
	}
	return nil
}
