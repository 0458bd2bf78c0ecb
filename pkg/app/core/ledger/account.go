package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CashAccount tracks one owner's cash in integer ticks.
// Reserved is encumbered by open Buy orders; Available is free to spend.
type CashAccount struct {
	OwnerID   string
	Available int64
	Reserved  int64
}

// Total returns available plus reserved cash
func (a CashAccount) Total() int64 {
	return a.Available + a.Reserved
}

// Validate checks account invariants
func (a CashAccount) Validate() error {
	if a.Available < 0 {
		return fmt.Errorf("negative available balance for %s: %d", a.OwnerID, a.Available)
	}
	if a.Reserved < 0 {
		return fmt.Errorf("negative reserved balance for %s: %d", a.OwnerID, a.Reserved)
	}
	return nil
}

// Position is one owner's holding of one instrument.
type Position struct {
	OwnerID      string
	InstrumentID string

	// Quantity is the number of shares held, including Reserved.
	Quantity int64

	// Reserved shares back open Sell orders and cannot be sold twice.
	Reserved int64

	// Weighted average cost per share in ticks.
	// Updated on each buy: newAvg = (oldQty × oldAvg + qty × price) / (oldQty + qty)
	AverageCost decimal.Decimal
}

// Unencumbered returns the shares free to back a new Sell order
func (p Position) Unencumbered() int64 {
	return p.Quantity - p.Reserved
}

// CostBasis returns quantity × average cost
func (p Position) CostBasis() decimal.Decimal {
	return p.AverageCost.Mul(decimal.NewFromInt(p.Quantity))
}

// Validate checks position invariants
func (p Position) Validate() error {
	if p.Quantity < 0 {
		return fmt.Errorf("negative quantity for %s/%s: %d", p.OwnerID, p.InstrumentID, p.Quantity)
	}
	if p.Reserved < 0 || p.Reserved > p.Quantity {
		return fmt.Errorf("reserved %d outside [0, %d] for %s/%s", p.Reserved, p.Quantity, p.OwnerID, p.InstrumentID)
	}
	return nil
}

// buy adds qty shares bought at price, re-weighting the average cost
func (p *Position) buy(qty, price int64) {
	if p.Quantity == 0 {
		p.AverageCost = decimal.NewFromInt(price)
		p.Quantity = qty
		return
	}
	oldQty := decimal.NewFromInt(p.Quantity)
	addQty := decimal.NewFromInt(qty)
	total := p.AverageCost.Mul(oldQty).Add(addQty.Mul(decimal.NewFromInt(price)))
	p.Quantity += qty
	p.AverageCost = total.Div(decimal.NewFromInt(p.Quantity))
}

type positionKey struct {
	owner      string
	instrument string
}

func keyOf(owner, instrument string) positionKey {
	return positionKey{owner: owner, instrument: instrument}
}
