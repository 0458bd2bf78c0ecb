package ledger

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// SettleTrade applies both legs of a trade atomically:
//
//	buyer:  reserved cash  -= price × qty, shares += qty (average cost re-weighted)
//	seller: reserved shares -= qty, shares -= qty, available cash += price × qty
//
// orders are the post-fill snapshots of the two orders the trade touched.
// They are persisted in the same batch; a snapshot the trade completes gives
// back whatever reservation it still holds (price improvement) and leaves
// with Reserved zero. Both owners are edited on scratch copies; nothing is
// visible until every check passes and the store has accepted the batch. A
// buyer who is also the seller nets to zero cash and shares while both
// reservations are consumed.
func (l *Ledger) SettleTrade(t *order.Trade, orders ...*order.Order) error {
	const op = "ledger.settle_trade"
	if t == nil || t.Quantity <= 0 || t.Price <= 0 {
		return l.violation(op, "malformed trade: %v", t)
	}
	notional := t.Notional()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.newBatch(op)

	// buyer leg
	buyerCash := b.account(t.BuyerID)
	if buyerCash.Reserved < notional {
		return l.violation(op, "buyer %s reserved cash %d below trade notional %d (trade %s)",
			t.BuyerID, buyerCash.Reserved, notional, t.ID)
	}
	buyerCash.Reserved -= notional

	// seller leg; checked before the buyer's shares land so a self-trade
	// cannot sell the shares it is buying
	sellerPos := b.position(t.SellerID, t.InstrumentID)
	if sellerPos.Reserved < t.Quantity || sellerPos.Quantity < t.Quantity {
		return l.violation(op, "seller %s reserved shares %d below trade quantity %d (trade %s)",
			t.SellerID, sellerPos.Reserved, t.Quantity, t.ID)
	}
	sellerPos.Reserved -= t.Quantity
	sellerPos.Quantity -= t.Quantity
	if sellerPos.Quantity == 0 {
		sellerPos.AverageCost = decimal.Zero
	}
	b.account(t.SellerID).Available += notional

	b.position(t.BuyerID, t.InstrumentID).buy(t.Quantity, t.Price)

	snaps := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		snap := o.Clone()
		if snap.IsTerminal() {
			if err := b.release(snap); err != nil {
				return err
			}
		}
		snaps = append(snaps, snap)
	}

	if err := b.commit(t, snaps); err != nil {
		return err
	}
	for i, o := range orders {
		o.Reserved = snaps[i].Reserved
	}

	l.log.Debug("trade_settled",
		zap.String("trade", t.ID),
		zap.String("instrument", t.InstrumentID),
		zap.String("buyer", t.BuyerID),
		zap.String("seller", t.SellerID),
		zap.Int64("price", t.Price),
		zap.Int64("qty", t.Quantity),
	)
	return nil
}
