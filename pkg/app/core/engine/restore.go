package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/app/core/order"
	"github.com/uhyunpark/stockex/pkg/app/core/orderbook"
)

// Restore rebuilds books from persisted orders and recent trades. Resting
// Limit orders are re-inserted in sequence order; an order caught mid-flight
// (any Market order, or a Limit that still crosses the book) is cancelled
// and its reservation released. Terminal orders are skipped; they are served
// from the Journal. The sequencer resumes after the highest sequence seen.
// Call before serving traffic.
func (e *Engine) Restore(orders []*order.Order, trades []order.Trade) error {
	sort.Slice(orders, func(i, j int) bool { return orders[i].Sequence < orders[j].Sequence })
	sort.Slice(trades, func(i, j int) bool { return trades[i].Sequence < trades[j].Sequence })

	var maxSeq uint64
	resting := 0
	for _, o := range orders {
		maxSeq = max(maxSeq, o.Sequence)
		b, err := e.bookFor(o.InstrumentID)
		if err != nil {
			return fmt.Errorf("restore order %s: %w", o.ID, err)
		}
		if err := e.restoreOrder(b, o); err != nil {
			return fmt.Errorf("restore order %s: %w", o.ID, err)
		}
		if o.Status.Cancellable() {
			resting++
		}
	}

	for _, t := range trades {
		maxSeq = max(maxSeq, t.Sequence)
		b, err := e.bookFor(t.InstrumentID)
		if err != nil {
			return fmt.Errorf("restore trade %s: %w", t.ID, err)
		}
		b.mu.Lock()
		b.recordTrade(t, e.cfg.TradeHistory)
		b.mu.Unlock()
		b.inst.SetLastTradePrice(t.Price)
	}

	e.seq.Advance(maxSeq)
	e.log.Info("engine_restored",
		zap.Int("orders", len(orders)),
		zap.Int("resting", resting),
		zap.Int("trades", len(trades)),
		zap.Uint64("sequence", maxSeq),
	)
	return nil
}

func (e *Engine) restoreOrder(b *book, o *order.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// finished orders stay in the journal
	if !o.Status.Cancellable() {
		return nil
	}
	e.track(o, b)
	// orders restore in sequence order, so a Limit that crosses what is
	// already resting was cut off mid-match
	if o.Kind == order.Limit {
		best := b.ob.PeekBest(o.Side.Opposite())
		if best == nil || !o.Crosses(best.LimitPrice) {
			return b.ob.Insert(o)
		}
	}

	e.log.Warn("restore_cancel_inflight", zap.String("order", o.ID), zap.String("instrument", o.InstrumentID),
		zap.Stringer("kind", o.Kind), zap.Int64("filled", o.Filled))
	if err := e.cancel(o); err != nil {
		return err
	}
	e.retire(b, o)
	return nil
}

// Digest hashes an instrument's resting book for recovery checks.
//
// Components hashed (in order):
//  1. Instrument id
//  2. Bid levels, price then remaining qty, high to low
//  3. Ask levels, price then remaining qty, low to high
func (e *Engine) Digest(instrument string) ([32]byte, error) {
	d, err := e.Depth(instrument, 0)
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write([]byte(instrument))

	var buf [8]byte
	for _, side := range [][]orderbook.PriceLevel{d.Bids, d.Asks} {
		for _, l := range side {
			binary.BigEndian.PutUint64(buf[:], uint64(l.Price))
			h.Write(buf[:])
			binary.BigEndian.PutUint64(buf[:], uint64(l.Qty))
			h.Write(buf[:])
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
