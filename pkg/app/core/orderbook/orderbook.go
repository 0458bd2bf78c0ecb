// Package orderbook keeps one instrument's resting orders in price-time
// priority. It is not synchronized: the engine serializes every call for an
// instrument.
package orderbook

import (
	"container/list"

	"github.com/google/btree"

	"github.com/uhyunpark/stockex/pkg/app/core/errs"
	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

const btreeDegree = 16

// PriceLevel is the aggregated view of one price on one side
type PriceLevel struct {
	Price  int64
	Qty    int64 // total remaining qty at this price level
	Orders int
}

type entry struct {
	level *priceLevel
	elem  *list.Element
	side  order.Side
}

type OrderBook struct {
	instrument string

	// Price levels ordered best-first; Min() is always the best price
	bids *btree.BTreeG[*priceLevel]
	asks *btree.BTreeG[*priceLevel]

	// Order index for O(1) cancellation
	index map[string]entry
}

func New(instrument string) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		bids:       btree.NewG(btreeDegree, bidLess),
		asks:       btree.NewG(btreeDegree, askLess),
		index:      make(map[string]entry),
	}
}

func (ob *OrderBook) Instrument() string { return ob.instrument }

func (ob *OrderBook) side(s order.Side) *btree.BTreeG[*priceLevel] {
	if s == order.Buy {
		return ob.bids
	}
	return ob.asks
}

// Insert rests a Limit order with remaining quantity at the back of its
// price level.
func (ob *OrderBook) Insert(o *order.Order) error {
	if o.Kind != order.Limit || o.LimitPrice <= 0 {
		return errs.New(errs.InvariantViolation, "orderbook.insert", "order %s cannot rest: %s", o.ID, o)
	}
	if o.Remaining() <= 0 || o.IsTerminal() {
		return errs.New(errs.InvariantViolation, "orderbook.insert", "order %s has nothing to rest: %s", o.ID, o)
	}
	if o.InstrumentID != ob.instrument {
		return errs.New(errs.InvariantViolation, "orderbook.insert",
			"order %s for %s inserted into %s book", o.ID, o.InstrumentID, ob.instrument)
	}
	if _, dup := ob.index[o.ID]; dup {
		return errs.New(errs.InvariantViolation, "orderbook.insert", "order %s already resting", o.ID)
	}

	tree := ob.side(o.Side)
	level, ok := tree.Get(&priceLevel{price: o.LimitPrice})
	if !ok {
		level = newPriceLevel(o.LimitPrice)
		tree.ReplaceOrInsert(level)
	}
	ob.index[o.ID] = entry{level: level, elem: level.push(o), side: o.Side}
	return nil
}

// PeekBest returns the highest-priority resting order on a side, or nil
func (ob *OrderBook) PeekBest(s order.Side) *order.Order {
	level, ok := ob.side(s).Min()
	if !ok {
		return nil
	}
	return level.front()
}

// Remove takes an order out of the book. Empty price levels are dropped.
func (ob *OrderBook) Remove(id string) (*order.Order, bool) {
	e, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	o := e.level.orders.Remove(e.elem).(*order.Order)
	if e.level.orders.Len() == 0 {
		ob.side(e.side).Delete(e.level)
	}
	delete(ob.index, id)
	return o, true
}

// Get returns a resting order by id
func (ob *OrderBook) Get(id string) (*order.Order, bool) {
	e, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	return e.elem.Value.(*order.Order), true
}

// BestBid returns the highest bid price
func (ob *OrderBook) BestBid() (int64, bool) {
	level, ok := ob.bids.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}

// BestAsk returns the lowest ask price
func (ob *OrderBook) BestAsk() (int64, bool) {
	level, ok := ob.asks.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}

// Len returns the number of resting orders on both sides
func (ob *OrderBook) Len() int { return len(ob.index) }

// Depth returns up to n aggregated levels of a side, best price first.
// n <= 0 returns every level.
func (ob *OrderBook) Depth(s order.Side, n int) []PriceLevel {
	levels := make([]PriceLevel, 0)
	ob.side(s).Ascend(func(l *priceLevel) bool {
		levels = append(levels, PriceLevel{Price: l.price, Qty: l.volume(), Orders: l.orders.Len()})
		return n <= 0 || len(levels) < n
	})
	return levels
}

// SweepCost walks side s best-first and returns the cash needed to take qty
// shares from it, and how many of those shares are actually available.
func (ob *OrderBook) SweepCost(s order.Side, qty int64) (cost, fillable int64) {
	ob.side(s).Ascend(func(l *priceLevel) bool {
		for e := l.orders.Front(); e != nil && fillable < qty; e = e.Next() {
			take := min(qty-fillable, e.Value.(*order.Order).Remaining())
			cost += take * l.price
			fillable += take
		}
		return fillable < qty
	})
	return cost, fillable
}

// Walk visits every resting order, bids then asks, each in priority order.
// fn must not mutate the book.
func (ob *OrderBook) Walk(fn func(o *order.Order) bool) {
	cont := true
	visit := func(l *priceLevel) bool {
		for e := l.orders.Front(); e != nil && cont; e = e.Next() {
			cont = fn(e.Value.(*order.Order))
		}
		return cont
	}
	ob.bids.Ascend(visit)
	if cont {
		ob.asks.Ascend(visit)
	}
}
