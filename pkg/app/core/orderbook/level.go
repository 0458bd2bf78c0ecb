package orderbook

import (
	"container/list"

	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

// priceLevel is the FIFO queue of resting orders at one price
type priceLevel struct {
	price  int64
	orders *list.List // *order.Order, ascending sequence
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

// push appends o, keeping the queue sorted by sequence. Live orders always
// arrive in sequence order; the backwards walk only runs during recovery.
func (l *priceLevel) push(o *order.Order) *list.Element {
	for e := l.orders.Back(); e != nil; e = e.Prev() {
		if e.Value.(*order.Order).Sequence <= o.Sequence {
			return l.orders.InsertAfter(o, e)
		}
	}
	return l.orders.PushFront(o)
}

func (l *priceLevel) front() *order.Order {
	if e := l.orders.Front(); e != nil {
		return e.Value.(*order.Order)
	}
	return nil
}

// volume sums the remaining quantity at this price
func (l *priceLevel) volume() int64 {
	var total int64
	for e := l.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*order.Order).Remaining()
	}
	return total
}

func bidLess(a, b *priceLevel) bool { return a.price > b.price } // best (highest) bid first
func askLess(a, b *priceLevel) bool { return a.price < b.price } // best (lowest) ask first
