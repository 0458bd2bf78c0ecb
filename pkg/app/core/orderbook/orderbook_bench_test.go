package orderbook

import (
	"fmt"
	"testing"

	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

func restingOrder(id string, side order.Side, price int64, seq uint64) *order.Order {
	return &order.Order{
		ID: id, InstrumentID: "ACME", OwnerID: "bench", Side: side, Kind: order.Limit,
		LimitPrice: price, Quantity: 100, Status: order.Open, Sequence: seq,
	}
}

// BenchmarkInsert measures placement onto a book with 100 levels per side
func BenchmarkInsert(b *testing.B) {
	ob := New("ACME")
	for i := 0; i < 100; i++ {
		ob.Insert(restingOrder(fmt.Sprintf("bid-%d", i), order.Buy, int64(1000-i), uint64(2*i)))
		ob.Insert(restingOrder(fmt.Sprintf("ask-%d", i), order.Sell, int64(1100+i), uint64(2*i+1)))
	}
	orders := make([]*order.Order, b.N)
	for i := range orders {
		orders[i] = restingOrder(fmt.Sprintf("bench-%d", i), order.Buy, int64(900+i%100), uint64(1000+i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.Insert(orders[i])
	}
}

// BenchmarkRemove measures cancellation by id (O(1) lookup + level scan)
func BenchmarkRemove(b *testing.B) {
	ob := New("ACME")
	ids := make([]string, b.N)
	for i := 0; i < b.N; i++ {
		ids[i] = fmt.Sprintf("order-%d", i)
		ob.Insert(restingOrder(ids[i], order.Buy, int64(1000+i%1000), uint64(i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.Remove(ids[i])
	}
}

// BenchmarkSweepCost measures the Market buy admission bound over deep asks
func BenchmarkSweepCost(b *testing.B) {
	ob := New("ACME")
	for i := 0; i < 1000; i++ {
		ob.Insert(restingOrder(fmt.Sprintf("ask-%d", i), order.Sell, int64(1100+i), uint64(i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.SweepCost(order.Sell, 25_000)
	}
}
