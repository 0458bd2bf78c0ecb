package order

import "time"

// Trade is an immutable execution record. Price is always the maker's limit
// price at match time.
type Trade struct {
	ID           string
	InstrumentID string
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string
	SellerID     string
	TakerSide    Side
	Price        int64
	Quantity     int64
	ExecutedAt   time.Time
	Sequence     uint64
}

// Notional returns the cash that changes hands.
func (t *Trade) Notional() int64 {
	return t.Price * t.Quantity
}
