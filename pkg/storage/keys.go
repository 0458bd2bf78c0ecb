package storage

import "fmt"

// Pebble key schema:
//
//	acc:<owner>                        → ledger.CashAccount
//	pos:<owner>:<instrument>           → ledger.Position
//	ord:<orderID>                      → order.Order (Open / PartiallyFilled)
//	ordh:<orderID>                     → order.Order (terminal, archived)
//	trade:<instrument>:<seq>:<tradeID> → order.Trade
//
// Sequence numbers are zero-padded (20 digits) for lexicographic ordering.
// Instrument ids never contain ':' (market.NewInstrument rejects it).
const (
	prefixAccount      = "acc:"
	prefixPosition     = "pos:"
	prefixOrder        = "ord:"
	prefixOrderHistory = "ordh:"
	prefixTrade        = "trade:"
)

func accountKey(owner string) []byte {
	return []byte(prefixAccount + owner)
}

func positionKey(owner, instrument string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixPosition, owner, instrument))
}

func orderKey(orderID string) []byte {
	return []byte(prefixOrder + orderID)
}

func orderHistoryKey(orderID string) []byte {
	return []byte(prefixOrderHistory + orderID)
}

func tradeKey(instrument string, seq uint64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, instrument, seq, tradeID))
}

// tradePrefix returns the prefix for all trades of an instrument
// Format: "trade:{instrument}:"
func tradePrefix(instrument string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, instrument))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "trade:ACME:" -> upper bound "trade:ACME;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
