// Package events carries the two notifications the exchange core emits,
// TradeExecuted and PriceUpdated, to external consumers.
package events

import (
	"encoding/json"
	"time"

	"github.com/uhyunpark/stockex/pkg/app/core/order"
)

type Type string

const (
	TypeTradeExecuted Type = "trade_executed"
	TypePriceUpdated  Type = "price_updated"
)

// Event is implemented by TradeExecuted and PriceUpdated
type Event interface {
	Type() Type
	Instrument() string
}

// TradeExecuted is emitted once per committed trade
type TradeExecuted struct {
	InstrumentID string    `json:"instrument_id"`
	TradeID      string    `json:"trade_id"`
	BuyOrderID   string    `json:"buy_order_id"`
	SellOrderID  string    `json:"sell_order_id"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	ExecutedAt   time.Time `json:"executed_at"`
	Sequence     uint64    `json:"sequence"`
}

func (TradeExecuted) Type() Type           { return TypeTradeExecuted }
func (e TradeExecuted) Instrument() string { return e.InstrumentID }

// PriceUpdated is emitted when an instrument's last trade price changes
type PriceUpdated struct {
	InstrumentID string    `json:"instrument_id"`
	Price        int64     `json:"price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (PriceUpdated) Type() Type           { return TypePriceUpdated }
func (e PriceUpdated) Instrument() string { return e.InstrumentID }

func NewTradeExecuted(t *order.Trade) TradeExecuted {
	return TradeExecuted{
		InstrumentID: t.InstrumentID,
		TradeID:      t.ID,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		Price:        t.Price,
		Quantity:     t.Quantity,
		ExecutedAt:   t.ExecutedAt,
		Sequence:     t.Sequence,
	}
}

// Envelope is the wire form shared by every sink
type Envelope struct {
	Type Type  `json:"type"`
	Data Event `json:"data"`
}

// Encode marshals ev inside an Envelope
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Type: ev.Type(), Data: ev})
}
